package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnvStore(t *testing.T, env map[string]string) (*EnvConfigStore, *ConfigStore) {
	t.Helper()
	base, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	store := NewEnvConfigStore(base)
	store.lookup = func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
	return store, base
}

func TestEnvName(t *testing.T) {
	assert.Equal(t, "DESKRAG_LLM_MODEL", EnvName("llm.model"))
	assert.Equal(t, "DESKRAG_RETRIEVAL_MIN_SIMILARITY", EnvName("retrieval.min_similarity"))
}

func TestEnvConfigStore_Overrides(t *testing.T) {
	store, base := newEnvStore(t, map[string]string{
		"DESKRAG_LLM_MODEL":                "gpt-4o",
		"DESKRAG_RETRIEVAL_TOP_K":          "12",
		"DESKRAG_RETRIEVAL_MIN_SIMILARITY": "0.3",
		"DESKRAG_CARD_GREENWASHING":        "true",
		"DESKRAG_PIPELINE_PROCESSORS":      "units, chunker",
	})
	require.NoError(t, base.Set("llm.model", "gpt-4o-mini"))
	require.NoError(t, base.Set("retrieval.top_k", int64(8)))

	assert.Equal(t, "gpt-4o", store.GetString("llm.model"))
	val, ok := store.Get("llm.model")
	assert.True(t, ok)
	assert.Equal(t, "gpt-4o", val)
	assert.Equal(t, 12, store.GetInt("retrieval.top_k"))
	assert.InDelta(t, 0.3, store.GetFloat("retrieval.min_similarity"), 1e-9)
	assert.True(t, store.GetBool("card.greenwashing"))
	assert.Equal(t, []string{"units", "chunker"}, store.GetStringSlice("pipeline.processors"))

	// The file keeps its own value.
	assert.Equal(t, "gpt-4o-mini", base.GetString("llm.model"))
}

func TestEnvConfigStore_ProviderKeyFallback(t *testing.T) {
	store, base := newEnvStore(t, map[string]string{
		"OPENAI_API_KEY":    "sk-env",
		"ANTHROPIC_API_KEY": "ant-env",
		"DATABASE_URL":      "postgres://localhost/deskrag",
	})
	require.NoError(t, base.Set("embedding.provider", "openai"))
	require.NoError(t, base.Set("llm.provider", "anthropic"))

	assert.Equal(t, "sk-env", store.GetString("embedding.api_key"))
	assert.Equal(t, "ant-env", store.GetString("llm.api_key"))
	assert.Equal(t, "postgres://localhost/deskrag", store.GetString("index.database_url"))
	assert.Empty(t, store.GetString("index.weaviate_api_key"))

	// A key in the config file beats the conventional variable.
	require.NoError(t, base.Set("llm.api_key", "ant-file"))
	assert.Equal(t, "ant-file", store.GetString("llm.api_key"))
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	content := "DESKRAG_TEST_DOTENV=from-config-dir\nDESKRAG_TEST_PRESET=replaced\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0600))
	t.Setenv("DESKRAG_TEST_PRESET", "kept")

	require.NoError(t, LoadDotEnv(dir))
	t.Cleanup(func() { os.Unsetenv("DESKRAG_TEST_DOTENV") })
	assert.Equal(t, "from-config-dir", os.Getenv("DESKRAG_TEST_DOTENV"))
	assert.Equal(t, "kept", os.Getenv("DESKRAG_TEST_PRESET"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "missing")))
}
