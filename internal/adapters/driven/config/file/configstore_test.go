package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigStore_Success(t *testing.T) {
	tmpDir := t.TempDir()

	store, err := NewConfigStore(tmpDir)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "config.toml"), store.Path())
}

func TestDefaultConfigDir(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot determine home directory")
	}

	dir, err := DefaultConfigDir()

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".deskrag"), dir)
}

func TestConfigStore_ReadsNestedTables(t *testing.T) {
	tmpDir := t.TempDir()
	content := `
data_dir = "/var/lib/deskrag"

[embedding]
provider = "ollama"
requests_per_second = 4

[retrieval]
top_k = 10
min_similarity = 0.25
mode = "hybrid"

[card]
greenwashing = true

[pipeline]
processors = ["units", "caption", "chunker"]

[pipeline.chunker]
max_chars = 1200
`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte(content), 0600))

	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/deskrag", store.GetString("data_dir"))
	assert.Equal(t, "ollama", store.GetString("embedding.provider"))
	assert.InDelta(t, 4.0, store.GetFloat("embedding.requests_per_second"), 1e-9)
	assert.Equal(t, 10, store.GetInt("retrieval.top_k"))
	assert.InDelta(t, 0.25, store.GetFloat("retrieval.min_similarity"), 1e-9)
	assert.True(t, store.GetBool("card.greenwashing"))
	assert.Equal(t, []string{"units", "caption", "chunker"}, store.GetStringSlice("pipeline.processors"))
	assert.Equal(t, 1200, store.GetInt("pipeline.chunker.max_chars"))
}

func TestConfigStore_TypeMismatchReturnsZero(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Set("llm.model", "gpt-4o-mini"))

	assert.Zero(t, store.GetInt("llm.model"))
	assert.Zero(t, store.GetFloat("llm.model"))
	assert.False(t, store.GetBool("llm.model"))
	assert.Nil(t, store.GetStringSlice("llm.model"))

	_, ok := store.Get("missing")
	assert.False(t, ok)
	assert.Empty(t, store.GetString("missing"))
}

func TestConfigStore_PersistsAsTables(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := NewConfigStore(tmpDir)
	require.NoError(t, err)

	require.NoError(t, store.Set("llm.provider", "openai"))
	require.NoError(t, store.Set("llm.temperature", 0.1))
	require.NoError(t, store.Set("ingest.workers", int64(3)))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "[llm]")
	assert.Contains(t, string(data), "[ingest]")

	reopened, err := NewConfigStore(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, "openai", reopened.GetString("llm.provider"))
	assert.InDelta(t, 0.1, reopened.GetFloat("llm.temperature"), 1e-9)
	assert.Equal(t, 3, reopened.GetInt("ingest.workers"))
}

func TestConfigStore_FilePermissions(t *testing.T) {
	store, err := NewConfigStore(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, store.Set("llm.api_key", "secret"))

	info, err := os.Stat(store.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConfigStore_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "config.toml"), []byte("[llm\nprovider ="), 0600))

	_, err := NewConfigStore(tmpDir)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config.toml")
}

func TestNestMap(t *testing.T) {
	nested := nestMap(map[string]any{
		"data_dir":                 "/tmp",
		"embedding.provider":       "ollama",
		"pipeline.chunker.overlap": int64(40),
	})

	assert.Equal(t, "/tmp", nested["data_dir"])
	assert.Equal(t, map[string]any{"provider": "ollama"}, nested["embedding"])
	pipeline, ok := nested["pipeline"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"overlap": int64(40)}, pipeline["chunker"])

	assert.Equal(t, map[string]any{
		"data_dir":                 "/tmp",
		"embedding.provider":       "ollama",
		"pipeline.chunker.overlap": int64(40),
	}, flattenMap(nested, ""))
}
