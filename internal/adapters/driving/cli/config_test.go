package cli

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Short key",
			input:    "abc123",
			expected: "****",
		},
		{
			name:     "Exactly 8 chars",
			input:    "12345678",
			expected: "****",
		},
		{
			name:     "Long key",
			input:    "sk-1234567890abcdef",
			expected: "sk-1...cdef",
		},
		{
			name:     "Very long key",
			input:    "sk-proj-1234567890abcdefghijklmnop",
			expected: "sk-p...mnop",
		},
		{
			name:     "Empty key",
			input:    "",
			expected: "****",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskAPIKey(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestParseChoice(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		maxVal     int
		defaultVal int
		expected   int
	}{
		{
			name:       "Empty input returns default",
			input:      "",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Valid choice within range",
			input:      "3",
			maxVal:     5,
			defaultVal: 1,
			expected:   3,
		},
		{
			name:       "Choice below minimum returns default",
			input:      "0",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Choice above maximum returns default",
			input:      "6",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Invalid input returns default",
			input:      "abc",
			maxVal:     5,
			defaultVal: 2,
			expected:   2,
		},
		{
			name:       "Negative number returns default",
			input:      "-1",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Whitespace returns default",
			input:      "   ",
			maxVal:     5,
			defaultVal: 1,
			expected:   1,
		},
		{
			name:       "Maximum value is valid",
			input:      "5",
			maxVal:     5,
			defaultVal: 1,
			expected:   5,
		},
		{
			name:       "Minimum value is valid",
			input:      "1",
			maxVal:     5,
			defaultVal: 3,
			expected:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := parseChoice(tt.input, tt.maxVal, tt.defaultVal)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestConfigShowCmd(t *testing.T) {
	ts, cleanup := setupTestServicesWith()
	defer cleanup()
	ts.settings.settings.LLM.Provider = "openai"
	ts.settings.settings.LLM.Model = "gpt-4o-mini"
	ts.settings.settings.LLM.APIKey = "sk-1234567890abcdef"

	out, err := execute("config", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "[Embedding]")
	assert.Contains(t, out, "Feature hashing (offline)")
	assert.Contains(t, out, "OpenAI (cloud)")
	assert.Contains(t, out, "API Key: sk-1...cdef")
	assert.NotContains(t, out, "sk-1234567890abcdef")
	assert.Contains(t, out, "Configuration is valid.")
}

func TestConfigGetCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("config", "get", "embedding.provider")
	require.NoError(t, err)
	assert.Equal(t, "hashing\n", out)

	_, err = execute("config", "get", "embedding.colour")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConfigSetCmd(t *testing.T) {
	ts, cleanup := setupTestServicesWith()
	defer cleanup()

	out, err := execute("config", "set", "llm.api_key", "sk-proj-1234567890abcdefghijklmnop")

	require.NoError(t, err)
	assert.Equal(t, "sk-proj-1234567890abcdefghijklmnop", ts.settings.set["llm.api_key"])
	assert.Contains(t, out, "llm.api_key = sk-p...mnop")
	assert.NotContains(t, out, "reindex")

	out, err = execute("config", "set", "embedding.model", "nomic-embed-text")
	require.NoError(t, err)
	assert.Contains(t, out, "deskrag reindex")
}

func TestConfigSetCmd_Error(t *testing.T) {
	ts, cleanup := setupTestServicesWith()
	defer cleanup()
	ts.settings.setErr = domain.ErrInvalidInput

	_, err := execute("config", "set", "retrieval.top_k", "many")

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestConfigKeysCmd(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	out, err := execute("config", "keys")

	require.NoError(t, err)
	assert.Equal(t, "embedding.provider\nembedding.model\nllm.provider\n", out)
}

func TestConfigCheckCmd(t *testing.T) {
	ts, cleanup := setupTestServicesWith()
	defer cleanup()

	out, err := execute("config", "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Contacting backends... OK")

	ts.settings.checkErr = errors.New("connection refused")
	_, err = execute("config", "check")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend check failed")
}

func TestConfigWizardCmd(t *testing.T) {
	ts, cleanup := setupTestServicesWith()
	defer cleanup()

	// Embedding: Ollama with default model. LLM: OpenAI with a custom model.
	rootCmd.SetIn(strings.NewReader("2\n\n2\ngpt-4o\nsk-test-key-123456\n"))

	out, err := execute("config", "wizard")

	require.NoError(t, err)
	assert.Equal(t, "ollama", ts.settings.set["embedding.provider"])
	assert.Equal(t, domain.DefaultEmbeddingModels()[domain.AIProviderOllama], ts.settings.set["embedding.model"])
	assert.Equal(t, "openai", ts.settings.set["llm.provider"])
	assert.Equal(t, "gpt-4o", ts.settings.set["llm.model"])
	assert.Equal(t, "sk-test-key-123456", ts.settings.set["llm.api_key"])
	assert.Contains(t, out, "Configuration Complete!")
}

func TestConfigWizardCmd_MissingAPIKey(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()

	rootCmd.SetIn(strings.NewReader("3\n\n\n"))

	_, err := execute("config", "wizard")

	assert.EqualError(t, err, "API key is required for this provider")
}

func TestSettingValue_CoversKeys(t *testing.T) {
	s := domain.DefaultSettings()
	value, ok := settingValue(&s, "retrieval.mode")
	require.True(t, ok)
	assert.Equal(t, string(s.Retrieval.Mode), value)

	s.Embedding.APIKey = "abcdefghijklmnop"
	value, ok = settingValue(&s, "embedding.api_key")
	require.True(t, ok)
	assert.Equal(t, "abcd...mnop", value)
}
