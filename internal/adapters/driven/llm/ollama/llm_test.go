package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

func TestComplete_NonStreamingWithSchema(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama3.2","response":"{\"ok\":true}","done":true}`))
	}))
	defer server.Close()

	svc, err := NewLLMService(LLMConfig{BaseURL: server.URL})
	require.NoError(t, err)

	out, err := svc.Complete(context.Background(), driven.CompletionRequest{
		System:    "sys",
		Prompt:    "user",
		MaxTokens: 100,
		Schema:    &driven.OutputSchema{Name: "card", Definition: map[string]any{"type": "object"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)

	assert.Equal(t, false, captured["stream"])
	assert.Equal(t, "sys", captured["system"])
	assert.Equal(t, map[string]any{"type": "object"}, captured["format"])
	opts := captured["options"].(map[string]any)
	assert.Equal(t, float64(100), opts["num_predict"])
}

func TestComplete_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	svc, err := NewLLMService(LLMConfig{BaseURL: url})
	require.NoError(t, err)

	_, err = svc.Complete(context.Background(), driven.CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
}

func TestModelName(t *testing.T) {
	svc, err := NewLLMService(LLMConfig{Model: "mistral"})
	require.NoError(t, err)
	assert.Equal(t, "mistral", svc.ModelName())
}
