package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

func TestConfigValidator_UnconfiguredIsNotAnError(t *testing.T) {
	validator := NewConfigValidator()

	assert.NoError(t, validator.ValidateEmbedding(nil))
	assert.NoError(t, validator.ValidateEmbedding(&domain.EmbeddingSettings{Model: "x"}))
	assert.NoError(t, validator.ValidateLLM(nil))
	assert.NoError(t, validator.ValidateLLM(&domain.LLMSettings{}))
}

func TestConfigValidator_HashingAlwaysReachable(t *testing.T) {
	validator := NewConfigValidator()

	err := validator.ValidateEmbedding(&domain.EmbeddingSettings{Provider: domain.AIProviderHashing})

	assert.NoError(t, err)
}

func TestConfigValidator_UnreachableOllama(t *testing.T) {
	validator := NewConfigValidator()

	err := validator.ValidateLLM(&domain.LLMSettings{
		Provider: domain.AIProviderOllama,
		BaseURL:  "http://127.0.0.1:1",
		Model:    "llama3.2",
	})

	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
}
