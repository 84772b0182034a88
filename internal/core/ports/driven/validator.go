package driven

import "github.com/custodia-labs/deskrag/internal/core/domain"

// AIConfigValidator checks provider settings against the live backend.
// Used by `deskrag config check` before settings are relied on.
type AIConfigValidator interface {
	// ValidateEmbedding creates the embedding service and pings it.
	ValidateEmbedding(config *domain.EmbeddingSettings) error

	// ValidateLLM creates the LLM service and pings it.
	ValidateLLM(config *domain.LLMSettings) error
}
