// Package driven provides interfaces for infrastructure adapters (secondary/outbound ports).
package driven

import "context"

// EmbeddingService generates vector embeddings from text.
//
// EmbeddingService generates vectors; VectorIndex stores them. Adapters map
// transport failures to domain.ErrEmbeddingUnavailable and leave deadline
// handling to the caller's context.
//
// Implementations include:
//   - Ollama (nomic-embed-text, mxbai-embed-large)
//   - OpenAI (text-embedding-3-small, text-embedding-3-large)
//   - Gemini (text-embedding-004)
//   - Feature hashing (offline, no backend)
type EmbeddingService interface {
	// Embed generates a vector embedding for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one request
	// where the backend supports it.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding vector size (e.g., 384, 768, 1536).
	// This is determined by the model and must match the VectorIndex.
	Dimensions() int

	// ModelName returns the encoder version recorded on index entries.
	ModelName() string

	// Ping validates the service is reachable by making a lightweight request.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}
