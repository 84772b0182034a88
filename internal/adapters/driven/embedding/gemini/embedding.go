// Package gemini provides an embedding service adapter using the Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultModel      = "text-embedding-004"
	DefaultDimensions = 768
)

// Config holds configuration for the Gemini embedding service.
type Config struct {
	// APIKey is the Google AI Studio key (required).
	APIKey string

	// Model is the embedding model to use (default: text-embedding-004).
	Model string

	// Dimensions is the embedding vector size.
	Dimensions int
}

// EmbeddingService generates embeddings using the Gemini API.
type EmbeddingService struct {
	client     *genai.Client
	em         *genai.EmbeddingModel
	model      string
	dimensions int
}

// NewEmbeddingService creates a new Gemini embedding service.
// The client connects lazily; use Ping to validate the key.
func NewEmbeddingService(ctx context.Context, cfg Config) (*EmbeddingService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	return &EmbeddingService{
		client:     client,
		em:         client.EmbeddingModel(cfg.Model),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed generates a vector embedding for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, mapError(ctx, err)
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("gemini: empty embedding")
	}
	return resp.Embedding.Values, nil
}

// EmbedBatch generates embeddings with a single batchEmbedContents call.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	batch := s.em.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}

	resp, err := s.em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, mapError(ctx, err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini: expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	result := make([][]float32, len(texts))
	for i, e := range resp.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("gemini: empty embedding at %d", i)
		}
		result[i] = e.Values
	}
	return result, nil
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping fetches model metadata without embedding anything.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	if _, err := s.em.Info(ctx); err != nil {
		return fmt.Errorf("gemini: ping failed: %w", mapError(ctx, err))
	}
	return nil
}

// Close releases the underlying client.
func (s *EmbeddingService) Close() error {
	return s.client.Close()
}

func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("gemini: %w: %v", domain.ErrRateLimited, err)
		case apiErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("gemini: %w: %v", domain.ErrEmbeddingUnavailable, err)
		default:
			return fmt.Errorf("gemini error (status %d): %w", apiErr.Code, err)
		}
	}
	return fmt.Errorf("gemini: %w: %v", domain.ErrEmbeddingUnavailable, err)
}
