// Package ollama provides an embedding service adapter using Ollama.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure EmbeddingService implements the interface.
var _ driven.EmbeddingService = (*EmbeddingService)(nil)

// Default configuration values.
const (
	DefaultBaseURL    = "http://localhost:11434"
	DefaultModel      = "nomic-embed-text"
	DefaultDimensions = 768 // nomic-embed-text default
)

// Config holds configuration for the Ollama embedding service.
type Config struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model to use (default: nomic-embed-text).
	Model string

	// Dimensions is the embedding vector size (model-dependent).
	Dimensions int

	// HTTPClient overrides the transport. Deadlines come from the context.
	HTTPClient *http.Client
}

// EmbeddingService generates embeddings using the Ollama API client.
type EmbeddingService struct {
	client     *api.Client
	model      string
	dimensions int
}

// NewEmbeddingService creates a new Ollama embedding service.
func NewEmbeddingService(cfg Config) (*EmbeddingService, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}

	return &EmbeddingService{
		client:     api.NewClient(base, cfg.HTTPClient),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

// Embed generates a vector embedding for the given text.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("ollama: expected 1 embedding, got %d", len(vectors))
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one /api/embed call.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := s.embed(ctx, texts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("ollama: expected %d embeddings, got %d", len(texts), len(vectors))
	}
	return vectors, nil
}

func (s *EmbeddingService) embed(ctx context.Context, input any) ([][]float32, error) {
	resp, err := s.client.Embed(ctx, &api.EmbedRequest{
		Model: s.model,
		Input: input,
	})
	if err != nil {
		return nil, mapError(ctx, err)
	}
	return resp.Embeddings, nil
}

// Dimensions returns the embedding vector size.
func (s *EmbeddingService) Dimensions() int {
	return s.dimensions
}

// ModelName returns the name of the embedding model being used.
func (s *EmbeddingService) ModelName() string {
	return s.model
}

// Ping validates the service is reachable by listing local models.
// This validates connectivity without running inference.
func (s *EmbeddingService) Ping(ctx context.Context) error {
	if _, err := s.client.List(ctx); err != nil {
		return fmt.Errorf("ollama: ping failed: %w", mapError(ctx, err))
	}
	return nil
}

// Close releases resources.
func (s *EmbeddingService) Close() error {
	// HTTP client doesn't need explicit cleanup
	return nil
}

// mapError converts transport failures into domain errors.
// Context errors pass through so callers can tell timeouts apart.
func mapError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var status api.StatusError
	if errors.As(err, &status) {
		switch {
		case status.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("ollama: %w: %s", domain.ErrRateLimited, status.ErrorMessage)
		case status.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("ollama: %w: %s", domain.ErrEmbeddingUnavailable, status.ErrorMessage)
		default:
			return fmt.Errorf("ollama error (status %d): %s", status.StatusCode, status.ErrorMessage)
		}
	}

	var netErr net.Error
	var opErr *net.OpError
	if errors.As(err, &opErr) || errors.As(err, &netErr) {
		return fmt.Errorf("ollama: %w: %v", domain.ErrEmbeddingUnavailable, err)
	}
	return fmt.Errorf("ollama: %w", err)
}
