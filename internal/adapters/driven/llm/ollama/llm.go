// Package ollama provides an LLM service adapter using Ollama.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure LLMService implements the interface.
var _ driven.LLMService = (*LLMService)(nil)

// Default configuration values.
const (
	DefaultBaseURL  = "http://localhost:11434"
	DefaultLLMModel = "llama3.2"
)

// LLMConfig holds configuration for the Ollama LLM service.
type LLMConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434).
	BaseURL string

	// Model is the LLM model to use (default: llama3.2).
	Model string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// LLMService provides completions using Ollama.
type LLMService struct {
	client *api.Client
	model  string
}

// NewLLMService creates a new Ollama LLM service.
func NewLLMService(cfg LLMConfig) (*LLMService, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultLLMModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}

	return &LLMService{
		client: api.NewClient(base, cfg.HTTPClient),
		model:  cfg.Model,
	}, nil
}

// Complete runs a non-streaming generate call. A schema becomes Ollama's
// structured output format.
func (s *LLMService) Complete(ctx context.Context, req driven.CompletionRequest) (string, error) {
	stream := false
	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	genReq := &api.GenerateRequest{
		Model:   s.model,
		Prompt:  req.Prompt,
		System:  req.System,
		Stream:  &stream,
		Options: options,
	}
	if req.Schema != nil {
		format, err := json.Marshal(req.Schema.Definition)
		if err != nil {
			return "", fmt.Errorf("marshal schema: %w", err)
		}
		genReq.Format = format
	}

	var out strings.Builder
	err := s.client.Generate(ctx, genReq, func(resp api.GenerateResponse) error {
		out.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", mapError(ctx, err)
	}
	return out.String(), nil
}

// ModelName returns the name of the LLM model being used.
func (s *LLMService) ModelName() string {
	return s.model
}

// Ping validates the service is reachable by listing local models.
func (s *LLMService) Ping(ctx context.Context) error {
	if _, err := s.client.List(ctx); err != nil {
		return fmt.Errorf("ollama: ping failed: %w", mapError(ctx, err))
	}
	return nil
}

// Close releases resources.
func (s *LLMService) Close() error {
	return nil
}

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
			return fmt.Errorf("ollama: %w: %s", domain.ErrLLMUnavailable, status.ErrorMessage)
		default:
			return fmt.Errorf("ollama error (status %d): %s", status.StatusCode, status.ErrorMessage)
		}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("ollama: %w: %v", domain.ErrLLMUnavailable, err)
	}
	return fmt.Errorf("ollama: %w", err)
}
