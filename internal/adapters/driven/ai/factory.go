// Package ai provides factory functions for creating model and index adapters.
package ai

import (
	"context"
	"fmt"
	"time"

	geminiembed "github.com/custodia-labs/deskrag/internal/adapters/driven/embedding/gemini"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/embedding/hashing"
	ollamaembed "github.com/custodia-labs/deskrag/internal/adapters/driven/embedding/ollama"
	openaiembed "github.com/custodia-labs/deskrag/internal/adapters/driven/embedding/openai"
	anthropicllm "github.com/custodia-labs/deskrag/internal/adapters/driven/llm/anthropic"
	geminillm "github.com/custodia-labs/deskrag/internal/adapters/driven/llm/gemini"
	ollamallm "github.com/custodia-labs/deskrag/internal/adapters/driven/llm/ollama"
	openaillm "github.com/custodia-labs/deskrag/internal/adapters/driven/llm/openai"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/vectorindex"
	memindex "github.com/custodia-labs/deskrag/internal/adapters/driven/vectorindex/memory"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/vectorindex/pgvector"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/vectorindex/weaviate"
	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// pingTimeout is the maximum time to wait for service connectivity validation.
const pingTimeout = 5 * time.Second

// InitResult holds the service handles built from settings.
// The caller owns them and must call Close at teardown.
type InitResult struct {
	EmbeddingService driven.EmbeddingService
	LLMService       driven.LLMService // nil when no generation provider is configured.
	VectorIndex      *vectorindex.Swappable
	Warnings         []string // Non-fatal issues found during start-up.

	// NewIndex builds an empty shadow of the configured backend for
	// reindexing. The live index is untouched until the shadow is promoted.
	NewIndex func(ctx context.Context) (driven.ShadowIndex, error)
}

// Close releases all resources held by InitResult.
func (r *InitResult) Close() {
	if r.EmbeddingService != nil {
		r.EmbeddingService.Close()
	}
	if r.VectorIndex != nil {
		r.VectorIndex.Close()
	}
	if r.LLMService != nil {
		r.LLMService.Close()
	}
}

// Init creates the embedding service, the optional LLM service and the
// vector index. journal backs the memory index and may be nil.
func Init(ctx context.Context, settings *domain.Settings, journal driven.IndexJournal) (*InitResult, error) {
	embedder, err := CreateEmbeddingService(ctx, &settings.Embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmbeddingUnavailable, err)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedding provider %q is not configured",
			domain.ErrEmbeddingUnavailable, settings.Embedding.Provider)
	}

	result := &InitResult{EmbeddingService: embedder}

	llm, err := CreateLLMService(ctx, &settings.LLM)
	if err != nil {
		result.Close()
		return nil, fmt.Errorf("%w: %w", domain.ErrLLMUnavailable, err)
	}
	result.LLMService = llm
	if llm == nil {
		result.Warnings = append(result.Warnings,
			"no LLM provider configured; queries are unavailable until llm.provider is set")
	}

	dims := embedder.Dimensions()
	encoder := embedder.ModelName()
	result.NewIndex = func(ctx context.Context) (driven.ShadowIndex, error) {
		return CreateShadowIndex(ctx, settings, dims, journal)
	}

	index, err := CreateVectorIndex(ctx, settings, dims, encoder, journal)
	if domain.IsStaleIndex(err) {
		// Stored vectors came from another encoder. Refuse reads and writes
		// until the operator reindexes.
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("stored vectors do not match %s (%d dims): %v; run 'deskrag reindex'", encoder, dims, err))
		index, err = vectorindex.NewStale(dims, err), nil
	}
	if err != nil {
		result.Close()
		return nil, err
	}
	result.VectorIndex = vectorindex.NewSwappable(index)

	for _, w := range result.Warnings {
		logger.Warn("%s", w)
	}
	return result, nil
}

// CreateEmbeddingService creates the embedding service based on settings.
// Returns nil if the provider is not configured.
func CreateEmbeddingService(ctx context.Context, settings *domain.EmbeddingSettings) (driven.EmbeddingService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	dimensions := settings.Dimensions
	if dimensions == 0 {
		dimensions = domain.EmbeddingDimensions()[settings.Model]
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamaembed.NewEmbeddingService(ollamaembed.Config{
			BaseURL:    settings.BaseURL,
			Model:      settings.Model,
			Dimensions: dimensions,
		})

	case domain.AIProviderOpenAI:
		return openaiembed.NewEmbeddingService(openaiembed.Config{
			APIKey:     settings.APIKey,
			BaseURL:    settings.BaseURL,
			Model:      settings.Model,
			Dimensions: settings.Dimensions,
		})

	case domain.AIProviderGemini:
		return geminiembed.NewEmbeddingService(ctx, geminiembed.Config{
			APIKey:     settings.APIKey,
			Model:      settings.Model,
			Dimensions: dimensions,
		})

	case domain.AIProviderHashing:
		return hashing.NewEmbeddingService(hashing.Config{Dimensions: settings.Dimensions}), nil

	case domain.AIProviderAnthropic:
		return nil, fmt.Errorf("anthropic does not support embeddings, use ollama, openai, gemini or hashing")

	default:
		return nil, fmt.Errorf("%w: embedding provider %s", domain.ErrUnsupportedType, settings.Provider)
	}
}

// CreateLLMService creates the generation service based on settings.
// Returns nil if the provider is not configured.
func CreateLLMService(ctx context.Context, settings *domain.LLMSettings) (driven.LLMService, error) {
	if settings == nil || !settings.IsConfigured() {
		return nil, nil
	}

	switch settings.Provider {
	case domain.AIProviderOllama:
		return ollamallm.NewLLMService(ollamallm.LLMConfig{
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})

	case domain.AIProviderOpenAI:
		return openaillm.NewLLMService(openaillm.LLMConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})

	case domain.AIProviderAnthropic:
		return anthropicllm.NewLLMService(anthropicllm.Config{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Model:   settings.Model,
		})

	case domain.AIProviderGemini:
		return geminillm.NewLLMService(ctx, geminillm.Config{
			APIKey: settings.APIKey,
			Model:  settings.Model,
		})

	default:
		return nil, fmt.Errorf("%w: LLM provider %s", domain.ErrUnsupportedType, settings.Provider)
	}
}

// CreateVectorIndex opens the configured backend with the given
// dimensionality. Stored vectors from another encoder are reported as a
// stale index error (see domain.IsStaleIndex).
func CreateVectorIndex(
	ctx context.Context,
	settings *domain.Settings,
	dims int,
	encoder string,
	journal driven.IndexJournal,
) (driven.VectorIndex, error) {
	cfg := settings.Index
	writeTimeout := settings.Timeouts.IndexWrite

	switch cfg.Backend {
	case domain.IndexBackendMemory, "":
		opts := []memindex.Option{
			memindex.WithDimensions(dims),
			memindex.WithEncoder(encoder),
			memindex.WithWriteTimeout(writeTimeout),
		}
		if journal == nil {
			return memindex.New(opts...), nil
		}
		idx := memindex.New(append(opts, memindex.WithJournal(journal))...)
		if err := idx.Load(ctx); err != nil {
			return nil, fmt.Errorf("load index journal: %w", err)
		}
		return idx, nil

	case domain.IndexBackendPgvector:
		idx, err := pgvector.New(ctx, pgvectorConfig(settings, dims, encoder))
		if err != nil {
			return nil, err
		}
		return idx, nil

	case domain.IndexBackendWeaviate:
		idx, err := weaviate.New(ctx, weaviateConfig(settings, dims, encoder))
		if err != nil {
			return nil, err
		}
		return idx, nil

	default:
		return nil, fmt.Errorf("%w: index backend %s", domain.ErrUnsupportedType, cfg.Backend)
	}
}

// CreateShadowIndex builds an empty rebuild target beside the live index:
// an unjournaled memory index, a pgvector shadow table or a Weaviate
// generation class.
func CreateShadowIndex(
	ctx context.Context,
	settings *domain.Settings,
	dims int,
	journal driven.IndexJournal,
) (driven.ShadowIndex, error) {
	switch settings.Index.Backend {
	case domain.IndexBackendMemory, "":
		return memindex.NewShadow(journal,
			memindex.WithDimensions(dims),
			memindex.WithWriteTimeout(settings.Timeouts.IndexWrite),
		), nil

	case domain.IndexBackendPgvector:
		shadow, err := pgvector.NewShadow(ctx, pgvectorConfig(settings, dims, ""))
		if err != nil {
			return nil, err
		}
		return shadow, nil

	case domain.IndexBackendWeaviate:
		shadow, err := weaviate.NewShadow(ctx, weaviateConfig(settings, dims, ""))
		if err != nil {
			return nil, err
		}
		return shadow, nil

	default:
		return nil, fmt.Errorf("%w: index backend %s", domain.ErrUnsupportedType, settings.Index.Backend)
	}
}

func pgvectorConfig(settings *domain.Settings, dims int, encoder string) pgvector.Config {
	return pgvector.Config{
		DatabaseURL:  settings.Index.DatabaseURL,
		Table:        settings.Index.Table,
		Dimensions:   dims,
		Encoder:      encoder,
		WriteTimeout: settings.Timeouts.IndexWrite,
	}
}

func weaviateConfig(settings *domain.Settings, dims int, encoder string) weaviate.Config {
	return weaviate.Config{
		Host:         settings.Index.WeaviateHost,
		Scheme:       settings.Index.WeaviateScheme,
		APIKey:       settings.Index.WeaviateAPIKey,
		Class:        settings.Index.WeaviateClass,
		Dimensions:   dims,
		Encoder:      encoder,
		WriteTimeout: settings.Timeouts.IndexWrite,
	}
}

// ValidateEmbeddingConfig creates an embedding service and pings it.
func ValidateEmbeddingConfig(settings *domain.EmbeddingSettings) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	svc, err := CreateEmbeddingService(ctx, settings)
	if err != nil || svc == nil {
		return err
	}
	defer svc.Close()
	return svc.Ping(ctx)
}

// ValidateLLMConfig creates an LLM service and pings it.
func ValidateLLMConfig(settings *domain.LLMSettings) error {
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	svc, err := CreateLLMService(ctx, settings)
	if err != nil || svc == nil {
		return err
	}
	defer svc.Close()
	return svc.Ping(ctx)
}
