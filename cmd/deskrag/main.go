// Command deskrag ingests bond documentation and answers analyst questions
// with audited bond information cards.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/deskrag/internal/adapters/driven/ai"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/config/file"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/export/xlsx"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/search/bm25"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/deskrag/internal/adapters/driving/cli"
	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/core/services"
	"github.com/custodia-labs/deskrag/internal/decomposer/pdf"
	"github.com/custodia-labs/deskrag/internal/logger"
	"github.com/custodia-labs/deskrag/internal/postprocessors"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := setup(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	// Cobra has already printed the error.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup registers the settings service and the lazy service loader.
func setup() error {
	configDir, err := file.DefaultConfigDir()
	if err != nil {
		return err
	}
	if err := file.LoadDotEnv(configDir); err != nil {
		return fmt.Errorf("loading .env: %w", err)
	}

	fileStore, err := file.NewConfigStore(configDir)
	if err != nil {
		return fmt.Errorf("opening config: %w", err)
	}
	settingsService := services.NewSettingsService(file.NewEnvConfigStore(fileStore), ai.NewConfigValidator())

	cli.SetVersion(version)
	cli.SetSettingsService(settingsService)
	cli.SetServiceLoader(func(ctx context.Context) (*cli.Services, func(), error) {
		return loadServices(ctx, settingsService, configDir)
	})
	return nil
}

// loadServices opens storage and the AI backends and builds the core
// services on top of them.
func loadServices(
	ctx context.Context, settingsService *services.SettingsService, configDir string,
) (*cli.Services, func(), error) {
	settings, err := settingsService.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("loading settings: %w", err)
	}
	if err := settingsService.Validate(settings); err != nil {
		return nil, nil, err
	}

	store, err := sqlite.NewStore(settings.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("opening store: %w", err)
	}
	logger.Debug("store: %s", store.Path())

	backends, err := ai.Init(ctx, settings, store.IndexJournal())
	if err != nil {
		store.Close() //nolint:errcheck // already failing
		return nil, nil, err
	}

	release := func() {
		backends.Close()
		if err := store.Close(); err != nil {
			logger.Warn("closing store: %v", err)
		}
	}

	registry := postprocessors.NewRegistry()
	postprocessors.RegisterDefaults(registry)
	pipeline, err := registry.BuildPipeline(settings.Ingest.Pipeline)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("building pipeline: %w", err)
	}

	prompts, err := file.NewPromptStore(filepath.Join(configDir, "prompts"))
	if err != nil {
		release()
		return nil, nil, err
	}

	docs := store.DocumentStore()
	embedder := services.NewSegmentEmbedder(backends.EmbeddingService, services.EmbedderConfigFromSettings(settings))

	var keyword driven.KeywordIndex
	opts := []services.IngestOption{services.WithIndexFactory(backends.NewIndex)}
	if settings.Retrieval.Mode == domain.RetrievalModeHybrid {
		keyword = bm25.New()
		opts = append(opts, services.WithKeywordIndex(keyword))
	}

	ingest := services.NewIngestService(
		pdf.New(), pipeline, docs, embedder, backends.VectorIndex,
		services.IngestConfigFromSettings(settings), opts...,
	)

	out := &cli.Services{
		Ingest:   ingest,
		Document: services.NewDocumentService(docs),
		Exporter: xlsx.New(),
	}

	if keyword != nil {
		n, err := ingest.RebuildKeywordIndex(ctx)
		if err != nil {
			release()
			return nil, nil, fmt.Errorf("loading keyword index: %w", err)
		}
		logger.Debug("keyword index: %d segments", n)
		out.RebuildKeywordIndex = ingest.RebuildKeywordIndex
	}

	retriever := services.NewRetriever(embedder, backends.VectorIndex, keyword, services.RetrieverConfigFromSettings(settings))
	synth := services.NewCardSynthesizer(
		retriever, docs, backends.LLMService, prompts, services.SynthesizerConfigFromSettings(settings),
	)

	var verifier *services.GreenwashVerifier
	if settings.Card.Greenwashing {
		verifier = services.NewGreenwashVerifier(backends.LLMService, prompts, settings.Timeouts.Generation, settings.Retry)
	}
	out.Query = services.NewQueryService(synth, verifier, docs, store.CardStore())

	return out, release, nil
}
