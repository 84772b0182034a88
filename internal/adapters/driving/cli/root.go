// Package cli implements the deskrag command line.
//
// Commands read package-level services. The binary either sets them up
// front with SetServices or registers a ServiceLoader that builds them the
// first time a command needs them, so configuration commands work even
// when the AI backends are unreachable.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// Services holds the core services driven by the commands.
type Services struct {
	Ingest   driving.IngestService
	Query    driving.QueryService
	Document driving.DocumentService
	Exporter driven.CardExporter

	// RebuildKeywordIndex repopulates the BM25 index. Nil outside hybrid mode.
	RebuildKeywordIndex func(ctx context.Context) (int, error)
}

// ServiceLoader builds the services and returns a function releasing them.
type ServiceLoader func(ctx context.Context) (*Services, func(), error)

var (
	version = "dev"
	verbose bool

	settingsService driving.SettingsService
	ingestService   driving.IngestService
	queryService    driving.QueryService
	documentService driving.DocumentService
	cardExporter    driven.CardExporter
	rebuildKeywords func(ctx context.Context) (int, error)

	serviceLoader  ServiceLoader
	releaseService func()
)

var rootCmd = &cobra.Command{
	Use:   "deskrag",
	Short: "Audited bond information cards from bond documentation",
	Long: `DeskRAG ingests bond PDFs (prospectuses, green bond frameworks, second
party opinions, impact reports), indexes their narrative and table segments,
and answers analyst questions with a bond information card. Every field on
the card cites the pages it was read from.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logger.SetVerbose(true)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	version = v
}

// SetSettingsService sets the settings service used by the config commands.
func SetSettingsService(s driving.SettingsService) {
	settingsService = s
}

// SetServices sets the core services.
func SetServices(s *Services) {
	ingestService = s.Ingest
	queryService = s.Query
	documentService = s.Document
	cardExporter = s.Exporter
	rebuildKeywords = s.RebuildKeywordIndex
}

// SetServiceLoader registers a loader run by the first command that needs
// the core services.
func SetServiceLoader(l ServiceLoader) {
	serviceLoader = l
}

// loadServices is a PreRunE hook for commands that need the core services.
func loadServices(cmd *cobra.Command, _ []string) error {
	if ingestService != nil || serviceLoader == nil {
		return nil
	}
	services, release, err := serviceLoader(cmd.Context())
	if err != nil {
		return fmt.Errorf("starting services: %w", err)
	}
	SetServices(services)
	releaseService = release
	return nil
}

// Execute runs the root command until it finishes or the process is
// interrupted, then releases any services it loaded.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		if releaseService != nil {
			releaseService()
		}
	}()

	return rootCmd.ExecuteContext(ctx)
}
