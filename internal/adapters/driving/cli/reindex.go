package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Rebuild the vector index from stored documents",
	Long: `Re-embeds every stored segment with the configured encoder and swaps the
rebuilt index in. Run this after changing embedding.provider or
embedding.model; queries keep using the old index until the swap.`,
	Args:    cobra.NoArgs,
	PreRunE: loadServices,
	RunE:    runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, _ []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	cmd.Println("Reindexing stored documents...")
	n, err := ingestService.Reindex(cmd.Context())
	if err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}
	cmd.Printf("Indexed %d segments.\n", n)

	if rebuildKeywords != nil {
		k, err := rebuildKeywords(cmd.Context())
		if err != nil {
			return fmt.Errorf("keyword index rebuild failed: %w", err)
		}
		cmd.Printf("Keyword index holds %d segments.\n", k)
	}
	return nil
}
