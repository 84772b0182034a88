package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
	"github.com/custodia-labs/deskrag/internal/core/domain"
)

var (
	cardsLimit int
	cardsJSON  bool
	exportOut  string
)

var cardsCmd = &cobra.Command{
	Use:     "cards",
	Short:   "List published cards, newest first",
	Args:    cobra.NoArgs,
	PreRunE: loadServices,
	RunE:    runCardsList,
}

var cardsShowCmd = &cobra.Command{
	Use:     "show [card-id]",
	Short:   "Show a published card",
	Args:    cobra.ExactArgs(1),
	PreRunE: loadServices,
	RunE:    runCardsShow,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export published cards to a spreadsheet",
	Long: `Writes recent cards to an .xlsx workbook with one sheet for cards, one
for every field with its status and cited pages, one for KPIs and one for
the audit trail.`,
	Args:    cobra.NoArgs,
	PreRunE: loadServices,
	RunE:    runExport,
}

func init() {
	cardsCmd.PersistentFlags().BoolVar(&cardsJSON, "json", false, "output as JSON")
	cardsCmd.Flags().IntVarP(&cardsLimit, "limit", "n", 20, "maximum number of cards")
	cardsCmd.AddCommand(cardsShowCmd)
	rootCmd.AddCommand(cardsCmd)

	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "cards.xlsx", "workbook path")
	exportCmd.Flags().IntVarP(&cardsLimit, "limit", "n", 20, "maximum number of cards")
	rootCmd.AddCommand(exportCmd)
}

func runCardsList(cmd *cobra.Command, _ []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	cards, err := queryService.ListCards(cmd.Context(), cardsLimit)
	if err != nil {
		return fmt.Errorf("failed to list cards: %w", err)
	}

	if cardsJSON {
		views := make([]present.Card, len(cards))
		for i := range cards {
			views[i] = present.FromCard(&cards[i])
		}
		return printJSON(cmd, views)
	}

	if len(cards) == 0 {
		cmd.Println("No cards published yet.")
		return nil
	}

	for i := range cards {
		c := &cards[i]
		cmd.Printf("  %s  %s\n", c.ID, c.CreatedAt.Format("2006-01-02 15:04"))
		if c.Query != "" {
			cmd.Printf("    Query:  %s\n", c.Query)
		}
		if c.Scope.DocumentID != "" {
			cmd.Printf("    Doc:    %s\n", c.Scope.DocumentID)
		}
		cmd.Printf("    Fields: %d of %d found\n", presentFields(c), len(c.Fields))
		cmd.Println()
	}
	return nil
}

func runCardsShow(cmd *cobra.Command, args []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	card, err := queryService.GetCard(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get card: %w", err)
	}

	view := present.FromCard(card)
	if cardsJSON {
		return printJSON(cmd, view)
	}
	cmd.Println(renderCard(view, outputWidth(cmd.OutOrStdout())))
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}
	if cardExporter == nil {
		return errors.New("card exporter not configured")
	}

	cards, err := queryService.ListCards(cmd.Context(), cardsLimit)
	if err != nil {
		return fmt.Errorf("failed to list cards: %w", err)
	}

	f, err := os.Create(exportOut)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", exportOut, err)
	}
	if err := cardExporter.ExportCards(f, cards); err != nil {
		f.Close()
		return fmt.Errorf("failed to export cards: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOut, err)
	}

	cmd.Printf("Exported %d cards to %s\n", len(cards), exportOut)
	return nil
}

func presentFields(c *domain.BondInformationCard) int {
	n := 0
	for _, f := range c.Fields {
		if f.Status == domain.FieldPresent {
			n++
		}
	}
	return n
}
