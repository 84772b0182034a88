package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

var (
	queryDocID string
	queryKinds []string
	queryJSON  bool
)

var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Build a bond information card",
	Long: `Retrieves evidence for the question and synthesizes a bond information
card. Present fields cite the pages they were read from; fields without
evidence are reported as not found.

The question may be omitted when --doc names a document; the card then
describes that document.`,
	Args:    cobra.MaximumNArgs(1),
	PreRunE: loadServices,
	RunE:    runQuery,
}

func init() {
	queryCmd.Flags().StringVarP(&queryDocID, "doc", "d", "", "restrict evidence to one document")
	queryCmd.Flags().StringSliceVarP(&queryKinds, "kind", "k", nil, "restrict evidence to segment kinds (narrative, table)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output the card as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryService == nil {
		return errors.New("query service not configured")
	}

	text := ""
	if len(args) == 1 {
		text = strings.TrimSpace(args[0])
	}
	if text == "" && queryDocID == "" {
		return errors.New("a question or --doc is required")
	}

	kinds, err := present.ParseKinds(queryKinds)
	if err != nil {
		return err
	}

	card, err := queryService.Query(cmd.Context(), driving.QueryRequest{
		Text:  text,
		Scope: domain.RetrievalFilter{DocumentID: queryDocID, Kinds: kinds},
	})
	if err != nil {
		if domain.IsRetryable(err) {
			return fmt.Errorf("query failed (retry shortly): %w", err)
		}
		return fmt.Errorf("query failed: %w", err)
	}

	view := present.FromCard(card)
	if queryJSON {
		return printJSON(cmd, view)
	}
	cmd.Println(renderCard(view, outputWidth(cmd.OutOrStdout())))
	return nil
}
