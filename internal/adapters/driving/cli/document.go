package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
	"github.com/custodia-labs/deskrag/internal/core/domain"
)

var documentJSON bool

var listCmd = &cobra.Command{
	Use:     "list",
	Short:   "List ingested documents",
	Args:    cobra.NoArgs,
	PreRunE: loadServices,
	RunE:    runList,
}

var statusCmd = &cobra.Command{
	Use:     "status [doc-id]",
	Short:   "Show the ingestion status of a document",
	Args:    cobra.ExactArgs(1),
	PreRunE: loadServices,
	RunE:    runStatus,
}

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Inspect ingested documents",
	Long:  `Show the pages and segments of an ingested document, for checking card citations.`,
}

var documentShowCmd = &cobra.Command{
	Use:     "show [doc-id]",
	Short:   "Show document pages and segments",
	Args:    cobra.ExactArgs(1),
	PreRunE: loadServices,
	RunE:    runDocumentShow,
}

var documentSegmentCmd = &cobra.Command{
	Use:   "segment [key]",
	Short: "Print one segment as it was indexed",
	Long: `Prints a segment by key, e.g. doc_ab12/p2/s1, exactly as it was embedded.
Tables are shown row by row with their header repeated.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: loadServices,
	RunE:    runDocumentSegment,
}

func init() {
	listCmd.Flags().BoolVar(&documentJSON, "json", false, "output as JSON")
	statusCmd.Flags().BoolVar(&documentJSON, "json", false, "output as JSON")

	documentCmd.AddCommand(documentShowCmd)
	documentCmd.AddCommand(documentSegmentCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(documentCmd)
}

func runList(cmd *cobra.Command, _ []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	summaries, err := documentService.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}
	docs := present.FromSummaries(summaries)

	if documentJSON {
		return printJSON(cmd, docs)
	}

	if len(docs) == 0 {
		cmd.Println("No documents ingested yet. Run 'deskrag ingest <file.pdf>'.")
		return nil
	}

	for _, d := range docs {
		cmd.Printf("  %s\n", d.ID)
		cmd.Printf("    Source:   %s (v%d)\n", d.SourceName, d.Version)
		cmd.Printf("    Content:  %d pages, %d segments, %d tables\n", d.Pages, d.Segments, d.Tables)
		cmd.Printf("    Ingested: %s\n", d.IngestedAt)
		cmd.Println()
	}
	cmd.Printf("Total: %d documents\n", len(docs))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	state, err := ingestService.Status(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	status := present.FromState(state)

	if documentJSON {
		return printJSON(cmd, status)
	}

	cmd.Printf("Document: %s\n\n", status.DocumentID)
	cmd.Printf("  Source:    %s\n", status.SourceName)
	cmd.Printf("  Run:       %s\n", status.RunID)
	cmd.Printf("  Phase:     %s\n", status.Phase)
	cmd.Printf("  Segments:  %d embedded of %d\n", status.SegmentsEmbedded, status.SegmentsTotal)
	if status.SegmentsDegraded > 0 {
		cmd.Printf("  Degraded:  %d\n", status.SegmentsDegraded)
	}
	if status.SegmentsSkipped > 0 {
		cmd.Printf("  Skipped:   %d\n", status.SegmentsSkipped)
	}
	cmd.Printf("  Started:   %s\n", status.StartedAt)
	if status.CompletedAt != "" {
		cmd.Printf("  Completed: %s\n", status.CompletedAt)
	}
	if status.Error != "" {
		cmd.Printf("  Error:     %s\n", status.Error)
	}
	return nil
}

func runDocumentShow(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	doc, err := documentService.Get(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}

	cmd.Printf("Document: %s\n\n", doc.ID)
	cmd.Printf("  Source:   %s (v%d)\n", doc.SourceName, doc.Version)
	cmd.Printf("  Checksum: %s\n", doc.Checksum)
	cmd.Printf("  Ingested: %s\n", doc.IngestedAt.Format("2006-01-02 15:04:05"))

	for i := range doc.Pages {
		page := &doc.Pages[i]
		cmd.Printf("\n  Page %d (%d segments)\n", page.Number, len(page.Segments))
		if page.Layout.ParseError != "" {
			cmd.Printf("    parse error: %s\n", page.Layout.ParseError)
		}
		for j := range page.Segments {
			seg := &page.Segments[j]
			cmd.Printf("    %-20s %-9s %s\n", seg.Key, seg.Kind, segmentPreview(seg))
		}
	}
	return nil
}

func runDocumentSegment(cmd *cobra.Command, args []string) error {
	if documentService == nil {
		return errors.New("document service not configured")
	}

	key, err := domain.ParseSegmentKey(args[0])
	if err != nil {
		return err
	}
	seg, err := documentService.GetSegment(cmd.Context(), key)
	if err != nil {
		return fmt.Errorf("failed to get segment: %w", err)
	}

	cmd.Printf("%s (%s)\n\n", seg.Key, seg.Kind)
	if seg.ParseDegraded {
		cmd.Printf("degraded: %s\n\n", seg.DegradedReason)
	}
	cmd.Println(seg.Linearize())
	return nil
}

// segmentPreview returns the first line of a segment, truncated.
func segmentPreview(seg *domain.Segment) string {
	const maxPreview = 60

	text := seg.Text
	if seg.Kind == domain.SegmentKindTable {
		text = seg.Caption
		if text == "" {
			text = "(table)"
		}
	}
	runes := []rune(text)
	for i, r := range runes {
		if r == '\n' {
			runes = runes[:i]
			break
		}
	}
	if len(runes) > maxPreview {
		return string(runes[:maxPreview-3]) + "..."
	}
	return string(runes)
}
