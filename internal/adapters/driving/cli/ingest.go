package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

var (
	ingestForce bool
	ingestJSON  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest bond PDFs",
	Long: `Decomposes each PDF into narrative and table segments, embeds them and
indexes them. Directories are searched recursively for .pdf files.

Re-ingesting identical bytes is a no-op unless --force is given. A file
that cannot be read is reported and does not stop the others.`,
	Args:    cobra.MinimumNArgs(1),
	PreRunE: loadServices,
	RunE:    runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "re-embed documents that are already indexed")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(ingestCmd)
}

// ingestResult is the JSON view of one ingested file.
type ingestResult struct {
	Path     string            `json:"path"`
	Document *present.Document `json:"document,omitempty"`
	Error    string            `json:"error,omitempty"`
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	paths, err := collectPDFs(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no PDF files found")
	}

	reqs := make([]driving.IngestRequest, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		reqs = append(reqs, driving.IngestRequest{
			Name:  filepath.Base(path),
			Data:  data,
			Force: ingestForce,
		})
	}

	outcomes := ingestService.IngestBatch(cmd.Context(), reqs)

	results := make([]ingestResult, len(outcomes))
	failed := 0
	for i, o := range outcomes {
		results[i].Path = paths[i]
		if o.Err != nil {
			failed++
			results[i].Error = o.Err.Error()
			continue
		}
		doc := present.FromSummary(o.Summary)
		results[i].Document = &doc
	}

	if ingestJSON {
		if err := printJSON(cmd, results); err != nil {
			return err
		}
	} else {
		printIngestResults(cmd, results)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

func printIngestResults(cmd *cobra.Command, results []ingestResult) {
	for _, r := range results {
		if r.Error != "" {
			cmd.Printf("  FAILED  %s: %s\n", r.Path, r.Error)
			continue
		}
		d := r.Document
		state := "indexed"
		if d.AlreadyIndexed {
			state = "unchanged"
		}
		cmd.Printf("  %-8s%s -> %s (v%d, %d pages, %d segments, %d tables)\n",
			state, r.Path, d.ID, d.Version, d.Pages, d.Segments, d.Tables)
		if d.Degraded > 0 {
			cmd.Printf("          %d segment(s) parsed with degraded layout\n", d.Degraded)
		}
		if d.Skipped > 0 {
			cmd.Printf("          %d segment(s) skipped by the text policy\n", d.Skipped)
		}
	}
}

// collectPDFs expands directories into the PDF files beneath them.
// Explicit file arguments are kept whatever their extension.
func collectPDFs(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != arg && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if strings.EqualFold(filepath.Ext(path), ".pdf") && !strings.HasPrefix(d.Name(), ".") {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk %s: %w", arg, err)
		}
	}
	return paths, nil
}
