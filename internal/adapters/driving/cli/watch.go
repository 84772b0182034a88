package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/watch"
)

var (
	watchForce  bool
	watchSettle time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Ingest PDFs dropped into a directory",
	Long: `Ingests the PDFs already in the directory, then every PDF copied or
saved into it, until interrupted. Only the top level is watched; hidden
files and Office lock files are ignored.`,
	Args:    cobra.ExactArgs(1),
	PreRunE: loadServices,
	RunE:    runWatch,
}

func init() {
	watchCmd.Flags().BoolVarP(&watchForce, "force", "f", false, "re-embed documents that are already indexed")
	watchCmd.Flags().DurationVar(&watchSettle, "settle", watch.DefaultSettle, "quiet period before a changed file is ingested")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	if ingestService == nil {
		return errors.New("ingest service not configured")
	}

	w := watch.New(args[0], ingestService,
		watch.WithForce(watchForce),
		watch.WithSettle(watchSettle),
		watch.WithResults(func(r watch.Result) {
			switch {
			case r.Err != nil:
				cmd.Printf("  FAILED  %s: %v\n", r.Path, r.Err)
			case r.Summary.AlreadyIndexed:
				cmd.Printf("  unchanged %s -> %s\n", r.Path, r.Summary.DocumentID)
			default:
				cmd.Printf("  indexed %s -> %s (%d segments)\n", r.Path, r.Summary.DocumentID, r.Summary.Segments)
			}
		}),
	)

	cmd.Printf("Watching %s (Ctrl+C to stop)\n", args[0])
	return w.Run(cmd.Context())
}
