package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/httpapi"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Serves ingestion, status and card queries over HTTP.

Endpoints:
  POST /documents              upload a PDF (multipart "file" or raw body with ?name=)
  GET  /documents              list ingested documents
  GET  /documents/{id}/status  ingestion status
  POST /query                  {"query": "...", "document_id": "...", "kinds": ["table"]}
  GET  /cards                  recent cards (?limit=N)
  GET  /cards/{id}             a published card
  GET  /health                 liveness`,
	Args:    cobra.NoArgs,
	PreRunE: loadServices,
	RunE:    runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveAddr, "addr", "a", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	if ingestService == nil || queryService == nil {
		return errors.New("ingest and query services not configured")
	}

	handler, err := httpapi.NewHandler(ingestService, queryService, documentService)
	if err != nil {
		return err
	}

	cmd.Printf("HTTP API listening on %s\n", serveAddr)
	return httpapi.Serve(cmd.Context(), serveAddr, handler)
}
