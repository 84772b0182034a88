package mcp

import (
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Ingest decomposes and indexes documents.
	Ingest driving.IngestService

	// Query synthesizes bond cards.
	Query driving.QueryService

	// Document reads ingested documents. Optional.
	Document driving.DocumentService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Ingest == nil {
		return ErrMissingIngestService
	}
	if p.Query == nil {
		return ErrMissingQueryService
	}
	return nil
}
