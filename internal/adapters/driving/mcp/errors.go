// Package mcp provides an MCP (Model Context Protocol) server adapter for DeskRAG.
// It lets AI assistants ingest bond documents and request audited bond cards.
package mcp

import (
	"errors"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

var (
	// ErrMissingIngestService is returned when the ingest service is not provided.
	ErrMissingIngestService = errors.New("mcp: ingest service is required")

	// ErrMissingQueryService is returned when the query service is not provided.
	ErrMissingQueryService = errors.New("mcp: query service is required")
)

// toolError rewrites pipeline errors into messages an assistant can act on.
// The original error stays wrapped.
func toolError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInvalidInput):
		return fmt.Errorf("invalid arguments: %w", err)
	case errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("not found: %w", err)
	case errors.Is(err, domain.ErrTimeout):
		return fmt.Errorf("timed out, retry later: %w", err)
	case domain.IsRetryable(err):
		return fmt.Errorf("backend unavailable, retry shortly: %w", err)
	case errors.Is(err, domain.ErrIngestion):
		return fmt.Errorf("document could not be read: %w", err)
	case errors.Is(err, domain.ErrCardSynthesis):
		return fmt.Errorf("no valid card could be produced: %w", err)
	default:
		return err
	}
}
