package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

// IngestInput is the input schema for the ingest_document tool.
type IngestInput struct {
	Path  string `json:"path" jsonschema:"absolute path of the PDF to ingest"`
	Force bool   `json:"force,omitempty" jsonschema:"re-embed even if the same bytes were indexed before"`
}

// QueryInput is the input schema for the query_bond_card tool.
type QueryInput struct {
	Query      string   `json:"query,omitempty" jsonschema:"analyst question; may be empty when document_id is set"`
	DocumentID string   `json:"document_id,omitempty" jsonschema:"restrict evidence to one ingested document"`
	Kinds      []string `json:"kinds,omitempty" jsonschema:"restrict evidence to segment kinds: narrative, table"`
}

// StatusInput is the input schema for the document_status tool.
type StatusInput struct {
	DocumentID string `json:"document_id" jsonschema:"document ID returned by ingest_document"`
}

// ListInput is the input schema for the list_documents tool.
type ListInput struct{}

// ListOutput is the output schema for the list_documents tool.
type ListOutput struct {
	Documents []present.Document `json:"documents"`
	Count     int                `json:"count"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "ingest_document",
		Description: "Decompose a bond PDF into narrative and table segments and index them",
	}, s.handleIngest)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "query_bond_card",
		Description: "Synthesize a bond information card whose fields cite the pages they came from",
	}, s.handleQuery)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "document_status",
		Description: "Report the ingestion phase and segment counts of a document",
	}, s.handleStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_documents",
		Description: "List ingested documents, oldest first",
	}, s.handleList)
}

// handleIngest handles the ingest_document tool invocation.
func (s *Server) handleIngest(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IngestInput,
) (*mcp.CallToolResult, present.Document, error) {
	if input.Path == "" {
		return nil, present.Document{}, toolError(fmt.Errorf("%w: path is required", domain.ErrInvalidInput))
	}
	data, err := os.ReadFile(input.Path)
	if err != nil {
		return nil, present.Document{}, fmt.Errorf("reading %s: %w", input.Path, err)
	}

	summary, err := s.ports.Ingest.Ingest(ctx, driving.IngestRequest{
		Name:  filepath.Base(input.Path),
		Data:  data,
		Force: input.Force,
	})
	if err != nil {
		return nil, present.Document{}, toolError(err)
	}
	return nil, present.FromSummary(summary), nil
}

// handleQuery handles the query_bond_card tool invocation.
func (s *Server) handleQuery(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input QueryInput,
) (*mcp.CallToolResult, present.Card, error) {
	kinds, err := present.ParseKinds(input.Kinds)
	if err != nil {
		return nil, present.Card{}, toolError(err)
	}

	card, err := s.ports.Query.Query(ctx, driving.QueryRequest{
		Text:  input.Query,
		Scope: domain.RetrievalFilter{DocumentID: input.DocumentID, Kinds: kinds},
	})
	if err != nil {
		return nil, present.Card{}, toolError(err)
	}
	return nil, present.FromCard(card), nil
}

// handleStatus handles the document_status tool invocation.
func (s *Server) handleStatus(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input StatusInput,
) (*mcp.CallToolResult, present.Status, error) {
	if input.DocumentID == "" {
		return nil, present.Status{}, toolError(fmt.Errorf("%w: document_id is required", domain.ErrInvalidInput))
	}
	state, err := s.ports.Ingest.Status(ctx, input.DocumentID)
	if err != nil {
		return nil, present.Status{}, toolError(err)
	}
	return nil, present.FromState(state), nil
}

// handleList handles the list_documents tool invocation.
func (s *Server) handleList(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ ListInput,
) (*mcp.CallToolResult, ListOutput, error) {
	if s.ports.Document == nil {
		return nil, ListOutput{Documents: []present.Document{}}, nil
	}
	summaries, err := s.ports.Document.List(ctx)
	if err != nil {
		return nil, ListOutput{}, toolError(err)
	}
	docs := present.FromSummaries(summaries)
	return nil, ListOutput{Documents: docs, Count: len(docs)}, nil
}
