package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
)

const (
	// uriScheme is the custom URI scheme for DeskRAG resources.
	uriScheme = "deskrag://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "documents",
		Name:        "documents",
		Description: "List of all ingested documents",
		MIMEType:    "application/json",
	}, s.handleDocumentsResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "cards/{cardId}",
		Name:        "bond-card",
		Description: "A published bond information card with its audit trail",
		MIMEType:    "application/json",
	}, s.handleCardResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "documents/{documentId}/pages/{page}",
		Name:        "document-page",
		Description: "Text of one page as it was indexed, for checking card citations",
		MIMEType:    "text/plain",
	}, s.handlePageResource)
}

// handleDocumentsResource returns every ingested document.
func (s *Server) handleDocumentsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Document == nil {
		return jsonResource(req.Params.URI, []present.Document{})
	}

	summaries, err := s.ports.Document.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return jsonResource(req.Params.URI, present.FromSummaries(summaries))
}

// handleCardResource returns a published card.
func (s *Server) handleCardResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	cardID := extractCardID(req.Params.URI)
	if cardID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	card, err := s.ports.Query.GetCard(ctx, cardID)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	return jsonResource(req.Params.URI, present.FromCard(card))
}

// handlePageResource returns the linearized segments of one page.
func (s *Server) handlePageResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Document == nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}
	docID, page := extractPage(req.Params.URI)
	if docID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	doc, err := s.ports.Document.Get(ctx, docID)
	if err != nil {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	var b strings.Builder
	found := false
	for i := range doc.Pages {
		if doc.Pages[i].Number != page {
			continue
		}
		found = true
		for _, seg := range doc.Pages[i].Segments {
			fmt.Fprintf(&b, "[%s] %s\n%s\n\n", seg.Key, seg.Kind, seg.Linearize())
		}
	}
	if !found {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      req.Params.URI,
			MIMEType: "text/plain",
			Text:     strings.TrimSpace(b.String()),
		}},
	}, nil
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling resource: %w", err)
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractCardID extracts the card ID from a URI like deskrag://cards/{cardId}.
func extractCardID(uri string) string {
	const prefix = uriScheme + "cards/"

	id, ok := strings.CutPrefix(uri, prefix)
	if !ok || strings.Contains(id, "/") {
		return ""
	}
	return id
}

// extractPage extracts the document ID and page number from a URI like
// deskrag://documents/{documentId}/pages/{page}. It returns "" on mismatch.
func extractPage(uri string) (string, int) {
	const prefix = uriScheme + "documents/"

	rest, ok := strings.CutPrefix(uri, prefix)
	if !ok {
		return "", 0
	}
	docID, pageStr, ok := strings.Cut(rest, "/pages/")
	if !ok || docID == "" {
		return "", 0
	}
	page, err := strconv.Atoi(pageStr)
	if err != nil || page < 1 {
		return "", 0
	}
	return docID, page
}
