package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

// Ensure DocumentService implements the interface.
var _ driving.DocumentService = (*DocumentService)(nil)

// DocumentService provides read access to ingested documents.
type DocumentService struct {
	docStore driven.DocumentStore
}

// NewDocumentService creates a new document service.
func NewDocumentService(docStore driven.DocumentStore) *DocumentService {
	return &DocumentService{docStore: docStore}
}

// List returns all ingested documents, oldest first.
func (s *DocumentService) List(ctx context.Context) ([]domain.DocumentSummary, error) {
	return s.docStore.ListDocuments(ctx)
}

// Get retrieves a document by ID.
func (s *DocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	return s.docStore.GetDocument(ctx, id)
}

// GetSegment resolves a single segment.
func (s *DocumentService) GetSegment(ctx context.Context, key domain.SegmentKey) (*domain.Segment, error) {
	if key.DocumentID == "" || key.PageNumber < 1 {
		return nil, fmt.Errorf("%w: segment key %s", domain.ErrInvalidInput, key)
	}
	return s.docStore.GetSegment(ctx, key)
}
