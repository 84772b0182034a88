package driving

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// DocumentService provides read access to ingested documents.
type DocumentService interface {
	// List returns all ingested documents, oldest first.
	List(ctx context.Context) ([]domain.DocumentSummary, error)

	// Get returns a document with its pages and segments.
	Get(ctx context.Context, id string) (*domain.Document, error)

	// GetSegment returns a single segment.
	GetSegment(ctx context.Context, key domain.SegmentKey) (*domain.Segment, error)
}
