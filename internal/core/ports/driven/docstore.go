package driven

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// DocumentStore persists documents, pages, segments and ingestion runs.
// It is the source of truth the vector index is rebuilt from.
type DocumentStore interface {
	// SaveDocument stores a document with all its pages and segments.
	// Saving an existing ID replaces it atomically.
	SaveDocument(ctx context.Context, doc *domain.Document) error

	// GetDocument retrieves a document by ID with pages and segments.
	GetDocument(ctx context.Context, id string) (*domain.Document, error)

	// FindByChecksum returns the document with the given checksum.
	FindByChecksum(ctx context.Context, checksum string) (*domain.Document, error)

	// CountBySource returns how many documents share a source name.
	CountBySource(ctx context.Context, sourceName string) (int, error)

	// ListDocuments returns document summaries ordered by ingestion time.
	ListDocuments(ctx context.Context) ([]domain.DocumentSummary, error)

	// GetSegment resolves a segment key.
	GetSegment(ctx context.Context, key domain.SegmentKey) (*domain.Segment, error)

	// DeleteDocument removes a document and its segments.
	DeleteDocument(ctx context.Context, id string) error

	// SaveIngestionState records the latest state of a run.
	SaveIngestionState(ctx context.Context, state *domain.IngestionState) error

	// GetIngestionState returns the latest run for a document.
	GetIngestionState(ctx context.Context, documentID string) (*domain.IngestionState, error)
}

// SegmentResolver resolves segment keys for audit trails.
// DocumentStore satisfies it.
type SegmentResolver interface {
	GetSegment(ctx context.Context, key domain.SegmentKey) (*domain.Segment, error)
}

// CardStore persists published cards.
type CardStore interface {
	// PublishCard stores a fully validated card atomically.
	PublishCard(ctx context.Context, card *domain.BondInformationCard) error

	// GetCard retrieves a card by ID.
	GetCard(ctx context.Context, id string) (*domain.BondInformationCard, error)

	// ListCards returns the most recent cards, newest first.
	ListCards(ctx context.Context, limit int) ([]domain.BondInformationCard, error)
}
