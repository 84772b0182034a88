package driving

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// IngestService runs the write path: decompose, embed, index.
type IngestService interface {
	// Ingest decomposes and indexes one document.
	// Identical bytes resolve to the same document; unless Force is set an
	// already indexed document is returned without re-embedding.
	Ingest(ctx context.Context, req IngestRequest) (*domain.DocumentSummary, error)

	// IngestBatch ingests documents concurrently on a bounded worker pool.
	// One document failing does not stop the others.
	IngestBatch(ctx context.Context, reqs []IngestRequest) []IngestOutcome

	// Status returns the ingestion state of a document.
	Status(ctx context.Context, documentID string) (*domain.IngestionState, error)

	// Reindex rebuilds the vector index from the document store and returns
	// the number of entries written.
	Reindex(ctx context.Context) (int, error)
}

// IngestRequest describes one document to ingest.
type IngestRequest struct {
	// Name is the source file name or path.
	Name string

	// Data is the raw PDF bytes.
	Data []byte

	// Force re-embeds an already indexed document.
	Force bool
}

// IngestOutcome pairs a batch request with its result.
type IngestOutcome struct {
	Name    string
	Summary *domain.DocumentSummary
	Err     error
}
