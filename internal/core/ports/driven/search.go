package driven

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// KeywordIndex provides BM25 keyword ranking over segment text.
// It is used alongside VectorIndex for hybrid retrieval.
type KeywordIndex interface {
	// Index adds or replaces the text for a segment.
	Index(ctx context.Context, key domain.SegmentKey, meta domain.EntryMetadata, text string) error

	// Remove deletes a segment from the index.
	Remove(ctx context.Context, key domain.SegmentKey) error

	// Search returns up to limit segments ranked by BM25 score.
	Search(ctx context.Context, query string, limit int) ([]KeywordHit, error)

	// Reset removes every segment.
	Reset(ctx context.Context) error
}

// KeywordHit represents a keyword search result.
type KeywordHit struct {
	// Key is the matched segment.
	Key domain.SegmentKey

	// Score is the BM25 relevance score.
	Score float64

	// Metadata describes the segment.
	Metadata domain.EntryMetadata
}
