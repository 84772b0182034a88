package driven

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// VectorIndex stores segment vectors and ranks them by cosine similarity.
//
// Upsert replaces any entry for the same key and keeps the key's original
// insertion position. Search returns at most k hits with non-increasing
// similarity; equal similarities are ordered by insertion, earliest first.
// Vectors whose length differs from Dimensions are rejected with
// *domain.DimensionMismatchError.
type VectorIndex interface {
	// Upsert inserts or replaces the entry for entry.Key.
	Upsert(ctx context.Context, entry domain.IndexEntry) error

	// Search finds the k most similar entries to the query vector.
	Search(ctx context.Context, query []float32, k int) ([]VectorHit, error)

	// Remove deletes the entry for key. Removing a missing key is not an error.
	Remove(ctx context.Context, key domain.SegmentKey) error

	// Has reports whether an entry exists for key.
	Has(ctx context.Context, key domain.SegmentKey) (bool, error)

	// Dimensions returns the fixed vector length, or 0 before the first upsert.
	Dimensions() int

	// Len returns the number of entries. Remote backends return 0 when the
	// count fails, so 0 does not prove the index is empty.
	Len() int

	// Close releases resources.
	Close() error
}

// ShadowIndex is a rebuild target built beside the live index. Writes to it
// leave the live index and its persisted state untouched until Promote.
type ShadowIndex interface {
	VectorIndex

	// Promote makes the shadow's entries the persisted index in one step.
	// The returned cleanup, when not nil, drops storage the previous index
	// used; call it once the previous index is no longer served.
	Promote(ctx context.Context) (cleanup func(context.Context) error, err error)

	// Discard drops the shadow's storage after a failed rebuild.
	Discard(ctx context.Context) error
}

// VectorHit represents a similarity search result.
type VectorHit struct {
	// Key is the matched segment.
	Key domain.SegmentKey

	// Similarity is the cosine similarity clamped to [0,1].
	Similarity float64

	// Metadata describes the segment without a document store lookup.
	Metadata domain.EntryMetadata
}

// IndexJournal persists index entries so an in-memory index survives restarts.
// The document store remains the source of truth; the journal is a cache
// that Reindex can rebuild.
type IndexJournal interface {
	// PutEntry stores or replaces an entry with its insertion sequence.
	PutEntry(ctx context.Context, entry domain.IndexEntry, seq uint64) error

	// DeleteEntry removes the entry for key.
	DeleteEntry(ctx context.Context, key domain.SegmentKey) error

	// LoadEntries calls fn for every stored entry in sequence order.
	LoadEntries(ctx context.Context, fn func(entry domain.IndexEntry, seq uint64) error) error

	// Replace swaps every stored entry for entries in one transaction.
	Replace(ctx context.Context, entries []JournalEntry) error
}

// JournalEntry is an index entry with its insertion sequence.
type JournalEntry struct {
	Entry domain.IndexEntry
	Seq   uint64
}
