package vectorindex

import (
	"context"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Stale implements the interface.
var _ driven.VectorIndex = (*Stale)(nil)

// Stale is served while the stored vectors belong to another encoder.
// Reads and writes fail with the mismatch until a reindex swaps in a
// rebuilt index.
type Stale struct {
	dims int
	err  error
}

// NewStale wraps the mismatch found when opening the stored index.
func NewStale(dims int, cause error) *Stale {
	return &Stale{dims: dims, err: fmt.Errorf("index needs rebuilding, run 'deskrag reindex': %w", cause)}
}

// Upsert fails with the mismatch.
func (s *Stale) Upsert(context.Context, domain.IndexEntry) error { return s.err }

// Search fails with the mismatch.
func (s *Stale) Search(context.Context, []float32, int) ([]driven.VectorHit, error) {
	return nil, s.err
}

// Remove fails with the mismatch.
func (s *Stale) Remove(context.Context, domain.SegmentKey) error { return s.err }

// Has fails with the mismatch.
func (s *Stale) Has(context.Context, domain.SegmentKey) (bool, error) { return false, s.err }

// Dimensions returns the current encoder's vector length.
func (s *Stale) Dimensions() int { return s.dims }

// Len returns 0.
func (s *Stale) Len() int { return 0 }

// Close releases nothing.
func (s *Stale) Close() error { return nil }
