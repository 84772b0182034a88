package vectorindex

import (
	"context"
	"sync"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Swappable implements the interface.
var _ driven.VectorIndex = (*Swappable)(nil)

// Swappable forwards to a live index that can be replaced atomically.
// In-flight calls finish against the index they started on.
type Swappable struct {
	mu      sync.RWMutex
	current driven.VectorIndex
}

// NewSwappable wraps initial.
func NewSwappable(initial driven.VectorIndex) *Swappable {
	return &Swappable{current: initial}
}

// Current returns the live index.
func (s *Swappable) Current() driven.VectorIndex {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Swap installs next and returns the previous index. The caller owns the
// returned index and should close it when it is no longer needed.
func (s *Swappable) Swap(next driven.VectorIndex) driven.VectorIndex {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.current
	s.current = next
	return prev
}

// Upsert forwards to the live index.
func (s *Swappable) Upsert(ctx context.Context, entry domain.IndexEntry) error {
	return s.Current().Upsert(ctx, entry)
}

// Search forwards to the live index.
func (s *Swappable) Search(ctx context.Context, query []float32, k int) ([]driven.VectorHit, error) {
	return s.Current().Search(ctx, query, k)
}

// Remove forwards to the live index.
func (s *Swappable) Remove(ctx context.Context, key domain.SegmentKey) error {
	return s.Current().Remove(ctx, key)
}

// Has forwards to the live index.
func (s *Swappable) Has(ctx context.Context, key domain.SegmentKey) (bool, error) {
	return s.Current().Has(ctx, key)
}

// Dimensions forwards to the live index.
func (s *Swappable) Dimensions() int {
	return s.Current().Dimensions()
}

// Len forwards to the live index.
func (s *Swappable) Len() int {
	return s.Current().Len()
}

// Close closes the live index.
func (s *Swappable) Close() error {
	return s.Current().Close()
}
