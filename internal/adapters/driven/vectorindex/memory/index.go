// Package memory provides an exact in-memory vector index.
package memory

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// DefaultWriteTimeout bounds a journal commit.
const DefaultWriteTimeout = 10 * time.Second

type record struct {
	entry domain.IndexEntry
	norm  float64
	seq   uint64
}

// Index ranks entries by exact cosine similarity.
// Readers share an RWMutex; writers hold it for a single map update.
type Index struct {
	mu      sync.RWMutex
	records map[domain.SegmentKey]*record
	dims    int
	encoder string
	nextSeq uint64

	// writeMu serialises journal commits so sequence numbers stay ordered.
	writeMu      sync.Mutex
	journal      driven.IndexJournal
	writeTimeout time.Duration
}

// Option configures an Index.
type Option func(*Index)

// WithDimensions fixes the vector length up front.
func WithDimensions(n int) Option {
	return func(idx *Index) { idx.dims = n }
}

// WithEncoder makes Load reject entries written by any other encoder.
func WithEncoder(name string) Option {
	return func(idx *Index) { idx.encoder = name }
}

// WithJournal persists every write through j.
func WithJournal(j driven.IndexJournal) Option {
	return func(idx *Index) { idx.journal = j }
}

// WithWriteTimeout bounds each journal commit.
func WithWriteTimeout(d time.Duration) Option {
	return func(idx *Index) { idx.writeTimeout = d }
}

// New creates an empty index.
func New(opts ...Option) *Index {
	idx := &Index{
		records:      make(map[domain.SegmentKey]*record),
		writeTimeout: DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Load replays the journal into memory. It is called once at start-up.
func (idx *Index) Load(ctx context.Context) error {
	if idx.journal == nil {
		return nil
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	return idx.journal.LoadEntries(ctx, func(entry domain.IndexEntry, seq uint64) error {
		if idx.dims == 0 {
			idx.dims = len(entry.Vector)
		}
		if len(entry.Vector) != idx.dims {
			return &domain.DimensionMismatchError{Expected: idx.dims, Got: len(entry.Vector), Key: entry.Key}
		}
		if idx.encoder != "" && entry.Metadata.Encoder != idx.encoder {
			return &domain.EncoderMismatchError{Stored: entry.Metadata.Encoder, Current: idx.encoder}
		}
		idx.records[entry.Key] = &record{entry: entry, norm: norm(entry.Vector), seq: seq}
		if seq >= idx.nextSeq {
			idx.nextSeq = seq + 1
		}
		return nil
	})
}

// Upsert inserts or replaces the entry for entry.Key.
func (idx *Index) Upsert(ctx context.Context, entry domain.IndexEntry) error {
	if entry.Key.IsZero() {
		return fmt.Errorf("%w: index entry has no key", domain.ErrInvalidInput)
	}
	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: empty vector for %s", domain.ErrInvalidInput, entry.Key)
	}

	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	idx.mu.RLock()
	dims := idx.dims
	existing, exists := idx.records[entry.Key]
	seq := idx.nextSeq
	if exists {
		seq = existing.seq
	}
	idx.mu.RUnlock()

	if dims != 0 && len(entry.Vector) != dims {
		return &domain.DimensionMismatchError{Expected: dims, Got: len(entry.Vector), Key: entry.Key}
	}

	vec := make([]float32, len(entry.Vector))
	copy(vec, entry.Vector)
	entry.Vector = vec

	if err := idx.commit(ctx, func(ctx context.Context) error {
		return idx.journal.PutEntry(ctx, entry, seq)
	}); err != nil {
		return err
	}

	idx.mu.Lock()
	if idx.dims == 0 {
		idx.dims = len(vec)
	}
	idx.records[entry.Key] = &record{entry: entry, norm: norm(vec), seq: seq}
	if !exists {
		idx.nextSeq++
	}
	idx.mu.Unlock()
	return nil
}

// Remove deletes the entry for key.
func (idx *Index) Remove(ctx context.Context, key domain.SegmentKey) error {
	idx.writeMu.Lock()
	defer idx.writeMu.Unlock()

	if err := idx.commit(ctx, func(ctx context.Context) error {
		return idx.journal.DeleteEntry(ctx, key)
	}); err != nil {
		return err
	}

	idx.mu.Lock()
	delete(idx.records, key)
	idx.mu.Unlock()
	return nil
}

// commit runs a journal write under the index write timeout.
func (idx *Index) commit(ctx context.Context, write func(context.Context) error) error {
	if idx.journal == nil {
		return ctx.Err()
	}

	writeCtx, cancel := context.WithTimeout(ctx, idx.writeTimeout)
	defer cancel()

	err := write(writeCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(writeCtx.Err(), context.DeadlineExceeded) {
		return &domain.TimeoutError{Op: "index_write", After: idx.writeTimeout}
	}
	return fmt.Errorf("journal write: %w", err)
}

// Search finds the k most similar entries to query.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]driven.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.records) == 0 {
		return nil, nil
	}
	if len(query) != idx.dims {
		return nil, &domain.DimensionMismatchError{Expected: idx.dims, Got: len(query)}
	}

	qnorm := norm(query)
	h := make(hitHeap, 0, min(k, len(idx.records)))
	for _, rec := range idx.records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c := candidate{rec: rec, sim: similarity(query, qnorm, rec)}
		if len(h) < k {
			heap.Push(&h, c)
			continue
		}
		if better(c, h[0]) {
			h[0] = c
			heap.Fix(&h, 0)
		}
	}

	sort.Slice(h, func(i, j int) bool { return better(h[i], h[j]) })

	hits := make([]driven.VectorHit, len(h))
	for i, c := range h {
		hits[i] = driven.VectorHit{
			Key:        c.rec.entry.Key,
			Similarity: c.sim,
			Metadata:   c.rec.entry.Metadata,
		}
	}
	return hits, nil
}

// Has reports whether an entry exists for key.
func (idx *Index) Has(_ context.Context, key domain.SegmentKey) (bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.records[key]
	return ok, nil
}

// Dimensions returns the fixed vector length, or 0 before the first upsert.
func (idx *Index) Dimensions() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.dims
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// Close releases resources.
func (idx *Index) Close() error {
	return nil
}

type candidate struct {
	rec *record
	sim float64
}

// better orders by similarity, then earliest insertion.
func better(a, b candidate) bool {
	if a.sim != b.sim {
		return a.sim > b.sim
	}
	return a.rec.seq < b.rec.seq
}

// hitHeap is a min-heap keeping the worst retained candidate at the root.
type hitHeap []candidate

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(candidate)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	*h = old[:n-1]
	return c
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// similarity returns cosine similarity clamped to [0,1].
// Zero vectors score 0.
func similarity(q []float32, qnorm float64, rec *record) float64 {
	if qnorm == 0 || rec.norm == 0 {
		return 0
	}
	var dot float64
	for i, x := range rec.entry.Vector {
		dot += float64(x) * float64(q[i])
	}
	sim := dot / (qnorm * rec.norm)
	switch {
	case sim < 0:
		return 0
	case sim > 1:
		return 1
	}
	return sim
}
