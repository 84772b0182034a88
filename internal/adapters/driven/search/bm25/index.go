// Package bm25 provides an in-memory Okapi BM25 keyword index over segment text.
// It replaces the Xapian engine for keyword ranking in hybrid retrieval.
package bm25

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.KeywordIndex = (*Index)(nil)

// Default BM25 parameters.
const (
	DefaultK1 = 1.2
	DefaultB  = 0.75
)

type document struct {
	meta   domain.EntryMetadata
	terms  map[string]int
	length int
	seq    uint64
}

// Index is a concurrency-safe BM25 index.
type Index struct {
	mu       sync.RWMutex
	docs     map[domain.SegmentKey]*document
	postings map[string]map[domain.SegmentKey]struct{}
	totalLen int
	nextSeq  uint64
	k1       float64
	b        float64
}

// Option configures an Index.
type Option func(*Index)

// WithParameters overrides k1 and b.
func WithParameters(k1, b float64) Option {
	return func(idx *Index) {
		idx.k1 = k1
		idx.b = b
	}
}

// New creates an empty index.
func New(opts ...Option) *Index {
	idx := &Index{
		docs:     make(map[domain.SegmentKey]*document),
		postings: make(map[string]map[domain.SegmentKey]struct{}),
		k1:       DefaultK1,
		b:        DefaultB,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Index adds or replaces the text for a segment.
func (idx *Index) Index(_ context.Context, key domain.SegmentKey, meta domain.EntryMetadata, text string) error {
	tokens := Tokenize(text)
	terms := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		terms[tok]++
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	seq := idx.nextSeq
	if old, ok := idx.docs[key]; ok {
		seq = old.seq
		idx.removeLocked(key)
	} else {
		idx.nextSeq++
	}

	idx.docs[key] = &document{meta: meta, terms: terms, length: len(tokens), seq: seq}
	idx.totalLen += len(tokens)
	for term := range terms {
		set, ok := idx.postings[term]
		if !ok {
			set = make(map[domain.SegmentKey]struct{})
			idx.postings[term] = set
		}
		set[key] = struct{}{}
	}
	return nil
}

// Remove deletes a segment from the index.
func (idx *Index) Remove(_ context.Context, key domain.SegmentKey) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(key)
	return nil
}

func (idx *Index) removeLocked(key domain.SegmentKey) {
	doc, ok := idx.docs[key]
	if !ok {
		return
	}
	for term := range doc.terms {
		set := idx.postings[term]
		delete(set, key)
		if len(set) == 0 {
			delete(idx.postings, term)
		}
	}
	idx.totalLen -= doc.length
	delete(idx.docs, key)
}

// Reset removes every segment.
func (idx *Index) Reset(_ context.Context) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.docs = make(map[domain.SegmentKey]*document)
	idx.postings = make(map[string]map[domain.SegmentKey]struct{})
	idx.totalLen = 0
	return nil
}

// Len returns the number of indexed segments.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.docs)
}

// Search returns up to limit segments ranked by BM25 score. Ties are
// ordered by insertion.
func (idx *Index) Search(ctx context.Context, query string, limit int) ([]driven.KeywordHit, error) {
	if limit <= 0 {
		return nil, nil
	}
	queryTerms := unique(Tokenize(query))
	if len(queryTerms) == 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	n := float64(len(idx.docs))
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(idx.totalLen) / n

	scores := make(map[domain.SegmentKey]float64)
	for _, term := range queryTerms {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		set := idx.postings[term]
		if len(set) == 0 {
			continue
		}
		df := float64(len(set))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for key := range set {
			doc := idx.docs[key]
			tf := float64(doc.terms[term])
			norm := tf + idx.k1*(1-idx.b+idx.b*float64(doc.length)/avgLen)
			scores[key] += idf * tf * (idx.k1 + 1) / norm
		}
	}

	hits := make([]driven.KeywordHit, 0, len(scores))
	for key, score := range scores {
		hits = append(hits, driven.KeywordHit{Key: key, Score: score, Metadata: idx.docs[key].meta})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return idx.docs[hits[i].Key].seq < idx.docs[hits[j].Key].seq
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Tokenize lowercases text and splits on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func unique(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
