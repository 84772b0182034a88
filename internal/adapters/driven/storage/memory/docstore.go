package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

var _ driven.DocumentStore = (*DocumentStore)(nil)

// DocumentStore is an in-memory implementation of driven.DocumentStore.
// Documents are deep-copied on the way in and out.
type DocumentStore struct {
	mu        sync.RWMutex
	documents map[string]*domain.Document
	runs      map[string][]domain.IngestionState
}

// NewDocumentStore creates a new in-memory document store.
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		documents: make(map[string]*domain.Document),
		runs:      make(map[string][]domain.IngestionState),
	}
}

// SaveDocument stores or replaces a document.
func (s *DocumentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = cloneDocument(doc)
	return nil
}

// GetDocument retrieves a document by ID.
func (s *DocumentStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDocument(doc), nil
}

// FindByChecksum returns the document with the given checksum.
func (s *DocumentStore) FindByChecksum(_ context.Context, checksum string) (*domain.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.documents {
		if doc.Checksum == checksum {
			return cloneDocument(doc), nil
		}
	}
	return nil, domain.ErrNotFound
}

// CountBySource returns how many documents share a source name.
func (s *DocumentStore) CountBySource(_ context.Context, sourceName string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, doc := range s.documents {
		if doc.SourceName == sourceName {
			n++
		}
	}
	return n, nil
}

// ListDocuments returns summaries ordered by ingestion time then ID.
func (s *DocumentStore) ListDocuments(_ context.Context) ([]domain.DocumentSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DocumentSummary, 0, len(s.documents))
	for _, doc := range s.documents {
		sum := doc.Summarise()
		if runs := s.runs[doc.ID]; len(runs) > 0 {
			sum.Skipped = latestRun(runs).SegmentsSkipped
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].IngestedAt.Equal(out[j].IngestedAt) {
			return out[i].IngestedAt.Before(out[j].IngestedAt)
		}
		return out[i].DocumentID < out[j].DocumentID
	})
	return out, nil
}

// GetSegment resolves a segment key.
func (s *DocumentStore) GetSegment(_ context.Context, key domain.SegmentKey) (*domain.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[key.DocumentID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	for i := range doc.Pages {
		if doc.Pages[i].Number != key.PageNumber {
			continue
		}
		for j := range doc.Pages[i].Segments {
			if doc.Pages[i].Segments[j].Key == key {
				seg := cloneSegment(doc.Pages[i].Segments[j])
				return &seg, nil
			}
		}
	}
	return nil, domain.ErrNotFound
}

// DeleteDocument removes a document and its runs.
func (s *DocumentStore) DeleteDocument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
	delete(s.runs, id)
	return nil
}

// SaveIngestionState records the latest state of a run.
func (s *DocumentStore) SaveIngestionState(_ context.Context, state *domain.IngestionState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := s.runs[state.DocumentID]
	for i := range runs {
		if runs[i].RunID == state.RunID {
			runs[i] = *state
			return nil
		}
	}
	s.runs[state.DocumentID] = append(runs, *state)
	return nil
}

// GetIngestionState returns the latest run for a document.
func (s *DocumentStore) GetIngestionState(_ context.Context, documentID string) (*domain.IngestionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.runs[documentID]
	if len(runs) == 0 {
		return nil, domain.ErrNotFound
	}
	state := latestRun(runs)
	return &state, nil
}

// latestRun picks the most recently started run; later saves win ties.
func latestRun(runs []domain.IngestionState) domain.IngestionState {
	latest := runs[0]
	for _, r := range runs[1:] {
		if !r.StartedAt.Before(latest.StartedAt) {
			latest = r
		}
	}
	return latest
}

func cloneDocument(doc *domain.Document) *domain.Document {
	out := *doc
	out.Pages = make([]domain.Page, len(doc.Pages))
	for i, p := range doc.Pages {
		out.Pages[i] = p
		out.Pages[i].Segments = make([]domain.Segment, len(p.Segments))
		for j, seg := range p.Segments {
			out.Pages[i].Segments[j] = cloneSegment(seg)
		}
	}
	return &out
}

func cloneSegment(seg domain.Segment) domain.Segment {
	if seg.Table != nil {
		grid := &domain.TableGrid{HasHeader: seg.Table.HasHeader, Rows: make([][]string, len(seg.Table.Rows))}
		for i, row := range seg.Table.Rows {
			grid.Rows[i] = append([]string(nil), row...)
		}
		seg.Table = grid
	}
	return seg
}
