package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// keywordEntry is a segment waiting to be written to the keyword index.
type keywordEntry struct {
	key  domain.SegmentKey
	meta domain.EntryMetadata
	text string
}

// rebuildResult is the outcome of filling a shadow index.
type rebuildResult struct {
	total    int
	keywords []keywordEntry
	states   []*domain.IngestionState
}

// Reindex rebuilds the vector index from the document store with the
// current encoder and installs it in place of the live index. Only
// documents whose latest run is indexed are rebuilt. The live index, the
// keyword index and the recorded runs are untouched unless the rebuild
// succeeds. Ingestion waits while a rebuild runs.
func (s *IngestService) Reindex(ctx context.Context) (int, error) {
	swapper, ok := s.index.(indexSwapper)
	if s.newIndex == nil || !ok {
		return 0, fmt.Errorf("%w: index cannot be rebuilt in place", domain.ErrUnsupportedType)
	}

	s.rebuild.Lock()
	defer s.rebuild.Unlock()

	logger.Section("Reindex")
	defer logger.Timed("Reindex")()

	shadow, err := s.newIndex(ctx)
	if err != nil {
		return 0, fmt.Errorf("create index: %w", err)
	}

	rb, err := s.rebuildInto(ctx, shadow)
	if err != nil {
		s.discard(ctx, shadow)
		return 0, err
	}

	cleanup, err := shadow.Promote(ctx)
	if err != nil {
		s.discard(ctx, shadow)
		return 0, fmt.Errorf("promote index: %w", err)
	}

	// The new index is committed; finish even if the caller gives up.
	ctx = context.WithoutCancel(ctx)
	if prev := swapper.Swap(shadow); prev != nil && prev != driven.VectorIndex(shadow) {
		if err := prev.Close(); err != nil {
			logger.Warn("Failed to close previous index: %v", err)
		}
	}
	if cleanup != nil {
		if err := cleanup(ctx); err != nil {
			logger.Warn("Failed to remove previous index: %v", err)
		}
	}

	if err := s.fillKeywords(ctx, rb.keywords); err != nil {
		return rb.total, err
	}
	for _, state := range rb.states {
		if err := s.docs.SaveIngestionState(ctx, state); err != nil {
			return rb.total, fmt.Errorf("save ingestion state: %w", err)
		}
	}
	logger.Info("Reindexed %d segments", rb.total)
	return rb.total, nil
}

func (s *IngestService) discard(ctx context.Context, shadow driven.ShadowIndex) {
	ctx = context.WithoutCancel(ctx)
	if err := shadow.Discard(ctx); err != nil {
		logger.Warn("Failed to discard rebuilt index: %v", err)
	}
	if err := shadow.Close(); err != nil {
		logger.Warn("Failed to close rebuilt index: %v", err)
	}
}

// RebuildKeywordIndex fills the keyword index from the document store with
// the segments the vector index holds. The BM25 index lives in memory, so
// hybrid retrieval calls this at startup. The keyword index is only
// replaced once every document has been read.
func (s *IngestService) RebuildKeywordIndex(ctx context.Context) (int, error) {
	if s.keyword == nil {
		return 0, nil
	}

	docs, err := s.indexedDocuments(ctx)
	if err != nil {
		return 0, err
	}
	var entries []keywordEntry
	for _, doc := range docs {
		encoder := doc.state.Encoder
		for _, seg := range doc.Segments() {
			if !s.embedder.Admits(&seg) {
				continue
			}
			entries = append(entries, keywordEntry{
				key:  seg.Key,
				meta: domain.NewIndexEntry(&seg, nil, encoder).Metadata,
				text: seg.Linearize(),
			})
		}
	}

	if err := s.fillKeywords(ctx, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// fillKeywords replaces the keyword index contents with entries.
func (s *IngestService) fillKeywords(ctx context.Context, entries []keywordEntry) error {
	if s.keyword == nil {
		return nil
	}
	if err := s.keyword.Reset(ctx); err != nil {
		return fmt.Errorf("reset keyword index: %w", err)
	}
	for _, e := range entries {
		if err := s.keyword.Index(ctx, e.key, e.meta, e.text); err != nil {
			return fmt.Errorf("keyword index %s: %w", e.key, err)
		}
	}
	return nil
}

// indexedDocument is a stored document with its latest run.
type indexedDocument struct {
	*domain.Document
	state *domain.IngestionState
}

// indexedDocuments loads the documents whose latest run is indexed.
func (s *IngestService) indexedDocuments(ctx context.Context) ([]indexedDocument, error) {
	summaries, err := s.docs.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}

	out := make([]indexedDocument, 0, len(summaries))
	for _, summary := range summaries {
		state, err := s.docs.GetIngestionState(ctx, summary.DocumentID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get ingestion state %s: %w", summary.DocumentID, err)
		}
		if state.Phase != domain.PhaseIndexed {
			logger.Debug("Skipping %s: latest run is %s", summary.DocumentID, state.Phase)
			continue
		}
		doc, err := s.docs.GetDocument(ctx, summary.DocumentID)
		if err != nil {
			return nil, fmt.Errorf("get document %s: %w", summary.DocumentID, err)
		}
		out = append(out, indexedDocument{Document: doc, state: state})
	}
	return out, nil
}

// rebuildInto embeds every indexed document into next. Keyword entries and
// run states are collected for the caller to apply after promotion.
func (s *IngestService) rebuildInto(ctx context.Context, next driven.VectorIndex) (*rebuildResult, error) {
	docs, err := s.indexedDocuments(ctx)
	if err != nil {
		return nil, err
	}

	rb := &rebuildResult{}
	encoder := s.embedder.Encoder()
	for _, doc := range docs {
		var (
			mu       sync.Mutex
			keywords []keywordEntry
		)
		started := time.Now().UTC()
		skipped, err := s.embedder.EmbedSegments(ctx, doc.Segments(), func(seg *domain.Segment, vec []float32) error {
			entry, err := s.writeEntry(ctx, next, seg, vec, encoder)
			if err != nil {
				return err
			}
			mu.Lock()
			keywords = append(keywords, keywordEntry{key: seg.Key, meta: entry.Metadata, text: seg.Linearize()})
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reindex %s: %w", doc.ID, err)
		}
		rb.total += len(keywords)
		rb.keywords = append(rb.keywords, keywords...)

		ds := doc.Summarise()
		completed := time.Now().UTC()
		rb.states = append(rb.states, &domain.IngestionState{
			DocumentID:       doc.ID,
			RunID:            uuid.NewString(),
			SourceName:       doc.SourceName,
			Phase:            domain.PhaseIndexed,
			Encoder:          encoder,
			SegmentsTotal:    ds.Segments,
			SegmentsEmbedded: len(keywords),
			SegmentsDegraded: ds.Degraded,
			SegmentsSkipped:  skipped,
			StartedAt:        started,
			CompletedAt:      &completed,
		})
		logger.Debug("Reindexed %s: %d segments", doc.ID, len(keywords))
	}
	return rb, nil
}
