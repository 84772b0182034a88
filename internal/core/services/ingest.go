package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// Ensure IngestService implements the interface.
var _ driving.IngestService = (*IngestService)(nil)

// IngestConfig configures an IngestService.
type IngestConfig struct {
	// Workers bounds concurrently ingested documents in a batch.
	Workers int

	// IndexWriteTimeout bounds each index write.
	IndexWriteTimeout time.Duration

	// Retry configures backoff for unavailable index backends.
	Retry domain.RetrySettings
}

// IngestConfigFromSettings builds an IngestConfig from resolved settings.
func IngestConfigFromSettings(s *domain.Settings) IngestConfig {
	return IngestConfig{
		Workers:           s.Ingest.Workers,
		IndexWriteTimeout: s.Timeouts.IndexWrite,
		Retry:             s.Retry,
	}
}

// IndexFactory builds an empty shadow index for a rebuild.
type IndexFactory func(ctx context.Context) (driven.ShadowIndex, error)

// indexSwapper is a live index that Reindex can replace.
type indexSwapper interface {
	driven.VectorIndex
	Swap(next driven.VectorIndex) driven.VectorIndex
}

// IngestOption configures optional IngestService collaborators.
type IngestOption func(*IngestService)

// WithKeywordIndex keeps a BM25 index in step with the vector index.
func WithKeywordIndex(k driven.KeywordIndex) IngestOption {
	return func(s *IngestService) { s.keyword = k }
}

// WithIndexFactory enables Reindex. The live index must support Swap.
func WithIndexFactory(f IndexFactory) IngestOption {
	return func(s *IngestService) { s.newIndex = f }
}

// IngestService runs the write path: decompose, post-process, store,
// embed and index.
type IngestService struct {
	decomposer driven.Decomposer
	pipeline   driven.PostProcessorPipeline
	docs       driven.DocumentStore
	embedder   *SegmentEmbedder
	index      driven.VectorIndex
	keyword    driven.KeywordIndex
	newIndex   IndexFactory
	cfg        IngestConfig
	writes     retryPolicy

	group singleflight.Group

	// rebuild is held shared by ingestions and exclusively by Reindex.
	rebuild sync.RWMutex

	// Status tracking
	mu     sync.RWMutex
	active map[string]*domain.IngestionState
}

// NewIngestService creates an ingest service. pipeline may be nil.
func NewIngestService(
	decomposer driven.Decomposer,
	pipeline driven.PostProcessorPipeline,
	docs driven.DocumentStore,
	embedder *SegmentEmbedder,
	index driven.VectorIndex,
	cfg IngestConfig,
	opts ...IngestOption,
) *IngestService {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	s := &IngestService{
		decomposer: decomposer,
		pipeline:   pipeline,
		docs:       docs,
		embedder:   embedder,
		index:      index,
		cfg:        cfg,
		writes:     newRetryPolicy(opIndexWrite, cfg.IndexWriteTimeout, cfg.Retry),
		active:     make(map[string]*domain.IngestionState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest decomposes and indexes one document. Concurrent calls with the
// same bytes share a single run, which is not cancelled when one caller
// gives up.
func (s *IngestService) Ingest(ctx context.Context, req driving.IngestRequest) (*domain.DocumentSummary, error) {
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: %s is empty", domain.ErrInvalidInput, req.Name)
	}
	checksum := domain.Checksum(req.Data)
	docID := domain.DocumentIDFromChecksum(checksum)

	runCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(docID, func() (any, error) {
		return s.ingest(runCtx, req, checksum, docID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			logger.Debug("Joined in-flight ingestion of %s", docID)
		}
		summary := *res.Val.(*domain.DocumentSummary)
		return &summary, nil
	}
}

//nolint:gocyclo // Orchestration function with necessary sequential steps
func (s *IngestService) ingest(
	ctx context.Context,
	req driving.IngestRequest,
	checksum, docID string,
) (*domain.DocumentSummary, error) {
	s.rebuild.RLock()
	defer s.rebuild.RUnlock()

	// 1. Reuse an existing document when the bytes were seen before
	doc, err := s.docs.FindByChecksum(ctx, checksum)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("find document: %w", err)
	}
	if doc != nil && !req.Force {
		prev, err := s.docs.GetIngestionState(ctx, doc.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("get ingestion state: %w", err)
		}
		if prev != nil && prev.Phase == domain.PhaseIndexed && prev.Encoder == s.embedder.Encoder() {
			logger.Info("%s already indexed as %s", req.Name, doc.ID)
			summary := doc.Summarise()
			summary.Skipped = prev.SegmentsSkipped
			summary.AlreadyIndexed = true
			return &summary, nil
		}
	}

	state := &domain.IngestionState{
		DocumentID: docID,
		RunID:      uuid.NewString(),
		SourceName: req.Name,
		Phase:      domain.PhasePending,
		Encoder:    s.embedder.Encoder(),
		StartedAt:  time.Now().UTC(),
	}
	s.setStatus(state)
	defer s.clearStatus(docID)

	// 2. Decompose and post-process new documents
	if doc == nil {
		s.updateStatus(state, func(st *domain.IngestionState) { st.Phase = domain.PhaseDecomposing })
		done := logger.Timed("Decomposing %s", req.Name)
		doc, err = s.decompose(ctx, req, checksum, docID)
		done()
		if err != nil {
			return nil, s.fail(ctx, state, err)
		}
	}

	summary := doc.Summarise()
	s.updateStatus(state, func(st *domain.IngestionState) {
		st.Phase = domain.PhaseEmbedding
		st.SegmentsTotal = summary.Segments
		st.SegmentsDegraded = summary.Degraded
	})
	if err := s.docs.SaveIngestionState(ctx, s.snapshot(state)); err != nil {
		return nil, fmt.Errorf("save ingestion state: %w", err)
	}

	// 3. Embed and index every segment
	done := logger.Timed("Embedding %d segments of %s", summary.Segments, req.Name)
	skipped, err := s.indexDocument(ctx, doc, state)
	done()
	if err != nil {
		return nil, s.fail(ctx, state, err)
	}

	// 4. Record completion
	completed := time.Now().UTC()
	s.updateStatus(state, func(st *domain.IngestionState) {
		st.Phase = domain.PhaseIndexed
		st.SegmentsSkipped = skipped
		st.CompletedAt = &completed
	})
	if err := s.docs.SaveIngestionState(ctx, s.snapshot(state)); err != nil {
		return nil, fmt.Errorf("save ingestion state: %w", err)
	}

	logger.Info("Indexed %s as %s: %d pages, %d segments (%d tables, %d degraded, %d skipped)",
		req.Name, doc.ID, summary.Pages, summary.Segments, summary.Tables, summary.Degraded, skipped)
	summary.Skipped = skipped
	return &summary, nil
}

func (s *IngestService) decompose(
	ctx context.Context,
	req driving.IngestRequest,
	checksum, docID string,
) (*domain.Document, error) {
	doc, err := s.decomposer.Decompose(ctx, req.Name, req.Data)
	if err != nil {
		return nil, err
	}
	doc.ID = docID
	doc.SourceName = req.Name
	doc.Checksum = checksum
	if s.pipeline != nil {
		if err := s.pipeline.Process(ctx, doc); err != nil {
			return nil, fmt.Errorf("post-process: %w", err)
		}
	}

	count, err := s.docs.CountBySource(ctx, req.Name)
	if err != nil {
		return nil, fmt.Errorf("count versions: %w", err)
	}
	doc.Version = count + 1
	doc.IngestedAt = time.Now().UTC()

	if err := s.docs.SaveDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	return doc, nil
}

// indexDocument embeds the document's segments and writes them to the
// indexes. On failure every entry written for the document is removed.
func (s *IngestService) indexDocument(
	ctx context.Context,
	doc *domain.Document,
	state *domain.IngestionState,
) (int, error) {
	var (
		mu      sync.Mutex
		written []domain.SegmentKey
	)
	encoder := s.embedder.Encoder()

	skipped, err := s.embedder.EmbedSegments(ctx, doc.Segments(), func(seg *domain.Segment, vec []float32) error {
		entry, err := s.writeEntry(ctx, s.index, seg, vec, encoder)
		if err != nil {
			return err
		}
		if s.keyword != nil {
			if err := s.keyword.Index(ctx, seg.Key, entry.Metadata, seg.Linearize()); err != nil {
				return fmt.Errorf("keyword index %s: %w", seg.Key, err)
			}
		}
		mu.Lock()
		written = append(written, seg.Key)
		mu.Unlock()
		s.updateStatus(state, func(st *domain.IngestionState) { st.SegmentsEmbedded++ })
		return nil
	})
	if err != nil {
		s.removeEntries(context.WithoutCancel(ctx), written)
		return 0, err
	}
	return skipped, nil
}

// writeEntry upserts one vector into index.
func (s *IngestService) writeEntry(
	ctx context.Context,
	index driven.VectorIndex,
	seg *domain.Segment,
	vec []float32,
	encoder string,
) (domain.IndexEntry, error) {
	entry := domain.NewIndexEntry(seg, vec, encoder)
	err := s.writes.do(ctx, func(ctx context.Context) error {
		return index.Upsert(ctx, entry)
	})
	if err != nil {
		return entry, fmt.Errorf("index %s: %w", seg.Key, err)
	}
	return entry, nil
}

func (s *IngestService) removeEntries(ctx context.Context, keys []domain.SegmentKey) {
	for _, key := range keys {
		if err := s.index.Remove(ctx, key); err != nil {
			logger.Warn("Failed to remove partial entry %s: %v", key, err)
		}
		if s.keyword != nil {
			_ = s.keyword.Remove(ctx, key)
		}
	}
	if len(keys) > 0 {
		logger.Debug("Removed %d partial index entries", len(keys))
	}
}

// fail records a failed run and returns err.
func (s *IngestService) fail(ctx context.Context, state *domain.IngestionState, err error) error {
	completed := time.Now().UTC()
	s.updateStatus(state, func(st *domain.IngestionState) {
		st.Phase = domain.PhaseFailed
		st.Error = err.Error()
		st.CompletedAt = &completed
	})
	if serr := s.docs.SaveIngestionState(context.WithoutCancel(ctx), s.snapshot(state)); serr != nil {
		logger.Warn("Failed to record failed ingestion of %s: %v", state.DocumentID, serr)
	}
	logger.Error("Ingestion of %s failed: %v", state.SourceName, err)
	return err
}

// IngestBatch ingests reqs on a bounded worker pool. Outcomes follow the
// order of reqs.
func (s *IngestService) IngestBatch(ctx context.Context, reqs []driving.IngestRequest) []driving.IngestOutcome {
	outcomes := make([]driving.IngestOutcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, req := range reqs {
		g.Go(func() error {
			summary, err := s.Ingest(ctx, req)
			outcomes[i] = driving.IngestOutcome{Name: req.Name, Summary: summary, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// Status returns the live state of a running ingestion, or the latest
// recorded run.
func (s *IngestService) Status(ctx context.Context, documentID string) (*domain.IngestionState, error) {
	s.mu.RLock()
	if state, ok := s.active[documentID]; ok {
		copied := *state
		s.mu.RUnlock()
		return &copied, nil
	}
	s.mu.RUnlock()

	return s.docs.GetIngestionState(ctx, documentID)
}

func (s *IngestService) setStatus(state *domain.IngestionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[state.DocumentID] = state
}

func (s *IngestService) updateStatus(state *domain.IngestionState, fn func(*domain.IngestionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(state)
}

func (s *IngestService) snapshot(state *domain.IngestionState) *domain.IngestionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	copied := *state
	return &copied
}

func (s *IngestService) clearStatus(documentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, documentID)
}
