package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// RetrieverConfig configures a Retriever.
type RetrieverConfig struct {
	// Mode selects vector-only or hybrid ranking.
	Mode domain.RetrievalMode

	// TopK is used when a caller passes k <= 0.
	TopK int

	// MinSimilarity drops vector hits scoring below the floor.
	MinSimilarity float64

	// HybridAlpha weights vector rank against keyword rank in hybrid mode.
	HybridAlpha float64
}

// RetrieverConfigFromSettings builds a RetrieverConfig from resolved settings.
func RetrieverConfigFromSettings(s *domain.Settings) RetrieverConfig {
	return RetrieverConfig{
		Mode:          s.Retrieval.Mode,
		TopK:          s.Retrieval.TopK,
		MinSimilarity: s.Retrieval.MinSimilarity,
		HybridAlpha:   s.Retrieval.HybridAlpha,
	}
}

// Retriever ranks indexed segments against a query.
type Retriever struct {
	embedder *SegmentEmbedder
	index    driven.VectorIndex
	keyword  driven.KeywordIndex
	cfg      RetrieverConfig
}

// NewRetriever creates a retriever. keyword may be nil, in which case
// hybrid mode falls back to vector ranking.
func NewRetriever(
	embedder *SegmentEmbedder,
	index driven.VectorIndex,
	keyword driven.KeywordIndex,
	cfg RetrieverConfig,
) *Retriever {
	if cfg.TopK < 1 {
		cfg.TopK = domain.DefaultSettings().Retrieval.TopK
	}
	return &Retriever{embedder: embedder, index: index, keyword: keyword, cfg: cfg}
}

// Retrieve returns up to k segments for query, ordered by non-increasing
// score. An empty result is not an error.
func (r *Retriever) Retrieve(
	ctx context.Context,
	query string,
	k int,
	filter domain.RetrievalFilter,
) (domain.RetrievalResult, error) {
	if k <= 0 {
		k = r.cfg.TopK
	}
	if strings.TrimSpace(query) == "" {
		return domain.RetrievalResult{}, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	fetch := k
	if r.cfg.Mode == domain.RetrievalModeHybrid {
		fetch = 2 * k
	}
	hits, err := r.vectorHits(ctx, vec, fetch, filter)
	if err != nil {
		return nil, err
	}

	if r.cfg.Mode != domain.RetrievalModeHybrid || r.keyword == nil || len(hits) == 0 {
		if len(hits) > k {
			hits = hits[:k]
		}
		return hits, nil
	}

	kwHits, err := r.keywordHits(ctx, query, fetch, filter)
	if err != nil {
		logger.Warn("keyword search failed, using vector ranking only: %v", err)
		if len(hits) > k {
			hits = hits[:k]
		}
		return hits, nil
	}
	kwHits, err = r.indexedOnly(ctx, kwHits, hits)
	if err != nil {
		return nil, err
	}
	return fuseRanks(hits, kwHits, r.cfg.HybridAlpha, k), nil
}

// indexedOnly drops keyword hits that are neither among the vector hits
// nor held by the vector index.
func (r *Retriever) indexedOnly(
	ctx context.Context,
	kwHits []driven.KeywordHit,
	vector domain.RetrievalResult,
) ([]driven.KeywordHit, error) {
	seen := make(map[domain.SegmentKey]bool, len(vector))
	for _, h := range vector {
		seen[h.Key] = true
	}
	out := kwHits[:0:0]
	for _, h := range kwHits {
		if !seen[h.Key] {
			ok, err := r.index.Has(ctx, h.Key)
			if err != nil {
				return nil, fmt.Errorf("check index: %w", err)
			}
			if !ok {
				continue
			}
		}
		out = append(out, h)
	}
	return out, nil
}

// vectorHits searches the index, widening k until enough hits survive the
// filter or the index returns fewer than asked for. Hits below the
// similarity floor are dropped. Backend failures are returned, never
// treated as an empty index.
func (r *Retriever) vectorHits(
	ctx context.Context,
	vec []float32,
	want int,
	filter domain.RetrievalFilter,
) (domain.RetrievalResult, error) {
	k := want
	for {
		raw, err := r.index.Search(ctx, vec, k)
		if err != nil {
			return nil, fmt.Errorf("search index: %w", err)
		}

		result := make(domain.RetrievalResult, 0, want)
		belowFloor := false
		for _, h := range raw {
			if h.Similarity < r.cfg.MinSimilarity {
				belowFloor = true
				break
			}
			if !filter.Matches(h.Metadata) {
				continue
			}
			result = append(result, domain.ScoredSegment{Key: h.Key, Score: h.Similarity, Metadata: h.Metadata})
			if len(result) == want {
				break
			}
		}

		// Hits arrive in score order, so once one falls below the floor no
		// wider search can add more.
		if len(result) >= want || belowFloor || len(raw) < k {
			return result, nil
		}
		k *= 2
	}
}

func (r *Retriever) keywordHits(
	ctx context.Context,
	query string,
	want int,
	filter domain.RetrievalFilter,
) ([]driven.KeywordHit, error) {
	limit := want
	if !filter.IsEmpty() {
		limit = want * 4
	}
	raw, err := r.keyword.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]driven.KeywordHit, 0, len(raw))
	for _, h := range raw {
		if filter.Matches(h.Metadata) {
			out = append(out, h)
		}
	}
	return out, nil
}

// fuseRanks combines vector and keyword rankings by weighted inverse rank:
// alpha/(1+rank) from the vector list plus (1-alpha)/(1+rank) from the
// keyword list. Segments missing from a list get nothing from it.
// Ties keep vector order, then keyword order.
func fuseRanks(vector domain.RetrievalResult, keyword []driven.KeywordHit, alpha float64, k int) domain.RetrievalResult {
	type fused struct {
		seg   domain.ScoredSegment
		order int
	}
	byKey := make(map[domain.SegmentKey]*fused, len(vector)+len(keyword))
	var all []*fused

	for rank, h := range vector {
		f := &fused{seg: h, order: len(all)}
		f.seg.Score = alpha / float64(1+rank)
		byKey[h.Key] = f
		all = append(all, f)
	}
	for rank, h := range keyword {
		bonus := (1 - alpha) / float64(1+rank)
		if f, ok := byKey[h.Key]; ok {
			f.seg.Score += bonus
			continue
		}
		f := &fused{
			seg:   domain.ScoredSegment{Key: h.Key, Score: bonus, Metadata: h.Metadata},
			order: len(all),
		}
		byKey[h.Key] = f
		all = append(all, f)
	}

	sort.SliceStable(all, func(i, j int) bool {
		if all[i].seg.Score != all[j].seg.Score {
			return all[i].seg.Score > all[j].seg.Score
		}
		return all[i].order < all[j].order
	})

	if len(all) > k {
		all = all[:k]
	}
	out := make(domain.RetrievalResult, len(all))
	for i, f := range all {
		out[i] = f.seg
	}
	return out
}
