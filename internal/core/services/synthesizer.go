package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// Notes recorded on fields downgraded to not_found.
const (
	noteNoEvidence    = "no relevant evidence retrieved"
	noteNotStated     = "not stated in retrieved evidence"
	noteNoCitation    = "no valid citation"
	noteInvalidOutput = "invalid field output"
)

// SynthesizerConfig configures a CardSynthesizer.
type SynthesizerConfig struct {
	Card        domain.CardSettings
	Temperature float64
	MaxTokens   int

	// Timeout bounds each generation call.
	Timeout time.Duration

	// Retry configures backoff for unavailable backends.
	Retry domain.RetrySettings
}

// SynthesizerConfigFromSettings builds a SynthesizerConfig from resolved settings.
func SynthesizerConfigFromSettings(s *domain.Settings) SynthesizerConfig {
	return SynthesizerConfig{
		Card:        s.Card,
		Temperature: s.LLM.Temperature,
		MaxTokens:   s.LLM.MaxTokens,
		Timeout:     s.Timeouts.Generation,
		Retry:       s.Retry,
	}
}

// contextSegment is one labelled excerpt placed in the prompt.
type contextSegment struct {
	Label   string
	Score   float64
	Segment *domain.Segment
}

// CardSynthesizer fills the bond information card from retrieved evidence.
type CardSynthesizer struct {
	retriever *Retriever
	segments  driven.SegmentResolver
	llm       driven.LLMService
	prompts   driven.PromptStore
	cfg       SynthesizerConfig
	policy    retryPolicy
	now       func() time.Time
}

// NewCardSynthesizer creates a synthesizer. llm may be nil; queries with
// evidence then fail with domain.ErrLLMUnavailable.
func NewCardSynthesizer(
	retriever *Retriever,
	segments driven.SegmentResolver,
	llm driven.LLMService,
	prompts driven.PromptStore,
	cfg SynthesizerConfig,
) *CardSynthesizer {
	defaults := domain.DefaultSettings().Card
	if cfg.Card.TopK < 1 {
		cfg.Card.TopK = defaults.TopK
	}
	if cfg.Card.MaxContextSegments < 1 {
		cfg.Card.MaxContextSegments = defaults.MaxContextSegments
	}
	if cfg.Card.MaxAttempts < 1 {
		cfg.Card.MaxAttempts = defaults.MaxAttempts
	}
	return &CardSynthesizer{
		retriever: retriever,
		segments:  segments,
		llm:       llm,
		prompts:   prompts,
		cfg:       cfg,
		policy:    newRetryPolicy(opGeneration, cfg.Timeout, cfg.Retry),
		now:       time.Now,
	}
}

// Synthesize builds a card for query restricted to scope. The card carries
// no audit trail; QueryService adds it before publishing.
func (s *CardSynthesizer) Synthesize(
	ctx context.Context,
	query string,
	scope domain.RetrievalFilter,
) (*domain.BondInformationCard, error) {
	card, _, err := s.synthesize(ctx, query, scope)
	return card, err
}

func (s *CardSynthesizer) synthesize(
	ctx context.Context,
	query string,
	scope domain.RetrievalFilter,
) (*domain.BondInformationCard, []contextSegment, error) {
	query = strings.TrimSpace(query)
	if query == "" && scope.DocumentID == "" {
		return nil, nil, fmt.Errorf("%w: query text or a document scope is required", domain.ErrInvalidInput)
	}

	excerpts, err := s.gatherContext(ctx, query, scope)
	if err != nil {
		return nil, nil, err
	}
	if len(excerpts) == 0 {
		logger.Debug("No evidence for query %q, returning empty card", query)
		return s.stamp(domain.NewEmptyCard(query, scope, noteNoEvidence), 0), nil, nil
	}
	if s.llm == nil {
		return nil, nil, fmt.Errorf("synthesize card: %w", domain.ErrLLMUnavailable)
	}

	req, labels, err := s.buildRequest(query, excerpts)
	if err != nil {
		return nil, nil, err
	}

	out, attempts, err := s.generate(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	card := s.assemble(query, scope, out, labels)
	card.Model = s.llm.ModelName()
	return s.stamp(card, attempts), excerpts, nil
}

func (s *CardSynthesizer) stamp(card *domain.BondInformationCard, attempts int) *domain.BondInformationCard {
	card.ID = uuid.NewString()
	card.CreatedAt = s.now().UTC()
	card.Attempts = attempts
	return card
}

// gatherContext merges the query's own hits with per-field hint hits.
// Hint retrieval only runs when the query found something, so an
// off-topic query yields no context. A scoped query without text relies
// on hints alone.
func (s *CardSynthesizer) gatherContext(
	ctx context.Context,
	query string,
	scope domain.RetrievalFilter,
) ([]contextSegment, error) {
	var ranked []domain.ScoredSegment
	if query != "" {
		primary, err := s.retriever.Retrieve(ctx, query, s.cfg.Card.TopK, scope)
		if err != nil {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
		if len(primary) == 0 {
			return nil, nil
		}
		ranked = append(ranked, primary...)
	}

	if s.cfg.Card.PerFieldK > 0 {
		for _, field := range domain.CardFields {
			hits, err := s.retriever.Retrieve(ctx, field.RetrievalHint(), s.cfg.Card.PerFieldK, scope)
			if err != nil {
				return nil, fmt.Errorf("retrieve %s: %w", field, err)
			}
			ranked = append(ranked, hits...)
		}
	}

	merged := mergeByKey(ranked)
	return s.loadExcerpts(ctx, merged)
}

// mergeByKey keeps each segment once at its best score, ordered by score
// and then by first appearance.
func mergeByKey(hits []domain.ScoredSegment) []domain.ScoredSegment {
	index := make(map[domain.SegmentKey]int, len(hits))
	var out []domain.ScoredSegment
	for _, h := range hits {
		if i, ok := index[h.Key]; ok {
			if h.Score > out[i].Score {
				out[i].Score = h.Score
			}
			continue
		}
		index[h.Key] = len(out)
		out = append(out, h)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// loadExcerpts resolves ranked keys into labelled segments within the
// context budget.
func (s *CardSynthesizer) loadExcerpts(ctx context.Context, ranked []domain.ScoredSegment) ([]contextSegment, error) {
	var (
		out   []contextSegment
		chars int
	)
	for _, hit := range ranked {
		if len(out) >= s.cfg.Card.MaxContextSegments {
			break
		}
		seg, err := s.segments.GetSegment(ctx, hit.Key)
		if errors.Is(err, domain.ErrNotFound) {
			logger.Debug("Skipping stale index entry %s", hit.Key)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load segment %s: %w", hit.Key, err)
		}

		n := len(seg.Linearize())
		if s.cfg.Card.MaxContextChars > 0 && len(out) > 0 && chars+n > s.cfg.Card.MaxContextChars {
			break
		}
		chars += n
		out = append(out, contextSegment{
			Label:   fmt.Sprintf("S%d", len(out)+1),
			Score:   hit.Score,
			Segment: seg,
		})
	}
	return out, nil
}

func (s *CardSynthesizer) buildRequest(
	query string,
	excerpts []contextSegment,
) (driven.CompletionRequest, map[string]domain.SegmentKey, error) {
	system, err := s.prompts.Load(driven.PromptCardSystem)
	if err != nil {
		return driven.CompletionRequest{}, nil, fmt.Errorf("load prompt: %w", err)
	}
	user, err := s.prompts.Load(driven.PromptCardUser)
	if err != nil {
		return driven.CompletionRequest{}, nil, fmt.Errorf("load prompt: %w", err)
	}

	labels := make(map[string]domain.SegmentKey, len(excerpts))
	for _, ex := range excerpts {
		labels[ex.Label] = ex.Segment.Key
	}
	if query == "" {
		query = "Describe the bond in these excerpts."
	}

	return driven.CompletionRequest{
		System:      system,
		Prompt:      fmt.Sprintf(user, query, renderExcerpts(excerpts)),
		Schema:      cardSchema(),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: s.cfg.Temperature,
	}, labels, nil
}

// renderExcerpts formats excerpts as labelled blocks:
//
//	[S1] page 2, table
//	Caption: Key terms
//	Term: Coupon | Value: 3.875%
func renderExcerpts(excerpts []contextSegment) string {
	var b strings.Builder
	for i, ex := range excerpts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		seg := ex.Segment
		fmt.Fprintf(&b, "[%s] page %d, %s", ex.Label, seg.Key.PageNumber, seg.Kind)
		if seg.ParseDegraded {
			b.WriteString(", degraded")
		}
		b.WriteByte('\n')
		b.WriteString(seg.Linearize())
	}
	return b.String()
}

// generate calls the LLM until it returns output with every field.
// Malformed or incomplete output is retried up to MaxAttempts; a
// generation timeout ends synthesis at once.
func (s *CardSynthesizer) generate(ctx context.Context, req driven.CompletionRequest) (*cardOutput, int, error) {
	var reason string
	for attempt := 1; attempt <= s.cfg.Card.MaxAttempts; attempt++ {
		var raw string
		err := s.policy.do(ctx, func(ctx context.Context) error {
			var err error
			raw, err = s.llm.Complete(ctx, req)
			return err
		})
		if err != nil {
			if errors.Is(err, domain.ErrTimeout) {
				return nil, attempt, &domain.CardSynthesisError{Attempts: attempt, Reason: "generation timed out", Err: err}
			}
			return nil, attempt, fmt.Errorf("generate card: %w", err)
		}

		out, err := decodeCardOutput(raw)
		if err != nil {
			reason = err.Error()
			logger.Warn("Card attempt %d/%d rejected: %s", attempt, s.cfg.Card.MaxAttempts, reason)
			continue
		}
		if missing := out.missing(); len(missing) > 0 {
			reason = "missing fields: " + strings.Join(missing, ", ")
			logger.Warn("Card attempt %d/%d rejected: %s", attempt, s.cfg.Card.MaxAttempts, reason)
			continue
		}
		return out, attempt, nil
	}
	return nil, s.cfg.Card.MaxAttempts, &domain.CardSynthesisError{Attempts: s.cfg.Card.MaxAttempts, Reason: reason}
}

// assemble validates decoded output against the labels that were offered
// and returns the card. Fields with bad citations or formats become
// not_found with a note.
func (s *CardSynthesizer) assemble(
	query string,
	scope domain.RetrievalFilter,
	out *cardOutput,
	labels map[string]domain.SegmentKey,
) *domain.BondInformationCard {
	card := domain.NewEmptyCard(query, scope, "")

	for i := range card.Fields {
		field := &card.Fields[i]
		outcome := out.fields[field.Name]

		switch outcome.kind {
		case outcomeNotFound:
			field.Note = noteNotStated
			continue
		case outcomeInvalid:
			field.Note = noteInvalidOutput + ": " + outcome.reason
			continue
		case outcomeMissing:
			field.Note = noteInvalidOutput
			continue
		}

		keys := resolveLabels(outcome.labels, labels)
		if len(keys) == 0 {
			field.Note = noteNoCitation
			continue
		}
		value, err := canonicalValue(field.Name, outcome.value)
		if err != nil {
			field.Note = "invalid format: " + err.Error()
			continue
		}
		field.Status = domain.FieldPresent
		field.Value = value
		field.Segments = keys
	}

	seen := make(map[string]bool)
	for _, k := range out.kpis {
		name := strings.TrimSpace(k.Name)
		value := strings.TrimSpace(k.Value)
		if name == "" || value == "" || seen[name] {
			continue
		}
		keys := resolveLabels(k.Labels, labels)
		if len(keys) == 0 {
			continue
		}
		seen[name] = true
		card.KPIs = append(card.KPIs, domain.KPI{
			Name:     name,
			Value:    value,
			Unit:     strings.TrimSpace(k.Unit),
			Segments: keys,
		})
	}
	return card
}

// resolveLabels maps cited labels to segment keys in citation order.
// Labels that were not offered are dropped.
func resolveLabels(cited []string, labels map[string]domain.SegmentKey) []domain.SegmentKey {
	var keys []domain.SegmentKey
	seen := make(map[domain.SegmentKey]bool)
	for _, label := range cited {
		key, ok := labels[strings.ToUpper(strings.Trim(label, " []"))]
		if !ok {
			logger.Debug("Dropping unknown citation %q", label)
			continue
		}
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	return keys
}
