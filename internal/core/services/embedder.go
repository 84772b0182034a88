package services

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/time/rate"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// minLatinShare is the share of letters that must be Latin for a segment
// to pass the reject policy.
const minLatinShare = 0.5

// EmbedderConfig configures a SegmentEmbedder.
type EmbedderConfig struct {
	// Concurrency bounds in-flight embedding calls per document.
	Concurrency int

	// RequestsPerSecond caps backend calls. Zero disables the limiter.
	RequestsPerSecond float64

	// TextPolicy decides how text the encoder may not handle is treated.
	TextPolicy domain.TextPolicy

	// MaxChars truncates text before encoding. Zero disables truncation.
	MaxChars int

	// Timeout bounds each embedding call.
	Timeout time.Duration

	// Retry configures backoff for unavailable backends.
	Retry domain.RetrySettings
}

// EmbedderConfigFromSettings builds an EmbedderConfig from resolved settings.
func EmbedderConfigFromSettings(s *domain.Settings) EmbedderConfig {
	return EmbedderConfig{
		Concurrency:       s.Embedding.Concurrency,
		RequestsPerSecond: s.Embedding.RequestsPerSecond,
		TextPolicy:        s.Embedding.TextPolicy,
		MaxChars:          s.Embedding.MaxChars,
		Timeout:           s.Timeouts.Embedding,
		Retry:             s.Retry,
	}
}

// SegmentEmbedder turns segments and queries into vectors.
// It applies the text policy, the rate limit and the embedding timeout,
// and checks every vector against the encoder's dimensionality.
type SegmentEmbedder struct {
	svc     driven.EmbeddingService
	cfg     EmbedderConfig
	policy  retryPolicy
	limiter *rate.Limiter
}

// NewSegmentEmbedder creates an embedder over svc.
func NewSegmentEmbedder(svc driven.EmbeddingService, cfg EmbedderConfig) *SegmentEmbedder {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.TextPolicy == "" {
		cfg.TextPolicy = domain.TextPolicyPassthrough
	}
	e := &SegmentEmbedder{
		svc:    svc,
		cfg:    cfg,
		policy: newRetryPolicy(opEmbedding, cfg.Timeout, cfg.Retry),
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return e
}

// Encoder returns the encoder version recorded on index entries.
func (e *SegmentEmbedder) Encoder() string {
	return e.svc.ModelName()
}

// Dimensions returns the encoder's vector length.
func (e *SegmentEmbedder) Dimensions() int {
	return e.svc.Dimensions()
}

// EmbedQuery encodes a retrieval query. Queries are folded under the
// fold policy but never rejected.
func (e *SegmentEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if e.cfg.TextPolicy == domain.TextPolicyFold {
		text = foldText(text)
	}
	return e.embed(ctx, e.truncate(text), domain.SegmentKey{})
}

// EmbedSegment encodes one segment's linearized text.
// It returns ok=false when the text policy rejects the segment or the
// segment has no text.
func (e *SegmentEmbedder) EmbedSegment(ctx context.Context, seg *domain.Segment) (vec []float32, ok bool, err error) {
	text, ok := e.prepare(seg.Linearize())
	if !ok {
		return nil, false, nil
	}
	vec, err = e.embed(ctx, text, seg.Key)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// Admits reports whether the text policy lets seg into the index.
func (e *SegmentEmbedder) Admits(seg *domain.Segment) bool {
	_, ok := e.prepare(seg.Linearize())
	return ok
}

// EmbedSegments encodes segs concurrently and calls fn for each vector.
// fn may be called from several goroutines. The first error cancels the
// remaining work. skipped counts segments rejected by the text policy.
func (e *SegmentEmbedder) EmbedSegments(
	ctx context.Context,
	segs []domain.Segment,
	fn func(seg *domain.Segment, vec []float32) error,
) (skipped int, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	rejected := make([]bool, len(segs))
	for i := range segs {
		seg := &segs[i]
		if strings.TrimSpace(seg.Linearize()) == "" {
			continue
		}
		g.Go(func() error {
			vec, ok, err := e.EmbedSegment(gctx, seg)
			if err != nil {
				return err
			}
			if !ok {
				rejected[i] = true
				return nil
			}
			return fn(seg, vec)
		})
	}
	err = g.Wait()

	for _, r := range rejected {
		if r {
			skipped++
		}
	}
	return skipped, err
}

func (e *SegmentEmbedder) embed(ctx context.Context, text string, key domain.SegmentKey) ([]float32, error) {
	var vec []float32
	err := e.policy.do(ctx, func(ctx context.Context) error {
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		v, err := e.svc.Embed(ctx, text)
		if err != nil {
			return err
		}
		vec = v
		return nil
	})
	if err != nil {
		if key.IsZero() {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		return nil, fmt.Errorf("embed %s: %w", key, err)
	}
	if want := e.svc.Dimensions(); want > 0 && len(vec) != want {
		return nil, &domain.DimensionMismatchError{Expected: want, Got: len(vec), Key: key}
	}
	return vec, nil
}

// prepare applies the text policy and truncation.
func (e *SegmentEmbedder) prepare(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	switch e.cfg.TextPolicy {
	case domain.TextPolicyFold:
		text = foldText(text)
	case domain.TextPolicyReject:
		if latinShare(text) < minLatinShare {
			return "", false
		}
	}
	return e.truncate(text), true
}

func (e *SegmentEmbedder) truncate(text string) string {
	if e.cfg.MaxChars <= 0 || utf8.RuneCountInString(text) <= e.cfg.MaxChars {
		return text
	}
	r := []rune(text)
	return string(r[:e.cfg.MaxChars])
}

// foldText decomposes text and drops combining marks, so "Société" becomes
// "Societe".
func foldText(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}

// latinShare returns the share of letters in text that are Latin script.
// Text without letters counts as Latin.
func latinShare(text string) float64 {
	var letters, latin int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Latin, r) {
			latin++
		}
	}
	if letters == 0 {
		return 1
	}
	return float64(latin) / float64(letters)
}
