package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

const termsNeedle = "3.875%"

// couponReply cites the key terms table for coupon, maturity and ISIN.
func couponReply(t *testing.T, prompt string, omit ...domain.FieldName) string {
	label := labelFor(prompt, termsNeedle)
	return cardJSON(t, map[domain.FieldName]map[string]any{
		domain.FieldCouponRate: found("3.875 %", label),
		domain.FieldMaturity:   found("15 March 2031", label),
		domain.FieldISIN:       found("US0378331005", label),
	}, omit...)
}

func TestCardSynthesizer_FillsFieldsFromTable(t *testing.T) {
	st := newTestStack(t)
	docID := st.ingestBond(t)
	st.llm.respond = func(_ context.Context, _ int, req driven.CompletionRequest) (string, error) {
		return couponReply(t, req.Prompt), nil
	}

	card, err := st.synth.Synthesize(context.Background(), "What is the coupon rate?", domain.RetrievalFilter{})

	require.NoError(t, err)
	table := domain.SegmentKey{DocumentID: docID, PageNumber: 2, SegmentIndex: 1}
	coupon := card.Field(domain.FieldCouponRate)
	assert.Equal(t, domain.FieldPresent, coupon.Status)
	assert.Equal(t, "3.875%", coupon.Value)
	assert.Equal(t, []domain.SegmentKey{table}, coupon.Segments)
	assert.Equal(t, "2031-03-15", card.Field(domain.FieldMaturity).Value)
	assert.Equal(t, domain.FieldNotFound, card.Field(domain.FieldIssuer).Status)
	assert.Equal(t, noteNotStated, card.Field(domain.FieldIssuer).Note)
	assert.Equal(t, 1, card.Attempts)
	assert.Equal(t, "mock-llm", card.Model)
	assert.NotEmpty(t, card.ID)
	assert.False(t, card.CreatedAt.IsZero())

	require.Equal(t, 1, st.llm.calls())
	req := st.llm.requests[0]
	assert.NotNil(t, req.Schema)
	assert.Contains(t, req.Prompt, "What is the coupon rate?")
	assert.Contains(t, req.Prompt, "Term: Coupon | Value: 3.875%")
	assert.Contains(t, req.Prompt, "page 2, table")
}

func TestCardSynthesizer_RetriesMissingFields(t *testing.T) {
	st := newTestStack(t)
	st.ingestBond(t)
	st.llm.respond = func(_ context.Context, call int, req driven.CompletionRequest) (string, error) {
		if call <= 2 {
			return couponReply(t, req.Prompt, domain.FieldMaturity), nil
		}
		return couponReply(t, req.Prompt), nil
	}

	card, err := st.synth.Synthesize(context.Background(), "coupon and maturity", domain.RetrievalFilter{})

	require.NoError(t, err)
	assert.Equal(t, 3, card.Attempts)
	assert.Equal(t, 3, st.llm.calls())
	assert.Equal(t, "2031-03-15", card.Field(domain.FieldMaturity).Value)
}

func TestCardSynthesizer_ExhaustsAttempts(t *testing.T) {
	st := newTestStack(t)
	st.ingestBond(t)
	st.llm.respond = func(_ context.Context, call int, req driven.CompletionRequest) (string, error) {
		if call == 1 {
			return "Sorry, here is a summary instead.", nil
		}
		return couponReply(t, req.Prompt, domain.FieldMaturity), nil
	}

	_, err := st.synth.Synthesize(context.Background(), "coupon", domain.RetrievalFilter{})

	var synthErr *domain.CardSynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.ErrorIs(t, err, domain.ErrCardSynthesis)
	assert.Equal(t, 3, synthErr.Attempts)
	assert.Contains(t, synthErr.Reason, "maturity")
	assert.Equal(t, 3, st.llm.calls())
}

func TestCardSynthesizer_GenerationTimeout(t *testing.T) {
	st := newTestStack(t, func(s *domain.Settings) { s.Timeouts.Generation = 20 * time.Millisecond })
	st.ingestBond(t)
	st.llm.respond = func(ctx context.Context, _ int, _ driven.CompletionRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	_, err := st.synth.Synthesize(context.Background(), "coupon", domain.RetrievalFilter{})

	assert.ErrorIs(t, err, domain.ErrCardSynthesis)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, 1, st.llm.calls())
}

func TestCardSynthesizer_RetriesUnavailableBackend(t *testing.T) {
	st := newTestStack(t)
	st.ingestBond(t)
	st.llm.respond = func(_ context.Context, call int, req driven.CompletionRequest) (string, error) {
		if call == 1 {
			return "", fmt.Errorf("%w: 503", domain.ErrLLMUnavailable)
		}
		return couponReply(t, req.Prompt), nil
	}

	card, err := st.synth.Synthesize(context.Background(), "coupon", domain.RetrievalFilter{})

	require.NoError(t, err)
	assert.Equal(t, 1, card.Attempts)
	assert.Equal(t, 2, st.llm.calls())
}

func TestCardSynthesizer_UnavailableAfterBackoff(t *testing.T) {
	st := newTestStack(t)
	st.ingestBond(t)
	st.llm.respond = func(context.Context, int, driven.CompletionRequest) (string, error) {
		return "", domain.ErrLLMUnavailable
	}

	_, err := st.synth.Synthesize(context.Background(), "coupon", domain.RetrievalFilter{})

	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
	assert.False(t, errors.Is(err, domain.ErrCardSynthesis))
	assert.Equal(t, st.settings.Retry.MaxAttempts, st.llm.calls())
}

func TestCardSynthesizer_RejectsBadCitationsAndFormats(t *testing.T) {
	st := newTestStack(t)
	st.ingestBond(t)
	st.llm.respond = func(_ context.Context, _ int, req driven.CompletionRequest) (string, error) {
		label := labelFor(req.Prompt, termsNeedle)
		return cardJSON(t, map[domain.FieldName]map[string]any{
			domain.FieldIssuer:     found("Acme Energy plc", "S99"),
			domain.FieldCouponRate: found("45%", label),
			domain.FieldISIN:       found("US0378331005"),
			domain.FieldCurrency:   map[string]any{"status": "unknown"},
			domain.FieldMaturity:   found("15 March 2031", "S99", label, label),
		}), nil
	}

	card, err := st.synth.Synthesize(context.Background(), "coupon", domain.RetrievalFilter{})

	require.NoError(t, err)
	assert.Equal(t, noteNoCitation, card.Field(domain.FieldIssuer).Note)
	assert.Equal(t, noteNoCitation, card.Field(domain.FieldISIN).Note)
	assert.True(t, strings.HasPrefix(card.Field(domain.FieldCouponRate).Note, "invalid format"))
	assert.True(t, strings.HasPrefix(card.Field(domain.FieldCurrency).Note, noteInvalidOutput))
	for _, name := range []domain.FieldName{domain.FieldIssuer, domain.FieldISIN, domain.FieldCouponRate, domain.FieldCurrency} {
		assert.Equal(t, domain.FieldNotFound, card.Field(name).Status, name)
		assert.Empty(t, card.Field(name).Segments, name)
	}

	maturity := card.Field(domain.FieldMaturity)
	assert.Equal(t, domain.FieldPresent, maturity.Status)
	assert.Len(t, maturity.Segments, 1)
}

func TestCardSynthesizer_KeepsCitedKPIs(t *testing.T) {
	st := newTestStack(t)
	st.ingestBond(t)
	st.llm.respond = func(_ context.Context, _ int, req driven.CompletionRequest) (string, error) {
		label := labelFor(req.Prompt, "120 MW")
		return strings.Replace(cardJSON(t, nil), `"kpis":[]`, fmt.Sprintf(`"kpis":[
			{"name":"Installed capacity","value":"120","unit":"MW","segments":[%q]},
			{"name":"Installed capacity","value":"121","unit":"MW","segments":[%q]},
			{"name":"Uncited","value":"5","unit":"t","segments":[]}]`, label, label), 1), nil
	}

	card, err := st.synth.Synthesize(context.Background(), "installed capacity", domain.RetrievalFilter{})

	require.NoError(t, err)
	require.Len(t, card.KPIs, 1)
	assert.Equal(t, "Installed capacity", card.KPIs[0].Name)
	assert.Equal(t, "120", card.KPIs[0].Value)
	assert.Equal(t, 3, card.KPIs[0].Segments[0].PageNumber)
	assert.True(t, card.AllNotFound())
}

func TestCardSynthesizer_NoEvidenceSkipsLLM(t *testing.T) {
	st := newTestStack(t, func(s *domain.Settings) { s.Retrieval.MinSimilarity = 0.5 })
	st.ingestBond(t)

	card, err := st.synth.Synthesize(context.Background(), "zebra giraffe", domain.RetrievalFilter{})

	require.NoError(t, err)
	assert.True(t, card.AllNotFound())
	assert.Equal(t, noteNoEvidence, card.Fields[0].Note)
	assert.Equal(t, 0, card.Attempts)
	assert.Equal(t, 0, st.llm.calls())
}

func TestCardSynthesizer_EmptyIndex(t *testing.T) {
	st := newTestStack(t)

	card, err := st.synth.Synthesize(context.Background(), "coupon", domain.RetrievalFilter{})

	require.NoError(t, err)
	assert.True(t, card.AllNotFound())
	assert.Len(t, card.Fields, len(domain.CardFields))
}

func TestCardSynthesizer_ScopedQueryWithoutText(t *testing.T) {
	st := newTestStack(t)
	docID := st.ingestBond(t)
	st.llm.respond = func(_ context.Context, _ int, req driven.CompletionRequest) (string, error) {
		return couponReply(t, req.Prompt), nil
	}

	card, err := st.synth.Synthesize(context.Background(), "", domain.RetrievalFilter{DocumentID: docID})

	require.NoError(t, err)
	assert.Equal(t, "3.875%", card.Field(domain.FieldCouponRate).Value)
	assert.Equal(t, docID, card.Scope.DocumentID)
}

func TestCardSynthesizer_RequiresQueryOrScope(t *testing.T) {
	st := newTestStack(t)

	_, err := st.synth.Synthesize(context.Background(), "  ", domain.RetrievalFilter{})

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCardSynthesizer_NoLLM(t *testing.T) {
	st := newTestStack(t)
	st.ingestBond(t)
	st.synth.llm = nil

	_, err := st.synth.Synthesize(context.Background(), "coupon", domain.RetrievalFilter{})

	assert.ErrorIs(t, err, domain.ErrLLMUnavailable)
}

func TestCardSynthesizer_ContextBudget(t *testing.T) {
	st := newTestStack(t, func(s *domain.Settings) {
		s.Card.MaxContextSegments = 2
		s.Card.PerFieldK = 0
	})
	st.ingestBond(t)
	st.llm.respond = func(context.Context, int, driven.CompletionRequest) (string, error) {
		return cardJSON(t, nil), nil
	}

	_, err := st.synth.Synthesize(context.Background(), "coupon", domain.RetrievalFilter{})

	require.NoError(t, err)
	prompt := st.llm.requests[0].Prompt
	assert.Contains(t, prompt, "[S2]")
	assert.NotContains(t, prompt, "[S3]")
}

func TestMergeByKey(t *testing.T) {
	a, b, c := entryKey("doc", 1), entryKey("doc", 2), entryKey("doc", 3)

	merged := mergeByKey([]domain.ScoredSegment{
		{Key: a, Score: 0.5},
		{Key: b, Score: 0.7},
		{Key: a, Score: 0.9},
		{Key: c, Score: 0.7},
	})

	assert.Equal(t, []domain.SegmentKey{a, b, c}, domain.RetrievalResult(merged).Keys())
	assert.InDelta(t, 0.9, merged[0].Score, 1e-9)
}
