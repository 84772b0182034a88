package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/adapters/driven/config/file"
	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

func excerptsOf(segs ...domain.Segment) []contextSegment {
	out := make([]contextSegment, len(segs))
	for i := range segs {
		out[i] = contextSegment{Label: "S" + string(rune('1'+i)), Segment: &segs[i]}
	}
	return out
}

func newVerifier(t *testing.T, llm driven.LLMService) *GreenwashVerifier {
	t.Helper()
	prompts, err := file.NewPromptStore(t.TempDir())
	require.NoError(t, err)
	return NewGreenwashVerifier(llm, prompts, time.Second, domain.RetrySettings{MaxAttempts: 1})
}

func TestGreenwashVerifier_ScoresClaims(t *testing.T) {
	llm := &mockLLM{respond: func(_ context.Context, _ int, req driven.CompletionRequest) (string, error) {
		claim := strings.SplitN(req.Prompt, "Excerpts:", 2)[0]
		if strings.Contains(claim, "allocated") {
			return `{"verdict": "implemented"}`, nil
		}
		return `{"verdict": "empty"}`, nil
	}}
	v := newVerifier(t, llm)
	excerpts := excerptsOf(
		narrative("doc_a", 1, 0, "We aim to become a leading green issuer."),
		narrative("doc_a", 2, 0, "The notes pay a fixed coupon."),
		narrative("doc_a", 3, 0, "EUR 200m was allocated to solar farms in 2024."),
	)

	report, err := v.Verify(context.Background(), excerpts)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Claims)
	assert.Equal(t, 1, report.Implemented)
	assert.InDelta(t, 0.5, report.Score, 1e-9)
	require.Len(t, report.Alerts, 1)
	assert.Contains(t, report.Alerts[0], "page 1")
	assert.Equal(t, 2, llm.calls())

	req := llm.requests[0]
	assert.Equal(t, "claim_verdict", req.Schema.Name)
	assert.Contains(t, req.Prompt, "Claim (page 1)")
	assert.Contains(t, req.Prompt, "(page 2) The notes pay a fixed coupon.")
}

func TestGreenwashVerifier_NoClaims(t *testing.T) {
	llm := &mockLLM{}
	v := newVerifier(t, llm)

	report, err := v.Verify(context.Background(), excerptsOf(narrative("doc_a", 1, 0, "The notes pay a fixed coupon.")))

	require.NoError(t, err)
	assert.Equal(t, 0, report.Claims)
	assert.Zero(t, report.Score)
	assert.Equal(t, 0, llm.calls())
}

func TestGreenwashVerifier_UnclearVerdicts(t *testing.T) {
	llm := &mockLLM{respond: func(context.Context, int, driven.CompletionRequest) (string, error) {
		return "It is hard to say.", nil
	}}
	v := newVerifier(t, llm)

	report, err := v.Verify(context.Background(), excerptsOf(narrative("doc_a", 1, 0, "Carbon neutral by 2030.")))

	require.NoError(t, err)
	assert.Equal(t, 1, report.Claims)
	assert.Zero(t, report.Implemented)
	assert.Empty(t, report.Alerts)
	assert.Zero(t, report.Score)
}

func TestGreenwashVerifier_PropagatesErrors(t *testing.T) {
	llm := &mockLLM{respond: func(context.Context, int, driven.CompletionRequest) (string, error) {
		return "", errors.New("boom")
	}}
	v := newVerifier(t, llm)

	_, err := v.Verify(context.Background(), excerptsOf(narrative("doc_a", 1, 0, "Renewable energy projects.")))

	assert.Error(t, err)
}

func TestParseVerdict(t *testing.T) {
	assert.Equal(t, verdictImplemented, parseVerdict(`{"verdict":"implemented"}`))
	assert.Equal(t, verdictEmpty, parseVerdict("```json\n{\"verdict\": \"EMPTY\"}\n```"))
	assert.Equal(t, verdictImplemented, parseVerdict("Implemented."))
	assert.Equal(t, verdictUnclear, parseVerdict(`{"verdict":"unclear"}`))
	assert.Equal(t, verdictUnclear, parseVerdict(""))
}

func TestDetectClaims_CapsCount(t *testing.T) {
	var segs []domain.Segment
	for i := 0; i < maxClaims+3; i++ {
		segs = append(segs, narrative("doc_a", i+1, 0, "sustainable project"))
	}

	assert.Len(t, detectClaims(excerptsOf(segs...)), maxClaims)
}
