package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Claim verdicts.
const (
	verdictImplemented = "implemented"
	verdictEmpty       = "empty"
	verdictUnclear     = "unclear"
)

const (
	// maxClaims bounds verdict calls per card.
	maxClaims = 8

	// maxEvidence is the number of sibling excerpts sent with a claim.
	maxEvidence = 3

	alertExcerptChars = 120
)

// greenTerms mark a segment as a sustainability claim.
var greenTerms = []string{
	"green",
	"renewable",
	"solar",
	"wind",
	"energy efficiency",
	"emissions",
	"carbon",
	"sustainable",
	"impact",
	"sdg",
	"taxonomy",
}

// GreenwashVerifier checks whether green claims in the card's evidence are
// backed by implementation detail.
type GreenwashVerifier struct {
	llm     driven.LLMService
	prompts driven.PromptStore
	policy  retryPolicy
}

// NewGreenwashVerifier creates a verifier.
func NewGreenwashVerifier(
	llm driven.LLMService,
	prompts driven.PromptStore,
	timeout time.Duration,
	retry domain.RetrySettings,
) *GreenwashVerifier {
	return &GreenwashVerifier{
		llm:     llm,
		prompts: prompts,
		policy:  newRetryPolicy(opGeneration, timeout, retry),
	}
}

// Verify detects claims among excerpts and asks the LLM for a verdict on
// each. Score is implemented claims over all claims, or 0 with no claims.
func (v *GreenwashVerifier) Verify(ctx context.Context, excerpts []contextSegment) (*domain.GreenwashingReport, error) {
	report := &domain.GreenwashingReport{}
	claims := detectClaims(excerpts)
	if len(claims) == 0 {
		return report, nil
	}
	if v.llm == nil {
		return nil, fmt.Errorf("verify claims: %w", domain.ErrLLMUnavailable)
	}

	tmpl, err := v.prompts.Load(driven.PromptClaimVerdict)
	if err != nil {
		return nil, fmt.Errorf("load prompt: %w", err)
	}

	for _, claim := range claims {
		verdict, err := v.verdict(ctx, tmpl, claim, excerpts)
		if err != nil {
			return nil, err
		}
		report.Claims++
		switch verdict {
		case verdictImplemented:
			report.Implemented++
		case verdictEmpty:
			seg := claim.Segment
			report.Alerts = append(report.Alerts, fmt.Sprintf("page %d: green claim without implementation evidence: %q",
				seg.Key.PageNumber, truncateRunes(seg.Linearize(), alertExcerptChars)))
		}
	}
	report.Score = float64(report.Implemented) / float64(report.Claims)
	return report, nil
}

func (v *GreenwashVerifier) verdict(
	ctx context.Context,
	tmpl string,
	claim contextSegment,
	excerpts []contextSegment,
) (string, error) {
	req := driven.CompletionRequest{
		Prompt:    fmt.Sprintf(tmpl, claimEvidence(claim, excerpts)),
		MaxTokens: 64,
		Schema: &driven.OutputSchema{
			Name: "claim_verdict",
			Definition: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"verdict": map[string]any{
						"type": "string",
						"enum": []string{verdictImplemented, verdictEmpty, verdictUnclear},
					},
				},
				"required":             []string{"verdict"},
				"additionalProperties": false,
			},
		},
	}

	var raw string
	err := v.policy.do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = v.llm.Complete(ctx, req)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("verify claim %s: %w", claim.Segment.Key, err)
	}
	return parseVerdict(raw), nil
}

// detectClaims returns excerpts mentioning a green term, up to maxClaims.
func detectClaims(excerpts []contextSegment) []contextSegment {
	var claims []contextSegment
	for _, ex := range excerpts {
		text := strings.ToLower(ex.Segment.Linearize())
		for _, term := range greenTerms {
			if strings.Contains(text, term) {
				claims = append(claims, ex)
				break
			}
		}
		if len(claims) == maxClaims {
			break
		}
	}
	return claims
}

// claimEvidence renders a claim with a few excerpts from the same document.
func claimEvidence(claim contextSegment, excerpts []contextSegment) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Claim (page %d):\n%s", claim.Segment.Key.PageNumber, claim.Segment.Linearize())

	n := 0
	for _, ex := range excerpts {
		if n == maxEvidence {
			break
		}
		if ex.Segment.Key == claim.Segment.Key || ex.Segment.Key.DocumentID != claim.Segment.Key.DocumentID {
			continue
		}
		if n == 0 {
			b.WriteString("\n\nExcerpts:")
		}
		fmt.Fprintf(&b, "\n- (page %d) %s", ex.Segment.Key.PageNumber, ex.Segment.Linearize())
		n++
	}
	return b.String()
}

// parseVerdict reads {"verdict": ...}, falling back to a keyword scan of
// free text. Anything else is unclear.
func parseVerdict(raw string) string {
	var reply struct {
		Verdict string `json:"verdict"`
	}
	text := raw
	if body := extractJSONObject(raw); body != "" && json.Unmarshal([]byte(body), &reply) == nil {
		text = reply.Verdict
	}
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, verdictImplemented):
		return verdictImplemented
	case strings.Contains(text, verdictEmpty):
		return verdictEmpty
	default:
		return verdictUnclear
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}
