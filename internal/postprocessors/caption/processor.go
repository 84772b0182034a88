// Package caption links table segments to the narrative line that
// introduces them on the same page.
package caption

import (
	"context"
	"strings"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// DefaultMaxChars is the longest caption kept.
const DefaultMaxChars = 160

// Processor sets Caption on tables from the preceding narrative segment.
type Processor struct {
	maxChars int
}

// Option configures the caption processor.
type Option func(*Processor)

// WithMaxChars sets the longest caption kept.
func WithMaxChars(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxChars = n
		}
	}
}

// New creates a caption processor.
func New(opts ...Option) *Processor {
	p := &Processor{maxChars: DefaultMaxChars}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "caption"
}

// Process captions each uncaptioned table with the last line of the
// narrative segment directly before it.
func (p *Processor) Process(_ context.Context, _ *domain.Page, segments []domain.Segment) ([]domain.Segment, error) {
	for i := 1; i < len(segments); i++ {
		seg := &segments[i]
		if seg.Kind != domain.SegmentKindTable || seg.Caption != "" {
			continue
		}
		prev := segments[i-1]
		if prev.Kind != domain.SegmentKindNarrative {
			continue
		}
		if line := lastLine(prev.Text); line != "" && len(line) <= p.maxChars {
			seg.Caption = line
		}
	}
	return segments, nil
}

func lastLine(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
