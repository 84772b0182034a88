// Package chunker splits overlong narrative segments into pieces.
package chunker

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// DefaultMaxChars disables splitting, so a page without structure stays
// a single narrative segment.
const DefaultMaxChars = 0

// DefaultOverlap is the default number of overlapping characters.
const DefaultOverlap = 0

// Processor splits narrative segments longer than maxChars.
// Tables are never split. It implements the PostProcessor interface.
type Processor struct {
	maxChars int
	overlap  int
}

// Option configures the chunker processor.
type Option func(*Processor)

// WithMaxChars sets the longest narrative segment in bytes.
func WithMaxChars(size int) Option {
	return func(p *Processor) {
		if size > 0 {
			p.maxChars = size
		}
	}
}

// WithOverlap sets the overlap between pieces in bytes.
func WithOverlap(overlap int) Option {
	return func(p *Processor) {
		if overlap >= 0 {
			p.overlap = overlap
		}
	}
}

// New creates a new chunker processor with the given options.
func New(opts ...Option) *Processor {
	p := &Processor{
		maxChars: DefaultMaxChars,
		overlap:  DefaultOverlap,
	}

	for _, opt := range opts {
		opt(p)
	}

	// Ensure overlap doesn't exceed piece size
	if p.maxChars > 0 && p.overlap >= p.maxChars {
		p.overlap = p.maxChars / 4
	}

	return p
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "chunker"
}

// Process replaces each overlong narrative segment with its pieces.
func (p *Processor) Process(_ context.Context, _ *domain.Page, segments []domain.Segment) ([]domain.Segment, error) {
	if p.maxChars == 0 {
		return segments, nil
	}

	out := make([]domain.Segment, 0, len(segments))
	for i := range segments {
		seg := segments[i]
		if seg.Kind != domain.SegmentKindNarrative || len(seg.Text) <= p.maxChars {
			out = append(out, seg)
			continue
		}
		for _, piece := range p.split(seg.Text) {
			part := seg
			part.Text = piece
			out = append(out, part)
		}
	}
	return out, nil
}

// split cuts text at whitespace near maxChars, never inside a rune.
func (p *Processor) split(text string) []string {
	var pieces []string
	start := 0
	for start < len(text) {
		end := start + p.maxChars
		if end >= len(text) {
			if piece := strings.TrimSpace(text[start:]); piece != "" {
				pieces = append(pieces, piece)
			}
			break
		}

		if cut := strings.LastIndexAny(text[start:end], " \n\t"); cut > p.maxChars/2 {
			end = start + cut
		}
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		if end == start {
			end = start + p.maxChars
			for end < len(text) && !utf8.RuneStart(text[end]) {
				end++
			}
		}

		if piece := strings.TrimSpace(text[start:end]); piece != "" {
			pieces = append(pieces, piece)
		}

		next := end - p.overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return pieces
}
