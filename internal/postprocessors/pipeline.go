// Package postprocessors provides segment processing after decomposition.
package postprocessors

import (
	"context"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Verify interface compliance.
var _ driven.PostProcessorPipeline = (*Pipeline)(nil)

// Pipeline chains multiple PostProcessors and runs them in order on every page.
// It implements the PostProcessorPipeline interface.
type Pipeline struct {
	processors []driven.PostProcessor
}

// NewPipeline creates a new processing pipeline with the given processors.
// Processors are executed in the order provided.
func NewPipeline(processors ...driven.PostProcessor) *Pipeline {
	return &Pipeline{
		processors: processors,
	}
}

// Process runs each page's segments through all processors, then renumbers
// segment keys so indexes stay dense and in reading order.
func (p *Pipeline) Process(ctx context.Context, doc *domain.Document) error {
	if doc == nil {
		return fmt.Errorf("document is nil")
	}

	for i := range doc.Pages {
		page := &doc.Pages[i]
		segments := page.Segments

		for _, processor := range p.processors {
			var err error
			segments, err = processor.Process(ctx, page, segments)
			if err != nil {
				return fmt.Errorf("processor %s on page %d: %w", processor.Name(), page.Number, err)
			}
		}

		for j := range segments {
			segments[j].Key = domain.SegmentKey{
				DocumentID:   doc.ID,
				PageNumber:   page.Number,
				SegmentIndex: j,
			}
		}
		page.Segments = segments
	}

	return nil
}

// Add appends a processor to the pipeline.
func (p *Pipeline) Add(processor driven.PostProcessor) {
	p.processors = append(p.processors, processor)
}

// Len returns the number of processors in the pipeline.
func (p *Pipeline) Len() int {
	return len(p.processors)
}

// Names returns processor names in execution order.
func (p *Pipeline) Names() []string {
	names := make([]string, len(p.processors))
	for i, proc := range p.processors {
		names[i] = proc.Name()
	}
	return names
}
