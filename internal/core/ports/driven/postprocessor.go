package driven

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// PostProcessor transforms a page's segments after decomposition.
// PostProcessors are chained in a pipeline (units, captions, chunking).
// They must be deterministic so segment keys stay stable across runs.
type PostProcessor interface {
	// Name returns the processor name for logging and configuration.
	Name() string

	// Process returns the page's segments after transformation.
	Process(ctx context.Context, page *domain.Page, segments []domain.Segment) ([]domain.Segment, error)
}

// PostProcessorPipeline chains multiple PostProcessors.
type PostProcessorPipeline interface {
	// Process runs every page through all processors in order and
	// renumbers segment keys in the resulting order.
	Process(ctx context.Context, doc *domain.Document) error
}
