package driven

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// Decomposer splits raw PDF bytes into page-addressable segments.
// It returns *domain.IngestionError only when the input cannot be opened
// at all; unparseable pages become parse_degraded segments instead.
type Decomposer interface {
	Decompose(ctx context.Context, name string, raw []byte) (*domain.Document, error)
}
