package driving

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// QueryService runs the read path: retrieve, synthesize, audit, publish.
type QueryService interface {
	// Query synthesizes a bond information card with its audit trail.
	// The card is published only after it is fully validated.
	Query(ctx context.Context, req QueryRequest) (*domain.BondInformationCard, error)

	// GetCard returns a published card.
	GetCard(ctx context.Context, id string) (*domain.BondInformationCard, error)

	// ListCards returns recent cards, newest first.
	ListCards(ctx context.Context, limit int) ([]domain.BondInformationCard, error)
}

// QueryRequest describes an analyst query.
type QueryRequest struct {
	// Text is the analyst question. May be empty when Scope names a document.
	Text string

	// Scope restricts evidence to a document or segment kinds.
	Scope domain.RetrievalFilter
}
