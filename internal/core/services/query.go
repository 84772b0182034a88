package services

import (
	"context"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// Ensure QueryService implements the interface.
var _ driving.QueryService = (*QueryService)(nil)

// defaultCardLimit is used when ListCards is called without a limit.
const defaultCardLimit = 20

// QueryService runs the read path: synthesize, verify, audit, publish.
type QueryService struct {
	synth     *CardSynthesizer
	verifier  *GreenwashVerifier
	resolver  driven.SegmentResolver
	cardStore driven.CardStore
}

// NewQueryService creates a query service. verifier may be nil to skip
// greenwashing verification.
func NewQueryService(
	synth *CardSynthesizer,
	verifier *GreenwashVerifier,
	resolver driven.SegmentResolver,
	cardStore driven.CardStore,
) *QueryService {
	return &QueryService{
		synth:     synth,
		verifier:  verifier,
		resolver:  resolver,
		cardStore: cardStore,
	}
}

// Query synthesizes a card, attaches its audit trail and publishes it.
// Nothing is published if any step fails or ctx is cancelled first.
func (s *QueryService) Query(ctx context.Context, req driving.QueryRequest) (*domain.BondInformationCard, error) {
	logger.Debug("Query %q scope=%+v", req.Text, req.Scope)

	card, excerpts, err := s.synth.synthesize(ctx, req.Text, req.Scope)
	if err != nil {
		return nil, err
	}

	if s.verifier != nil && len(excerpts) > 0 {
		report, err := s.verifier.Verify(ctx, excerpts)
		if err != nil {
			// The card is published without a report.
			logger.Warn("Greenwashing verification skipped: %v", err)
		} else {
			card.Greenwashing = report
		}
	}

	audit, err := BuildAudit(ctx, s.resolver, card)
	if err != nil {
		return nil, fmt.Errorf("build audit: %w", err)
	}
	card.Audit = audit

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.cardStore.PublishCard(ctx, card); err != nil {
		return nil, fmt.Errorf("publish card: %w", err)
	}

	logger.Info("Published card %s (%d attempt(s))", card.ID, card.Attempts)
	return card, nil
}

// GetCard returns a published card.
func (s *QueryService) GetCard(ctx context.Context, id string) (*domain.BondInformationCard, error) {
	return s.cardStore.GetCard(ctx, id)
}

// ListCards returns recent cards, newest first.
func (s *QueryService) ListCards(ctx context.Context, limit int) ([]domain.BondInformationCard, error) {
	if limit <= 0 {
		limit = defaultCardLimit
	}
	return s.cardStore.ListCards(ctx, limit)
}
