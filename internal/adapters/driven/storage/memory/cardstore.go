package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

var _ driven.CardStore = (*CardStore)(nil)

// CardStore is an in-memory implementation of driven.CardStore.
type CardStore struct {
	mu    sync.RWMutex
	cards map[string]domain.BondInformationCard
}

// NewCardStore creates a new in-memory card store.
func NewCardStore() *CardStore {
	return &CardStore{cards: make(map[string]domain.BondInformationCard)}
}

// PublishCard stores a card. Publishing an existing ID fails.
func (s *CardStore) PublishCard(ctx context.Context, card *domain.BondInformationCard) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if card.ID == "" {
		return fmt.Errorf("%w: card has no id", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.cards[card.ID]; ok {
		return fmt.Errorf("%w: card %s already published", domain.ErrInvalidInput, card.ID)
	}
	s.cards[card.ID] = cloneCard(card)
	return nil
}

// GetCard retrieves a card by ID.
func (s *CardStore) GetCard(_ context.Context, id string) (*domain.BondInformationCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	card, ok := s.cards[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := cloneCard(&card)
	return &out, nil
}

// ListCards returns the most recent cards, newest first.
func (s *CardStore) ListCards(_ context.Context, limit int) ([]domain.BondInformationCard, error) {
	if limit <= 0 {
		limit = 20
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.BondInformationCard, 0, len(s.cards))
	for id := range s.cards {
		card := s.cards[id]
		out = append(out, cloneCard(&card))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneCard(card *domain.BondInformationCard) domain.BondInformationCard {
	out := *card
	out.Fields = make([]domain.CardField, len(card.Fields))
	for i, f := range card.Fields {
		f.Segments = append([]domain.SegmentKey(nil), f.Segments...)
		out.Fields[i] = f
	}
	out.KPIs = append([]domain.KPI(nil), card.KPIs...)
	if card.Greenwashing != nil {
		report := *card.Greenwashing
		report.Alerts = append([]string(nil), report.Alerts...)
		out.Greenwashing = &report
	}
	out.Audit = make(domain.AuditTrail, len(card.Audit))
	for k, v := range card.Audit {
		out.Audit[k] = append([]domain.Citation(nil), v...)
	}
	return out
}
