package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// BuildAudit maps every present field and KPI of card to the pages its
// cited segments come from. Citations keep citation order without
// duplicates. A cited segment the resolver no longer knows fails the whole
// audit with *domain.AuditResolutionError.
func BuildAudit(
	ctx context.Context,
	resolver driven.SegmentResolver,
	card *domain.BondInformationCard,
) (domain.AuditTrail, error) {
	trail := domain.AuditTrail{}

	for i := range card.Fields {
		field := &card.Fields[i]
		if field.Status != domain.FieldPresent {
			continue
		}
		cites, err := citationsFor(ctx, resolver, string(field.Name), field.Segments)
		if err != nil {
			return nil, err
		}
		trail[string(field.Name)] = cites
	}

	for i := range card.KPIs {
		kpi := &card.KPIs[i]
		key := domain.KPIAuditKey(kpi.Name)
		cites, err := citationsFor(ctx, resolver, key, kpi.Segments)
		if err != nil {
			return nil, err
		}
		trail[key] = cites
	}
	return trail, nil
}

func citationsFor(
	ctx context.Context,
	resolver driven.SegmentResolver,
	field string,
	keys []domain.SegmentKey,
) ([]domain.Citation, error) {
	seen := make(map[domain.Citation]bool, len(keys))
	cites := make([]domain.Citation, 0, len(keys))
	for _, key := range keys {
		seg, err := resolver.GetSegment(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.AuditResolutionError{Field: field, Key: key}
		}
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", key, err)
		}

		c := domain.Citation{DocumentID: seg.Key.DocumentID, PageNumber: seg.Key.PageNumber}
		if !seen[c] {
			seen[c] = true
			cites = append(cites, c)
		}
	}
	return cites, nil
}
