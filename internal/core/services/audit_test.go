package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/deskrag/internal/core/domain"
)

func savedBond(t *testing.T) (*memory.DocumentStore, string) {
	t.Helper()
	store := memory.NewDocumentStore()
	checksum := domain.Checksum([]byte("bond"))
	id := domain.DocumentIDFromChecksum(checksum)
	doc := &domain.Document{ID: id, SourceName: "bond.pdf", Checksum: checksum, Version: 1, Pages: bondPages(id)}
	require.NoError(t, store.SaveDocument(context.Background(), doc))
	return store, id
}

func TestBuildAudit_MapsFieldsToPages(t *testing.T) {
	store, id := savedBond(t)
	p1 := domain.SegmentKey{DocumentID: id, PageNumber: 1}
	p2n := domain.SegmentKey{DocumentID: id, PageNumber: 2}
	p2t := domain.SegmentKey{DocumentID: id, PageNumber: 2, SegmentIndex: 1}
	p3 := domain.SegmentKey{DocumentID: id, PageNumber: 3}

	card := domain.NewEmptyCard("q", domain.RetrievalFilter{}, "")
	issuer := card.Field(domain.FieldIssuer)
	issuer.Status, issuer.Value, issuer.Segments = domain.FieldPresent, "Acme Energy plc", []domain.SegmentKey{p2t, p1, p2n}
	card.KPIs = []domain.KPI{{Name: "Installed capacity", Value: "120", Unit: "MW", Segments: []domain.SegmentKey{p3}}}

	trail, err := BuildAudit(context.Background(), store, card)

	require.NoError(t, err)
	assert.Equal(t, []domain.Citation{{DocumentID: id, PageNumber: 2}, {DocumentID: id, PageNumber: 1}},
		trail[string(domain.FieldIssuer)])
	assert.Equal(t, []int{3}, trail.Pages(domain.KPIAuditKey("Installed capacity")))
	assert.NotContains(t, trail, string(domain.FieldISIN))
	assert.Len(t, trail, 2)
}

func TestBuildAudit_EmptyForAllNotFound(t *testing.T) {
	store, _ := savedBond(t)

	trail, err := BuildAudit(context.Background(), store, domain.NewEmptyCard("q", domain.RetrievalFilter{}, ""))

	require.NoError(t, err)
	assert.Empty(t, trail)
}

func TestBuildAudit_UnknownSegment(t *testing.T) {
	store, id := savedBond(t)
	missing := domain.SegmentKey{DocumentID: id, PageNumber: 9}

	card := domain.NewEmptyCard("q", domain.RetrievalFilter{}, "")
	coupon := card.Field(domain.FieldCouponRate)
	coupon.Status, coupon.Value, coupon.Segments = domain.FieldPresent, "3.875%", []domain.SegmentKey{missing}

	_, err := BuildAudit(context.Background(), store, card)

	var resErr *domain.AuditResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, string(domain.FieldCouponRate), resErr.Field)
	assert.Equal(t, missing, resErr.Key)
	assert.ErrorIs(t, err, domain.ErrAuditResolution)
}
