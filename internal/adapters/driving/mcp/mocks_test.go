package mcp

import (
	"context"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

// mockIngestService is a mock implementation of driving.IngestService.
type mockIngestService struct {
	summary *domain.DocumentSummary
	state   *domain.IngestionState
	err     error
	lastReq driving.IngestRequest
}

func (m *mockIngestService) Ingest(_ context.Context, req driving.IngestRequest) (*domain.DocumentSummary, error) {
	m.lastReq = req
	return m.summary, m.err
}

func (m *mockIngestService) IngestBatch(_ context.Context, reqs []driving.IngestRequest) []driving.IngestOutcome {
	out := make([]driving.IngestOutcome, len(reqs))
	for i, req := range reqs {
		out[i] = driving.IngestOutcome{Name: req.Name, Summary: m.summary, Err: m.err}
	}
	return out
}

func (m *mockIngestService) Status(_ context.Context, _ string) (*domain.IngestionState, error) {
	return m.state, m.err
}

func (m *mockIngestService) Reindex(_ context.Context) (int, error) {
	return 0, m.err
}

// mockQueryService is a mock implementation of driving.QueryService.
type mockQueryService struct {
	card    *domain.BondInformationCard
	err     error
	lastReq driving.QueryRequest
}

func (m *mockQueryService) Query(_ context.Context, req driving.QueryRequest) (*domain.BondInformationCard, error) {
	m.lastReq = req
	return m.card, m.err
}

func (m *mockQueryService) GetCard(_ context.Context, id string) (*domain.BondInformationCard, error) {
	if m.card == nil || m.card.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.card, nil
}

func (m *mockQueryService) ListCards(_ context.Context, _ int) ([]domain.BondInformationCard, error) {
	if m.card == nil {
		return nil, m.err
	}
	return []domain.BondInformationCard{*m.card}, m.err
}

// mockDocumentService is a mock implementation of driving.DocumentService.
type mockDocumentService struct {
	summaries []domain.DocumentSummary
	document  *domain.Document
	err       error
}

func (m *mockDocumentService) List(_ context.Context) ([]domain.DocumentSummary, error) {
	return m.summaries, m.err
}

func (m *mockDocumentService) Get(_ context.Context, _ string) (*domain.Document, error) {
	if m.document == nil && m.err == nil {
		return nil, domain.ErrNotFound
	}
	return m.document, m.err
}

func (m *mockDocumentService) GetSegment(_ context.Context, _ domain.SegmentKey) (*domain.Segment, error) {
	return nil, domain.ErrNotFound
}

// validPorts returns ports with every required service set.
func validPorts() *Ports {
	return &Ports{Ingest: &mockIngestService{}, Query: &mockQueryService{}}
}

// testCard is a card with the coupon rate found on page 2.
func testCard() *domain.BondInformationCard {
	card := domain.NewEmptyCard("coupon?", domain.RetrievalFilter{}, "")
	card.ID = "card-1"
	coupon := card.Field(domain.FieldCouponRate)
	coupon.Status = domain.FieldPresent
	coupon.Value = "3.875%"
	coupon.Segments = []domain.SegmentKey{{DocumentID: "doc_a", PageNumber: 2, SegmentIndex: 1}}
	card.Audit = domain.AuditTrail{"coupon_rate": {{DocumentID: "doc_a", PageNumber: 2}}}
	return card
}
