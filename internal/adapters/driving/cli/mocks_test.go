package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

var errMock = errors.New("mock failure")

type mockIngestService struct {
	mu       sync.Mutex
	requests []driving.IngestRequest
	failName string
	reindex  int
	err      error
}

func (m *mockIngestService) Ingest(_ context.Context, req driving.IngestRequest) (*domain.DocumentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if req.Name == m.failName {
		return nil, errMock
	}
	return &domain.DocumentSummary{
		DocumentID: "doc_" + req.Name,
		SourceName: req.Name,
		Version:    1,
		Pages:      4,
		Segments:   9,
		Tables:     2,
	}, nil
}

func (m *mockIngestService) IngestBatch(ctx context.Context, reqs []driving.IngestRequest) []driving.IngestOutcome {
	out := make([]driving.IngestOutcome, len(reqs))
	for i, req := range reqs {
		s, err := m.Ingest(ctx, req)
		out[i] = driving.IngestOutcome{Name: req.Name, Summary: s, Err: err}
	}
	return out
}

func (m *mockIngestService) Status(_ context.Context, id string) (*domain.IngestionState, error) {
	if m.err != nil {
		return nil, m.err
	}
	done := time.Date(2026, 3, 2, 10, 0, 5, 0, time.UTC)
	return &domain.IngestionState{
		DocumentID:       id,
		RunID:            "run-1",
		SourceName:       "framework.pdf",
		Phase:            domain.PhaseIndexed,
		SegmentsTotal:    9,
		SegmentsEmbedded: 8,
		SegmentsSkipped:  1,
		StartedAt:        time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		CompletedAt:      &done,
	}, nil
}

func (m *mockIngestService) Reindex(_ context.Context) (int, error) {
	return m.reindex, m.err
}

type mockQueryService struct {
	card    *domain.BondInformationCard
	cards   []domain.BondInformationCard
	err     error
	lastReq driving.QueryRequest
}

func (m *mockQueryService) Query(_ context.Context, req driving.QueryRequest) (*domain.BondInformationCard, error) {
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return m.card, nil
}

func (m *mockQueryService) GetCard(_ context.Context, id string) (*domain.BondInformationCard, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.card == nil || m.card.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.card, nil
}

func (m *mockQueryService) ListCards(_ context.Context, limit int) ([]domain.BondInformationCard, error) {
	if m.err != nil {
		return nil, m.err
	}
	if limit > 0 && limit < len(m.cards) {
		return m.cards[:limit], nil
	}
	return m.cards, nil
}

type mockDocumentService struct {
	summaries []domain.DocumentSummary
	document  *domain.Document
	err       error
}

func (m *mockDocumentService) List(_ context.Context) ([]domain.DocumentSummary, error) {
	return m.summaries, m.err
}

func (m *mockDocumentService) Get(_ context.Context, id string) (*domain.Document, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.document == nil || m.document.ID != id {
		return nil, domain.ErrNotFound
	}
	return m.document, nil
}

func (m *mockDocumentService) GetSegment(_ context.Context, key domain.SegmentKey) (*domain.Segment, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.document != nil {
		for i := range m.document.Pages {
			for j := range m.document.Pages[i].Segments {
				if seg := &m.document.Pages[i].Segments[j]; seg.Key == key {
					return seg, nil
				}
			}
		}
	}
	return nil, domain.ErrNotFound
}

type mockSettingsService struct {
	settings domain.Settings
	set      map[string]string
	setErr   error
	checkErr error
}

func newMockSettingsService() *mockSettingsService {
	return &mockSettingsService{settings: domain.DefaultSettings(), set: map[string]string{}}
}

func (m *mockSettingsService) Get() (*domain.Settings, error) {
	s := m.settings
	return &s, nil
}

func (m *mockSettingsService) Set(key, value string) error {
	if m.setErr != nil {
		return m.setErr
	}
	m.set[key] = value
	return nil
}

func (m *mockSettingsService) Keys() []string {
	return []string{"embedding.provider", "embedding.model", "llm.provider"}
}

func (m *mockSettingsService) Validate(s *domain.Settings) error {
	if !s.Embedding.Provider.IsValid() {
		return domain.ErrInvalidInput
	}
	return nil
}

func (m *mockSettingsService) CheckBackends() error {
	return m.checkErr
}

type mockExporter struct {
	exported []domain.BondInformationCard
	err      error
}

func (m *mockExporter) ExportCards(w io.Writer, cards []domain.BondInformationCard) error {
	if m.err != nil {
		return m.err
	}
	m.exported = cards
	_, err := w.Write([]byte("xlsx"))
	return err
}

func testCard() *domain.BondInformationCard {
	card := domain.NewEmptyCard("green bond terms", domain.RetrievalFilter{DocumentID: "doc_a"}, "")
	card.ID = "card-1"
	card.Model = "test-model"
	card.Attempts = 1
	card.CreatedAt = time.Date(2026, 3, 2, 11, 0, 0, 0, time.UTC)
	coupon := card.Field(domain.FieldCouponRate)
	coupon.Status = domain.FieldPresent
	coupon.Value = "3.875%"
	coupon.Segments = []domain.SegmentKey{{DocumentID: "doc_a", PageNumber: 2, SegmentIndex: 1}}
	card.Audit = domain.AuditTrail{"coupon_rate": {{DocumentID: "doc_a", PageNumber: 2}}}
	return card
}

func testDocument() *domain.Document {
	return &domain.Document{
		ID:         "doc_a",
		SourceName: "framework.pdf",
		Checksum:   "abc123",
		Version:    1,
		IngestedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Pages: []domain.Page{{
			Number: 2,
			Segments: []domain.Segment{
				{
					Key:  domain.SegmentKey{DocumentID: "doc_a", PageNumber: 2, SegmentIndex: 0},
					Kind: domain.SegmentKindNarrative,
					Text: "The bonds bear interest at 3.875% per annum.",
				},
				{
					Key:     domain.SegmentKey{DocumentID: "doc_a", PageNumber: 2, SegmentIndex: 1},
					Kind:    domain.SegmentKindTable,
					Caption: "Coupon schedule",
					Table: &domain.TableGrid{
						Rows:      [][]string{{"Period", "Rate"}, {"1", "3.875%"}},
						HasHeader: true,
					},
				},
			},
		}},
	}
}

// testServices holds the mocks installed by setupTestServices.
type testServices struct {
	ingest   *mockIngestService
	query    *mockQueryService
	document *mockDocumentService
	settings *mockSettingsService
	exporter *mockExporter
}

// setupTestServices installs mock services and resets flag state.
// The returned function restores the previous services.
func setupTestServices() func() {
	_, cleanup := setupTestServicesWith()
	return cleanup
}

func setupTestServicesWith() (*testServices, func()) {
	card := testCard()
	ts := &testServices{
		ingest: &mockIngestService{},
		query:  &mockQueryService{card: card, cards: []domain.BondInformationCard{*card}},
		document: &mockDocumentService{
			summaries: []domain.DocumentSummary{{
				DocumentID: "doc_a", SourceName: "framework.pdf", Version: 1, Pages: 4, Segments: 9, Tables: 2,
				IngestedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
			}},
			document: testDocument(),
		},
		settings: newMockSettingsService(),
		exporter: &mockExporter{},
	}

	oldSettings := settingsService
	oldIngest, oldQuery, oldDocument := ingestService, queryService, documentService
	oldExporter, oldRebuild, oldLoader := cardExporter, rebuildKeywords, serviceLoader

	settingsService = ts.settings
	SetServices(&Services{
		Ingest:   ts.ingest,
		Query:    ts.query,
		Document: ts.document,
		Exporter: ts.exporter,
	})
	serviceLoader = nil
	resetFlags()

	return ts, func() {
		settingsService = oldSettings
		ingestService, queryService, documentService = oldIngest, oldQuery, oldDocument
		cardExporter, rebuildKeywords, serviceLoader = oldExporter, oldRebuild, oldLoader
		resetFlags()
		rootCmd.SetIn(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
	}
}

// resetFlags restores flag variables, which cobra keeps between executions.
func resetFlags() {
	ingestForce, ingestJSON = false, false
	queryDocID, queryKinds, queryJSON = "", nil, false
	documentJSON = false
	cardsJSON, cardsLimit = false, 20
	exportOut = "cards.xlsx"
}

func execute(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return buf.String(), err
}
