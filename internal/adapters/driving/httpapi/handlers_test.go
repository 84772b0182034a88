package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

type mockIngestService struct {
	summary *domain.DocumentSummary
	state   *domain.IngestionState
	err     error
	lastReq driving.IngestRequest
	lastID  string
}

func (m *mockIngestService) Ingest(_ context.Context, req driving.IngestRequest) (*domain.DocumentSummary, error) {
	m.lastReq = req
	return m.summary, m.err
}

func (m *mockIngestService) IngestBatch(_ context.Context, _ []driving.IngestRequest) []driving.IngestOutcome {
	return nil
}

func (m *mockIngestService) Status(_ context.Context, id string) (*domain.IngestionState, error) {
	m.lastID = id
	return m.state, m.err
}

func (m *mockIngestService) Reindex(_ context.Context) (int, error) {
	return 0, m.err
}

type mockQueryService struct {
	card      *domain.BondInformationCard
	err       error
	lastReq   driving.QueryRequest
	lastLimit int
}

func (m *mockQueryService) Query(_ context.Context, req driving.QueryRequest) (*domain.BondInformationCard, error) {
	m.lastReq = req
	return m.card, m.err
}

func (m *mockQueryService) GetCard(_ context.Context, id string) (*domain.BondInformationCard, error) {
	if m.card == nil || m.card.ID != id {
		return nil, fmt.Errorf("card %s: %w", id, domain.ErrNotFound)
	}
	return m.card, nil
}

func (m *mockQueryService) ListCards(_ context.Context, limit int) ([]domain.BondInformationCard, error) {
	m.lastLimit = limit
	if m.card == nil {
		return nil, m.err
	}
	return []domain.BondInformationCard{*m.card}, m.err
}

type mockDocumentService struct {
	summaries []domain.DocumentSummary
	err       error
}

func (m *mockDocumentService) List(_ context.Context) ([]domain.DocumentSummary, error) {
	return m.summaries, m.err
}

func (m *mockDocumentService) Get(_ context.Context, _ string) (*domain.Document, error) {
	return nil, domain.ErrNotFound
}

func (m *mockDocumentService) GetSegment(_ context.Context, _ domain.SegmentKey) (*domain.Segment, error) {
	return nil, domain.ErrNotFound
}

func testCard() *domain.BondInformationCard {
	card := domain.NewEmptyCard("coupon?", domain.RetrievalFilter{DocumentID: "doc_a"}, "")
	card.ID = "card-1"
	coupon := card.Field(domain.FieldCouponRate)
	coupon.Status = domain.FieldPresent
	coupon.Value = "3.875%"
	coupon.Segments = []domain.SegmentKey{{DocumentID: "doc_a", PageNumber: 2, SegmentIndex: 1}}
	card.Audit = domain.AuditTrail{"coupon_rate": {{DocumentID: "doc_a", PageNumber: 2}}}
	return card
}

func newTestRouter(t *testing.T, ingest *mockIngestService, query *mockQueryService, docs driving.DocumentService) http.Handler {
	t.Helper()
	h, err := NewHandler(ingest, query, docs)
	require.NoError(t, err)
	return NewRouter(h)
}

func do(t *testing.T, router http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestNewHandler_RequiresServices(t *testing.T) {
	_, err := NewHandler(nil, &mockQueryService{}, nil)
	assert.ErrorIs(t, err, ErrMissingService)

	_, err = NewHandler(&mockIngestService{}, nil, nil)
	assert.ErrorIs(t, err, ErrMissingService)
}

func TestHandleIngest(t *testing.T) {
	t.Run("raw body with name", func(t *testing.T) {
		ingest := &mockIngestService{summary: &domain.DocumentSummary{DocumentID: "doc_a", Pages: 3}}
		router := newTestRouter(t, ingest, &mockQueryService{}, nil)

		req := httptest.NewRequest(http.MethodPost, "/documents?name=dir/bond.pdf&force=true", bytes.NewReader([]byte("%PDF-1.7")))
		req.Header.Set("Content-Type", "application/pdf")
		rec := do(t, router, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		doc := decode[present.Document](t, rec)
		assert.Equal(t, "doc_a", doc.ID)
		assert.Equal(t, "bond.pdf", ingest.lastReq.Name)
		assert.Equal(t, []byte("%PDF-1.7"), ingest.lastReq.Data)
		assert.True(t, ingest.lastReq.Force)
	})

	t.Run("multipart upload", func(t *testing.T) {
		ingest := &mockIngestService{summary: &domain.DocumentSummary{DocumentID: "doc_b"}}
		router := newTestRouter(t, ingest, &mockQueryService{}, nil)

		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		part, err := mw.CreateFormFile("file", "framework.pdf")
		require.NoError(t, err)
		_, err = part.Write([]byte("%PDF-mp"))
		require.NoError(t, err)
		require.NoError(t, mw.Close())

		req := httptest.NewRequest(http.MethodPost, "/documents", &body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		rec := do(t, router, req)

		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "framework.pdf", ingest.lastReq.Name)
		assert.Equal(t, []byte("%PDF-mp"), ingest.lastReq.Data)
		assert.False(t, ingest.lastReq.Force)
	})

	t.Run("already indexed returns 200", func(t *testing.T) {
		ingest := &mockIngestService{summary: &domain.DocumentSummary{DocumentID: "doc_a", AlreadyIndexed: true}}
		router := newTestRouter(t, ingest, &mockQueryService{}, nil)

		req := httptest.NewRequest(http.MethodPost, "/documents?name=a.pdf", bytes.NewReader([]byte("x")))
		rec := do(t, router, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, decode[present.Document](t, rec).AlreadyIndexed)
	})

	t.Run("raw upload without name is rejected", func(t *testing.T) {
		router := newTestRouter(t, &mockIngestService{}, &mockQueryService{}, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/documents", bytes.NewReader([]byte("x"))))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec).Error, "name is required")
	})

	t.Run("unreadable document", func(t *testing.T) {
		ingest := &mockIngestService{err: &domain.IngestionError{Source: "broken.pdf", Err: fmt.Errorf("no pages")}}
		router := newTestRouter(t, ingest, &mockQueryService{}, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/documents?name=broken.pdf", bytes.NewReader([]byte("x"))))

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("backend unavailable is retryable", func(t *testing.T) {
		ingest := &mockIngestService{err: fmt.Errorf("embed: %w", domain.ErrEmbeddingUnavailable)}
		router := newTestRouter(t, ingest, &mockQueryService{}, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/documents?name=a.pdf", bytes.NewReader([]byte("x"))))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.True(t, decode[ErrorResponse](t, rec).Retryable)
	})
}

func TestHandleListDocuments(t *testing.T) {
	t.Run("lists documents", func(t *testing.T) {
		docs := &mockDocumentService{summaries: []domain.DocumentSummary{
			{DocumentID: "doc_a", SourceName: "a.pdf"},
			{DocumentID: "doc_b", SourceName: "b.pdf"},
		}}
		router := newTestRouter(t, &mockIngestService{}, &mockQueryService{}, docs)

		rec := do(t, router, httptest.NewRequest(http.MethodGet, "/documents", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		list := decode[[]present.Document](t, rec)
		require.Len(t, list, 2)
		assert.Equal(t, "b.pdf", list[1].SourceName)
	})

	t.Run("no document service gives empty list", func(t *testing.T) {
		router := newTestRouter(t, &mockIngestService{}, &mockQueryService{}, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodGet, "/documents", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, "[]", rec.Body.String())
	})
}

func TestHandleStatus(t *testing.T) {
	t.Run("returns state", func(t *testing.T) {
		ingest := &mockIngestService{state: &domain.IngestionState{
			DocumentID:       "doc_a",
			RunID:            "run-1",
			Phase:            domain.PhaseIndexed,
			SegmentsTotal:    4,
			SegmentsEmbedded: 4,
			StartedAt:        time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}}
		router := newTestRouter(t, ingest, &mockQueryService{}, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodGet, "/documents/doc_a/status", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "doc_a", ingest.lastID)
		status := decode[present.Status](t, rec)
		assert.Equal(t, "indexed", status.Phase)
		assert.Equal(t, 4, status.SegmentsEmbedded)
	})

	t.Run("unknown document", func(t *testing.T) {
		ingest := &mockIngestService{err: domain.ErrNotFound}
		router := newTestRouter(t, ingest, &mockQueryService{}, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodGet, "/documents/nope/status", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHandleQuery(t *testing.T) {
	t.Run("returns audited card", func(t *testing.T) {
		query := &mockQueryService{card: testCard()}
		router := newTestRouter(t, &mockIngestService{}, query, nil)

		body := `{"query":"coupon?","document_id":"doc_a","kinds":["table"]}`
		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString(body)))

		assert.Equal(t, http.StatusOK, rec.Code)
		card := decode[present.Card](t, rec)
		assert.Equal(t, "card-1", card.ID)
		assert.Equal(t, []int{2}, card.Fields[2].Pages)
		assert.Equal(t, "coupon?", query.lastReq.Text)
		assert.Equal(t, "doc_a", query.lastReq.Scope.DocumentID)
		assert.Equal(t, []domain.SegmentKind{domain.SegmentKindTable}, query.lastReq.Scope.Kinds)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		router := newTestRouter(t, &mockIngestService{}, &mockQueryService{}, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString("{")))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown kind", func(t *testing.T) {
		router := newTestRouter(t, &mockIngestService{}, &mockQueryService{}, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString(`{"kinds":["image"]}`)))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decode[ErrorResponse](t, rec).Error, "image")
	})

	t.Run("synthesis failure", func(t *testing.T) {
		query := &mockQueryService{err: &domain.CardSynthesisError{Attempts: 3, Err: fmt.Errorf("bad output")}}
		router := newTestRouter(t, &mockIngestService{}, query, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString(`{"query":"x"}`)))

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	t.Run("timeout", func(t *testing.T) {
		query := &mockQueryService{err: &domain.TimeoutError{Op: "generation"}}
		router := newTestRouter(t, &mockIngestService{}, query, nil)

		rec := do(t, router, httptest.NewRequest(http.MethodPost, "/query", bytes.NewBufferString(`{"query":"x"}`)))

		assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	})
}

func TestHandleCards(t *testing.T) {
	query := &mockQueryService{card: testCard()}
	router := newTestRouter(t, &mockIngestService{}, query, nil)

	t.Run("get card", func(t *testing.T) {
		rec := do(t, router, httptest.NewRequest(http.MethodGet, "/cards/card-1", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "card-1", decode[present.Card](t, rec).ID)
	})

	t.Run("missing card", func(t *testing.T) {
		rec := do(t, router, httptest.NewRequest(http.MethodGet, "/cards/nope", nil))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list with limit", func(t *testing.T) {
		rec := do(t, router, httptest.NewRequest(http.MethodGet, "/cards?limit=5", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]present.Card](t, rec), 1)
		assert.Equal(t, 5, query.lastLimit)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := do(t, router, httptest.NewRequest(http.MethodGet, "/cards?limit=-1", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	router := newTestRouter(t, &mockIngestService{}, &mockQueryService{}, nil)

	rec := do(t, router, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRouter_Preflight(t *testing.T) {
	router := newTestRouter(t, &mockIngestService{}, &mockQueryService{}, nil)

	rec := do(t, router, httptest.NewRequest(http.MethodOptions, "/query", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", domain.ErrInvalidInput, http.StatusBadRequest},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"in progress", domain.ErrIngestionInProgress, http.StatusConflict},
		{"rate limited", domain.ErrRateLimited, http.StatusServiceUnavailable},
		{"llm unavailable", domain.ErrLLMUnavailable, http.StatusServiceUnavailable},
		{"unsupported", domain.ErrUnsupportedType, http.StatusUnprocessableEntity},
		{"audit", domain.ErrAuditResolution, http.StatusInternalServerError},
		{"too large", &http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
