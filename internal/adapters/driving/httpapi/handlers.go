package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/custodia-labs/deskrag/internal/adapters/driving/present"
	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// MaxUploadBytes bounds an uploaded PDF.
const MaxUploadBytes = 64 << 20

// ErrMissingService is returned when a required service is not configured.
var ErrMissingService = errors.New("ingest and query services are required")

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Query      string   `json:"query"`
	DocumentID string   `json:"document_id,omitempty"`
	Kinds      []string `json:"kinds,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Handler holds the services behind the HTTP routes.
type Handler struct {
	ingest driving.IngestService
	query  driving.QueryService
	docs   driving.DocumentService
}

// NewHandler creates a handler. docs may be nil, in which case the
// document list is empty.
func NewHandler(ingest driving.IngestService, query driving.QueryService, docs driving.DocumentService) (*Handler, error) {
	if ingest == nil || query == nil {
		return nil, ErrMissingService
	}
	return &Handler{ingest: ingest, query: query, docs: docs}, nil
}

// HandleIngest handles POST /documents.
//
// The PDF is either a multipart "file" part or the raw request body with
// the name in ?name=. ?force=true re-embeds already indexed bytes.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	name, data, err := readUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force")) //nolint:errcheck // absent means false

	summary, err := h.ingest.Ingest(r.Context(), driving.IngestRequest{
		Name:  name,
		Data:  data,
		Force: force,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusCreated
	if summary.AlreadyIndexed {
		status = http.StatusOK
	}
	sendJSON(w, status, present.FromSummary(summary))
}

// HandleListDocuments handles GET /documents.
func (h *Handler) HandleListDocuments(w http.ResponseWriter, r *http.Request) {
	if h.docs == nil {
		sendJSON(w, http.StatusOK, []present.Document{})
		return
	}
	summaries, err := h.docs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, present.FromSummaries(summaries))
}

// HandleStatus handles GET /documents/{id}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.ingest.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, present.FromState(state))
}

// HandleQuery handles POST /query.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: invalid JSON: %w", domain.ErrInvalidInput, err))
		return
	}
	kinds, err := present.ParseKinds(req.Kinds)
	if err != nil {
		writeError(w, err)
		return
	}

	card, err := h.query.Query(r.Context(), driving.QueryRequest{
		Text:  req.Query,
		Scope: domain.RetrievalFilter{DocumentID: req.DocumentID, Kinds: kinds},
	})
	if err != nil {
		writeError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, present.FromCard(card))
}

// HandleListCards handles GET /cards?limit=N.
func (h *Handler) HandleListCards(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: limit must be a non-negative integer", domain.ErrInvalidInput))
			return
		}
		limit = n
	}

	cards, err := h.query.ListCards(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]present.Card, len(cards))
	for i := range cards {
		views[i] = present.FromCard(&cards[i])
	}
	sendJSON(w, http.StatusOK, views)
}

// HandleGetCard handles GET /cards/{id}.
func (h *Handler) HandleGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := h.query.GetCard(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	sendJSON(w, http.StatusOK, present.FromCard(card))
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readUpload returns the file name and bytes of an upload.
func readUpload(r *http.Request) (string, []byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")) //nolint:errcheck // empty on error
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			return "", nil, fmt.Errorf("%w: multipart upload needs a file part: %w", domain.ErrInvalidInput, err)
		}
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			return "", nil, fmt.Errorf("%w: reading upload: %w", domain.ErrInvalidInput, err)
		}
		return filepath.Base(header.Filename), data, nil
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		return "", nil, fmt.Errorf("%w: name is required for raw uploads", domain.ErrInvalidInput)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: reading body: %w", domain.ErrInvalidInput, err)
	}
	return filepath.Base(name), data, nil
}

// statusFor maps a domain error to an HTTP status.
func statusFor(err error) int {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrIngestionInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	case domain.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrIngestion), errors.Is(err, domain.ErrUnsupportedType):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrCardSynthesis):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed: %v", err)
	}
	sendJSON(w, status, ErrorResponse{
		Error:     err.Error(),
		Retryable: domain.IsRetryable(err),
	})
}

// sendJSON writes a JSON response.
func sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data) //nolint:errcheck // client went away
}
