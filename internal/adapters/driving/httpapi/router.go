// Package httpapi exposes ingestion, status and card queries over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/custodia-labs/deskrag/internal/logger"
)

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs method, path, status and latency.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("%s %s %d %v", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

// corsMiddleware allows browser clients on other origins.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the HTTP router.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()

	r.Use(loggingMiddleware)
	r.Use(corsMiddleware)

	r.HandleFunc("/documents", h.HandleIngest).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/documents", h.HandleListDocuments).Methods(http.MethodGet)
	r.HandleFunc("/documents/{id}/status", h.HandleStatus).Methods(http.MethodGet)
	r.HandleFunc("/query", h.HandleQuery).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/cards", h.HandleListCards).Methods(http.MethodGet)
	r.HandleFunc("/cards/{id}", h.HandleGetCard).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	return r
}
