package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/custodia-labs/deskrag/internal/logger"
)

// shutdownTimeout bounds in-flight requests at shutdown.
const shutdownTimeout = 10 * time.Second

// Serve runs the API on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, h *Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx) //nolint:errcheck
	}()

	logger.Info("HTTP API listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
