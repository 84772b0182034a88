package gemini

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

func TestNewEmbeddingService_RequiresKey(t *testing.T) {
	_, err := NewEmbeddingService(context.Background(), Config{})
	assert.Error(t, err)
}

func TestNewEmbeddingService_Defaults(t *testing.T) {
	svc, err := NewEmbeddingService(context.Background(), Config{APIKey: "test"})
	require.NoError(t, err)
	defer svc.Close()

	assert.Equal(t, DefaultModel, svc.ModelName())
	assert.Equal(t, DefaultDimensions, svc.Dimensions())
}

func TestMapError(t *testing.T) {
	ctx := context.Background()

	assert.ErrorIs(t, mapError(ctx, &googleapi.Error{Code: http.StatusTooManyRequests}), domain.ErrRateLimited)
	assert.ErrorIs(t, mapError(ctx, &googleapi.Error{Code: http.StatusServiceUnavailable}), domain.ErrEmbeddingUnavailable)
	assert.ErrorIs(t, mapError(ctx, errors.New("dial tcp: refused")), domain.ErrEmbeddingUnavailable)

	bad := mapError(ctx, &googleapi.Error{Code: http.StatusBadRequest})
	assert.False(t, errors.Is(bad, domain.ErrEmbeddingUnavailable))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, mapError(cancelled, errors.New("boom")), context.Canceled)
}
