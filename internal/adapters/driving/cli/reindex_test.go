package cli

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

func TestReindexCmd_Reindexes(t *testing.T) {
	ts, cleanup := setupTestServicesWith()
	defer cleanup()
	ts.ingest.reindex = 42

	out, err := execute("reindex")

	require.NoError(t, err)
	assert.Contains(t, out, "Indexed 42 segments.")
	assert.NotContains(t, out, "Keyword index")
}

func TestReindexCmd_RebuildsKeywordIndex(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	rebuildKeywords = func(context.Context) (int, error) { return 7, nil }

	out, err := execute("reindex")

	require.NoError(t, err)
	assert.Contains(t, out, "Keyword index holds 7 segments.")
}

func TestReindexCmd_KeywordError(t *testing.T) {
	cleanup := setupTestServices()
	defer cleanup()
	rebuildKeywords = func(context.Context) (int, error) { return 0, errors.New("disk full") }

	_, err := execute("reindex")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "keyword index rebuild failed")
}

func TestReindexCmd_Error(t *testing.T) {
	ts, cleanup := setupTestServicesWith()
	defer cleanup()
	ts.ingest.err = domain.ErrEmbeddingUnavailable

	_, err := execute("reindex")

	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
}
