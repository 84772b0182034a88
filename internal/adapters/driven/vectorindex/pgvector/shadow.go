package pgvector

import (
	"context"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Shadow implements the interface.
var _ driven.ShadowIndex = (*Shadow)(nil)

// Shadow is a rebuild written to <table>_rebuild. Promote renames it over
// the live table in one transaction, so queries see the old rows or the
// new ones and never an empty table.
type Shadow struct {
	*Index
	live string
}

// NewShadow creates an empty shadow table with cfg.Dimensions. A shadow
// left over from an earlier failed rebuild is dropped first.
func NewShadow(ctx context.Context, cfg Config) (*Shadow, error) {
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	live := cfg.Table
	cfg.Table = live + rebuildSuffix
	if !identifierPattern.MatchString(live) || !identifierPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrInvalidInput, live)
	}

	idx, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := idx.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, idx.table)); err != nil {
		idx.pool.Close()
		return nil, fmt.Errorf("drop stale %s: %w", idx.table, err)
	}
	if err := idx.initialise(ctx); err != nil {
		idx.pool.Close()
		return nil, err
	}
	return &Shadow{Index: idx, live: live}, nil
}

// promoteStatements replaces live with shadow, keeping live's index and
// key names.
func promoteStatements(shadow, live string) []string {
	return []string{
		fmt.Sprintf(`DROP TABLE IF EXISTS %s`, live),
		fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, shadow, live),
		fmt.Sprintf(`ALTER INDEX %s_embedding_idx RENAME TO %s_embedding_idx`, shadow, live),
		fmt.Sprintf(`ALTER TABLE %s RENAME CONSTRAINT %s_pkey TO %s_pkey`, live, shadow, live),
	}
}

// Promote swaps the shadow table in for the live one. The shadow then
// serves the live table name.
func (s *Shadow) Promote(ctx context.Context) (func(context.Context) error, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: begin promote: %v", domain.ErrVectorIndexUnavailable, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, stmt := range promoteStatements(s.table, s.live) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("promote %s: %w", s.table, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit promote: %w", err)
	}
	s.table = s.live
	return nil, nil
}

// Discard drops the shadow table.
func (s *Shadow) Discard(ctx context.Context) error {
	if s.table == s.live {
		return nil
	}
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, s.table)); err != nil {
		return fmt.Errorf("drop %s: %w", s.table, err)
	}
	return nil
}
