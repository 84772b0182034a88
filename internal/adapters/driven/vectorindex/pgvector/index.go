// Package pgvector provides a vector index backed by PostgreSQL with the
// pgvector extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Index implements the interface.
var _ driven.VectorIndex = (*Index)(nil)

// Default configuration values.
const (
	DefaultTable        = "segment_vectors"
	DefaultWriteTimeout = 10 * time.Second
)

// rebuildSuffix names the shadow table a reindex writes into.
const rebuildSuffix = "_rebuild"

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Config holds configuration for the pgvector index.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string (required).
	DatabaseURL string

	// Table is the table holding vectors (default: segment_vectors).
	Table string

	// Dimensions is the fixed vector length (required).
	Dimensions int

	// Encoder, when set, makes New reject a table holding vectors from
	// another encoder.
	Encoder string

	// WriteTimeout bounds each upsert or delete.
	WriteTimeout time.Duration
}

// Index stores segment vectors in PostgreSQL and ranks them with the
// cosine distance operator.
type Index struct {
	pool         *pgxpool.Pool
	table        string
	dims         int
	writeTimeout time.Duration
}

// New connects to PostgreSQL, enables the vector extension and creates the
// table if needed. A stored table of another dimensionality or encoder is
// reported as *domain.DimensionMismatchError or *domain.EncoderMismatchError.
func New(ctx context.Context, cfg Config) (*Index, error) {
	idx, err := connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := idx.initialise(ctx); err != nil {
		idx.pool.Close()
		return nil, err
	}
	if err := idx.checkEncoder(ctx, cfg.Encoder); err != nil {
		idx.pool.Close()
		return nil, err
	}
	return idx, nil
}

func connect(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("pgvector: database url is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("pgvector: dimensions must be positive")
	}
	if cfg.Table == "" {
		cfg.Table = DefaultTable
	}
	if !identifierPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("%w: invalid table name %q", domain.ErrInvalidInput, cfg.Table)
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("create vector extension: %w", err)
		}
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", domain.ErrVectorIndexUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: ping: %v", domain.ErrVectorIndexUnavailable, err)
	}

	return &Index{
		pool:         pool,
		table:        cfg.Table,
		dims:         cfg.Dimensions,
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

func (idx *Index) initialise(ctx context.Context) error {
	_, err := idx.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			segment_key   TEXT PRIMARY KEY,
			document_id   TEXT NOT NULL,
			page_number   INTEGER NOT NULL,
			segment_index INTEGER NOT NULL,
			kind          TEXT NOT NULL,
			encoder       TEXT NOT NULL,
			seq           BIGINT GENERATED ALWAYS AS IDENTITY,
			embedding     vector(%[2]d) NOT NULL
		)`, idx.table, idx.dims))
	if err != nil {
		return fmt.Errorf("create %s table: %w", idx.table, err)
	}

	_, err = idx.pool.Exec(ctx, fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %[1]s_embedding_idx ON %[1]s
		USING hnsw (embedding vector_cosine_ops)`, idx.table))
	if err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}

	var existing int
	err = idx.pool.QueryRow(ctx, `
		SELECT COALESCE(atttypmod, 0) FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding'`, idx.table).Scan(&existing)
	if err != nil {
		return fmt.Errorf("read vector dimensions: %w", err)
	}
	if existing > 0 && existing != idx.dims {
		return &domain.DimensionMismatchError{Expected: existing, Got: idx.dims}
	}
	return nil
}

// checkEncoder fails if any stored vector came from another encoder.
func (idx *Index) checkEncoder(ctx context.Context, encoder string) error {
	if encoder == "" {
		return nil
	}
	var stored string
	err := idx.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT encoder FROM %s WHERE encoder <> $1 LIMIT 1`, idx.table), encoder).Scan(&stored)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read encoder: %v", domain.ErrVectorIndexUnavailable, err)
	}
	return &domain.EncoderMismatchError{Stored: stored, Current: encoder}
}

// Upsert inserts or replaces the entry for entry.Key. The identity column
// keeps the original sequence on conflict.
func (idx *Index) Upsert(ctx context.Context, entry domain.IndexEntry) error {
	if err := idx.checkEntry(entry); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, idx.writeTimeout)
	defer cancel()

	_, err := idx.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (segment_key, document_id, page_number, segment_index, kind, encoder, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (segment_key) DO UPDATE SET
			kind = EXCLUDED.kind,
			encoder = EXCLUDED.encoder,
			embedding = EXCLUDED.embedding`, idx.table),
		entry.Key.String(),
		entry.Key.DocumentID,
		entry.Key.PageNumber,
		entry.Key.SegmentIndex,
		string(entry.Metadata.Kind),
		entry.Metadata.Encoder,
		pgvector.NewVector(entry.Vector),
	)
	if err != nil {
		return idx.writeError(ctx, "upsert", err)
	}
	return nil
}

func (idx *Index) checkEntry(entry domain.IndexEntry) error {
	if entry.Key.IsZero() {
		return fmt.Errorf("%w: index entry has no key", domain.ErrInvalidInput)
	}
	if len(entry.Vector) != idx.dims {
		return &domain.DimensionMismatchError{Expected: idx.dims, Got: len(entry.Vector), Key: entry.Key}
	}
	return nil
}

func (idx *Index) writeError(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &domain.TimeoutError{Op: "index_write", After: idx.writeTimeout}
	}
	return fmt.Errorf("pgvector %s: %w", op, err)
}

// Search returns the k nearest entries by cosine distance, ties broken by
// insertion sequence.
func (idx *Index) Search(ctx context.Context, query []float32, k int) ([]driven.VectorHit, error) {
	if k <= 0 {
		return nil, nil
	}
	if len(query) != idx.dims {
		return nil, &domain.DimensionMismatchError{Expected: idx.dims, Got: len(query)}
	}

	rows, err := idx.pool.Query(ctx, fmt.Sprintf(`
		SELECT document_id, page_number, segment_index, kind, encoder,
		       1 - (embedding <=> $1) AS similarity
		FROM %s
		ORDER BY embedding <=> $1, seq
		LIMIT $2`, idx.table),
		pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", domain.ErrVectorIndexUnavailable, err)
	}
	defer rows.Close()

	var hits []driven.VectorHit
	for rows.Next() {
		var (
			key  domain.SegmentKey
			kind string
			enc  string
			sim  float64
		)
		if err := rows.Scan(&key.DocumentID, &key.PageNumber, &key.SegmentIndex, &kind, &enc, &sim); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		hits = append(hits, driven.VectorHit{
			Key:        key,
			Similarity: clamp(sim),
			Metadata: domain.EntryMetadata{
				DocumentID: key.DocumentID,
				PageNumber: key.PageNumber,
				Kind:       domain.SegmentKind(kind),
				Encoder:    enc,
			},
		})
	}
	return hits, rows.Err()
}

// Remove deletes the entry for key.
func (idx *Index) Remove(ctx context.Context, key domain.SegmentKey) error {
	ctx, cancel := context.WithTimeout(ctx, idx.writeTimeout)
	defer cancel()

	_, err := idx.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE segment_key = $1`, idx.table), key.String())
	if err != nil {
		return idx.writeError(ctx, "remove", err)
	}
	return nil
}

// Has reports whether an entry exists for key.
func (idx *Index) Has(ctx context.Context, key domain.SegmentKey) (bool, error) {
	var ok bool
	err := idx.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT EXISTS (SELECT 1 FROM %s WHERE segment_key = $1)`, idx.table), key.String()).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%w: lookup: %v", domain.ErrVectorIndexUnavailable, err)
	}
	return ok, nil
}

// Dimensions returns the fixed vector length.
func (idx *Index) Dimensions() int {
	return idx.dims
}

// Len returns the number of stored entries, or 0 if the count fails.
// Search reports backend failures.
func (idx *Index) Len() int {
	ctx, cancel := context.WithTimeout(context.Background(), idx.writeTimeout)
	defer cancel()

	var n int
	if err := idx.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, idx.table)).Scan(&n); err != nil {
		return 0
	}
	return n
}

// Close releases the connection pool.
func (idx *Index) Close() error {
	idx.pool.Close()
	return nil
}

func clamp(sim float64) float64 {
	switch {
	case sim < 0:
		return 0
	case sim > 1:
		return 1
	}
	return sim
}
