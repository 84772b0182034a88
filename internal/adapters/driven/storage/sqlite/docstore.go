package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

// SaveDocument replaces the document, its pages and segments in one transaction.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	return s.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", doc.ID); err != nil {
			return fmt.Errorf("replacing document: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (id, source_name, checksum, version, ingested_at)
			VALUES (?, ?, ?, ?, ?)
		`, doc.ID, doc.SourceName, doc.Checksum, doc.Version, doc.IngestedAt.UTC())
		if err != nil {
			return fmt.Errorf("saving document: %w", err)
		}

		pageStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO pages (document_id, number, width, height, lines, rules, tables, parse_error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing page statement: %w", err)
		}
		defer pageStmt.Close()

		segStmt, err := tx.PrepareContext(ctx, `
			INSERT INTO segments (document_id, page_number, segment_index, kind, text, table_json,
				caption, parse_degraded, degraded_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("preparing segment statement: %w", err)
		}
		defer segStmt.Close()

		for i := range doc.Pages {
			page := &doc.Pages[i]
			if _, err := pageStmt.ExecContext(ctx, doc.ID, page.Number, page.Width, page.Height,
				page.Layout.Lines, page.Layout.Rules, page.Layout.Tables, page.Layout.ParseError); err != nil {
				return fmt.Errorf("saving page %d: %w", page.Number, err)
			}

			for j := range page.Segments {
				seg := &page.Segments[j]
				tableJSON, err := marshalTable(seg.Table)
				if err != nil {
					return err
				}
				if _, err := segStmt.ExecContext(ctx, doc.ID, seg.Key.PageNumber, seg.Key.SegmentIndex,
					string(seg.Kind), seg.Text, tableJSON, seg.Caption,
					seg.ParseDegraded, seg.DegradedReason); err != nil {
					return fmt.Errorf("saving segment %s: %w", seg.Key, err)
				}
			}
		}
		return nil
	})
}

// GetDocument retrieves a document by ID with pages and segments.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, source_name, checksum, version, ingested_at
		FROM documents WHERE id = ?
	`, id)
	return s.loadDocument(ctx, row)
}

// FindByChecksum returns the document with the given checksum.
func (s *documentStore) FindByChecksum(ctx context.Context, checksum string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, source_name, checksum, version, ingested_at
		FROM documents WHERE checksum = ?
	`, checksum)
	return s.loadDocument(ctx, row)
}

func (s *documentStore) loadDocument(ctx context.Context, row *sql.Row) (*domain.Document, error) {
	var doc domain.Document
	if err := row.Scan(&doc.ID, &doc.SourceName, &doc.Checksum, &doc.Version, &doc.IngestedAt); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	pages, err := s.loadPages(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	doc.Pages = pages
	return &doc, nil
}

func (s *documentStore) loadPages(ctx context.Context, docID string) ([]domain.Page, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT number, width, height, lines, rules, tables, parse_error
		FROM pages WHERE document_id = ?
		ORDER BY number
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer rows.Close()

	var pages []domain.Page //nolint:prealloc // size unknown from query
	index := make(map[int]int)
	for rows.Next() {
		var p domain.Page
		if err := rows.Scan(&p.Number, &p.Width, &p.Height,
			&p.Layout.Lines, &p.Layout.Rules, &p.Layout.Tables, &p.Layout.ParseError); err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		index[p.Number] = len(pages)
		pages = append(pages, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating pages: %w", err)
	}

	segRows, err := s.store.db.QueryContext(ctx, `
		SELECT document_id, page_number, segment_index, kind, text, table_json,
			caption, parse_degraded, degraded_reason
		FROM segments WHERE document_id = ?
		ORDER BY page_number, segment_index
	`, docID)
	if err != nil {
		return nil, fmt.Errorf("querying segments: %w", err)
	}
	defer segRows.Close()

	for segRows.Next() {
		seg, err := scanSegment(segRows)
		if err != nil {
			return nil, err
		}
		if i, ok := index[seg.Key.PageNumber]; ok {
			pages[i].Segments = append(pages[i].Segments, *seg)
		}
	}
	if err := segRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating segments: %w", err)
	}
	return pages, nil
}

// CountBySource returns how many documents share a source name.
func (s *documentStore) CountBySource(ctx context.Context, sourceName string) (int, error) {
	var n int
	err := s.store.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM documents WHERE source_name = ?", sourceName).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return n, nil
}

// ListDocuments returns document summaries ordered by ingestion time.
func (s *documentStore) ListDocuments(ctx context.Context) ([]domain.DocumentSummary, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT d.id, d.source_name, d.checksum, d.version, d.ingested_at,
			(SELECT COUNT(*) FROM pages p WHERE p.document_id = d.id),
			(SELECT COUNT(*) FROM segments g WHERE g.document_id = d.id),
			(SELECT COUNT(*) FROM segments g WHERE g.document_id = d.id AND g.kind = 'table'),
			(SELECT COUNT(*) FROM segments g WHERE g.document_id = d.id AND g.parse_degraded = 1),
			COALESCE((SELECT r.segments_skipped FROM ingestion_runs r
				WHERE r.document_id = d.id ORDER BY r.started_at DESC LIMIT 1), 0)
		FROM documents d
		ORDER BY d.ingested_at, d.id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var out []domain.DocumentSummary //nolint:prealloc // size unknown from query
	for rows.Next() {
		var sum domain.DocumentSummary
		if err := rows.Scan(&sum.DocumentID, &sum.SourceName, &sum.Checksum, &sum.Version, &sum.IngestedAt,
			&sum.Pages, &sum.Segments, &sum.Tables, &sum.Degraded, &sum.Skipped); err != nil {
			return nil, fmt.Errorf("scanning document summary: %w", err)
		}
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return out, nil
}

// GetSegment resolves a segment key.
func (s *documentStore) GetSegment(ctx context.Context, key domain.SegmentKey) (*domain.Segment, error) {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT document_id, page_number, segment_index, kind, text, table_json,
			caption, parse_degraded, degraded_reason
		FROM segments WHERE document_id = ? AND page_number = ? AND segment_index = ?
	`, key.DocumentID, key.PageNumber, key.SegmentIndex)
	if err != nil {
		return nil, fmt.Errorf("querying segment: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("querying segment: %w", err)
		}
		return nil, domain.ErrNotFound
	}
	return scanSegment(rows)
}

// DeleteDocument removes a document and its segments.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	_, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}

// SaveIngestionState records the latest state of a run.
func (s *documentStore) SaveIngestionState(ctx context.Context, state *domain.IngestionState) error {
	var completed any
	if state.CompletedAt != nil {
		completed = state.CompletedAt.UTC()
	}

	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO ingestion_runs (run_id, document_id, source_name, phase, segments_total,
			segments_embedded, segments_degraded, segments_skipped, encoder, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			phase = excluded.phase,
			segments_total = excluded.segments_total,
			segments_embedded = excluded.segments_embedded,
			segments_degraded = excluded.segments_degraded,
			segments_skipped = excluded.segments_skipped,
			encoder = excluded.encoder,
			error = excluded.error,
			completed_at = excluded.completed_at
	`, state.RunID, state.DocumentID, state.SourceName, string(state.Phase), state.SegmentsTotal,
		state.SegmentsEmbedded, state.SegmentsDegraded, state.SegmentsSkipped, state.Encoder, state.Error,
		state.StartedAt.UTC(), completed)
	if err != nil {
		return fmt.Errorf("saving ingestion state: %w", err)
	}
	return nil
}

// GetIngestionState returns the latest run for a document.
func (s *documentStore) GetIngestionState(ctx context.Context, documentID string) (*domain.IngestionState, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT run_id, document_id, source_name, phase, segments_total, segments_embedded,
			segments_degraded, segments_skipped, encoder, error, started_at, completed_at
		FROM ingestion_runs WHERE document_id = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT 1
	`, documentID)

	var state domain.IngestionState
	var phase string
	var completed sql.NullTime
	if err := row.Scan(&state.RunID, &state.DocumentID, &state.SourceName, &phase,
		&state.SegmentsTotal, &state.SegmentsEmbedded, &state.SegmentsDegraded, &state.SegmentsSkipped,
		&state.Encoder, &state.Error, &state.StartedAt, &completed); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning ingestion state: %w", err)
	}
	state.Phase = domain.IngestionPhase(phase)
	if completed.Valid {
		t := completed.Time
		state.CompletedAt = &t
	}
	return &state, nil
}

func marshalTable(t *domain.TableGrid) (any, error) {
	if t == nil {
		return nil, nil
	}
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshalling table: %w", err)
	}
	return string(data), nil
}

// scanSegment scans a segment from *sql.Rows.
func scanSegment(rows *sql.Rows) (*domain.Segment, error) {
	var seg domain.Segment
	var kind string
	var tableJSON sql.NullString
	if err := rows.Scan(&seg.Key.DocumentID, &seg.Key.PageNumber, &seg.Key.SegmentIndex, &kind,
		&seg.Text, &tableJSON, &seg.Caption, &seg.ParseDegraded, &seg.DegradedReason); err != nil {
		return nil, fmt.Errorf("scanning segment: %w", err)
	}
	seg.Kind = domain.SegmentKind(kind)

	if tableJSON.Valid && tableJSON.String != "" {
		var grid domain.TableGrid
		if err := json.Unmarshal([]byte(tableJSON.String), &grid); err != nil {
			return nil, fmt.Errorf("unmarshaling table: %w", err)
		}
		seg.Table = &grid
	}
	return &seg, nil
}

