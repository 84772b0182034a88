package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// indexJournal implements driven.IndexJournal.
type indexJournal struct {
	store *Store
}

var _ driven.IndexJournal = (*indexJournal)(nil)

const putEntrySQL = `
	INSERT INTO index_entries (segment_key, document_id, page_number, segment_index, kind, encoder, seq, vector)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(segment_key) DO UPDATE SET
		kind = excluded.kind,
		encoder = excluded.encoder,
		seq = excluded.seq,
		vector = excluded.vector`

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putEntry(ctx context.Context, db execer, entry domain.IndexEntry, seq uint64) error {
	_, err := db.ExecContext(ctx, putEntrySQL,
		entry.Key.String(), entry.Key.DocumentID, entry.Key.PageNumber, entry.Key.SegmentIndex,
		string(entry.Metadata.Kind), entry.Metadata.Encoder, int64(seq), float32SliceToBytes(entry.Vector))
	if err != nil {
		return fmt.Errorf("saving index entry: %w", err)
	}
	return nil
}

// PutEntry stores or replaces an entry with its insertion sequence.
func (j *indexJournal) PutEntry(ctx context.Context, entry domain.IndexEntry, seq uint64) error {
	return putEntry(ctx, j.store.db, entry, seq)
}

// DeleteEntry removes the entry for key.
func (j *indexJournal) DeleteEntry(ctx context.Context, key domain.SegmentKey) error {
	if _, err := j.store.db.ExecContext(ctx, "DELETE FROM index_entries WHERE segment_key = ?", key.String()); err != nil {
		return fmt.Errorf("deleting index entry: %w", err)
	}
	return nil
}

// LoadEntries calls fn for every stored entry in sequence order.
func (j *indexJournal) LoadEntries(ctx context.Context, fn func(domain.IndexEntry, uint64) error) error {
	rows, err := j.store.db.QueryContext(ctx, `
		SELECT document_id, page_number, segment_index, kind, encoder, seq, vector
		FROM index_entries ORDER BY seq
	`)
	if err != nil {
		return fmt.Errorf("querying index entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry domain.IndexEntry
			kind  string
			seq   int64
			blob  []byte
		)
		if err := rows.Scan(&entry.Key.DocumentID, &entry.Key.PageNumber, &entry.Key.SegmentIndex,
			&kind, &entry.Metadata.Encoder, &seq, &blob); err != nil {
			return fmt.Errorf("scanning index entry: %w", err)
		}
		entry.Vector = bytesToFloat32Slice(blob)
		entry.Metadata.DocumentID = entry.Key.DocumentID
		entry.Metadata.PageNumber = entry.Key.PageNumber
		entry.Metadata.Kind = domain.SegmentKind(kind)

		if err := fn(entry, uint64(seq)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating index entries: %w", err)
	}
	return nil
}

// Replace swaps every entry for entries in one transaction. Readers see
// either the old entries or the new ones.
func (j *indexJournal) Replace(ctx context.Context, entries []driven.JournalEntry) error {
	return j.store.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM index_entries"); err != nil {
			return fmt.Errorf("clearing index entries: %w", err)
		}
		for _, e := range entries {
			if err := putEntry(ctx, tx, e.Entry, e.Seq); err != nil {
				return err
			}
		}
		return nil
	})
}
