package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// cardStore implements driven.CardStore.
type cardStore struct {
	store *Store
}

var _ driven.CardStore = (*cardStore)(nil)

// PublishCard stores a card, its fields and audit trail in one transaction.
// A reader never sees a card without its citations.
func (s *cardStore) PublishCard(ctx context.Context, card *domain.BondInformationCard) error {
	if card.ID == "" {
		return fmt.Errorf("%w: card has no id", domain.ErrInvalidInput)
	}

	scopeJSON, err := json.Marshal(card.Scope)
	if err != nil {
		return fmt.Errorf("marshalling scope: %w", err)
	}
	kpisJSON, err := json.Marshal(card.KPIs)
	if err != nil {
		return fmt.Errorf("marshalling kpis: %w", err)
	}
	var greenJSON any
	if card.Greenwashing != nil {
		data, err := json.Marshal(card.Greenwashing)
		if err != nil {
			return fmt.Errorf("marshalling greenwashing report: %w", err)
		}
		greenJSON = string(data)
	}

	return s.store.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO cards (id, query, scope_json, model, attempts, kpis_json, greenwashing_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, card.ID, card.Query, string(scopeJSON), card.Model, card.Attempts,
			string(kpisJSON), greenJSON, card.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("saving card: %w", err)
		}

		for i, f := range card.Fields {
			segJSON, err := json.Marshal(f.Segments)
			if err != nil {
				return fmt.Errorf("marshalling segments: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO card_fields (card_id, position, name, status, value, note, segments_json)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, card.ID, i, string(f.Name), string(f.Status), f.Value, f.Note, string(segJSON)); err != nil {
				return fmt.Errorf("saving card field %s: %w", f.Name, err)
			}
		}

		for field, citations := range card.Audit {
			for i, c := range citations {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO card_citations (card_id, field, position, document_id, page_number)
					VALUES (?, ?, ?, ?, ?)
				`, card.ID, field, i, c.DocumentID, c.PageNumber); err != nil {
					return fmt.Errorf("saving citation for %s: %w", field, err)
				}
			}
		}
		return nil
	})
}

// GetCard retrieves a card by ID.
func (s *cardStore) GetCard(ctx context.Context, id string) (*domain.BondInformationCard, error) {
	row := s.store.db.QueryRowContext(ctx, `
		SELECT id, query, scope_json, model, attempts, kpis_json, greenwashing_json, created_at
		FROM cards WHERE id = ?
	`, id)

	card, err := scanCard(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadFields(ctx, card); err != nil {
		return nil, err
	}
	if err := s.loadAudit(ctx, card); err != nil {
		return nil, err
	}
	return card, nil
}

// ListCards returns the most recent cards, newest first.
func (s *cardStore) ListCards(ctx context.Context, limit int) ([]domain.BondInformationCard, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT id FROM cards ORDER BY created_at DESC, id LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying cards: %w", err)
	}

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning card id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating cards: %w", err)
	}

	cards := make([]domain.BondInformationCard, 0, len(ids))
	for _, id := range ids {
		card, err := s.GetCard(ctx, id)
		if err != nil {
			return nil, err
		}
		cards = append(cards, *card)
	}
	return cards, nil
}

func scanCard(row *sql.Row) (*domain.BondInformationCard, error) {
	var card domain.BondInformationCard
	var scopeJSON string
	var kpisJSON, greenJSON sql.NullString
	if err := row.Scan(&card.ID, &card.Query, &scopeJSON, &card.Model, &card.Attempts,
		&kpisJSON, &greenJSON, &card.CreatedAt); err != nil {
		if isNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("scanning card: %w", err)
	}

	if err := json.Unmarshal([]byte(scopeJSON), &card.Scope); err != nil {
		return nil, fmt.Errorf("unmarshaling scope: %w", err)
	}
	if kpisJSON.Valid && kpisJSON.String != "" {
		if err := json.Unmarshal([]byte(kpisJSON.String), &card.KPIs); err != nil {
			return nil, fmt.Errorf("unmarshaling kpis: %w", err)
		}
	}
	if greenJSON.Valid && greenJSON.String != "" {
		var report domain.GreenwashingReport
		if err := json.Unmarshal([]byte(greenJSON.String), &report); err != nil {
			return nil, fmt.Errorf("unmarshaling greenwashing report: %w", err)
		}
		card.Greenwashing = &report
	}
	return &card, nil
}

func (s *cardStore) loadFields(ctx context.Context, card *domain.BondInformationCard) error {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT name, status, value, note, segments_json
		FROM card_fields WHERE card_id = ? ORDER BY position
	`, card.ID)
	if err != nil {
		return fmt.Errorf("querying card fields: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f domain.CardField
		var name, status string
		var segJSON sql.NullString
		if err := rows.Scan(&name, &status, &f.Value, &f.Note, &segJSON); err != nil {
			return fmt.Errorf("scanning card field: %w", err)
		}
		f.Name = domain.FieldName(name)
		f.Status = domain.FieldStatus(status)
		if segJSON.Valid && segJSON.String != "" {
			if err := json.Unmarshal([]byte(segJSON.String), &f.Segments); err != nil {
				return fmt.Errorf("unmarshaling field segments: %w", err)
			}
		}
		card.Fields = append(card.Fields, f)
	}
	return rows.Err()
}

func (s *cardStore) loadAudit(ctx context.Context, card *domain.BondInformationCard) error {
	rows, err := s.store.db.QueryContext(ctx, `
		SELECT field, document_id, page_number
		FROM card_citations WHERE card_id = ? ORDER BY field, position
	`, card.ID)
	if err != nil {
		return fmt.Errorf("querying card citations: %w", err)
	}
	defer rows.Close()

	card.Audit = domain.AuditTrail{}
	for rows.Next() {
		var field string
		var c domain.Citation
		if err := rows.Scan(&field, &c.DocumentID, &c.PageNumber); err != nil {
			return fmt.Errorf("scanning citation: %w", err)
		}
		card.Audit[field] = append(card.Audit[field], c)
	}
	return rows.Err()
}
