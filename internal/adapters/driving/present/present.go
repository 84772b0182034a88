// Package present converts domain values into the JSON views shared by the
// CLI, MCP server and HTTP API.
package present

import (
	"fmt"
	"time"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// Card is the JSON view of a published bond information card.
type Card struct {
	ID           string                `json:"id"`
	Query        string                `json:"query"`
	DocumentID   string                `json:"document_id,omitempty"`
	Fields       []Field               `json:"fields"`
	KPIs         []KPI                 `json:"kpis"`
	Greenwashing *Greenwashing         `json:"greenwashing,omitempty"`
	Audit        map[string][]Citation `json:"audit"`
	Model        string                `json:"model"`
	Attempts     int                   `json:"attempts"`
	CreatedAt    string                `json:"created_at"`
}

// Field is one card field with the pages that support it.
type Field struct {
	Name     string   `json:"name"`
	Label    string   `json:"label"`
	Status   string   `json:"status"`
	Value    string   `json:"value,omitempty"`
	Note     string   `json:"note,omitempty"`
	Segments []string `json:"segments"`
	Pages    []int    `json:"pages"`
}

// KPI is an impact indicator with the pages that support it.
type KPI struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Unit     string   `json:"unit,omitempty"`
	Segments []string `json:"segments"`
	Pages    []int    `json:"pages"`
}

// Greenwashing is the claim verification summary.
type Greenwashing struct {
	Score       float64  `json:"score"`
	Claims      int      `json:"claims"`
	Implemented int      `json:"implemented"`
	Alerts      []string `json:"alerts,omitempty"`
}

// Citation is a (document, page) pair.
type Citation struct {
	DocumentID string `json:"document_id"`
	Page       int    `json:"page"`
}

// Document is the JSON view of an ingested document.
type Document struct {
	ID             string `json:"id"`
	SourceName     string `json:"source_name"`
	Checksum       string `json:"checksum"`
	Version        int    `json:"version"`
	Pages          int    `json:"pages"`
	Segments       int    `json:"segments"`
	Tables         int    `json:"tables"`
	Degraded       int    `json:"degraded"`
	Skipped        int    `json:"skipped"`
	AlreadyIndexed bool   `json:"already_indexed,omitempty"`
	IngestedAt     string `json:"ingested_at"`
}

// Status is the JSON view of an ingestion run.
type Status struct {
	DocumentID       string `json:"document_id"`
	RunID            string `json:"run_id"`
	SourceName       string `json:"source_name"`
	Phase            string `json:"phase"`
	SegmentsTotal    int    `json:"segments_total"`
	SegmentsEmbedded int    `json:"segments_embedded"`
	SegmentsDegraded int    `json:"segments_degraded"`
	SegmentsSkipped  int    `json:"segments_skipped"`
	Error            string `json:"error,omitempty"`
	StartedAt        string `json:"started_at"`
	CompletedAt      string `json:"completed_at,omitempty"`
}

// FromCard builds the card view. Field and KPI pages come from the audit trail.
func FromCard(c *domain.BondInformationCard) Card {
	out := Card{
		ID:         c.ID,
		Query:      c.Query,
		DocumentID: c.Scope.DocumentID,
		Fields:     make([]Field, len(c.Fields)),
		KPIs:       make([]KPI, len(c.KPIs)),
		Audit:      make(map[string][]Citation, len(c.Audit)),
		Model:      c.Model,
		Attempts:   c.Attempts,
		CreatedAt:  timestamp(c.CreatedAt),
	}

	for i := range c.Fields {
		f := &c.Fields[i]
		out.Fields[i] = Field{
			Name:     string(f.Name),
			Label:    f.Name.Label(),
			Status:   string(f.Status),
			Value:    f.Value,
			Note:     f.Note,
			Segments: keyStrings(f.Segments),
			Pages:    c.Audit.Pages(string(f.Name)),
		}
	}
	for i := range c.KPIs {
		k := &c.KPIs[i]
		out.KPIs[i] = KPI{
			Name:     k.Name,
			Value:    k.Value,
			Unit:     k.Unit,
			Segments: keyStrings(k.Segments),
			Pages:    c.Audit.Pages(domain.KPIAuditKey(k.Name)),
		}
	}
	for field, cites := range c.Audit {
		views := make([]Citation, len(cites))
		for i, cite := range cites {
			views[i] = Citation{DocumentID: cite.DocumentID, Page: cite.PageNumber}
		}
		out.Audit[field] = views
	}
	if g := c.Greenwashing; g != nil {
		out.Greenwashing = &Greenwashing{
			Score:       g.Score,
			Claims:      g.Claims,
			Implemented: g.Implemented,
			Alerts:      g.Alerts,
		}
	}
	return out
}

// FromSummary builds the document view.
func FromSummary(s *domain.DocumentSummary) Document {
	return Document{
		ID:             s.DocumentID,
		SourceName:     s.SourceName,
		Checksum:       s.Checksum,
		Version:        s.Version,
		Pages:          s.Pages,
		Segments:       s.Segments,
		Tables:         s.Tables,
		Degraded:       s.Degraded,
		Skipped:        s.Skipped,
		AlreadyIndexed: s.AlreadyIndexed,
		IngestedAt:     timestamp(s.IngestedAt),
	}
}

// FromSummaries builds document views in order.
func FromSummaries(summaries []domain.DocumentSummary) []Document {
	out := make([]Document, len(summaries))
	for i := range summaries {
		out[i] = FromSummary(&summaries[i])
	}
	return out
}

// FromState builds the status view.
func FromState(s *domain.IngestionState) Status {
	status := Status{
		DocumentID:       s.DocumentID,
		RunID:            s.RunID,
		SourceName:       s.SourceName,
		Phase:            string(s.Phase),
		SegmentsTotal:    s.SegmentsTotal,
		SegmentsEmbedded: s.SegmentsEmbedded,
		SegmentsDegraded: s.SegmentsDegraded,
		SegmentsSkipped:  s.SegmentsSkipped,
		Error:            s.Error,
		StartedAt:        timestamp(s.StartedAt),
	}
	if s.CompletedAt != nil {
		status.CompletedAt = timestamp(*s.CompletedAt)
	}
	return status
}

// ParseKinds converts kind names to segment kinds, rejecting unknown names.
func ParseKinds(names []string) ([]domain.SegmentKind, error) {
	if len(names) == 0 {
		return nil, nil
	}
	kinds := make([]domain.SegmentKind, 0, len(names))
	for _, name := range names {
		kind := domain.SegmentKind(name)
		if !kind.IsValid() {
			return nil, fmt.Errorf("%w: unknown segment kind %q", domain.ErrInvalidInput, name)
		}
		kinds = append(kinds, kind)
	}
	return kinds, nil
}

// timestamp renders t as RFC 3339 in UTC, or "" for the zero time.
func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func keyStrings(keys []domain.SegmentKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
