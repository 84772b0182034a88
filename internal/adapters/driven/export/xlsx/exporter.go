// Package xlsx exports published bond cards to an Excel workbook.
//
// The workbook has four sheets:
//
//   - Cards: one row per card with every field value
//   - Fields: one row per card field with status, note and cited pages
//   - KPIs: one row per impact indicator
//   - Audit: one row per (field, document, page) citation
package xlsx

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Exporter implements the interface.
var _ driven.CardExporter = (*Exporter)(nil)

// Sheet names.
const (
	SheetCards  = "Cards"
	SheetFields = "Fields"
	SheetKPIs   = "KPIs"
	SheetAudit  = "Audit"
)

// Exporter writes cards as an .xlsx workbook.
type Exporter struct{}

// New creates an exporter.
func New() *Exporter {
	return &Exporter{}
}

// ExportCards writes cards to w as a workbook.
func (e *Exporter) ExportCards(w io.Writer, cards []domain.BondInformationCard) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetCards); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	for _, name := range []string{SheetFields, SheetKPIs, SheetAudit} {
		if _, err := f.NewSheet(name); err != nil {
			return fmt.Errorf("create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DCE6F1"}},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}

	sheets := []struct {
		name string
		rows [][]any
	}{
		{SheetCards, cardRows(cards)},
		{SheetFields, fieldRows(cards)},
		{SheetKPIs, kpiRows(cards)},
		{SheetAudit, auditRows(cards)},
	}
	for _, sh := range sheets {
		if err := writeSheet(f, sh.name, sh.rows, header); err != nil {
			return err
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// writeSheet writes rows starting at A1, styles the header row and
// freezes it.
func writeSheet(f *excelize.File, sheet string, rows [][]any, headerStyle int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}

	cols := len(rows[0])
	last, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last+"1", headerStyle); err != nil {
		return fmt.Errorf("style %s header: %w", sheet, err)
	}
	if err := f.SetColWidth(sheet, "A", last, 22); err != nil {
		return fmt.Errorf("size %s columns: %w", sheet, err)
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func cardRows(cards []domain.BondInformationCard) [][]any {
	header := []any{"Card ID", "Query", "Document", "Created", "Model", "Attempts"}
	for _, name := range domain.CardFields {
		header = append(header, name.Label())
	}
	header = append(header, "Greenwashing score")

	rows := [][]any{header}
	for i := range cards {
		c := &cards[i]
		row := []any{c.ID, c.Query, c.Scope.DocumentID, c.CreatedAt.UTC().Format(time.RFC3339), c.Model, c.Attempts}
		for _, name := range domain.CardFields {
			value := ""
			if f := c.Field(name); f != nil && f.Status == domain.FieldPresent {
				value = f.Value
			}
			row = append(row, value)
		}
		if c.Greenwashing != nil {
			row = append(row, c.Greenwashing.Score)
		} else {
			row = append(row, "")
		}
		rows = append(rows, row)
	}
	return rows
}

func fieldRows(cards []domain.BondInformationCard) [][]any {
	rows := [][]any{{"Card ID", "Field", "Status", "Value", "Note", "Pages", "Segments"}}
	for i := range cards {
		c := &cards[i]
		for _, f := range c.Fields {
			rows = append(rows, []any{
				c.ID,
				f.Name.Label(),
				string(f.Status),
				f.Value,
				f.Note,
				joinPages(c.Audit.Pages(string(f.Name))),
				joinKeys(f.Segments),
			})
		}
	}
	return rows
}

func kpiRows(cards []domain.BondInformationCard) [][]any {
	rows := [][]any{{"Card ID", "KPI", "Value", "Unit", "Pages"}}
	for i := range cards {
		c := &cards[i]
		for _, k := range c.KPIs {
			rows = append(rows, []any{
				c.ID,
				k.Name,
				k.Value,
				k.Unit,
				joinPages(c.Audit.Pages(domain.KPIAuditKey(k.Name))),
			})
		}
	}
	return rows
}

// auditRows lists citations in card field order, then KPIs.
func auditRows(cards []domain.BondInformationCard) [][]any {
	rows := [][]any{{"Card ID", "Field", "Document", "Page"}}
	for i := range cards {
		c := &cards[i]
		keys := make([]string, 0, len(c.Audit))
		for _, f := range c.Fields {
			keys = append(keys, string(f.Name))
		}
		for _, k := range c.KPIs {
			keys = append(keys, domain.KPIAuditKey(k.Name))
		}
		for _, key := range keys {
			for _, cite := range c.Audit[key] {
				rows = append(rows, []any{c.ID, key, cite.DocumentID, cite.PageNumber})
			}
		}
	}
	return rows
}

func joinPages(pages []int) string {
	parts := make([]string, len(pages))
	for i, p := range pages {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ", ")
}

func joinKeys(keys []domain.SegmentKey) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.String()
	}
	return strings.Join(parts, ", ")
}
