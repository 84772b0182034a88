// Package units normalises measurement units in table cells so impact
// figures compare consistently across issuers.
package units

import (
	"context"
	"regexp"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

var replacements = []struct {
	pattern *regexp.Regexp
	unit    string
}{
	{regexp.MustCompile(`(?i)\b(?:tco2e?|co2e|tonnes? co2e?)\b`), "tCO2e"},
	{regexp.MustCompile(`(?i)\bgwh\b`), "GWh"},
	{regexp.MustCompile(`(?i)\bmwh\b`), "MWh"},
	{regexp.MustCompile(`(?i)\bmwp\b`), "MWp"},
	{regexp.MustCompile(`(?i)\bmw\b`), "MW"},
	{regexp.MustCompile(`(?i)\bm\^3\b|\bm³|\bm3\b`), "m3"},
}

// Processor rewrites unit spellings in table cells.
type Processor struct{}

// New creates a units processor.
func New() *Processor {
	return &Processor{}
}

// Name returns the processor name.
func (p *Processor) Name() string {
	return "units"
}

// Normalise rewrites known unit spellings in s.
func Normalise(s string) string {
	for _, r := range replacements {
		s = r.pattern.ReplaceAllString(s, r.unit)
	}
	return s
}

// Process normalises every table cell in place.
func (p *Processor) Process(_ context.Context, _ *domain.Page, segments []domain.Segment) ([]domain.Segment, error) {
	for i := range segments {
		grid := segments[i].Table
		if segments[i].Kind != domain.SegmentKindTable || grid == nil {
			continue
		}
		for _, row := range grid.Rows {
			for j := range row {
				row[j] = Normalise(row[j])
			}
		}
	}
	return segments, nil
}
