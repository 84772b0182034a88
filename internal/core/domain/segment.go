package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// SegmentKind classifies a segment's content.
type SegmentKind string

// Segment kinds.
const (
	SegmentKindNarrative SegmentKind = "narrative"
	SegmentKindTable     SegmentKind = "table"
)

// IsValid returns true if the kind is recognised.
func (k SegmentKind) IsValid() bool {
	return k == SegmentKindNarrative || k == SegmentKindTable
}

// SegmentKey is the stable provenance anchor of a segment.
type SegmentKey struct {
	DocumentID   string
	PageNumber   int
	SegmentIndex int
}

// String renders the key as "doc_x/p2/s0".
func (k SegmentKey) String() string {
	return fmt.Sprintf("%s/p%d/s%d", k.DocumentID, k.PageNumber, k.SegmentIndex)
}

// IsZero reports whether the key is unset.
func (k SegmentKey) IsZero() bool {
	return k.DocumentID == "" && k.PageNumber == 0 && k.SegmentIndex == 0
}

// ParseSegmentKey parses the String form of a key.
func ParseSegmentKey(s string) (SegmentKey, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || parts[0] == "" ||
		!strings.HasPrefix(parts[1], "p") || !strings.HasPrefix(parts[2], "s") {
		return SegmentKey{}, fmt.Errorf("%w: segment key %q", ErrInvalidInput, s)
	}
	page, err := strconv.Atoi(parts[1][1:])
	if err != nil || page < 1 {
		return SegmentKey{}, fmt.Errorf("%w: segment key %q: bad page", ErrInvalidInput, s)
	}
	idx, err := strconv.Atoi(parts[2][1:])
	if err != nil || idx < 0 {
		return SegmentKey{}, fmt.Errorf("%w: segment key %q: bad index", ErrInvalidInput, s)
	}
	return SegmentKey{DocumentID: parts[0], PageNumber: page, SegmentIndex: idx}, nil
}

// TableGrid is an ordered grid of cells.
type TableGrid struct {
	// Rows are ordered top to bottom; cells left to right.
	Rows [][]string

	// HasHeader is true when Rows[0] is a header row.
	HasHeader bool
}

// Header returns the header row, or nil.
func (t *TableGrid) Header() []string {
	if t == nil || !t.HasHeader || len(t.Rows) == 0 {
		return nil
	}
	return t.Rows[0]
}

// Body returns the rows after the header.
func (t *TableGrid) Body() [][]string {
	if t == nil {
		return nil
	}
	if t.HasHeader && len(t.Rows) > 0 {
		return t.Rows[1:]
	}
	return t.Rows
}

// Segment is the smallest addressable unit of extracted content.
type Segment struct {
	// Key is the provenance anchor.
	Key SegmentKey

	// Kind is narrative or table.
	Kind SegmentKind

	// Text holds narrative content.
	Text string

	// Table holds table content.
	Table *TableGrid

	// Caption is the nearest preceding narrative line for tables.
	Caption string

	// ParseDegraded marks content recovered from a page that failed to parse.
	ParseDegraded bool

	// DegradedReason explains ParseDegraded.
	DegradedReason string
}

// Linearize renders a segment as canonical text for embedding and prompting.
// Tables are rendered row-major with the header repeated for each body row:
//
//	Caption: Coupon schedule
//	Period: 1 | Rate: 4.25%
//	Period: 2 | Rate: 4.50%
func (s *Segment) Linearize() string {
	if s.Kind != SegmentKindTable || s.Table == nil {
		return s.Text
	}

	var b strings.Builder
	if s.Caption != "" {
		b.WriteString("Caption: ")
		b.WriteString(s.Caption)
		b.WriteByte('\n')
	}

	header := s.Table.Header()
	for i, row := range s.Table.Body() {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, cell := range row {
			if j > 0 {
				b.WriteString(" | ")
			}
			if j < len(header) && header[j] != "" {
				b.WriteString(header[j])
				b.WriteString(": ")
			}
			b.WriteString(cell)
		}
	}
	if len(s.Table.Body()) == 0 && len(header) > 0 {
		b.WriteString(strings.Join(header, " | "))
	}
	return b.String()
}
