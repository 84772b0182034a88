package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentKey_RoundTrip(t *testing.T) {
	key := SegmentKey{DocumentID: "doc_abc", PageNumber: 2, SegmentIndex: 3}

	assert.Equal(t, "doc_abc/p2/s3", key.String())

	parsed, err := ParseSegmentKey(key.String())
	require.NoError(t, err)
	assert.Equal(t, key, parsed)
}

func TestParseSegmentKey_Invalid(t *testing.T) {
	tests := []string{
		"",
		"doc_abc",
		"doc_abc/2/s3",
		"doc_abc/p0/s1",
		"doc_abc/p2/sx",
		"/p2/s1",
		"doc_abc/p2/s-1",
	}

	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			_, err := ParseSegmentKey(in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestSegment_Linearize_Narrative(t *testing.T) {
	seg := Segment{Kind: SegmentKindNarrative, Text: "The notes bear interest."}
	assert.Equal(t, "The notes bear interest.", seg.Linearize())
}

func TestSegment_Linearize_TableRepeatsHeader(t *testing.T) {
	seg := Segment{
		Kind:    SegmentKindTable,
		Caption: "Coupon schedule",
		Table: &TableGrid{
			HasHeader: true,
			Rows: [][]string{
				{"Period", "Rate"},
				{"1", "4.25%"},
				{"2", "4.50%"},
			},
		},
	}

	want := "Caption: Coupon schedule\nPeriod: 1 | Rate: 4.25%\nPeriod: 2 | Rate: 4.50%"
	assert.Equal(t, want, seg.Linearize())
}

func TestSegment_Linearize_TableWithoutHeader(t *testing.T) {
	seg := Segment{
		Kind:  SegmentKindTable,
		Table: &TableGrid{Rows: [][]string{{"ISIN", "XS0000000001"}, {"Currency", "EUR"}}},
	}

	assert.Equal(t, "ISIN | XS0000000001\nCurrency | EUR", seg.Linearize())
}

func TestTableGrid_HeaderAndBody(t *testing.T) {
	var nilGrid *TableGrid
	assert.Nil(t, nilGrid.Header())
	assert.Nil(t, nilGrid.Body())

	grid := &TableGrid{HasHeader: true, Rows: [][]string{{"a"}, {"b"}}}
	assert.Equal(t, []string{"a"}, grid.Header())
	assert.Equal(t, [][]string{{"b"}}, grid.Body())
}

func TestDocument_Summarise(t *testing.T) {
	doc := &Document{
		ID:         "doc_1",
		SourceName: "bond.pdf",
		Pages: []Page{
			{Number: 1, Segments: []Segment{{Kind: SegmentKindNarrative}}},
			{Number: 2, Segments: []Segment{
				{Kind: SegmentKindTable},
				{Kind: SegmentKindNarrative, ParseDegraded: true},
			}},
		},
	}

	s := doc.Summarise()
	assert.Equal(t, 2, s.Pages)
	assert.Equal(t, 3, s.Segments)
	assert.Equal(t, 1, s.Tables)
	assert.Equal(t, 1, s.Degraded)
	assert.Len(t, doc.Segments(), 3)
}

func TestDocumentIDFromChecksum(t *testing.T) {
	sum := Checksum([]byte("%PDF-1.4"))
	assert.Len(t, sum, 64)

	id := DocumentIDFromChecksum(sum)
	assert.Equal(t, "doc_"+sum[:16], id)
	assert.Equal(t, id, DocumentIDFromChecksum(Checksum([]byte("%PDF-1.4"))))
}

func TestRetrievalFilter_Matches(t *testing.T) {
	meta := EntryMetadata{DocumentID: "doc_1", PageNumber: 2, Kind: SegmentKindTable}

	tests := []struct {
		name   string
		filter RetrievalFilter
		want   bool
	}{
		{"empty filter", RetrievalFilter{}, true},
		{"matching document", RetrievalFilter{DocumentID: "doc_1"}, true},
		{"other document", RetrievalFilter{DocumentID: "doc_2"}, false},
		{"matching kind", RetrievalFilter{Kinds: []SegmentKind{SegmentKindTable}}, true},
		{"other kind", RetrievalFilter{Kinds: []SegmentKind{SegmentKindNarrative}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(meta))
		})
	}
}
