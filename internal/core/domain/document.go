package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Document represents an ingested PDF.
// A Document is immutable once indexed. Re-ingesting different bytes under
// the same source name produces a new Document with a higher Version.
type Document struct {
	// ID is derived from the checksum so identical bytes map to the same ID.
	ID string

	// SourceName is the original file name or path.
	SourceName string

	// Checksum is the hex SHA-256 of the source bytes.
	Checksum string

	// Version counts documents ingested under the same SourceName.
	Version int

	// Pages are ordered by page number.
	Pages []Page

	// IngestedAt is when decomposition completed.
	IngestedAt time.Time
}

// Page is a single 1-based page of a document.
type Page struct {
	// Number is the 1-based page number.
	Number int

	// Width and Height are the media box dimensions in points.
	Width  float64
	Height float64

	// Layout summarises the raw layout signals seen on the page.
	Layout PageLayout

	// Segments are ordered by reading order.
	Segments []Segment
}

// PageLayout records the raw layout data the decomposer worked from.
type PageLayout struct {
	// Lines is the number of text lines detected.
	Lines int

	// Rules is the number of horizontal ruled lines detected.
	Rules int

	// Tables is the number of table regions classified.
	Tables int

	// ParseError holds the reason a page could not be fully parsed.
	ParseError string
}

// Checksum returns the hex SHA-256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DocumentIDFromChecksum derives the stable document ID for a checksum.
func DocumentIDFromChecksum(checksum string) string {
	if len(checksum) > 16 {
		checksum = checksum[:16]
	}
	return "doc_" + checksum
}

// SegmentCount returns the total number of segments across all pages.
func (d *Document) SegmentCount() int {
	n := 0
	for i := range d.Pages {
		n += len(d.Pages[i].Segments)
	}
	return n
}

// Segments returns all segments in page then reading order.
func (d *Document) Segments() []Segment {
	out := make([]Segment, 0, d.SegmentCount())
	for i := range d.Pages {
		out = append(out, d.Pages[i].Segments...)
	}
	return out
}

// DocumentSummary is the result of an ingestion call.
type DocumentSummary struct {
	// DocumentID is the ingested document.
	DocumentID string

	// SourceName is the original file name.
	SourceName string

	// Checksum is the hex SHA-256 of the source bytes.
	Checksum string

	// Version counts documents ingested under the same SourceName.
	Version int

	// Pages is the number of pages decomposed.
	Pages int

	// Segments is the total number of segments.
	Segments int

	// Tables is the number of table segments.
	Tables int

	// Degraded is the number of segments flagged parse_degraded.
	Degraded int

	// Skipped is the number of segments not embedded due to text policy.
	Skipped int

	// AlreadyIndexed is true when the checksum was indexed before this call.
	AlreadyIndexed bool

	// IngestedAt is when the document was decomposed.
	IngestedAt time.Time
}

// Summarise builds a DocumentSummary for d.
func (d *Document) Summarise() DocumentSummary {
	s := DocumentSummary{
		DocumentID: d.ID,
		SourceName: d.SourceName,
		Checksum:   d.Checksum,
		Version:    d.Version,
		Pages:      len(d.Pages),
		IngestedAt: d.IngestedAt,
	}
	for i := range d.Pages {
		for j := range d.Pages[i].Segments {
			seg := &d.Pages[i].Segments[j]
			s.Segments++
			if seg.Kind == SegmentKindTable {
				s.Tables++
			}
			if seg.ParseDegraded {
				s.Degraded++
			}
		}
	}
	return s
}
