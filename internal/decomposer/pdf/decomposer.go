// Package pdf decomposes PDF files into page-addressable segments,
// separating tabular regions from narrative text using layout signals.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	pdfreader "github.com/ledongthuc/pdf"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// Verify interface compliance.
var _ driven.Decomposer = (*Decomposer)(nil)

// Default page size (US Letter) used when a page has no readable MediaBox.
const (
	defaultPageWidth  = 612
	defaultPageHeight = 792
)

// Decomposer splits PDF bytes into pages of narrative and table segments.
type Decomposer struct {
	cfg layoutConfig
}

// Option configures the decomposer.
type Option func(*Decomposer)

// WithCellGap sets the horizontal gap, in ems, that separates table cells.
func WithCellGap(ems float64) Option {
	return func(d *Decomposer) {
		if ems > 0 {
			d.cfg.CellGap = ems
		}
	}
}

// WithColumnTolerance sets how far, in points, aligned cells may drift.
func WithColumnTolerance(points float64) Option {
	return func(d *Decomposer) {
		if points > 0 {
			d.cfg.ColumnTolerance = points
		}
	}
}

// WithParagraphGap sets the gap, in line pitches, that splits narrative blocks.
func WithParagraphGap(pitches float64) Option {
	return func(d *Decomposer) {
		if pitches > 0 {
			d.cfg.ParagraphGap = pitches
		}
	}
}

// New creates a decomposer with the given options.
func New(opts ...Option) *Decomposer {
	d := &Decomposer{cfg: defaultLayoutConfig()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// pageSource abstracts the PDF reader so page extraction can be tested
// without PDF fixtures.
type pageSource interface {
	NumPage() int
	Layout(n int) (pageLayout, error)
	PlainText(n int) string
}

// Decompose opens raw as a PDF and decomposes every page.
// Only an unopenable container is fatal; pages that fail to parse become
// parse_degraded segments.
func (d *Decomposer) Decompose(ctx context.Context, name string, raw []byte) (*domain.Document, error) {
	src, err := openSource(raw)
	if err != nil {
		return nil, &domain.IngestionError{Source: name, Err: err}
	}
	checksum := domain.Checksum(raw)
	return d.decompose(ctx, name, checksum, src)
}

func (d *Decomposer) decompose(ctx context.Context, name, checksum string, src pageSource) (*domain.Document, error) {
	n := src.NumPage()
	if n < 1 {
		return nil, &domain.IngestionError{Source: name, Err: errors.New("document has no pages")}
	}

	doc := &domain.Document{
		ID:         domain.DocumentIDFromChecksum(checksum),
		SourceName: name,
		Checksum:   checksum,
		Pages:      make([]domain.Page, 0, n),
	}

	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("decompose %s: %w", name, err)
		}
		doc.Pages = append(doc.Pages, d.decomposePage(doc.ID, i, src))
	}

	logger.Debug("decomposed %s: %d pages, %d segments", name, n, doc.SegmentCount())
	return doc, nil
}

func (d *Decomposer) decomposePage(docID string, number int, src pageSource) domain.Page {
	layout, err := src.Layout(number)
	if err != nil {
		logger.Warn("page %d: %v", number, err)
		text := sanitize(src.PlainText(number))
		return domain.Page{
			Number: number,
			Width:  defaultPageWidth,
			Height: defaultPageHeight,
			Layout: domain.PageLayout{ParseError: err.Error()},
			Segments: []domain.Segment{{
				Key:            domain.SegmentKey{DocumentID: docID, PageNumber: number},
				Kind:           domain.SegmentKindNarrative,
				Text:           text,
				ParseDegraded:  true,
				DegradedReason: err.Error(),
			}},
		}
	}

	layout.Number = number
	segs, info := segmentsFor(docID, layout, d.cfg)
	for i := range segs {
		markInvalidText(&segs[i])
	}
	return domain.Page{
		Number:   number,
		Width:    layout.Width,
		Height:   layout.Height,
		Layout:   info,
		Segments: segs,
	}
}

func markInvalidText(seg *domain.Segment) {
	invalid := false
	clean := func(s string) string {
		c := sanitize(s)
		if c != s {
			invalid = true
		}
		return c
	}

	seg.Text = clean(seg.Text)
	if seg.Table != nil {
		for _, row := range seg.Table.Rows {
			for j := range row {
				row[j] = clean(row[j])
			}
		}
	}
	if invalid {
		seg.ParseDegraded = true
		seg.DegradedReason = "invalid text encoding replaced"
	}
}

func sanitize(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// readerSource reads pages through ledongthuc/pdf.
type readerSource struct {
	r *pdfreader.Reader
}

func openSource(raw []byte) (src *readerSource, err error) {
	head := raw
	if len(head) > 1024 {
		head = head[:1024]
	}
	if !bytes.Contains(head, []byte("%PDF-")) {
		return nil, errors.New("missing PDF header")
	}

	defer func() {
		if r := recover(); r != nil {
			src, err = nil, fmt.Errorf("corrupt container: %v", r)
		}
	}()

	r, err := pdfreader.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	return &readerSource{r: r}, nil
}

func (s *readerSource) NumPage() int {
	return s.r.NumPage()
}

func (s *readerSource) Layout(n int) (layout pageLayout, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("content stream: %v", r)
		}
	}()

	p := s.r.Page(n)
	if p.V.IsNull() {
		return pageLayout{}, errors.New("missing page object")
	}

	layout.Width, layout.Height = mediaBox(p)
	content := p.Content()
	for _, t := range content.Text {
		layout.Runs = append(layout.Runs, textRun{X: t.X, Y: t.Y, W: t.W, FontSize: t.FontSize, S: t.S})
	}
	for _, r := range content.Rect {
		height := math.Abs(r.Max.Y - r.Min.Y)
		width := math.Abs(r.Max.X - r.Min.X)
		if height <= 2 && width >= 20 {
			layout.Rules = append(layout.Rules, rule{
				X0: math.Min(r.Min.X, r.Max.X),
				X1: math.Max(r.Min.X, r.Max.X),
				Y:  (r.Min.Y + r.Max.Y) / 2,
			})
		}
	}
	return layout, nil
}

func (s *readerSource) PlainText(n int) (text string) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
		}
	}()

	p := s.r.Page(n)
	if p.V.IsNull() {
		return ""
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(text)
}

func mediaBox(p pdfreader.Page) (float64, float64) {
	box := p.V.Key("MediaBox")
	if box.IsNull() || box.Len() != 4 {
		return defaultPageWidth, defaultPageHeight
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return defaultPageWidth, defaultPageHeight
	}
	return w, h
}
