package pdf

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// textRun is a positioned piece of text as emitted by the content stream.
// Y grows upwards, as in PDF user space.
type textRun struct {
	X, Y     float64
	W        float64
	FontSize float64
	S        string
}

// rule is a horizontal ruled line.
type rule struct {
	X0, X1 float64
	Y      float64
}

// pageLayout is the raw layout of one page.
type pageLayout struct {
	Number int
	Width  float64
	Height float64
	Runs   []textRun
	Rules  []rule
}

type cell struct {
	X0, X1 float64
	Text   string
}

type line struct {
	Y        float64
	FontSize float64
	Cells    []cell
}

func (l line) text() string {
	parts := make([]string, len(l.Cells))
	for i, c := range l.Cells {
		parts[i] = c.Text
	}
	return strings.Join(parts, " ")
}

// region is a run of consecutive lines of one kind.
type region struct {
	Kind   domain.SegmentKind
	Lines  []line
	Header bool
}

// layoutConfig holds the tolerances used to read a page.
type layoutConfig struct {
	// LineTolerance is the max Y distance, in points, for runs on one line.
	LineTolerance float64

	// WordGap is the gap, in ems, above which a space is inserted.
	WordGap float64

	// CellGap is the gap, in ems, above which a new cell starts.
	CellGap float64

	// ColumnTolerance is the max X distance, in points, for aligned cells.
	ColumnTolerance float64

	// ParagraphGap is the gap, in median line pitches, that splits narrative.
	ParagraphGap float64

	// MinTableRows is the minimum number of aligned rows for a table.
	MinTableRows int
}

func defaultLayoutConfig() layoutConfig {
	return layoutConfig{
		LineTolerance:   2.0,
		WordGap:         0.15,
		CellGap:         1.2,
		ColumnTolerance: 6.0,
		ParagraphGap:    1.8,
		MinTableRows:    2,
	}
}

// buildLines groups runs into lines top to bottom and splits each line into
// cells at wide horizontal gaps.
func buildLines(runs []textRun, cfg layoutConfig) []line {
	if len(runs) == 0 {
		return nil
	}

	sorted := make([]textRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Y != sorted[j].Y {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var groups [][]textRun
	current := []textRun{sorted[0]}
	anchorY := sorted[0].Y
	for _, r := range sorted[1:] {
		if math.Abs(anchorY-r.Y) <= cfg.LineTolerance {
			current = append(current, r)
			continue
		}
		groups = append(groups, current)
		current = []textRun{r}
		anchorY = r.Y
	}
	groups = append(groups, current)

	lines := make([]line, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g, func(i, j int) bool { return g[i].X < g[j].X })
		if l, ok := splitCells(g, cfg); ok {
			lines = append(lines, l)
		}
	}
	return lines
}

func splitCells(runs []textRun, cfg layoutConfig) (line, bool) {
	l := line{Y: runs[0].Y}
	var b strings.Builder
	var cur cell
	prevEnd := math.Inf(-1)
	open := false

	flush := func() {
		cur.Text = strings.TrimSpace(b.String())
		if cur.Text != "" {
			l.Cells = append(l.Cells, cur)
		}
		b.Reset()
		open = false
	}

	for _, r := range runs {
		size := r.FontSize
		if size <= 0 {
			size = 10
		}
		if size > l.FontSize {
			l.FontSize = size
		}
		if strings.TrimSpace(r.S) == "" {
			if open {
				b.WriteByte(' ')
			}
			prevEnd = math.Max(prevEnd, r.X+r.W)
			continue
		}

		gap := r.X - prevEnd
		switch {
		case !open:
			cur = cell{X0: r.X}
			open = true
		case gap > cfg.CellGap*size:
			flush()
			cur = cell{X0: r.X}
			open = true
		case gap > cfg.WordGap*size && !strings.HasSuffix(b.String(), " "):
			b.WriteByte(' ')
		}
		b.WriteString(r.S)
		cur.X1 = r.X + r.W
		prevEnd = r.X + r.W
	}
	if open {
		flush()
	}
	return l, len(l.Cells) > 0
}

// classify splits lines into table and narrative regions in reading order.
func classify(lines []line, rules []rule, cfg layoutConfig) []region {
	pitch := medianPitch(lines)

	var regions []region
	var narrative []line
	flushNarrative := func() {
		for _, block := range splitParagraphs(narrative, pitch, cfg) {
			regions = append(regions, region{Kind: domain.SegmentKindNarrative, Lines: block})
		}
		narrative = nil
	}

	for i := 0; i < len(lines); {
		j := i
		for j < len(lines) && len(lines[j].Cells) >= 2 {
			if j > i && lines[j-1].Y-lines[j].Y > 2.5*pitch && pitch > 0 {
				break
			}
			j++
		}
		if j-i >= cfg.MinTableRows && isTable(lines[i:j], rules, cfg) {
			flushNarrative()
			block := lines[i:j]
			regions = append(regions, region{
				Kind:   domain.SegmentKindTable,
				Lines:  block,
				Header: hasHeader(block, rules),
			})
			i = j
			continue
		}
		narrative = append(narrative, lines[i])
		i++
	}
	flushNarrative()
	return regions
}

// isTable decides whether a run of multi-cell lines is a grid, from
// column alignment and enclosing rules.
func isTable(block []line, rules []rule, cfg layoutConfig) bool {
	anchors := columnAnchors(block, cfg.ColumnTolerance, 2)
	if len(anchors) >= 2 {
		aligned := 0
		for _, l := range block {
			hits := 0
			for _, c := range l.Cells {
				if nearestAnchor(anchors, c.X0, cfg.ColumnTolerance) >= 0 {
					hits++
				}
			}
			if hits >= 2 && hits == len(l.Cells) {
				aligned++
			}
		}
		if aligned >= cfg.MinTableRows && float64(aligned)/float64(len(block)) >= 0.6 {
			return true
		}
	}
	return enclosingRules(block, rules) >= 2
}

// columnAnchors clusters cell start positions that occur at least minCount times.
func columnAnchors(block []line, tol float64, minCount int) []float64 {
	var xs []float64
	for _, l := range block {
		for _, c := range l.Cells {
			xs = append(xs, c.X0)
		}
	}
	sort.Float64s(xs)

	var anchors []float64
	for i := 0; i < len(xs); {
		j := i + 1
		sum := xs[i]
		for j < len(xs) && xs[j]-xs[i] <= tol {
			sum += xs[j]
			j++
		}
		if j-i >= minCount {
			anchors = append(anchors, sum/float64(j-i))
		}
		i = j
	}
	return anchors
}

func nearestAnchor(anchors []float64, x, tol float64) int {
	best, bestDist := -1, tol
	for i, a := range anchors {
		if d := math.Abs(a - x); d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func enclosingRules(block []line, rules []rule) int {
	top := block[0].Y + block[0].FontSize*2
	bottom := block[len(block)-1].Y - block[len(block)-1].FontSize*2
	n := 0
	for _, r := range rules {
		if r.Y <= top && r.Y >= bottom {
			n++
		}
	}
	return n
}

// hasHeader flags the first row as a header when a rule sits directly
// under it, or when it has no numbers while most body rows do.
func hasHeader(block []line, rules []rule) bool {
	if len(block) < 2 {
		return false
	}
	first, second := block[0], block[1]
	for _, r := range rules {
		if r.Y < first.Y && r.Y > second.Y+second.FontSize*0.5 {
			return true
		}
	}

	if lineHasNumber(first) {
		return false
	}
	numeric := 0
	for _, l := range block[1:] {
		if lineHasNumber(l) {
			numeric++
		}
	}
	return numeric*2 >= len(block)-1
}

func lineHasNumber(l line) bool {
	for _, c := range l.Cells {
		for _, r := range c.Text {
			if unicode.IsDigit(r) {
				return true
			}
		}
	}
	return false
}

func medianPitch(lines []line) float64 {
	if len(lines) < 2 {
		return 0
	}
	gaps := make([]float64, 0, len(lines)-1)
	for i := 1; i < len(lines); i++ {
		gaps = append(gaps, lines[i-1].Y-lines[i].Y)
	}
	sort.Float64s(gaps)
	return gaps[len(gaps)/2]
}

func splitParagraphs(lines []line, pitch float64, cfg layoutConfig) [][]line {
	if len(lines) == 0 {
		return nil
	}
	var blocks [][]line
	start := 0
	for i := 1; i < len(lines); i++ {
		if pitch > 0 && lines[i-1].Y-lines[i].Y > cfg.ParagraphGap*pitch {
			blocks = append(blocks, lines[start:i])
			start = i
		}
	}
	return append(blocks, lines[start:])
}

// toGrid maps a table region's cells onto shared columns.
func toGrid(r region, tol float64) *domain.TableGrid {
	anchors := columnAnchors(r.Lines, tol, 1)
	if len(anchors) == 0 {
		return &domain.TableGrid{}
	}

	grid := &domain.TableGrid{HasHeader: r.Header}
	for _, l := range r.Lines {
		row := make([]string, len(anchors))
		for _, c := range l.Cells {
			col := nearestAnchor(anchors, c.X0, math.Inf(1))
			if row[col] != "" {
				row[col] += " "
			}
			row[col] += c.Text
		}
		grid.Rows = append(grid.Rows, row)
	}
	return grid
}

// segmentsFor turns a page layout into ordered segments.
func segmentsFor(docID string, layout pageLayout, cfg layoutConfig) ([]domain.Segment, domain.PageLayout) {
	lines := buildLines(layout.Runs, cfg)
	regions := classify(lines, layout.Rules, cfg)

	info := domain.PageLayout{Lines: len(lines), Rules: len(layout.Rules)}
	key := func(i int) domain.SegmentKey {
		return domain.SegmentKey{DocumentID: docID, PageNumber: layout.Number, SegmentIndex: i}
	}

	if len(regions) == 0 {
		return []domain.Segment{{Key: key(0), Kind: domain.SegmentKindNarrative}}, info
	}

	segs := make([]domain.Segment, 0, len(regions))
	for i, r := range regions {
		seg := domain.Segment{Key: key(i), Kind: r.Kind}
		if r.Kind == domain.SegmentKindTable {
			seg.Table = toGrid(r, cfg.ColumnTolerance)
			info.Tables++
		} else {
			texts := make([]string, len(r.Lines))
			for j, l := range r.Lines {
				texts[j] = l.text()
			}
			seg.Text = strings.Join(texts, "\n")
		}
		segs = append(segs, seg)
	}
	return segs, info
}
