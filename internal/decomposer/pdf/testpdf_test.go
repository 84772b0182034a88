package pdf

import (
	"bytes"
	"fmt"
	"strings"
)

// glyphWidth is the advance, in thousandths of an em, of every glyph in
// the test font. At 10pt each character is 5pt wide.
const glyphWidth = 500

// testPage collects the drawing operations of one page.
type testPage struct {
	ops strings.Builder
}

func newTestPage() *testPage { return &testPage{} }

// text shows s at (x, y) in 10pt Helvetica.
func (p *testPage) text(x, y float64, s string) *testPage {
	fmt.Fprintf(&p.ops, "BT /F1 10 Tf %g %g Td (%s) Tj ET\n", x, y, escapeString(s))
	return p
}

// cells shows one text run per column on a single baseline.
func (p *testPage) cells(y float64, cols []float64, texts ...string) *testPage {
	for i, s := range texts {
		p.text(cols[i], y, s)
	}
	return p
}

// rule fills a half-point horizontal line.
func (p *testPage) rule(x, y, w float64) *testPage {
	fmt.Fprintf(&p.ops, "%g %g %g 0.5 re f\n", x, y, w)
	return p
}

func escapeString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`).Replace(s)
}

// buildPDF writes an uncompressed PDF with a catalog, a page tree, one
// Type1 Helvetica font and a content stream per page. Object offsets in
// the cross-reference table are exact.
func buildPDF(pages ...*testPage) []byte {
	const firstPage = 4
	count := firstPage - 1 + 2*len(pages)
	objects := make([]string, count+1)

	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", firstPage+2*i)
	}
	objects[1] = "<< /Type /Catalog /Pages 2 0 R >>"
	objects[2] = fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages))
	objects[3] = fmt.Sprintf(
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding"+
			" /FirstChar 32 /LastChar 126 /Widths [%s] >>",
		strings.TrimSpace(strings.Repeat(fmt.Sprintf("%d ", glyphWidth), 126-32+1)))

	for i, p := range pages {
		page, content := firstPage+2*i, firstPage+2*i+1
		objects[page] = fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792]"+
			" /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", content)
		stream := p.ops.String()
		objects[content] = fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(stream), stream)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, count+1)
	for n := 1; n <= count; n++ {
		offsets[n] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", n, objects[n])
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", count+1)
	for n := 1; n <= count; n++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[n])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", count+1, xref)
	return buf.Bytes()
}
