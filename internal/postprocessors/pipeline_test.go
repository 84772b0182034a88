package postprocessors

import (
	"context"
	"errors"
	"testing"

	"github.com/custodia-labs/deskrag/internal/core/domain"
)

// mockProcessor is a test processor that appends or replaces segments.
type mockProcessor struct {
	name   string
	extra  []domain.Segment
	err    error
	called int
}

func (m *mockProcessor) Name() string {
	return m.name
}

func (m *mockProcessor) Process(_ context.Context, _ *domain.Page, segs []domain.Segment) ([]domain.Segment, error) {
	m.called++
	if m.err != nil {
		return nil, m.err
	}
	return append(segs, m.extra...), nil
}

func testDoc() *domain.Document {
	return &domain.Document{
		ID: "doc_1",
		Pages: []domain.Page{
			{Number: 1, Segments: []domain.Segment{{Kind: domain.SegmentKindNarrative, Text: "a"}}},
			{Number: 2, Segments: []domain.Segment{{Kind: domain.SegmentKindNarrative, Text: "b"}}},
		},
	}
}

func TestNewPipeline(t *testing.T) {
	p := NewPipeline()
	if p == nil {
		t.Fatal("expected non-nil pipeline")
	}
	if p.Len() != 0 {
		t.Errorf("expected 0 processors, got %d", p.Len())
	}
}

func TestPipeline_Add(t *testing.T) {
	p := NewPipeline()
	p.Add(&mockProcessor{name: "test"})

	if p.Len() != 1 {
		t.Errorf("expected 1 processor, got %d", p.Len())
	}
	if p.Names()[0] != "test" {
		t.Errorf("unexpected names %v", p.Names())
	}
}

func TestPipeline_Process_NilDocument(t *testing.T) {
	if err := NewPipeline().Process(context.Background(), nil); err == nil {
		t.Error("expected error for nil document")
	}
}

func TestPipeline_Process_RunsEveryPageAndRenumbers(t *testing.T) {
	proc := &mockProcessor{name: "extra", extra: []domain.Segment{{Kind: domain.SegmentKindTable}}}
	doc := testDoc()

	if err := NewPipeline(proc).Process(context.Background(), doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proc.called != 2 {
		t.Errorf("expected 2 calls, got %d", proc.called)
	}
	for _, page := range doc.Pages {
		if len(page.Segments) != 2 {
			t.Fatalf("page %d: expected 2 segments, got %d", page.Number, len(page.Segments))
		}
		for i, seg := range page.Segments {
			want := domain.SegmentKey{DocumentID: "doc_1", PageNumber: page.Number, SegmentIndex: i}
			if seg.Key != want {
				t.Errorf("key = %v, want %v", seg.Key, want)
			}
		}
	}
}

func TestPipeline_Process_StopsOnError(t *testing.T) {
	failing := &mockProcessor{name: "broken", err: errors.New("boom")}
	after := &mockProcessor{name: "after"}

	err := NewPipeline(failing, after).Process(context.Background(), testDoc())
	if err == nil {
		t.Fatal("expected error")
	}
	if after.called != 0 {
		t.Error("later processors should not run after an error")
	}
}

func TestDefaults_BuildPipeline(t *testing.T) {
	r := NewRegistry()
	RegisterDefaults(r)

	p, err := r.BuildPipeline(domain.DefaultPipelineConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := p.Names(); len(got) != 2 || got[0] != "units" || got[1] != "caption" {
		t.Errorf("unexpected processors %v", got)
	}
}
