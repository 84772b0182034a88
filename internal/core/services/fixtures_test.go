package services

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/adapters/driven/config/file"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/embedding/hashing"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/search/bm25"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/deskrag/internal/adapters/driven/vectorindex"
	memindex "github.com/custodia-labs/deskrag/internal/adapters/driven/vectorindex/memory"
	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

// --- Mock implementations ---

// fakeDecomposer builds documents from a page template instead of parsing PDFs.
type fakeDecomposer struct {
	pages func(docID string) []domain.Page
	fail  map[string]error
	delay time.Duration
	calls atomic.Int32
}

func newFakeDecomposer() *fakeDecomposer {
	return &fakeDecomposer{pages: bondPages, fail: map[string]error{}}
}

func (f *fakeDecomposer) Decompose(ctx context.Context, name string, raw []byte) (*domain.Document, error) {
	f.calls.Add(1)
	if err, ok := f.fail[name]; ok {
		return nil, &domain.IngestionError{Source: name, Err: err}
	}
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	checksum := domain.Checksum(raw)
	id := domain.DocumentIDFromChecksum(checksum)
	return &domain.Document{ID: id, SourceName: name, Checksum: checksum, Pages: f.pages(id)}, nil
}

// bondPages is a three-page bond document with the key terms table on page 2.
func bondPages(docID string) []domain.Page {
	key := func(page, idx int) domain.SegmentKey {
		return domain.SegmentKey{DocumentID: docID, PageNumber: page, SegmentIndex: idx}
	}
	return []domain.Page{
		{Number: 1, Segments: []domain.Segment{{
			Key:  key(1, 0),
			Kind: domain.SegmentKindNarrative,
			Text: "Acme Energy plc Green Bond Framework. The issuer is Acme Energy plc.",
		}}},
		{Number: 2, Segments: []domain.Segment{
			{
				Key:  key(2, 0),
				Kind: domain.SegmentKindNarrative,
				Text: "The key terms of the notes are set out below.",
			},
			{
				Key:     key(2, 1),
				Kind:    domain.SegmentKindTable,
				Caption: "Key terms",
				Table: &domain.TableGrid{
					Rows: [][]string{
						{"Term", "Value"},
						{"Coupon", "3.875%"},
						{"Maturity", "15 March 2031"},
						{"ISIN", "US0378331005"},
					},
					HasHeader: true,
				},
			},
		}},
		{Number: 3, Segments: []domain.Segment{{
			Key:  key(3, 0),
			Kind: domain.SegmentKindNarrative,
			Text: "Proceeds finance renewable solar projects. 120 MW were installed and allocated in 2024.",
		}}},
	}
}

// mockLLM answers completions through respond and records every request.
type mockLLM struct {
	mu       sync.Mutex
	requests []driven.CompletionRequest
	respond  func(ctx context.Context, call int, req driven.CompletionRequest) (string, error)
}

func (m *mockLLM) Complete(ctx context.Context, req driven.CompletionRequest) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	call := len(m.requests)
	m.mu.Unlock()
	if m.respond == nil {
		return "", errors.New("no response configured")
	}
	return m.respond(ctx, call, req)
}

func (m *mockLLM) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func (m *mockLLM) ModelName() string            { return "mock-llm" }
func (m *mockLLM) Ping(_ context.Context) error { return nil }
func (m *mockLLM) Close() error                 { return nil }

// mockEmbedding returns fixed vectors by text, or delegates to next.
type mockEmbedding struct {
	vectors map[string][]float32
	dims    int
	next    driven.EmbeddingService
	embed   func(ctx context.Context, text string) ([]float32, error)
}

func (m *mockEmbedding) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.embed != nil {
		return m.embed(ctx, text)
	}
	if v, ok := m.vectors[text]; ok {
		return v, nil
	}
	if m.next != nil {
		return m.next.Embed(ctx, text)
	}
	return make([]float32, m.dims), nil
}

func (m *mockEmbedding) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := m.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (m *mockEmbedding) Dimensions() int              { return m.dims }
func (m *mockEmbedding) ModelName() string            { return "mock-embed" }
func (m *mockEmbedding) Ping(_ context.Context) error { return nil }
func (m *mockEmbedding) Close() error                 { return nil }

// --- Test helpers ---

// testSettings are defaults tuned so the hashing encoder retrieves every
// segment of the small test documents and retries do not sleep.
func testSettings() *domain.Settings {
	s := domain.DefaultSettings()
	s.Retrieval.MinSimilarity = 0
	s.Retry.InitialBackoff = time.Millisecond
	s.Retry.MaxBackoff = 2 * time.Millisecond
	s.Timeouts.Generation = 2 * time.Second
	s.Timeouts.Embedding = 2 * time.Second
	s.Timeouts.IndexWrite = 2 * time.Second
	return &s
}

// testStack wires the services over in-memory adapters.
type testStack struct {
	settings   *domain.Settings
	docs       *memory.DocumentStore
	cards      *memory.CardStore
	index      *vectorindex.Swappable
	keyword    *bm25.Index
	decomposer *fakeDecomposer
	embedder   *SegmentEmbedder
	llm        *mockLLM
	prompts    *file.PromptStore
	ingest     *IngestService
	synth      *CardSynthesizer
	query      *QueryService
}

func newTestStack(t *testing.T, tune ...func(*domain.Settings)) *testStack {
	t.Helper()
	settings := testSettings()
	for _, fn := range tune {
		fn(settings)
	}
	return newTestStackWith(t, settings, hashing.NewEmbeddingService(hashing.Config{}))
}

func newTestStackWith(t *testing.T, settings *domain.Settings, svc driven.EmbeddingService) *testStack {
	t.Helper()
	prompts, err := file.NewPromptStore(t.TempDir())
	require.NoError(t, err)

	st := &testStack{
		settings:   settings,
		docs:       memory.NewDocumentStore(),
		cards:      memory.NewCardStore(),
		index:      vectorindex.NewSwappable(memindex.New()),
		keyword:    bm25.New(),
		decomposer: newFakeDecomposer(),
		llm:        &mockLLM{},
		prompts:    prompts,
	}
	st.embedder = NewSegmentEmbedder(svc, EmbedderConfigFromSettings(settings))
	st.ingest = NewIngestService(st.decomposer, nil, st.docs, st.embedder, st.index,
		IngestConfigFromSettings(settings),
		WithKeywordIndex(st.keyword),
		WithIndexFactory(func(context.Context) (driven.ShadowIndex, error) { return memindex.NewShadow(nil), nil }),
	)
	st.synth, st.query = st.queryOver(st.index)
	return st
}

// queryOver builds the read path over index.
func (st *testStack) queryOver(index driven.VectorIndex) (*CardSynthesizer, *QueryService) {
	retriever := NewRetriever(st.embedder, index, st.keyword, RetrieverConfigFromSettings(st.settings))
	synth := NewCardSynthesizer(retriever, st.docs, st.llm, st.prompts, SynthesizerConfigFromSettings(st.settings))
	return synth, NewQueryService(synth, nil, st.docs, st.cards)
}

// ingestBond ingests the three-page bond document and returns its ID.
func (st *testStack) ingestBond(t *testing.T) string {
	t.Helper()
	summary, err := st.ingest.Ingest(context.Background(), ingestRequest("bond.pdf", "bond-bytes"))
	require.NoError(t, err)
	return summary.DocumentID
}

func ingestRequest(name, data string) driving.IngestRequest {
	return driving.IngestRequest{Name: name, Data: []byte(data)}
}

// found builds a found field reply.
func found(value string, labels ...string) map[string]any {
	if labels == nil {
		labels = []string{}
	}
	return map[string]any{"status": "found", "value": value, "segments": labels}
}

// cardJSON renders a model reply. Fields not given are not_found; omitted
// fields are left out entirely.
func cardJSON(t *testing.T, fields map[domain.FieldName]map[string]any, omit ...domain.FieldName) string {
	t.Helper()
	out := map[string]any{"kpis": []any{}}
	for _, f := range domain.CardFields {
		if v, ok := fields[f]; ok {
			out[string(f)] = v
			continue
		}
		out[string(f)] = map[string]any{"status": "not_found", "value": "", "segments": []string{}}
	}
	for _, f := range omit {
		delete(out, string(f))
	}
	b, err := json.Marshal(out)
	require.NoError(t, err)
	return string(b)
}

var excerptHeader = regexp.MustCompile(`(?m)^\[(S\d+)\] page \d+`)

// labelFor returns the label of the excerpt block containing needle.
func labelFor(prompt, needle string) string {
	locs := excerptHeader.FindAllStringSubmatchIndex(prompt, -1)
	for i, loc := range locs {
		end := len(prompt)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if strings.Contains(prompt[loc[0]:end], needle) {
			return prompt[loc[2]:loc[3]]
		}
	}
	return ""
}
