package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
)

type mockIngestService struct {
	mu   sync.Mutex
	reqs []driving.IngestRequest
	err  error
}

func (m *mockIngestService) Ingest(_ context.Context, req driving.IngestRequest) (*domain.DocumentSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reqs = append(m.reqs, req)
	if m.err != nil {
		return nil, m.err
	}
	return &domain.DocumentSummary{DocumentID: "doc_" + req.Name, SourceName: req.Name}, nil
}

func (m *mockIngestService) IngestBatch(_ context.Context, _ []driving.IngestRequest) []driving.IngestOutcome {
	return nil
}

func (m *mockIngestService) Status(_ context.Context, _ string) (*domain.IngestionState, error) {
	return nil, domain.ErrNotFound
}

func (m *mockIngestService) Reindex(_ context.Context) (int, error) {
	return 0, nil
}

func (m *mockIngestService) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, len(m.reqs))
	for i, r := range m.reqs {
		names[i] = r.Name
	}
	return names
}

// startWatcher runs a watcher in the background and returns a channel of
// its results.
func startWatcher(t *testing.T, dir string, svc driving.IngestService) <-chan Result {
	t.Helper()
	results := make(chan Result, 16)
	w := New(dir, svc,
		WithSettle(20*time.Millisecond),
		WithResults(func(r Result) { results <- r }),
	)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Error("watcher did not stop")
		}
	})
	return results
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for ingestion")
		return Result{}
	}
}

func TestWatcher_IngestsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.pdf"), []byte("%PDF-a"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.pdf"), []byte("skip"), 0o600))

	svc := &mockIngestService{}
	results := startWatcher(t, dir, svc)

	r := waitResult(t, results)
	require.NoError(t, r.Err)
	assert.Equal(t, filepath.Join(dir, "a.pdf"), r.Path)
	assert.Equal(t, "doc_a.pdf", r.Summary.DocumentID)
	assert.Equal(t, []string{"a.pdf"}, svc.names())
}

func TestWatcher_IngestsNewFiles(t *testing.T) {
	dir := t.TempDir()
	svc := &mockIngestService{}
	results := startWatcher(t, dir, svc)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "Prospectus.PDF"), []byte("%PDF-new"), 0o600)
	}()

	r := waitResult(t, results)
	require.NoError(t, r.Err)
	assert.Equal(t, "Prospectus.PDF", filepath.Base(r.Path))

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.NotEmpty(t, svc.reqs)
	assert.Equal(t, []byte("%PDF-new"), svc.reqs[0].Data)
}

func TestWatcher_ReportsIngestErrors(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.pdf"), []byte("junk"), 0o600))

	svc := &mockIngestService{err: domain.ErrIngestion}
	results := startWatcher(t, dir, svc)

	r := waitResult(t, results)
	assert.ErrorIs(t, r.Err, domain.ErrIngestion)
	assert.Nil(t, r.Summary)
}

func TestWatcher_Run_MissingDirectory(t *testing.T) {
	w := New(filepath.Join(t.TempDir(), "missing"), &mockIngestService{})

	err := w.Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "inbox path error")
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestWatcher_Run_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.pdf")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	err := New(file, &mockIngestService{}).Run(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestHandleFsEvent(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		create    bool
		dir       bool
		operation fsnotify.Op
		expected  bool
	}{
		{name: "create pdf", file: "a.pdf", create: true, operation: fsnotify.Create, expected: true},
		{name: "write pdf", file: "a.pdf", create: true, operation: fsnotify.Write, expected: true},
		{name: "write and chmod", file: "a.pdf", create: true, operation: fsnotify.Write | fsnotify.Chmod, expected: true},
		{name: "upper case extension", file: "B.PDF", create: true, operation: fsnotify.Create, expected: true},
		{name: "chmod only", file: "a.pdf", create: true, operation: fsnotify.Chmod},
		{name: "remove", file: "gone.pdf", operation: fsnotify.Remove},
		{name: "rename", file: "gone.pdf", operation: fsnotify.Rename},
		{name: "not a pdf", file: "notes.txt", create: true, operation: fsnotify.Create},
		{name: "hidden pdf", file: ".a.pdf", create: true, operation: fsnotify.Create},
		{name: "office lock file", file: "~$a.pdf", create: true, operation: fsnotify.Create},
		{name: "directory named like a pdf", file: "folder.pdf", dir: true, operation: fsnotify.Create},
		{name: "created then removed", file: "temp.pdf", operation: fsnotify.Create},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, tt.file)
			switch {
			case tt.dir:
				require.NoError(t, os.Mkdir(path, 0o700))
			case tt.create:
				require.NoError(t, os.WriteFile(path, []byte("%PDF"), 0o600))
			}

			w := New(dir, &mockIngestService{})
			got, ok := w.handleFsEvent(fsnotify.Event{Name: path, Op: tt.operation})

			assert.Equal(t, tt.expected, ok)
			if tt.expected {
				assert.Equal(t, path, got)
			}
		})
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{".hidden.pdf", true},
		{"/inbox/.partial.pdf", true},
		{"/inbox/~$draft.pdf", true},
		{"/inbox/report.pdf", false},
		{"file.hidden", false},
		{".", false},
		{"..", false},
		{"", false},
		{"/", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.expected, isHidden(tt.path))
		})
	}
}
