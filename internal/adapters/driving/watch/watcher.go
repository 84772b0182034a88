// Package watch ingests PDFs dropped into an inbox directory.
//
// Only the top level of the directory is watched. A file is ingested once
// it has stopped changing for the settle period, so a PDF copied in with
// several writes is read once it is complete. Removals are ignored:
// ingested documents stay in the store.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driving"
	"github.com/custodia-labs/deskrag/internal/logger"
)

// DefaultSettle is how long a file must be quiet before it is ingested.
const DefaultSettle = 500 * time.Millisecond

// queueSize bounds files waiting for the ingest worker.
const queueSize = 64

// Result reports the outcome of ingesting one inbox file.
type Result struct {
	Path    string
	Summary *domain.DocumentSummary
	Err     error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithSettle sets the quiet period before a changed file is ingested.
func WithSettle(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithResults registers a callback invoked after each ingestion.
// It runs on the ingest worker goroutine.
func WithResults(fn func(Result)) Option {
	return func(w *Watcher) { w.onResult = fn }
}

// WithForce re-embeds files whose bytes were already indexed.
func WithForce(force bool) Option {
	return func(w *Watcher) { w.force = force }
}

// Watcher feeds new and rewritten PDFs in a directory to the ingest service.
type Watcher struct {
	dir      string
	ingest   driving.IngestService
	settle   time.Duration
	force    bool
	onResult func(Result)

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New creates a watcher for dir.
func New(dir string, ingest driving.IngestService, opts ...Option) *Watcher {
	w := &Watcher{
		dir:    dir,
		ingest: ingest,
		settle: DefaultSettle,
		timers: make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run ingests the PDFs already in the directory, then every PDF created or
// rewritten there until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("inbox path error: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("inbox path error: %s is not a directory", w.dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}

	existing, err := w.scan()
	if err != nil {
		return err
	}

	ready := make(chan string, queueSize)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.worker(ctx, ready)
	}()

	for _, path := range existing {
		select {
		case ready <- path:
		case <-ctx.Done():
		}
	}

	logger.Info("Watching %s for PDFs", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			<-done
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if path, ok := w.handleFsEvent(event); ok {
				w.schedule(ctx, path, ready)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			logger.Warn("inbox watch error: %v", err)
		}
	}
}

// handleFsEvent returns the path to ingest for an event, if any.
func (w *Watcher) handleFsEvent(event fsnotify.Event) (string, bool) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return "", false
	}
	if !isPDF(event.Name) || isHidden(event.Name) {
		return "", false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return event.Name, true
}

// schedule (re)starts the settle timer for path.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Reset(w.settle)
		return
	}
	w.timers[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// worker ingests ready files one at a time.
func (w *Watcher) worker(ctx context.Context, ready <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case path := <-ready:
			w.ingestFile(ctx, path)
		}
	}
}

func (w *Watcher) ingestFile(ctx context.Context, path string) {
	result := Result{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		result.Err = fmt.Errorf("reading %s: %w", path, err)
	} else {
		result.Summary, result.Err = w.ingest.Ingest(ctx, driving.IngestRequest{
			Name:  filepath.Base(path),
			Data:  data,
			Force: w.force,
		})
	}

	switch {
	case result.Err != nil:
		logger.Warn("inbox: %s failed: %v", filepath.Base(path), result.Err)
	case result.Summary.AlreadyIndexed:
		logger.Debug("inbox: %s already indexed as %s", filepath.Base(path), result.Summary.DocumentID)
	default:
		logger.Info("inbox: indexed %s as %s", filepath.Base(path), result.Summary.DocumentID)
	}

	if w.onResult != nil {
		w.onResult(result)
	}
}

// scan lists visible PDFs at the top level of the directory, by name.
func (w *Watcher) scan() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("reading inbox: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !isPDF(e.Name()) || isHidden(e.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(w.dir, e.Name()))
	}
	return paths, nil
}

func isPDF(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".pdf")
}

// isHidden reports dot files and Office lock files ("~$name").
func isHidden(path string) bool {
	name := filepath.Base(path)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return false
	}
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$")
}
