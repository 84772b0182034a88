package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

var _ driven.IndexJournal = (*IndexJournal)(nil)

// IndexJournal is an in-memory driven.IndexJournal.
type IndexJournal struct {
	mu      sync.Mutex
	entries map[domain.SegmentKey]journalRecord
}

type journalRecord struct {
	entry domain.IndexEntry
	seq   uint64
}

// NewIndexJournal creates an empty journal.
func NewIndexJournal() *IndexJournal {
	return &IndexJournal{entries: make(map[domain.SegmentKey]journalRecord)}
}

// PutEntry stores or replaces an entry.
func (j *IndexJournal) PutEntry(ctx context.Context, entry domain.IndexEntry, seq uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.Vector = append([]float32(nil), entry.Vector...)
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[entry.Key] = journalRecord{entry: entry, seq: seq}
	return nil
}

// DeleteEntry removes the entry for key.
func (j *IndexJournal) DeleteEntry(_ context.Context, key domain.SegmentKey) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, key)
	return nil
}

// LoadEntries calls fn for every entry in sequence order.
func (j *IndexJournal) LoadEntries(_ context.Context, fn func(domain.IndexEntry, uint64) error) error {
	j.mu.Lock()
	records := make([]journalRecord, 0, len(j.entries))
	for _, r := range j.entries {
		records = append(records, r)
	}
	j.mu.Unlock()

	sort.Slice(records, func(a, b int) bool { return records[a].seq < records[b].seq })
	for _, r := range records {
		if err := fn(r.entry, r.seq); err != nil {
			return err
		}
	}
	return nil
}

// Replace swaps every entry for entries.
func (j *IndexJournal) Replace(ctx context.Context, entries []driven.JournalEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	next := make(map[domain.SegmentKey]journalRecord, len(entries))
	for _, e := range entries {
		entry := e.Entry
		entry.Vector = append([]float32(nil), entry.Vector...)
		next[entry.Key] = journalRecord{entry: entry, seq: e.Seq}
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = next
	return nil
}

// Len returns the number of journaled entries.
func (j *IndexJournal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}
