package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/custodia-labs/deskrag/internal/core/domain"
	"github.com/custodia-labs/deskrag/internal/core/ports/driven"
)

// Ensure Shadow implements the interface.
var _ driven.ShadowIndex = (*Shadow)(nil)

// Shadow is an unjournaled index built for a rebuild. Promote writes its
// entries to the target journal in one transaction and from then on
// journals every write like a live index.
type Shadow struct {
	*Index
	target driven.IndexJournal
}

// NewShadow creates an empty shadow index. target may be nil, in which
// case Promote only hands the entries over in memory.
func NewShadow(target driven.IndexJournal, opts ...Option) *Shadow {
	idx := New(opts...)
	idx.journal = nil
	return &Shadow{Index: idx, target: target}
}

// Promote replaces the journal's entries with the shadow's.
func (s *Shadow) Promote(ctx context.Context) (func(context.Context) error, error) {
	if s.target == nil {
		return nil, nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	entries := make([]driven.JournalEntry, 0, len(s.records))
	for _, rec := range s.records {
		entries = append(entries, driven.JournalEntry{Entry: rec.entry, Seq: rec.seq})
	}
	s.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	if err := s.target.Replace(ctx, entries); err != nil {
		return nil, fmt.Errorf("replace index journal: %w", err)
	}
	s.journal = s.target
	return nil, nil
}

// Discard drops the shadow's entries. The journal is untouched.
func (s *Shadow) Discard(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[domain.SegmentKey]*record)
	return nil
}
