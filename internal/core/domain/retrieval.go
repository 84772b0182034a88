package domain

// RetrievalFilter restricts retrieval results by metadata.
type RetrievalFilter struct {
	// DocumentID limits results to one document when set.
	DocumentID string

	// Kinds limits results to the given segment kinds when non-empty.
	Kinds []SegmentKind
}

// IsEmpty returns true if the filter matches everything.
func (f RetrievalFilter) IsEmpty() bool {
	return f.DocumentID == "" && len(f.Kinds) == 0
}

// Matches reports whether metadata passes the filter.
func (f RetrievalFilter) Matches(m EntryMetadata) bool {
	if f.DocumentID != "" && m.DocumentID != f.DocumentID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == m.Kind {
			return true
		}
	}
	return false
}

// ScoredSegment is one ranked retrieval hit.
type ScoredSegment struct {
	// Key identifies the segment.
	Key SegmentKey

	// Score is the similarity in [0,1]; higher is better.
	Score float64

	// Metadata is copied from the index entry.
	Metadata EntryMetadata
}

// RetrievalResult is ordered by non-increasing Score.
type RetrievalResult []ScoredSegment

// Keys returns the segment keys in rank order.
func (r RetrievalResult) Keys() []SegmentKey {
	keys := make([]SegmentKey, len(r))
	for i := range r {
		keys[i] = r[i].Key
	}
	return keys
}

// IsSorted reports whether scores are non-increasing.
func (r RetrievalResult) IsSorted() bool {
	for i := 1; i < len(r); i++ {
		if r[i].Score > r[i-1].Score {
			return false
		}
	}
	return true
}
