package domain

// EntryMetadata makes an index entry self-describing.
type EntryMetadata struct {
	// DocumentID is the owning document.
	DocumentID string

	// PageNumber is the 1-based page the segment came from.
	PageNumber int

	// Kind is the segment kind.
	Kind SegmentKind

	// Encoder identifies the embedding model version that produced the vector.
	Encoder string
}

// IndexEntry is a vector bound to exactly one segment.
type IndexEntry struct {
	Key      SegmentKey
	Vector   []float32
	Metadata EntryMetadata
}

// NewIndexEntry builds an entry for seg using vector from encoder.
func NewIndexEntry(seg *Segment, vector []float32, encoder string) IndexEntry {
	return IndexEntry{
		Key:    seg.Key,
		Vector: vector,
		Metadata: EntryMetadata{
			DocumentID: seg.Key.DocumentID,
			PageNumber: seg.Key.PageNumber,
			Kind:       seg.Kind,
			Encoder:    encoder,
		},
	}
}
