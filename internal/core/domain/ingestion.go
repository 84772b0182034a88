package domain

import "time"

// IngestionPhase is the lifecycle phase of an ingestion run.
type IngestionPhase string

// Ingestion phases.
const (
	PhasePending     IngestionPhase = "pending"
	PhaseDecomposing IngestionPhase = "decomposing"
	PhaseEmbedding   IngestionPhase = "embedding"
	PhaseIndexed     IngestionPhase = "indexed"
	PhaseFailed      IngestionPhase = "failed"
)

// IsTerminal returns true once a run can make no further progress.
func (p IngestionPhase) IsTerminal() bool {
	return p == PhaseIndexed || p == PhaseFailed
}

// IngestionState reports the progress of a document's ingestion.
type IngestionState struct {
	// DocumentID is the document being ingested.
	DocumentID string

	// RunID identifies this ingestion attempt.
	RunID string

	// SourceName is the original file name.
	SourceName string

	// Phase is the current lifecycle phase.
	Phase IngestionPhase

	// SegmentsTotal is the number of segments after decomposition.
	SegmentsTotal int

	// SegmentsEmbedded is the number of segments written to the index.
	SegmentsEmbedded int

	// SegmentsDegraded is the number of parse_degraded segments.
	SegmentsDegraded int

	// SegmentsSkipped is the number of segments rejected by the text policy.
	SegmentsSkipped int

	// Encoder is the embedding model that produced the run's vectors.
	Encoder string

	// Error is set when Phase is failed.
	Error string

	// StartedAt is when the run began.
	StartedAt time.Time

	// CompletedAt is set once Phase is terminal.
	CompletedAt *time.Time
}
