package domain

import (
	"errors"
	"fmt"
	"time"
)

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType indicates an unknown provider or backend type.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrIngestion indicates a document could not be opened at all.
	// The document is not indexed.
	ErrIngestion = errors.New("ingestion failed")

	// ErrIngestionInProgress indicates the same document is being ingested.
	ErrIngestionInProgress = errors.New("ingestion in progress")

	// ErrEmbeddingUnavailable indicates the embedding backend is unreachable
	// or not configured.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrLLMUnavailable indicates the generation backend is unreachable
	// or not configured.
	ErrLLMUnavailable = errors.New("LLM service unavailable")

	// ErrVectorIndexUnavailable indicates the vector index backend is unreachable.
	ErrVectorIndexUnavailable = errors.New("vector index unavailable")

	// ErrRateLimited indicates a backend rejected the request for rate reasons.
	ErrRateLimited = errors.New("rate limited")

	// ErrTimeout indicates a blocking call exceeded its deadline.
	// Callers should retry later rather than immediately.
	ErrTimeout = errors.New("operation timed out")

	// ErrDimensionMismatch indicates a vector does not match the index dimensionality.
	// This is configuration or encoder drift and halts ingestion.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrEncoderMismatch indicates stored vectors were produced by a different
	// encoder than the configured one. The index must be rebuilt.
	ErrEncoderMismatch = errors.New("encoder mismatch")

	// ErrCardSynthesis indicates no schema-valid card could be produced.
	ErrCardSynthesis = errors.New("card synthesis failed")

	// ErrAuditResolution indicates a cited segment no longer resolves to a
	// known document.
	ErrAuditResolution = errors.New("audit resolution failed")
)

// IngestionError reports a document that could not be opened.
type IngestionError struct {
	Source string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %v", e.Source, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }

// Is matches ErrIngestion.
func (e *IngestionError) Is(target error) bool { return target == ErrIngestion }

// TimeoutError reports a blocking operation that ran out of time.
type TimeoutError struct {
	// Op is the blocking point: embedding, generation or index_write.
	Op string

	// After is the configured timeout, zero when the caller's context expired.
	After time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s timed out after %s", e.Op, e.After)
	}
	return e.Op + " timed out"
}

// Is matches ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// DimensionMismatchError reports a vector of the wrong length.
type DimensionMismatchError struct {
	Expected int
	Got      int
	Key      SegmentKey
}

func (e *DimensionMismatchError) Error() string {
	if e.Key.IsZero() {
		return fmt.Sprintf("dimension mismatch: index has %d, vector has %d", e.Expected, e.Got)
	}
	return fmt.Sprintf("dimension mismatch for %s: index has %d, vector has %d", e.Key, e.Expected, e.Got)
}

// Is matches ErrDimensionMismatch.
func (e *DimensionMismatchError) Is(target error) bool { return target == ErrDimensionMismatch }

// EncoderMismatchError reports an index holding vectors from another encoder.
type EncoderMismatchError struct {
	Stored  string
	Current string
}

func (e *EncoderMismatchError) Error() string {
	return fmt.Sprintf("encoder mismatch: index was built by %q, current encoder is %q", e.Stored, e.Current)
}

// Is matches ErrEncoderMismatch.
func (e *EncoderMismatchError) Is(target error) bool { return target == ErrEncoderMismatch }

// IsStaleIndex reports whether err means the stored vectors cannot be used
// with the current encoder.
func IsStaleIndex(err error) bool {
	return errors.Is(err, ErrDimensionMismatch) || errors.Is(err, ErrEncoderMismatch)
}

// CardSynthesisError reports exhausted synthesis attempts.
// Err carries the last underlying failure, which may be a TimeoutError.
type CardSynthesisError struct {
	Attempts int
	Reason   string
	Err      error
}

func (e *CardSynthesisError) Error() string {
	msg := fmt.Sprintf("card synthesis failed after %d attempt(s)", e.Attempts)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CardSynthesisError) Unwrap() error { return e.Err }

// Is matches ErrCardSynthesis.
func (e *CardSynthesisError) Is(target error) bool { return target == ErrCardSynthesis }

// AuditResolutionError reports a citation that cannot be resolved.
type AuditResolutionError struct {
	Field string
	Key   SegmentKey
}

func (e *AuditResolutionError) Error() string {
	return fmt.Sprintf("audit resolution failed: field %s cites unknown segment %s", e.Field, e.Key)
}

// Is matches ErrAuditResolution.
func (e *AuditResolutionError) Is(target error) bool { return target == ErrAuditResolution }

// IsRetryable reports whether err is a transient backend condition.
// Data problems (dimension mismatch, audit resolution, invalid input) are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if IsStaleIndex(err) || errors.Is(err, ErrAuditResolution) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrEmbeddingUnavailable) ||
		errors.Is(err, ErrLLMUnavailable) ||
		errors.Is(err, ErrVectorIndexUnavailable) ||
		errors.Is(err, ErrRateLimited)
}
