package rag

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQuery indicates the user query was empty or whitespace-only.
	ErrEmptyQuery = errors.New("query is empty")

	// ErrChatNotFound indicates the referenced chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrTurnLimitReached indicates the chat has reached its turn cap.
	ErrTurnLimitReached = errors.New("conversation turn limit reached")

	// ErrInvalidChunker indicates invalid chunk size or overlap parameters.
	ErrInvalidChunker = errors.New("invalid chunker parameters")

	// ErrDimensionMismatch indicates the provider returned vectors of an
	// unexpected dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// ValidationError indicates invalid input rejected before any provider call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

// EmbeddingError wraps a failure from the embedding provider.
// Transient reports whether the failure exhausted retries on a retryable
// condition, as opposed to failing on a permanent one.
type EmbeddingError struct {
	Transient bool
	Err       error
}

func (e *EmbeddingError) Error() string {
	if e.Transient {
		return fmt.Sprintf("embedding failed (transient, retries exhausted): %v", e.Err)
	}
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// LLMError wraps a failure from the generation provider.
type LLMError struct {
	Model     string
	Transient bool
	Err       error
}

func (e *LLMError) Error() string {
	if e.Transient {
		return fmt.Sprintf("llm call to %s failed (transient, retries exhausted): %v", e.Model, e.Err)
	}
	return fmt.Sprintf("llm call to %s failed: %v", e.Model, e.Err)
}

func (e *LLMError) Unwrap() error { return e.Err }

// RetrievalError indicates every sub-query retrieval failed, leaving
// nothing to synthesize from. Errs holds one error per failed sub-query.
type RetrievalError struct {
	SubQueries int
	Errs       []error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed for all %d sub-queries: %v", e.SubQueries, errors.Join(e.Errs...))
}

func (e *RetrievalError) Unwrap() []error { return e.Errs }

// AggregationInvariantError indicates two retrieved results with the same
// chunk ID disagreed on chunk text or source metadata. This should never
// happen with a consistent store and indicates index corruption or a
// concurrent re-index mid-query.
type AggregationInvariantError struct {
	ChunkID string
}

func (e *AggregationInvariantError) Error() string {
	return fmt.Sprintf("aggregation invariant violated: conflicting metadata for chunk %s", e.ChunkID)
}
