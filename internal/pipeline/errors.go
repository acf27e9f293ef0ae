package pipeline

import (
	"errors"
	"fmt"
)

// ErrInvalidTopK is returned when a query asks for fewer than one result.
var ErrInvalidTopK = errors.New("top_k must be a positive integer")

// ErrQueryIndexOutOfRange is returned when a run's query document does not exist.
var ErrQueryIndexOutOfRange = errors.New("query index out of range")

// AlignmentError reports that the embedding engine returned a different number
// of vectors than it was given texts. Offset is the position of the first text
// of the failing batch.
type AlignmentError struct {
	Documents  int
	Embeddings int
	Offset     int
}

func (e *AlignmentError) Error() string {
	if e.Offset > 0 {
		return fmt.Sprintf("alignment: batch at offset %d has %d documents but %d embeddings", e.Offset, e.Documents, e.Embeddings)
	}
	return fmt.Sprintf("alignment: %d documents but %d embeddings", e.Documents, e.Embeddings)
}

// PayloadEncodingError reports a metadata value that cannot be stored as a payload scalar.
type PayloadEncodingError struct {
	Field  string
	Value  any
	Reason string
}

func (e *PayloadEncodingError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = fmt.Sprintf("unsupported type %T", e.Value)
	}
	return fmt.Sprintf("cannot encode payload field %q: %s", e.Field, reason)
}

// SchemaMismatchError reports a record, query or existing collection that does not
// match the expected vector schema. Want is nil when the index service rejected
// the data without saying what it expected.
type SchemaMismatchError struct {
	Collection string
	Field      string
	Want       any
	Got        any
	Err        error
}

func (e *SchemaMismatchError) Error() string {
	if e.Want == nil {
		if e.Got != nil {
			return fmt.Sprintf("collection %s: %s %v rejected by index service: %v", e.Collection, e.Field, e.Got, e.Err)
		}
		return fmt.Sprintf("collection %s: %s rejected by index service: %v", e.Collection, e.Field, e.Err)
	}
	return fmt.Sprintf("collection %s: %s mismatch: want %v, got %v", e.Collection, e.Field, e.Want, e.Got)
}

func (e *SchemaMismatchError) Unwrap() error { return e.Err }

// IndexWriteError is a failed write to the index service after Attempts tries.
// Written is the number of records that were stored before the failing batch.
type IndexWriteError struct {
	Collection string
	Op         string
	Attempts   int
	Written    int
	Err        error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write %s on %s failed after %d attempt(s): %v", e.Op, e.Collection, e.Attempts, e.Err)
}

func (e *IndexWriteError) Unwrap() error { return e.Err }

// IndexQueryError is a failed read from the index service after Attempts tries.
type IndexQueryError struct {
	Collection string
	Op         string
	Attempts   int
	Err        error
}

func (e *IndexQueryError) Error() string {
	return fmt.Sprintf("index %s on %s failed after %d attempt(s): %v", e.Op, e.Collection, e.Attempts, e.Err)
}

func (e *IndexQueryError) Unwrap() error { return e.Err }

// EngineError wraps a failure of the embedding engine. No vectors of the failing run are used.
type EngineError struct {
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("embedding engine: %v", e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// RunError is returned by Pipeline.Run; State is the step that failed.
type RunError struct {
	State State
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("pipeline failed in %s: %v", e.State, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
