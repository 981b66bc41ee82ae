package core

import (
	"errors"
	"fmt"
)

// Structural failures. Per-row problems never surface as errors; they are
// counted on ImportResult.
var (
	// ErrSourceUnavailable means the row set could not be obtained at all.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrSinkUnavailable means a reconciled record could not be written.
	ErrSinkUnavailable = errors.New("sink unavailable")

	// ErrRowUnmappable means a row could not produce a minimally valid record.
	ErrRowUnmappable = errors.New("row unmappable")

	// ErrUnknownKind means the entity kind is not registered.
	ErrUnknownKind = errors.New("unknown kind")

	// ErrMappingNotFound is returned by a MappingStore with nothing saved
	// under the requested key.
	ErrMappingNotFound = errors.New("mapping not found")

	// ErrEmptySource means the source was readable but had no header row.
	ErrEmptySource = errors.New("empty file")
)

// SourceError reports a row source that could not be read.
// It matches both ErrSourceUnavailable and the underlying cause.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source unavailable: %s: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceUnavailable, e.Err}
}

// SinkError reports a record the sink rejected.
type SinkError struct {
	RecordID string
	Err      error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink unavailable: record %s: %v", e.RecordID, e.Err)
}

func (e *SinkError) Unwrap() []error {
	return []error{ErrSinkUnavailable, e.Err}
}

// RowError describes a dropped row. Line is 1-based and counts the header.
type RowError struct {
	Line   int
	Reason string
	Err    error
}

func (e *RowError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("line %d: %s: %v", e.Line, e.Reason, e.Err)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func (e *RowError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrRowUnmappable, e.Err}
	}
	return []error{ErrRowUnmappable}
}

// UnknownKindError names a kind that is not registered.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown kind %q", e.Kind)
}

func (e *UnknownKindError) Is(target error) bool {
	return target == ErrUnknownKind
}
