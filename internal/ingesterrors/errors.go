// Package ingesterrors contains the error types returned by the ingestion pipeline and its
// collaborators. Callers classify an error chain with KindOf, which looks through wrapped errors
// with errors.As rather than comparing the topmost error.
package ingesterrors

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/file-ingester/internal/parser"
)

// Kind classifies an error for logging and exit status purposes.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindUnexpected
	KindPersistence
	KindInitialization
	KindInterrupted
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindUnexpected:
		return "unexpected"
	case KindPersistence:
		return "persistence"
	case KindInitialization:
		return "initialization"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// InitializationError is returned when the run cannot start, e.g. the input file is missing or the
// sink cannot be constructed.
type InitializationError struct {
	Component string // e.g. "source", "sink", "config"
	Err       error
}

func (err *InitializationError) Error() string {
	return fmt.Sprintf("failed to initialise %s: %v", err.Component, err.Err)
}

func (err *InitializationError) Unwrap() error {
	return err.Err
}

// UnexpectedRecordError is a per-record failure that is not a validation failure.
type UnexpectedRecordError struct {
	LineNumber int
	Err        error
}

func (err *UnexpectedRecordError) Error() string {
	return fmt.Sprintf("unexpected error handling line %d: %v", err.LineNumber, err.Err)
}

func (err *UnexpectedRecordError) Unwrap() error {
	return err.Err
}

// PersistenceError is returned when the sink fails to store a batch. It is fatal to the run.
type PersistenceError struct {
	Batch   int // 1-based index of the batch within the run
	Records int
	Err     error
}

func (err *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist batch %d (%d records): %v", err.Batch, err.Records, err.Err)
}

func (err *PersistenceError) Unwrap() error {
	return err.Err
}

// KindOf returns the kind of the first recognised error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	{
		var e *parser.ValidationError
		if errors.As(err, &e) {
			return KindValidation
		}
	}
	{
		var e *InitializationError
		if errors.As(err, &e) {
			return KindInitialization
		}
	}
	{
		var e *PersistenceError
		if errors.As(err, &e) {
			return KindPersistence
		}
	}
	{
		var e *UnexpectedRecordError
		if errors.As(err, &e) {
			return KindUnexpected
		}
	}
	if errors.Is(err, context.Canceled) {
		return KindInterrupted
	}
	return KindUnknown
}

// ExitCode maps an error returned from a run to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if KindOf(err) == KindInterrupted {
		return 130
	}
	return 1
}
