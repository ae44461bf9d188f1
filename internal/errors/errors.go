// Package errors defines the error type carried across the cohort
// pipeline. Every failure surfaces as a QueryError naming the operation
// that failed, the column involved when one is, and an optional wrapped
// cause. The pipeline distinguishes parse failures at decode boundaries,
// execution failures for expressions that slipped past validation, and
// sentinel conditions like a missing dataset or a corrupt cache blob.
package errors

import (
	"fmt"
)

// QueryError is the error type returned by every pipeline stage.
type QueryError struct {
	Op      string // Failing operation, e.g. "ApplyExpr" or "LoadDir"
	Column  string // Column involved, empty when not column-specific
	Message string // What went wrong
	Cause   error  // Wrapped underlying error, may be nil
}

// Error renders the failure with its operation and, when set, the column.
func (e *QueryError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%s operation failed on column '%s': %s", e.Op, e.Column, e.Message)
	}
	return fmt.Sprintf("%s operation failed: %s", e.Op, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is and errors.As.
func (e *QueryError) Unwrap() error {
	return e.Cause
}

// Is matches two QueryErrors on operation, column and message, so the
// sentinels below can be tested with errors.Is.
func (e *QueryError) Is(target error) bool {
	if qe, ok := target.(*QueryError); ok {
		return e.Op == qe.Op && e.Column == qe.Column && e.Message == qe.Message
	}
	return false
}

// NewColumnNotFoundError reports a reference to a column the frame does
// not carry.
func NewColumnNotFoundError(op, column string) *QueryError {
	return &QueryError{
		Op:      op,
		Column:  column,
		Message: "column does not exist",
	}
}

// NewParseError creates an error for malformed input at a parse boundary
// (LLM response decoding, persisted cache blobs).
func NewParseError(op, message string, cause error) *QueryError {
	return &QueryError{
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// NewExecutionError creates an error for expressions that pass validation
// but cannot be evaluated. These indicate a programming-invariant
// violation rather than a user-input problem.
func NewExecutionError(op, column, message string) *QueryError {
	return &QueryError{
		Op:      op,
		Column:  column,
		Message: message,
	}
}

// NewInvalidInputError reports a caller argument that fails an
// operation's precondition.
func NewInvalidInputError(op, message string) *QueryError {
	return &QueryError{
		Op:      op,
		Message: message,
	}
}

// NewInternalError wraps an unexpected failure inside an operation.
func NewInternalError(op string, cause error) *QueryError {
	return &QueryError{
		Op:      op,
		Message: "internal error occurred",
		Cause:   cause,
	}
}

// Sentinel conditions matched with errors.Is.
var (
	// ErrEmptyDataset indicates operations before any data has been loaded
	ErrEmptyDataset = &QueryError{
		Op:      "validation",
		Message: "no dataset is currently loaded",
	}

	// ErrCacheCorrupt indicates a persisted cache blob missing required keys
	ErrCacheCorrupt = &QueryError{
		Op:      "cache",
		Message: "persisted cache is missing required sections",
	}
)
