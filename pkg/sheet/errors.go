package sheet

import (
	"errors"
	"fmt"
)

// Sentinel causes for a rejected operation.
var (
	// ErrInvalidOperation marks an operation that is malformed: unknown
	// kind, missing payload fields, or an index that would shift a cell to
	// a negative coordinate.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrTargetNotFound marks a nested-attribute operation against a cell
	// that does not exist.
	ErrTargetNotFound = errors.New("target not found")
)

// OperationError records the rejection of a single operation in a batch.
// One bad operation never aborts the rest of the batch; the caller gets the
// index so the client can tell which entry was dropped.
type OperationError struct {
	Index  int    `json:"index"`
	Kind   OpKind `json:"kind"`
	Reason string `json:"reason"`
	cause  error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %d (%s): %s", e.Index, e.Kind, e.Reason)
}

func (e *OperationError) Unwrap() error { return e.cause }

func invalidOp(index int, kind OpKind, format string, args ...any) *OperationError {
	return &OperationError{
		Index:  index,
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
		cause:  ErrInvalidOperation,
	}
}

func targetNotFound(index int, kind OpKind, format string, args ...any) *OperationError {
	return &OperationError{
		Index:  index,
		Kind:   kind,
		Reason: fmt.Sprintf(format, args...),
		cause:  ErrTargetNotFound,
	}
}
