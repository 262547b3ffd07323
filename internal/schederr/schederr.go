// Package schederr defines the scheduler's typed error values. Each
// carries a Kind so callers can branch on failure class, and wraps the
// underlying cause with github.com/pkg/errors so a stack trace survives
// across the scheduler's recursive traversal functions.
package schederr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies a scheduler error.
type Kind string

const (
	Shape     Kind = "ShapeError"
	DType     Kind = "DTypeError"
	Assign    Kind = "AssignError"
	Device    Kind = "DeviceError"
	Integrity Kind = "IntegrityError"
)

// SchedError is the scheduler's error value: a Kind, a message, and the
// LazyBuffer-graph context (if any) that triggered it.
type SchedError struct {
	Kind    Kind
	Message string
	Context string
	cause   error
}

func (e *SchedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *SchedError) Unwrap() error { return e.cause }

func newErr(kind Kind, format string, args ...any) *SchedError {
	return &SchedError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NewShapeError(format string, args ...any) *SchedError  { return newErr(Shape, format, args...) }
func NewDTypeError(format string, args ...any) *SchedError  { return newErr(DType, format, args...) }
func NewAssignError(format string, args ...any) *SchedError { return newErr(Assign, format, args...) }
func NewDeviceError(format string, args ...any) *SchedError { return newErr(Device, format, args...) }

// NewIntegrityError reports a violated scheduler invariant — a bug in
// the scheduler itself rather than a bad input graph.
func NewIntegrityError(format string, args ...any) *SchedError {
	return newErr(Integrity, format, args...)
}

// WithContext attaches a description of the graph location the error
// was raised from (e.g. a buffer's repr) for diagnostics.
func (e *SchedError) WithContext(ctx string) *SchedError {
	e.Context = ctx
	return e
}

// Wrap attaches cause as the error's chain, preserving a stack trace via
// pkg/errors so panics recovered deep in a recursive traversal still
// report where they originated.
func Wrap(kind Kind, cause error, format string, args ...any) *SchedError {
	return &SchedError{Kind: kind, Message: fmt.Sprintf(format, args...), cause: errors.WithStack(cause)}
}

// Is reports whether err is a SchedError of the given kind.
func Is(err error, kind Kind) bool {
	var se *SchedError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
