package core

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
)

// Error kinds. Controller and service errors wrap one of these so callers can
// branch with errors.Is.
var (
	ErrReadFailure       = errors.New("read failure")
	ErrWriteFailure      = errors.New("write failure")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrPrecondition      = errors.New("precondition violation")
	ErrBusy              = errors.New("operation already in progress")
	ErrSessionNotFound   = errors.New("session not found")
	ErrTooManySessions   = errors.New("too many sessions")
	ErrTooManyOperations = errors.New("too many concurrent operations, please try again later")
	ErrFileTooLarge      = errors.New("file too large")
	ErrInvalidHandle     = errors.New("invalid document handle")
)

// OpError records a failed collaborator call. Kind is one of ErrReadFailure,
// ErrWriteFailure or ErrPermissionDenied; Err is the cause.
type OpError struct {
	Op     string // "load" or "export"
	Handle string
	Kind   error
	Err    error
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Handle != "" {
		b.WriteString(" ")
		b.WriteString(e.Handle)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil && e.Err != e.Kind {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *OpError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// classify picks the error kind for a collaborator failure. Permission
// problems are reported as ErrPermissionDenied whatever the operation.
func classify(op, handle string, fallback, err error) *OpError {
	kind := fallback
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, fs.ErrPermission) {
		kind = ErrPermissionDenied
	}
	return &OpError{Op: op, Handle: handle, Kind: kind, Err: err}
}

// LoadRejectedError is returned when a document contains malformed records.
// The controller keeps its previous state.
type LoadRejectedError struct {
	Handle string
	Errors []*ParseError
}

func (e *LoadRejectedError) Error() string {
	if len(e.Errors) == 0 {
		return "invalid csv"
	}
	first := e.Errors[0]
	if len(e.Errors) == 1 {
		return fmt.Sprintf("invalid csv: %s", first.Error())
	}
	return fmt.Sprintf("invalid csv: %d malformed records, first at %s", len(e.Errors), first.Error())
}

// preconditionf builds an ErrPrecondition error with context.
func preconditionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrPrecondition, fmt.Sprintf(format, args...))
}
