package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is matching against the typed errors below.
var (
	ErrCompile      = errors.New("compile error")
	ErrExecution    = errors.New("execution error")
	ErrAggregate    = errors.New("bulk item errors")
	ErrNotFound     = errors.New("not found")
	ErrPrecondition = errors.New("precondition failed")
)

// CompileError reports a specification that cannot be turned into a request:
// an unknown operator, an unsupported condition shape, an ambiguous primary
// key or a missing target collection.
type CompileError struct {
	Token   string // Offending token, if any
	Message string
}

func (e *CompileError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%s: %q", e.Message, e.Token)
	}
	return e.Message
}

func (e *CompileError) Is(target error) bool { return target == ErrCompile }

// NewCompileError creates a CompileError.
func NewCompileError(token, format string, args ...any) *CompileError {
	return &CompileError{Token: token, Message: fmt.Sprintf(format, args...)}
}

// ExecutionError wraps a transport level failure.
type ExecutionError struct {
	Verb  Verb
	Index string
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.Index != "" {
		return fmt.Sprintf("%s %s: %v", e.Verb, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Verb, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// AggregateError reports a bulk write where at least one item failed.
// Result still describes the items that succeeded.
type AggregateError struct {
	Items  []ItemError
	Result *BulkResult
}

func (e *AggregateError) Error() string {
	reasons := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		reasons = append(reasons, fmt.Sprintf("#%d %s: %s", it.Position, it.Type, it.Reason))
	}
	return fmt.Sprintf("%d bulk item(s) failed: %s", len(e.Items), strings.Join(reasons, "; "))
}

func (e *AggregateError) Is(target error) bool { return target == ErrAggregate }

// NotFoundError is returned by strict reads that matched nothing.
type NotFoundError struct {
	Table   string
	Message string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s", e.Table, e.Message)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// PreconditionError is returned when a write has no resolvable condition.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func (e *PreconditionError) Is(target error) bool { return target == ErrPrecondition }
