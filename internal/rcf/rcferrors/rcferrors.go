// Package rcferrors provides the closed error taxonomy shared by every
// Random Cut Forest component: NodeStore, PointStore, the sampler, the
// tree, and the forest runtime all fail through the same Kind set so a
// caller can dispatch on errors.Is/errors.As regardless of which layer
// raised the error.
package rcferrors

import (
	"errors"
	"fmt"
	"runtime"
)

// Kind is one of the taxonomy entries from the error handling design.
type Kind string

const (
	// InvalidConfig: a construction option was out of range, or
	// dimensions mismatched at construction time.
	InvalidConfig Kind = "INVALID_CONFIG"
	// OutOfCapacity: internal-node slot exhaustion. Fatal for the
	// tree; callers must drop it rather than keep using it.
	OutOfCapacity Kind = "OUT_OF_CAPACITY"
	// DeadHandle: a point-store access targeted a freed slot.
	DeadHandle Kind = "DEAD_HANDLE"
	// TreeInconsistency: a delete located a leaf whose stored vector
	// disagreed with the one the caller expected.
	TreeInconsistency Kind = "TREE_INCONSISTENCY"
	// SequenceNotFound: a requested sequence number was absent from
	// a leaf's multiset.
	SequenceNotFound Kind = "SEQUENCE_NOT_FOUND"
	// InvariantViolation: cut generation could not find a dimension,
	// i.e. a zero-range-sum box reached the cut generator.
	InvariantViolation Kind = "INVARIANT_VIOLATION"
)

// RCFError is the concrete error type every core package returns for a
// taxonomy violation. It carries enough context for a caller to log or
// branch on without string-matching the message.
type RCFError struct {
	Kind    Kind
	Op      string
	Message string
	Context map[string]any
	Caller  string
	Wrapped error
}

// Error implements the error interface.
func (e *RCFError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("[%s] %s (caller: %s)", e.Kind, e.Op, e.Caller)
	}

	return fmt.Sprintf("[%s] %s: %s (caller: %s)", e.Kind, e.Op, e.Message, e.Caller)
}

// Unwrap lets errors.Is/errors.As walk through to a wrapped cause.
func (e *RCFError) Unwrap() error {
	return e.Wrapped
}

// Is reports whether target is the same Kind, so callers can compare
// against the sentinel values below with errors.Is.
func (e *RCFError) Is(target error) bool {
	var other *RCFError
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}

	return false
}

// New creates an RCFError for the given kind and operation, recording
// the immediate caller for diagnostics.
func New(kind Kind, op, message string, context map[string]any) *RCFError {
	pc, _, _, ok := runtime.Caller(1)

	caller := "unknown"
	if ok {
		if fn := runtime.FuncForPC(pc); fn != nil {
			caller = fn.Name()
		}
	}

	return &RCFError{
		Kind:    kind,
		Op:      op,
		Message: message,
		Context: context,
		Caller:  caller,
	}
}

// Wrap attaches a Kind/Op to an underlying error without discarding it.
func Wrap(kind Kind, op string, err error) *RCFError {
	if err == nil {
		return nil
	}

	e := New(kind, op, err.Error(), nil)
	e.Wrapped = err

	return e
}

// Sentinel values for errors.Is comparisons against a bare Kind, e.g.
//
//	if errors.Is(err, rcferrors.ErrDeadHandle) { ... }
var (
	ErrInvalidConfig      = &RCFError{Kind: InvalidConfig}
	ErrOutOfCapacity      = &RCFError{Kind: OutOfCapacity}
	ErrDeadHandle         = &RCFError{Kind: DeadHandle}
	ErrTreeInconsistency  = &RCFError{Kind: TreeInconsistency}
	ErrSequenceNotFound   = &RCFError{Kind: SequenceNotFound}
	ErrInvariantViolation = &RCFError{Kind: InvariantViolation}
)

// Common constructors mirroring the taxonomy's recurring shapes.

func InvalidConfigf(op, format string, args ...any) *RCFError {
	return New(InvalidConfig, op, fmt.Sprintf(format, args...), nil)
}

func OutOfCapacityf(op string, capacity int) *RCFError {
	return New(OutOfCapacity, op, fmt.Sprintf("no free internal-node slot (capacity %d)", capacity),
		map[string]any{"capacity": capacity})
}

func DeadHandlef(op string, handle uint32) *RCFError {
	return New(DeadHandle, op, fmt.Sprintf("handle %d refers to a freed slot", handle),
		map[string]any{"handle": handle})
}

func TreeInconsistencyf(op string, handle uint32) *RCFError {
	return New(TreeInconsistency, op, fmt.Sprintf("leaf for handle %d holds an unexpected vector", handle),
		map[string]any{"handle": handle})
}

func SequenceNotFoundf(op string, handle uint32, seq uint64) *RCFError {
	return New(SequenceNotFound, op, fmt.Sprintf("sequence %d not recorded for handle %d", seq, handle),
		map[string]any{"handle": handle, "seq": seq})
}

func InvariantViolationf(op, format string, args ...any) *RCFError {
	return New(InvariantViolation, op, fmt.Sprintf(format, args...), nil)
}
