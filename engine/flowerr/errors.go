package flowerr

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a flow error for strategy and propagation decisions
type Kind string

const (
	KindValidation  Kind = "validation"
	KindTimeout     Kind = "timeout"
	KindCancelled   Kind = "cancelled"
	KindCircuitOpen Kind = "circuit-open"
	KindNodeFailed  Kind = "node-failed"
	KindExternal    Kind = "external"
	KindResource    Kind = "resource"
)

// Error is the typed error carried through the engine.
// Recoverable distinguishes transient failures (retryable) from terminal ones.
type Error struct {
	Kind        Kind
	Message     string
	Recoverable bool
	NodeID      string
	Cause       error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("%s: node %s: %s", e.Kind, e.NodeID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithNode returns a copy of the error annotated with a node ID
func (e *Error) WithNode(nodeID string) *Error {
	clone := *e
	clone.NodeID = nodeID
	return &clone
}

// New creates a flow error with an explicit kind
func New(kind Kind, recoverable bool, format string, args ...interface{}) *Error {
	return &Error{
		Kind:        kind,
		Message:     fmt.Sprintf(format, args...),
		Recoverable: recoverable,
	}
}

// Validation creates a pre-execution validation error (never recoverable)
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, false, format, args...)
}

// Timeout creates a deadline error (not retried)
func Timeout(format string, args ...interface{}) *Error {
	return New(KindTimeout, false, format, args...)
}

// Cancelled creates a cancellation error (propagates untouched by strategies)
func Cancelled(format string, args ...interface{}) *Error {
	return New(KindCancelled, false, format, args...)
}

// CircuitOpen creates an error for calls denied by an open circuit
func CircuitOpen(key string) *Error {
	return New(KindCircuitOpen, true, "circuit open for %s", key)
}

// External creates an adapter-reported error
func External(recoverable bool, format string, args ...interface{}) *Error {
	return New(KindExternal, recoverable, format, args...)
}

// Resource creates a service-unavailable error (recoverable after delay)
func Resource(format string, args ...interface{}) *Error {
	return New(KindResource, true, format, args...)
}

// NodeFailed wraps a primary cause into the composite node-failed kind
func NodeFailed(nodeID string, cause error) *Error {
	msg := "node execution failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{
		Kind:    KindNodeFailed,
		Message: msg,
		NodeID:  nodeID,
		Cause:   cause,
	}
}

// Classify normalizes an arbitrary error into a typed flow error.
// Context cancellation and deadline errors map to their dedicated kinds;
// already-typed errors pass through unchanged.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	if errors.Is(err, context.Canceled) {
		return Cancelled("execution cancelled")
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout("execution deadline exceeded")
	}

	return &Error{
		Kind:    KindNodeFailed,
		Message: err.Error(),
		Cause:   err,
	}
}

// KindOf returns the kind of an error, or empty string for untyped errors
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// IsRecoverable reports whether an error may be retried
func IsRecoverable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Recoverable
	}
	return false
}

// IsTerminalKind reports whether a kind bypasses recovery strategies entirely
func IsTerminalKind(kind Kind) bool {
	return kind == KindCancelled || kind == KindTimeout
}
