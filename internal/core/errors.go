package core

import (
	"errors"
	"fmt"
)

// Error kinds. Every error surfaced by the compiler or the runner matches
// exactly one of these with errors.Is.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrExecution     = errors.New("execution error")
	ErrTimeout       = errors.New("timeout")
	ErrCancelled     = errors.New("cancelled")
	ErrCache         = errors.New("cache error")
)

// Error carries the kind, the node it concerns and the underlying cause.
type Error struct {
	Kind   error
	NodeID string
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.NodeID != "" {
		msg += fmt.Sprintf(": node %q", e.NodeID)
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// NewError builds an *Error of the given kind.
func NewError(kind error, nodeID string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, NodeID: nodeID, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Configurationf reports a malformed tree or configuration.
func Configurationf(nodeID string, format string, args ...any) error {
	return &Error{Kind: ErrConfiguration, NodeID: nodeID, Msg: fmt.Sprintf(format, args...)}
}
