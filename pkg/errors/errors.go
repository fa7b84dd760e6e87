// Package errors provides the structured error type shared by LiveInspect
// packages and the session error taxonomy.
//
// ContextualError captures the component and operation that failed, an
// optional taxonomy Code and structured details. It implements Unwrap so it
// composes with the standard errors package.
//
// Usage:
//
//	err := errors.New("relay", "DialUpstream", cause).WithCode(errors.CodeUpstreamRejected)
//	if errors.CodeOf(err) == errors.CodeUpstreamRejected { ... }
package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies a session-level failure. Every code is recoverable: the
// session moves to its Error state and may be restarted.
type Code string

// Session error taxonomy. The string values are part of the wire protocol.
const (
	CodeNone             Code = ""
	CodePermissionDenied Code = "PermissionDenied"
	CodeConnectTimeout   Code = "ConnectTimeout"
	CodeConnectionLost   Code = "ConnectionLost"
	CodeNoCredential     Code = "NoCredential"
	CodeUpstreamRejected Code = "UpstreamRejected"
)

// Codes lists every known code in a stable order.
var Codes = []Code{
	CodePermissionDenied,
	CodeConnectTimeout,
	CodeConnectionLost,
	CodeNoCredential,
	CodeUpstreamRejected,
}

// Known reports whether c is part of the taxonomy.
func (c Code) Known() bool {
	for _, k := range Codes {
		if c == k {
			return true
		}
	}
	return false
}

// ContextualError is a structured error type that records where and why an
// error occurred.
type ContextualError struct {
	// Component identifies the package that produced the error (e.g. "relay", "session").
	Component string

	// Operation describes what was being done when the error occurred.
	Operation string

	// Code is the taxonomy code, CodeNone when the error is not session-level.
	Code Code

	// StatusCode is an optional HTTP or WebSocket close status.
	StatusCode int

	// Details holds optional structured metadata about the error.
	Details map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// New creates a ContextualError with the given component, operation, and cause.
func New(component, operation string, cause error) *ContextualError {
	return &ContextualError{
		Component: component,
		Operation: operation,
		Cause:     cause,
	}
}

// Coded is shorthand for New(...).WithCode(code).
func Coded(component, operation string, code Code, cause error) *ContextualError {
	return New(component, operation, cause).WithCode(code)
}

// Error returns a human-readable representation of the error.
func (e *ContextualError) Error() string {
	base := fmt.Sprintf("[%s] %s", e.Component, e.Operation)

	if e.Code != CodeNone {
		base += " <" + string(e.Code) + ">"
	}

	if e.StatusCode != 0 {
		base += fmt.Sprintf(" (status %d)", e.StatusCode)
	}

	if e.Cause != nil {
		base += ": " + e.Cause.Error()
	}

	return base
}

// Unwrap returns the underlying cause, enabling use with errors.Is and errors.As.
func (e *ContextualError) Unwrap() error {
	return e.Cause
}

// WithCode sets the taxonomy code and returns the same error for chaining.
func (e *ContextualError) WithCode(code Code) *ContextualError {
	e.Code = code
	return e
}

// WithStatusCode sets the status code and returns the same error for chaining.
func (e *ContextualError) WithStatusCode(code int) *ContextualError {
	e.StatusCode = code
	return e
}

// WithDetails sets the details map and returns the same error for chaining.
func (e *ContextualError) WithDetails(details map[string]any) *ContextualError {
	e.Details = details
	return e
}

// CodeOf returns the first taxonomy code found in err's chain, or CodeNone.
func CodeOf(err error) Code {
	for err != nil {
		var ce *ContextualError
		if !stderrors.As(err, &ce) {
			return CodeNone
		}
		if ce.Code != CodeNone {
			return ce.Code
		}
		err = ce.Cause
	}
	return CodeNone
}

// Is, As and Join re-export the standard library helpers so callers that
// import this package under the name "errors" keep them at hand.
var (
	Is   = stderrors.Is
	As   = stderrors.As
	Join = stderrors.Join
)
