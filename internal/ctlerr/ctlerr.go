// Package ctlerr implements the error taxonomy of spec §7: errors are
// kinds, not types, so callers can switch on Kind() without importing a
// large type hierarchy. Grounded on internal/llm/errors.go's Error
// interface and ErrorFromHTTPStatus classification idiom.
package ctlerr

import (
	"errors"
	"fmt"
)

// Kind enumerates the taxonomy named in spec §7.
type Kind string

const (
	InputError    Kind = "InputError"
	IngestError   Kind = "IngestError"
	SetupError    Kind = "SetupError"
	PolicyBlock   Kind = "PolicyBlock"
	ExecError     Kind = "ExecError"
	TimeoutError  Kind = "Timeout"
	StallBailout  Kind = "StallBailout"
	BudgetBailout Kind = "BudgetBailout"
	ModelError    Kind = "ModelError"
	Fatal         Kind = "Fatal"
)

// Recoverable reports whether the loop should stay inside REPAIR_LOOP
// (true) or transition to BAILOUT (false), per spec §7's propagation
// policy. ModelError is recoverable only when it resulted from parsing
// (see NewModelParseError); transport-level ModelErrors are not.
func (k Kind) Recoverable() bool {
	switch k {
	case PolicyBlock, ExecError, TimeoutError:
		return true
	default:
		return false
	}
}

// Error is a kind-tagged error wrapping an underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Recoverable overrides Kind.Recoverable() for kinds whose
	// recoverability is context-dependent (ModelError).
	recoverableOverride *bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Recoverable reports whether the loop should continue past this error.
func (e *Error) Recoverable() bool {
	if e.recoverableOverride != nil {
		return *e.recoverableOverride
	}
	return e.Kind.Recoverable()
}

func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func NewRecoverable(kind Kind, message string, cause error, recoverable bool) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause, recoverableOverride: &recoverable}
}

// NewModelParseError builds a ModelError that IS recoverable: a malformed
// model response is converted to a synthetic tool_request by
// internal/modelproto and the loop continues (spec §4.14, §7).
func NewModelParseError(message string, cause error) *Error {
	return NewRecoverable(ModelError, message, cause, true)
}

// NewModelTransportError builds a ModelError that is NOT recoverable: a
// true transport failure bubbles to BAILOUT with a traceback per spec §7.
func NewModelTransportError(message string, cause error) *Error {
	return NewRecoverable(ModelError, message, cause, false)
}

// As is a typed convenience wrapper over errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the Kind of err if it (or something it wraps) is a
// *Error, and Fatal otherwise — matching spec §7's "Fatal: an unexpected
// exception in orchestration" catch-all.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Fatal
}
