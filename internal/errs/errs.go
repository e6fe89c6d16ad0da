// Package errs defines the typed, wrapped error values shared by every
// conduit subsystem. Each Error carries the component and
// action that failed plus a message and an optional wrapped cause, and
// is comparable against the package's sentinels with errors.Is.
package errs

import "fmt"

// Error is conduit's standard wrapped-error shape: the component and
// action that failed, a message, and an optional wrapped cause.
type Error struct {
	Component string
	Action    string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Component, e.Action, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Component, e.Action, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes Error comparable against a sentinel wrapped as its Err field,
// so callers can do errors.Is(err, ErrProviderFatal) against an *Error
// returned by a deep call chain.
func (e *Error) Is(target error) bool {
	return e.Err == target
}

// New builds an *Error, optionally wrapping one of the sentinels below.
func New(component, action, message string, cause error) *Error {
	return &Error{Component: component, Action: action, Message: message, Err: cause}
}

// Sentinel error kinds. Wrap one of
// these as the cause of an *Error so errors.Is keeps working through
// the %w chain.
var (
	ErrProviderTransient = sentinel("provider call failed transiently")
	ErrProviderFatal     = sentinel("provider call failed fatally")
	ErrProviderExhausted = sentinel("provider rotation exhausted all candidates")
	ErrCommandUnknown    = sentinel("command is not registered")
	ErrCommandDisabled   = sentinel("command is not enabled for this agent")
	ErrArgumentInvalid   = sentinel("command argument invalid")
	ErrCommandFailed     = sentinel("command execution failed")
	ErrChainStepFailed   = sentinel("chain step failed")
	ErrChainRecursion    = sentinel("chain recursion depth exceeded")
	ErrCancelled         = sentinel("operation cancelled")
	ErrDeadlineExceeded  = sentinel("operation deadline exceeded")
	ErrStorage           = sentinel("storage operation failed")
)

type sentinelError string

func (s sentinelError) Error() string { return string(s) }

func sentinel(msg string) error { return sentinelError(msg) }
