package worker

import (
	"errors"
	"fmt"
)

// Failure categories. Every error returned by Run is an *Error whose Kind is
// one of these, so callers can tell them apart with errors.Is.
var (
	// ErrUnsupported means the host cannot provide isolated execution contexts.
	ErrUnsupported = errors.New("worker: isolated execution not supported")

	// ErrRemote means the offloaded function returned an error or panicked.
	ErrRemote = errors.New("worker: remote execution failed")

	// ErrTimeout means the call exceeded its timeout and was torn down.
	ErrTimeout = errors.New("worker: timed out")

	// ErrTransport means the function or its arguments could not be delivered
	// to the isolated context, or the context failed to start.
	ErrTransport = errors.New("worker: transport failure")
)

// Error is a categorized offload failure.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

// Unwrap exposes both the category and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}
