package boundary

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCallable is returned when a Call names no function or method.
	ErrNotCallable = errors.New("call target is not callable")

	// ErrNoMethod is returned when the receiver has no method of the given
	// name.
	ErrNoMethod = errors.New("no such method")

	// ErrChannelClosed is returned when a deferred channel result is closed
	// before it delivers a value.
	ErrChannelClosed = errors.New("channel closed before a value arrived")
)

// CallError reports a crossing that could not be set up: the target could
// not be resolved or the arguments do not fit its signature. Errors
// returned by the target itself are never wrapped.
type CallError struct {
	Target string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("boundary: call %s: %v", e.Target, e.Err)
}

func (e *CallError) Unwrap() error {
	return e.Err
}
