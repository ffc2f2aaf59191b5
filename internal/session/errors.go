package session

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against an error returned by a Session.
var (
	ErrNotFound     = errors.New("device not found")
	ErrConnect      = errors.New("connect failed")
	ErrNotConnected = errors.New("not connected")
	ErrTransport    = errors.New("transport error")
	ErrLinkLost     = errors.New("link lost")
	ErrBusy         = errors.New("operation already in progress")
)

// Error is returned by Session operations. Kind is one of the package sentinels,
// Err carries the underlying cause (transport error, context error) if any.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", e.Op, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is matches the error kind. A lost link is also a transport failure
// for whichever operation observed it.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrLinkLost && target == ErrTransport
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
