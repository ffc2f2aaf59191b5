package protocol

import (
	"errors"
	"fmt"
)

// Sentinel kinds for errors.Is matching.
var (
	ErrDecode             = errors.New("decode error")
	ErrUnknownPayloadMode = errors.New("unknown payload mode")
)

// DecodeError is returned when a frame does not match the layout it is decoded against.
type DecodeError struct {
	What     string // "battery", "measurement status", payload mode name
	Expected int    // expected length in bytes, 0 if the layout is not known
	Got      int
	Reason   string
}

func (e *DecodeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("decode %s: %s", e.What, e.Reason)
	}
	return fmt.Sprintf("decode %s: expected %d bytes, got %d", e.What, e.Expected, e.Got)
}

// Is allows errors.Is(err, ErrDecode)
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// UnknownModeError reports a payload mode code absent from the registry.
type UnknownModeError struct {
	Code uint8
	Name string
}

func (e *UnknownModeError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("unknown payload mode %q", e.Name)
	}
	return fmt.Sprintf("unknown payload mode %d", e.Code)
}

// Is allows errors.Is(err, ErrUnknownPayloadMode)
func (e *UnknownModeError) Is(target error) bool {
	return target == ErrUnknownPayloadMode
}

func lengthError(what string, expected int, data []byte) error {
	return &DecodeError{What: what, Expected: expected, Got: len(data)}
}
