package main

import (
	"errors"
	"fmt"

	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/internal/protocol"
	"github.com/srg/xdot/internal/session"
)

// Command-level errors
var (
	// ErrNoAddress means neither an address argument nor a configured address was given.
	ErrNoAddress = errors.New("no device address given")

	// ErrVerifyFailed means the device did not report the measurement state that was just commanded.
	ErrVerifyFailed = errors.New("measurement status verification failed")
)

// FormatUserError turns an error chain into a message with a hint for the common cases.
// The original error is kept at the end for diagnosis.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var hint string
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "Bluetooth is off or no adapter is available"
	case errors.Is(err, ErrNoAddress):
		hint = "pass the sensor address as an argument or set 'address' in the config file"
	case errors.Is(err, session.ErrNotFound):
		hint = "sensor not found; make sure it is powered on, not connected elsewhere, and in range"
	case errors.Is(err, session.ErrLinkLost):
		hint = "connection to the sensor was lost"
	case errors.Is(err, session.ErrConnect):
		hint = "could not connect to the sensor"
	case errors.Is(err, session.ErrBusy):
		hint = "another operation is still running on this connection"
	case errors.Is(err, protocol.ErrUnknownPayloadMode):
		hint = "unknown payload mode; run 'xdot modes' for the list"
	case errors.Is(err, protocol.ErrDecode):
		hint = "the sensor sent data this client cannot decode"
	case errors.Is(err, session.ErrTransport):
		hint = "Bluetooth operation failed"
	default:
		return err.Error()
	}
	return fmt.Sprintf("%s (%v)", hint, err)
}
