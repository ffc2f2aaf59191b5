package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/xdot/internal/device"
)

// errorRules maps fragments of go-ble error messages to device errors, first match wins.
// The platform backends only report plain strings.
var errorRules = []struct {
	kind      error
	fragments []string
}{
	{device.ErrBluetoothOff, []string{
		"have=4 want=5", // CoreBluetooth: powered off
		"bluetooth is turned off",
		"can't init hci",
		"no such device",
	}},
	{device.ErrAlreadyConnected, []string{"device already connected"}},
	{device.ErrNotConnected, []string{"device not connected", "disconnected"}},
	{device.ErrTimeout, []string{"timeout", "timed out"}},
}

// NormalizeError wraps a go-ble error with the matching device error, keeping the
// original message. Context errors and unknown errors are returned unchanged.
func NormalizeError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range errorRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(msg, fragment) {
				return fmt.Errorf("%w: %v", rule.kind, err)
			}
		}
	}
	return err
}
