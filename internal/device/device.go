package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource required by the sensor profile is missing
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem reported by a transport
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
	ErrNotNotify   = errors.New("characteristic does not support notifications")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// DeviceHandle identifies a discovered sensor. It is a value and never changes after discovery.
//
//nolint:revive // DeviceHandle reads better than Handle at call sites (device.DeviceHandle)
type DeviceHandle struct {
	Address string
	Name    string
	RSSI    int
}

// String renders the handle for logs and CLI output
func (h DeviceHandle) String() string {
	if h.Name == "" {
		return h.Address
	}
	return fmt.Sprintf("%s (%s)", h.Name, h.Address)
}

// MatchAddress reports whether the handle refers to the given address, ignoring case and separators
func (h DeviceHandle) MatchAddress(address string) bool {
	return NormalizeAddress(h.Address) == NormalizeAddress(address)
}

// NormalizeAddress upper-cases an address and strips ':' and '-' separators so that
// MAC addresses and CoreBluetooth UUID identifiers compare reliably.
func NormalizeAddress(address string) string {
	r := strings.NewReplacer(":", "", "-", "")
	return strings.ToUpper(r.Replace(strings.TrimSpace(address)))
}

// ConnectionToken is the opaque handle a Transport returns for an established link.
type ConnectionToken interface {
	// Device returns the handle the link was opened for.
	Device() DeviceHandle

	// Disconnected is closed when the link drops, whether requested or not.
	Disconnected() <-chan struct{}
}

// NotificationHandle identifies one active notification registration.
type NotificationHandle interface {
	Characteristic() CharacteristicID
}

// Transport is the boundary to a BLE stack. Implementations deliver notification
// frames in arrival order for any single characteristic and must not invoke the
// callback after UnsubscribeNotify returns.
type Transport interface {
	// Scan reports advertisements accepted by filter until ctx is done or the scan is stopped
	// by the caller cancelling ctx. Returning ctx.Err() on cancellation is expected.
	Scan(ctx context.Context, filter func(DeviceHandle) bool, handler func(DeviceHandle)) error

	Connect(ctx context.Context, handle DeviceHandle) (ConnectionToken, error)
	Disconnect(token ConnectionToken) error

	ReadCharacteristic(token ConnectionToken, id CharacteristicID) ([]byte, error)
	WriteCharacteristic(token ConnectionToken, id CharacteristicID, data []byte, requireAck bool) error

	SubscribeNotify(token ConnectionToken, id CharacteristicID, callback func([]byte)) (NotificationHandle, error)
	UnsubscribeNotify(handle NotificationHandle) error
}
