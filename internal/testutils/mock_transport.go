package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/srg/xdot/internal/device"
	"github.com/stretchr/testify/mock"
)

// MockToken is a device.ConnectionToken whose link can be dropped from a test.
type MockToken struct {
	Handle device.DeviceHandle
	done   chan struct{}
	once   sync.Once
}

// NewMockToken creates a live token for handle.
func NewMockToken(handle device.DeviceHandle) *MockToken {
	return &MockToken{Handle: handle, done: make(chan struct{})}
}

func (t *MockToken) Device() device.DeviceHandle   { return t.Handle }
func (t *MockToken) Disconnected() <-chan struct{} { return t.done }

// Drop simulates the link going away.
func (t *MockToken) Drop() {
	t.once.Do(func() { close(t.done) })
}

// MockNotification is a device.NotificationHandle.
type MockNotification struct {
	ID device.CharacteristicID
}

func (n *MockNotification) Characteristic() device.CharacteristicID { return n.ID }

// MockTransport is a testify mock of device.Transport. Notification callbacks passed to
// SubscribeNotify are captured so tests can emit frames with Notify.
type MockTransport struct {
	mock.Mock

	mu        sync.Mutex
	callbacks map[device.CharacteristicID]func([]byte)
}

func NewMockTransport() *MockTransport {
	return &MockTransport{callbacks: make(map[device.CharacteristicID]func([]byte))}
}

func (m *MockTransport) Scan(ctx context.Context, filter func(device.DeviceHandle) bool, handler func(device.DeviceHandle)) error {
	args := m.Called(ctx, filter, handler)
	return args.Error(0)
}

func (m *MockTransport) Connect(ctx context.Context, handle device.DeviceHandle) (device.ConnectionToken, error) {
	args := m.Called(ctx, handle)
	token, _ := args.Get(0).(device.ConnectionToken)
	return token, args.Error(1)
}

func (m *MockTransport) Disconnect(token device.ConnectionToken) error {
	args := m.Called(token)
	return args.Error(0)
}

func (m *MockTransport) ReadCharacteristic(token device.ConnectionToken, id device.CharacteristicID) ([]byte, error) {
	args := m.Called(token, id)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockTransport) WriteCharacteristic(token device.ConnectionToken, id device.CharacteristicID, data []byte, requireAck bool) error {
	args := m.Called(token, id, data, requireAck)
	return args.Error(0)
}

func (m *MockTransport) SubscribeNotify(token device.ConnectionToken, id device.CharacteristicID, callback func([]byte)) (device.NotificationHandle, error) {
	args := m.Called(token, id, callback)
	if args.Error(1) == nil {
		m.mu.Lock()
		m.callbacks[id] = callback
		m.mu.Unlock()
	}
	handle, _ := args.Get(0).(device.NotificationHandle)
	return handle, args.Error(1)
}

func (m *MockTransport) UnsubscribeNotify(handle device.NotificationHandle) error {
	args := m.Called(handle)
	if args.Error(0) == nil && handle != nil {
		m.mu.Lock()
		delete(m.callbacks, handle.Characteristic())
		m.mu.Unlock()
	}
	return args.Error(0)
}

// Notify delivers a frame through the callback registered for id, as the BLE stack would.
func (m *MockTransport) Notify(id device.CharacteristicID, data []byte) error {
	m.mu.Lock()
	cb, ok := m.callbacks[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no notification callback registered for %s", id)
	}
	cb(data)
	return nil
}

// ExpectScan makes Scan report every advertised handle accepted by the filter and then
// keep scanning until its context ends, like a real BLE scan.
func (m *MockTransport) ExpectScan(advertised ...device.DeviceHandle) *mock.Call {
	return m.On("Scan", mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		filter := args.Get(1).(func(device.DeviceHandle) bool)
		handler := args.Get(2).(func(device.DeviceHandle))
		for _, h := range advertised {
			if filter(h) {
				handler(h)
			}
		}
		<-ctx.Done()
	}).Return(context.Canceled)
}

// ExpectConnect makes Connect to handle succeed with a fresh token.
func (m *MockTransport) ExpectConnect(handle device.DeviceHandle) *MockToken {
	token := NewMockToken(handle)
	m.On("Connect", mock.Anything, handle).Return(token, nil)
	return token
}

// ExpectDisconnect makes Disconnect of token succeed and drop its link.
func (m *MockTransport) ExpectDisconnect(token *MockToken) *mock.Call {
	return m.On("Disconnect", token).Run(func(mock.Arguments) {
		token.Drop()
	}).Return(nil)
}

// ExpectSubscribe makes SubscribeNotify and UnsubscribeNotify of id succeed.
func (m *MockTransport) ExpectSubscribe(token *MockToken, id device.CharacteristicID) *MockNotification {
	handle := &MockNotification{ID: id}
	m.On("SubscribeNotify", token, id, mock.Anything).Return(handle, nil)
	m.On("UnsubscribeNotify", handle).Return(nil).Maybe()
	return handle
}
