package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/internal/groutine"
)

// Transport implements device.Transport on top of go-ble.
// The underlying Central is created lazily on first use and shared by all connections.
type Transport struct {
	logger *logrus.Logger

	mu      sync.Mutex
	central Central
}

// NewTransport creates a go-ble transport. A nil logger gets a default logrus logger.
func NewTransport(logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{logger: logger}
}

func (t *Transport) getCentral() (Central, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.central != nil {
		return t.central, nil
	}
	c, err := DeviceFactory()
	if err != nil {
		t.logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, NormalizeError(err)
	}
	t.central = c
	return c, nil
}

// connection is the device.ConnectionToken handed out by Transport.
type connection struct {
	handle device.DeviceHandle
	client GATTClient
	chars  map[device.CharacteristicID]*ble.Characteristic
	cccd   *ble.Descriptor

	done      chan struct{}
	closeOnce sync.Once
}

func (c *connection) Device() device.DeviceHandle   { return c.handle }
func (c *connection) Disconnected() <-chan struct{} { return c.done }
func (c *connection) markDisconnected()             { c.closeOnce.Do(func() { close(c.done) }) }
func (c *connection) isClosed() bool                { return isDone(c.done) }

func isDone(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// notification is the device.NotificationHandle handed out by Transport.
type notification struct {
	conn *connection
	id   device.CharacteristicID
	char *ble.Characteristic
	once sync.Once
}

func (n *notification) Characteristic() device.CharacteristicID { return n.id }

// Scan reports each device accepted by filter once per scan.
func (t *Transport) Scan(ctx context.Context, filter func(device.DeviceHandle) bool, handler func(device.DeviceHandle)) error {
	central, err := t.getCentral()
	if err != nil {
		return err
	}

	seen := newSeenSet()
	t.logger.Debug("Starting BLE scan")
	err = central.Scan(ctx, false, func(adv Advert) {
		h := device.DeviceHandle{Address: adv.Addr, Name: adv.Name, RSSI: adv.RSSI}
		if filter != nil && !filter(h) {
			return
		}
		if !seen.add(h) {
			return
		}
		t.logger.WithFields(logrus.Fields{
			"address": h.Address,
			"name":    h.Name,
			"rssi":    h.RSSI,
		}).Debug("Matching advertisement")
		handler(h)
	})
	if err != nil {
		return NormalizeError(err)
	}
	return nil
}

// Connect dials the device and resolves the sensor's characteristics.
func (t *Transport) Connect(ctx context.Context, handle device.DeviceHandle) (device.ConnectionToken, error) {
	if strings.TrimSpace(handle.Address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	central, err := t.getCentral()
	if err != nil {
		return nil, err
	}

	t.logger.WithField("address", handle.Address).Debug("Dialing BLE device...")
	client, err := central.Dial(ctx, handle.Address)
	if err != nil {
		t.logger.WithFields(logrus.Fields{
			"address": handle.Address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", handle.Address, NormalizeError(err))
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		t.cancelQuietly(client, "profile discovery failure")
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	conn := &connection{
		handle: handle,
		client: client,
		chars:  make(map[device.CharacteristicID]*ble.Characteristic),
		done:   make(chan struct{}),
	}
	if err := conn.resolve(profile); err != nil {
		t.cancelQuietly(client, "incomplete profile")
		return nil, err
	}

	// Monitor go-ble client Disconnected() channel
	if dc, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-connection-monitor", func(context.Context) {
			select {
			case <-dc.Disconnected():
				if !conn.isClosed() {
					t.logger.WithField("address", handle.Address).Warn("BLE stack reported disconnection")
				}
				conn.markDisconnected()
			case <-conn.done:
			}
		})
	} else {
		t.logger.Debug("Client does not support Disconnected() channel")
	}

	t.logger.WithFields(logrus.Fields{
		"address":         handle.Address,
		"characteristics": len(conn.chars),
	}).Info("BLE device connected")
	return conn, nil
}

// resolve maps the discovered profile onto characteristic identifiers.
// The control and short payload characteristics are mandatory, the rest are optional.
func (c *connection) resolve(profile *ble.Profile) error {
	for _, svc := range profile.Services {
		for _, ch := range svc.Characteristics {
			for _, id := range device.Characteristics() {
				if id.IsDescriptor() {
					continue
				}
				if ch.UUID.Equal(ble.MustParse(id.UUID())) {
					c.chars[id] = ch
				}
			}
		}
	}

	for _, id := range []device.CharacteristicID{device.MeasurementControl, device.ShortPayload} {
		if _, ok := c.chars[id]; !ok {
			return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{id.ServiceUUID(), id.UUID()}}
		}
	}

	short := c.chars[device.ShortPayload]
	c.cccd = short.CCCD
	if c.cccd == nil {
		// stacks report the CCCD either in 16-bit or in full SIG base form
		full := ble.MustParse(device.ClientCharacteristicConfigUUID)
		for _, d := range short.Descriptors {
			if d.UUID.Equal(ble.ClientCharacteristicConfigUUID) || d.UUID.Equal(full) {
				c.cccd = d
				break
			}
		}
	}
	return nil
}

func (t *Transport) cancelQuietly(client GATTClient, reason string) {
	if err := client.CancelConnection(); err != nil {
		t.logger.WithFields(logrus.Fields{
			"reason": reason,
			"error":  err,
		}).Warn("Failed to cancel connection")
	}
}

func (t *Transport) conn(token device.ConnectionToken) (*connection, error) {
	c, ok := token.(*connection)
	if !ok || c == nil {
		return nil, fmt.Errorf("%w: foreign connection token", device.ErrNotConnected)
	}
	if c.isClosed() {
		return nil, device.ErrNotConnected
	}
	return c, nil
}

// Disconnect tears the link down. Calling it on a closed token is a no-op.
func (t *Transport) Disconnect(token device.ConnectionToken) error {
	c, ok := token.(*connection)
	if !ok || c == nil || c.isClosed() {
		return nil
	}
	c.markDisconnected()

	err := NormalizeError(c.client.CancelConnection())
	if err != nil {
		t.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		return err
	}
	t.logger.WithField("address", c.handle.Address).Info("BLE device disconnected")
	return nil
}

func (c *connection) characteristic(id device.CharacteristicID) (*ble.Characteristic, error) {
	ch, ok := c.chars[id]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{id.ServiceUUID(), id.UUID()}}
	}
	return ch, nil
}

func (c *connection) descriptor() (*ble.Descriptor, error) {
	if c.cccd == nil {
		return nil, &device.NotFoundError{Resource: "descriptor", UUIDs: []string{device.ShortPayloadUUID, device.ClientCharacteristicConfigUUID}}
	}
	return c.cccd, nil
}

// ReadCharacteristic reads a characteristic or the short payload CCCD.
func (t *Transport) ReadCharacteristic(token device.ConnectionToken, id device.CharacteristicID) ([]byte, error) {
	c, err := t.conn(token)
	if err != nil {
		return nil, err
	}

	var data []byte
	if id.IsDescriptor() {
		d, derr := c.descriptor()
		if derr != nil {
			return nil, derr
		}
		data, err = c.client.ReadDescriptor(d)
	} else {
		ch, cerr := c.characteristic(id)
		if cerr != nil {
			return nil, cerr
		}
		data, err = c.client.ReadCharacteristic(ch)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", id, NormalizeError(err))
	}

	t.logger.WithFields(logrus.Fields{
		"characteristic": id.String(),
		"bytes":          len(data),
	}).Debug("Characteristic read")
	return data, nil
}

// WriteCharacteristic writes a characteristic or the short payload CCCD.
// Descriptor writes are always acknowledged.
func (t *Transport) WriteCharacteristic(token device.ConnectionToken, id device.CharacteristicID, data []byte, requireAck bool) error {
	c, err := t.conn(token)
	if err != nil {
		return err
	}

	if id.IsDescriptor() {
		d, derr := c.descriptor()
		if derr != nil {
			return derr
		}
		err = c.client.WriteDescriptor(d, data)
	} else {
		ch, cerr := c.characteristic(id)
		if cerr != nil {
			return cerr
		}
		err = c.client.WriteCharacteristic(ch, data, !requireAck)
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", id, NormalizeError(err))
	}

	t.logger.WithFields(logrus.Fields{
		"characteristic": id.String(),
		"bytes":          len(data),
		"ack":            requireAck,
	}).Debug("Characteristic written")
	return nil
}

// SubscribeNotify enables notifications on a characteristic.
func (t *Transport) SubscribeNotify(token device.ConnectionToken, id device.CharacteristicID, callback func([]byte)) (device.NotificationHandle, error) {
	c, err := t.conn(token)
	if err != nil {
		return nil, err
	}
	if !id.Notifiable() {
		return nil, fmt.Errorf("%w: %s", device.ErrNotNotify, id)
	}
	ch, err := c.characteristic(id)
	if err != nil {
		return nil, err
	}

	if err := c.client.Subscribe(ch, false, func(data []byte) {
		callback(data)
	}); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", id, NormalizeError(err))
	}

	t.logger.WithField("characteristic", id.String()).Info("Subscribed to characteristic notifications")
	return &notification{conn: c, id: id, char: ch}, nil
}

// UnsubscribeNotify disables notifications. Repeated calls are no-ops.
func (t *Transport) UnsubscribeNotify(handle device.NotificationHandle) error {
	n, ok := handle.(*notification)
	if !ok || n == nil {
		return fmt.Errorf("unknown notification handle")
	}

	var err error
	n.once.Do(func() {
		if n.conn.isClosed() {
			return
		}
		err = NormalizeError(n.conn.client.Unsubscribe(n.char, false))
		if err != nil {
			t.logger.WithFields(logrus.Fields{
				"characteristic": n.id.String(),
				"error":          err,
			}).Warn("Failed to unsubscribe from characteristic")
		}
	})
	return err
}
