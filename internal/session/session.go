// Package session drives one DOT sensor connection: discovery, link establishment,
// characteristic reads and writes, measurement control and notification subscriptions.
//
// A Session is a single-use state machine. Once it reaches Disconnected or Failed it
// cannot be reconnected; create a new Session instead. No operation is retried.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/internal/groutine"
	"github.com/srg/xdot/internal/protocol"
)

// Session owns one device link and the subscriptions made through it.
type Session struct {
	transport device.Transport
	logger    *logrus.Logger
	opts      Options

	mu            sync.Mutex
	state         State
	failure       error
	handle        device.DeviceHandle
	token         device.ConnectionToken
	linkDown      chan struct{} // closed when the session leaves Connected
	cancelAttempt context.CancelFunc
	attemptDone   chan struct{}
	aborted       bool

	status      *protocol.MeasurementStatus
	lastCommand *protocol.MeasurementControlCommand
	mode        uint8

	// gatt admits one outstanding GATT operation on the link.
	gatt      chan struct{}
	readBusy  atomic.Bool
	writeBusy atomic.Bool

	subMu      sync.Mutex
	subs       map[device.CharacteristicID]*subscription
	generation uint64
	dispatcher *Dispatcher
}

type subscription struct {
	stream *stream
	handle device.NotificationHandle
	gen    uint64
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	session *Session
	id      device.CharacteristicID
	gen     uint64
	stream  *stream
}

// Characteristic returns the subscribed characteristic.
func (h *Subscription) Characteristic() device.CharacteristicID {
	return h.id
}

// Stats reports what the subscription's stream delivered so far.
func (h *Subscription) Stats() StreamStats {
	return h.stream.stats()
}

// New creates an Idle session. The transport is shared infrastructure and is not closed by the session.
func New(transport device.Transport, logger *logrus.Logger, opts Options) *Session {
	if logger == nil {
		logger = logrus.New()
	}
	s := &Session{
		transport: transport,
		logger:    logger,
		opts:      opts.withDefaults(),
		state:     Idle,
		gatt:      make(chan struct{}, 1),
		subs:      make(map[device.CharacteristicID]*subscription),
		mode:      opts.PayloadMode,
	}
	s.dispatcher = NewDispatcher(logger, s.opts.NotificationBuffer, s.decodeFrame)
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Failure returns why the session is Failed: an error matching ErrNotFound, ErrConnect or ErrLinkLost.
// It returns nil in every other state.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Device returns the handle of the discovered device (zero before Found).
func (s *Session) Device() device.DeviceHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Done returns a channel closed when the session leaves Connected, by Disconnect or link loss.
// It returns nil before the session is Connected.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linkDown
}

// MeasurementStatus returns the modelled measurement status: the last one read, or the one
// implied by the last acknowledged control command.
func (s *Session) MeasurementStatus() (protocol.MeasurementStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == nil {
		return protocol.MeasurementStatus{}, false
	}
	return *s.status, true
}

// LastCommand returns the last measurement control command the device acknowledged.
func (s *Session) LastCommand() (protocol.MeasurementControlCommand, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastCommand == nil {
		return protocol.MeasurementControlCommand{}, false
	}
	return *s.lastCommand, true
}

// PayloadMode returns the mode used to decode payload notifications, zero if unknown.
func (s *Session) PayloadMode() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetPayloadMode overrides the decode mode, e.g. when the device was armed by another client.
func (s *Session) SetPayloadMode(code uint8) error {
	if _, err := protocol.Mode(code); err != nil {
		return err
	}
	s.mu.Lock()
	s.mode = code
	s.mu.Unlock()
	return nil
}

// setState must be called with mu held.
func (s *Session) setState(to State, failure error) {
	from := s.state
	if !CanTransition(from, to) {
		// Guarded by the callers; reaching this is a bug in the session itself.
		panic(&TransitionError{From: from, To: to})
	}
	s.state = to
	if to == Failed {
		s.failure = failure
	}
	fields := logrus.Fields{"from": from.String(), "to": to.String()}
	if s.handle.Address != "" {
		fields["address"] = s.handle.Address
	}
	if failure != nil {
		fields["reason"] = failure
	}
	s.logger.WithFields(fields).Debug("Session state changed")
}

// DiscoverAndConnect scans for address, then connects. It blocks until the session is
// Connected or the attempt failed. On failure the session is Failed with ErrNotFound or
// ErrConnect, or Disconnected when Disconnect aborted the attempt.
func (s *Session) DiscoverAndConnect(ctx context.Context, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("discover: device address is required")
	}

	s.mu.Lock()
	if s.state != Idle {
		state := s.state
		s.mu.Unlock()
		return newError(ErrBusy, "discover", fmt.Errorf("session is %s", state))
	}
	attemptCtx, cancel := context.WithCancel(ctx)
	s.cancelAttempt = cancel
	s.attemptDone = make(chan struct{})
	s.setState(Scanning, nil)
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.cancelAttempt = nil
		close(s.attemptDone)
		s.mu.Unlock()
	}()

	s.logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": s.opts.DiscoverTimeout,
	}).Info("Scanning for device...")

	handle, err := s.discover(attemptCtx, address)
	if err != nil {
		return s.failAttempt("discover", ErrNotFound, err)
	}

	s.mu.Lock()
	if s.aborted {
		s.setState(Disconnected, nil)
		s.mu.Unlock()
		return newError(ErrConnect, "connect", context.Canceled)
	}
	s.handle = handle
	s.setState(Found, nil)
	s.setState(Connecting, nil)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": handle.Address,
		"name":    handle.Name,
		"rssi":    handle.RSSI,
	}).Info("Device found, connecting...")

	connectCtx, connectCancel := context.WithTimeout(attemptCtx, s.opts.ConnectTimeout)
	defer connectCancel()

	token, err := s.transport.Connect(connectCtx, handle)
	if err != nil {
		return s.failAttempt("connect", ErrConnect, err)
	}

	s.mu.Lock()
	if s.aborted {
		s.setState(Disconnected, nil)
		s.mu.Unlock()
		if derr := s.transport.Disconnect(token); derr != nil {
			s.logger.WithField("error", derr).Warn("Failed to release link of an aborted attempt")
		}
		return newError(ErrConnect, "connect", context.Canceled)
	}
	s.token = token
	s.linkDown = make(chan struct{})
	linkDown := s.linkDown
	s.setState(Connected, nil)
	s.mu.Unlock()

	groutine.GoSafe(context.Background(), "session-link-monitor", s.logger, func(context.Context) {
		select {
		case <-token.Disconnected():
			s.onLinkLost()
		case <-linkDown:
		}
	})

	s.logger.WithField("address", handle.Address).Info("Connected")
	return nil
}

func (s *Session) failAttempt(op string, kind error, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		s.setState(Disconnected, nil)
		return newError(kind, op, cause)
	}
	err := newError(kind, op, cause)
	s.setState(Failed, err)

	s.logger.WithFields(logrus.Fields{
		"op":    op,
		"error": cause,
	}).Error("Connection attempt failed")
	return err
}

// discover runs a scan bounded by DiscoverTimeout and returns the first handle matching address.
func (s *Session) discover(ctx context.Context, address string) (device.DeviceHandle, error) {
	scanCtx, cancel := context.WithTimeout(ctx, s.opts.DiscoverTimeout)
	defer cancel()

	found := make(chan device.DeviceHandle, 1)
	scanErr := make(chan error, 1)
	var once sync.Once

	groutine.Go(scanCtx, "session-scan", func(ctx context.Context) {
		scanErr <- s.transport.Scan(ctx,
			func(h device.DeviceHandle) bool { return h.MatchAddress(address) },
			func(h device.DeviceHandle) {
				once.Do(func() {
					found <- h
					cancel()
				})
			})
	})

	notFound := func(cause error) (device.DeviceHandle, error) {
		if ctx.Err() != nil {
			return device.DeviceHandle{}, fmt.Errorf("scan for %s aborted: %w", address, ctx.Err())
		}
		if cause != nil && !errors.Is(cause, context.Canceled) && !errors.Is(cause, context.DeadlineExceeded) {
			return device.DeviceHandle{}, fmt.Errorf("scan for %s: %w", address, cause)
		}
		return device.DeviceHandle{}, fmt.Errorf("no device with address %s within %s", address, s.opts.DiscoverTimeout)
	}

	select {
	case h := <-found:
		return h, nil
	case err := <-scanErr:
		select {
		case h := <-found:
			return h, nil
		default:
		}
		return notFound(err)
	case <-scanCtx.Done():
		select {
		case h := <-found:
			return h, nil
		default:
		}
		return notFound(nil)
	}
}

// onLinkLost handles an unrequested link drop: the session fails with ErrLinkLost,
// in-flight operations are released and subscriptions are revoked.
func (s *Session) onLinkLost() {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.setState(Failed, newError(ErrLinkLost, "link", device.ErrNotConnected))
	close(s.linkDown)
	address := s.handle.Address
	s.mu.Unlock()

	s.logger.WithField("address", address).Warn("Link lost")
	s.revokeSubscriptions(false)
}

// Disconnect releases the link and revokes every subscription. It aborts an attempt
// still scanning or connecting. Calling it again, or on a failed session, is a no-op.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	switch s.state {
	case Idle:
		s.setState(Disconnected, nil)
		s.mu.Unlock()
		return nil

	case Scanning, Found, Connecting:
		s.aborted = true
		cancel, done := s.cancelAttempt, s.attemptDone
		s.mu.Unlock()
		s.logger.Info("Aborting connection attempt")
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
		return nil

	case Connected:
		s.setState(Disconnecting, nil)
		close(s.linkDown)
		token, address := s.token, s.handle.Address
		s.mu.Unlock()

		s.logger.WithField("address", address).Info("Disconnecting...")
		s.revokeSubscriptions(true)

		err := s.transport.Disconnect(token)

		s.mu.Lock()
		s.setState(Disconnected, nil)
		s.mu.Unlock()

		if err != nil {
			s.logger.WithField("error", err).Warn("Disconnected with errors")
			return newError(ErrTransport, "disconnect", err)
		}
		s.logger.Info("Disconnected")
		return nil

	default:
		// Disconnecting, Disconnected, Failed
		s.mu.Unlock()
		return nil
	}
}

// connected returns the link token and its linkDown channel, or ErrNotConnected.
func (s *Session) connected(op string) (device.ConnectionToken, <-chan struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Connected {
		return nil, nil, newError(ErrNotConnected, op, fmt.Errorf("session is %s", s.state))
	}
	return s.token, s.linkDown, nil
}

// linkError reports why linkDown was closed.
func (s *Session) linkError(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Failed && errors.Is(s.failure, ErrLinkLost) {
		return newError(ErrLinkLost, op, device.ErrNotConnected)
	}
	return newError(ErrNotConnected, op, fmt.Errorf("session is %s", s.state))
}

// gattCall runs one transport operation under the link's single-operation admission.
// The caller is released on completion, ctx expiry or link loss, whichever comes first;
// admission is returned only when the transport call itself returns.
func (s *Session) gattCall(ctx context.Context, op string, call func(token device.ConnectionToken) ([]byte, error)) ([]byte, error) {
	token, linkDown, err := s.connected(op)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.OperationTimeout)
	defer cancel()

	select {
	case s.gatt <- struct{}{}:
	case <-ctx.Done():
		return nil, newError(ErrTransport, op, ctx.Err())
	case <-linkDown:
		return nil, s.linkError(op)
	}

	type result struct {
		data []byte
		err  error
	}
	resultCh := make(chan result, 1)
	groutine.Go(ctx, "gatt-"+op, func(context.Context) {
		defer func() { <-s.gatt }()
		data, err := call(token)
		resultCh <- result{data: data, err: err}
	})

	select {
	case r := <-resultCh:
		if r.err != nil {
			return nil, newError(ErrTransport, op, r.err)
		}
		return r.data, nil
	case <-ctx.Done():
		select {
		case r := <-resultCh:
			if r.err != nil {
				return nil, newError(ErrTransport, op, r.err)
			}
			return r.data, nil
		default:
		}
		s.onStalled(op, ctx.Err())
		return nil, newError(ErrTransport, op, ctx.Err())
	case <-linkDown:
		return nil, s.linkError(op)
	}
}

// onStalled fails the session when a transport call outlived its caller. The call still
// holds the link's admission, so no later operation could reach the device.
func (s *Session) onStalled(op string, cause error) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return
	}
	s.setState(Failed, newError(ErrLinkLost, op, fmt.Errorf("transport call stalled: %w", cause)))
	close(s.linkDown)
	token, address := s.token, s.handle.Address
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"address": address,
		"op":      op,
		"error":   cause,
	}).Error("Transport call stalled, dropping link")

	// Subscribe may hold subMu while its own call is stuck.
	groutine.GoSafe(context.Background(), "session-release-stalled-link", s.logger, func(context.Context) {
		s.revokeSubscriptions(false)
		if err := s.transport.Disconnect(token); err != nil {
			s.logger.WithField("error", err).Warn("Failed to release stalled link")
		}
	})
}

// ReadCharacteristic reads a characteristic. Only one read may be in flight.
func (s *Session) ReadCharacteristic(ctx context.Context, id device.CharacteristicID) ([]byte, error) {
	op := "read " + id.String()
	if _, _, err := s.connected(op); err != nil {
		return nil, err
	}
	if !s.readBusy.CompareAndSwap(false, true) {
		return nil, newError(ErrBusy, op, nil)
	}
	defer s.readBusy.Store(false)

	data, err := s.gattCall(ctx, op, func(token device.ConnectionToken) ([]byte, error) {
		return s.transport.ReadCharacteristic(token, id)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{"characteristic": id.String(), "error": err}).Error("Read failed")
		return nil, err
	}
	return data, nil
}

// WriteCharacteristic writes a characteristic. With requireAck the call succeeds only once
// the device acknowledged the write. Only one write may be in flight.
func (s *Session) WriteCharacteristic(ctx context.Context, id device.CharacteristicID, data []byte, requireAck bool) error {
	op := "write " + id.String()
	if _, _, err := s.connected(op); err != nil {
		return err
	}
	if !s.writeBusy.CompareAndSwap(false, true) {
		return newError(ErrBusy, op, nil)
	}
	defer s.writeBusy.Store(false)

	_, err := s.gattCall(ctx, op, func(token device.ConnectionToken) ([]byte, error) {
		return nil, s.transport.WriteCharacteristic(token, id, data, requireAck)
	})
	if err != nil {
		s.logger.WithFields(logrus.Fields{"characteristic": id.String(), "error": err}).Error("Write failed")
	}
	return err
}

// ArmMeasurement starts or stops streaming in the given payload mode. The write is
// acknowledged at transport level only; the modelled status is updated optimistically,
// re-read it with ReadMeasurementStatus when it matters.
func (s *Session) ArmMeasurement(ctx context.Context, modeCode uint8, start bool) error {
	cmd, err := protocol.NewControlCommand(modeCode, start)
	if err != nil {
		return fmt.Errorf("arm measurement: %w", err)
	}

	if err := s.WriteCharacteristic(ctx, device.MeasurementControl, protocol.EncodeMeasurementControl(cmd), true); err != nil {
		return err
	}

	status := cmd.Status()
	s.mu.Lock()
	s.status = &status
	s.lastCommand = &cmd
	s.mode = cmd.Mode.Code
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"action": cmd.Action.String(),
		"mode":   cmd.Mode.Name,
	}).Info("Measurement control acknowledged")
	return nil
}

// ReadBattery reads and decodes the battery characteristic.
func (s *Session) ReadBattery(ctx context.Context) (protocol.BatteryStatus, error) {
	data, err := s.ReadCharacteristic(ctx, device.Battery)
	if err != nil {
		return protocol.BatteryStatus{}, err
	}
	return protocol.DecodeBattery(data)
}

// ReadMeasurementStatus reads the authoritative measurement status and adopts its payload mode.
func (s *Session) ReadMeasurementStatus(ctx context.Context) (protocol.MeasurementStatus, error) {
	data, err := s.ReadCharacteristic(ctx, device.MeasurementControl)
	if err != nil {
		return protocol.MeasurementStatus{}, err
	}
	status, err := protocol.DecodeMeasurementStatus(data)
	if err != nil {
		return protocol.MeasurementStatus{}, err
	}

	s.mu.Lock()
	s.status = &status
	if _, ok := protocol.LookupMode(status.PayloadMode); ok {
		s.mode = status.PayloadMode
	}
	s.mu.Unlock()
	return status, nil
}

// EnableShortPayloadCCCD writes the notify bit to the short payload CCCD directly.
// Subscribe does this implicitly; some stacks need it done by hand.
func (s *Session) EnableShortPayloadCCCD(ctx context.Context) error {
	return s.WriteCharacteristic(ctx, device.NotificationDescriptor, device.CCCDEnableNotify, true)
}

// Subscribe registers sink for notifications of id. Subscribing again to the same
// characteristic replaces the sink; the previous handle becomes inert.
func (s *Session) Subscribe(ctx context.Context, id device.CharacteristicID, sink Sink) (*Subscription, error) {
	op := "subscribe " + id.String()
	if _, _, err := s.connected(op); err != nil {
		return nil, err
	}
	if !id.Notifiable() {
		return nil, fmt.Errorf("%s: %w", op, device.ErrNotNotify)
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	s.generation++
	gen := s.generation

	if existing, ok := s.subs[id]; ok {
		existing.stream.setSink(sink)
		existing.gen = gen
		s.logger.WithField("characteristic", id.String()).Debug("Subscription sink replaced")
		return &Subscription{session: s, id: id, gen: gen, stream: existing.stream}, nil
	}

	st := s.dispatcher.open(id, sink)
	reg := &registration{}
	_, err := s.gattCall(ctx, op, func(token device.ConnectionToken) ([]byte, error) {
		h, err := s.transport.SubscribeNotify(token, id, st.push)
		if err == nil && !reg.complete(h) {
			s.releaseRegistration(id, h)
		}
		return nil, err
	})
	if err == nil {
		// Disconnect may have started while the transport call was running.
		_, _, err = s.connected(op)
	}
	if err != nil {
		st.close()
		if h, ok := reg.abandon(); ok {
			s.releaseRegistration(id, h)
		}
		return nil, err
	}

	handle, _ := reg.abandon()
	s.subs[id] = &subscription{stream: st, handle: handle, gen: gen}
	s.logger.WithField("characteristic", id.String()).Info("Subscribed")
	return &Subscription{session: s, id: id, gen: gen, stream: st}, nil
}

// registration hands a notification handle from the transport call to Subscribe.
// Whichever side comes last owns the handle: Subscribe when the call finished first,
// the call itself when Subscribe already gave up on it.
type registration struct {
	mu        sync.Mutex
	handle    device.NotificationHandle
	done      bool
	abandoned bool
}

// complete records h. It returns false when the waiter is gone and h must be released by the caller.
func (r *registration) complete(h device.NotificationHandle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handle, r.done = h, true
	return !r.abandoned
}

// abandon detaches the waiter and returns the handle if the call already completed.
func (r *registration) abandon() (device.NotificationHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abandoned = true
	return r.handle, r.done && r.handle != nil
}

func (s *Session) releaseRegistration(id device.CharacteristicID, h device.NotificationHandle) {
	if h == nil {
		return
	}
	if err := s.transport.UnsubscribeNotify(h); err != nil {
		s.logger.WithFields(logrus.Fields{
			"characteristic": id.String(),
			"error":          err,
		}).Warn("Failed to release abandoned subscription")
		return
	}
	s.logger.WithField("characteristic", id.String()).Debug("Abandoned subscription released")
}

// Unsubscribe revokes a subscription. It is a no-op for a replaced or already revoked
// handle and after the session disconnected.
func (s *Session) Unsubscribe(h *Subscription) error {
	if h == nil || h.session != s {
		return nil
	}

	s.subMu.Lock()
	defer s.subMu.Unlock()

	sub, ok := s.subs[h.id]
	if !ok || sub.gen != h.gen {
		return nil
	}
	delete(s.subs, h.id)
	sub.stream.close()

	if _, _, err := s.connected("unsubscribe"); err != nil {
		return nil
	}
	if err := s.transport.UnsubscribeNotify(sub.handle); err != nil {
		s.logger.WithFields(logrus.Fields{
			"characteristic": h.id.String(),
			"error":          err,
		}).Warn("Failed to unsubscribe")
		return newError(ErrTransport, "unsubscribe "+h.id.String(), err)
	}
	s.logger.WithField("characteristic", h.id.String()).Info("Unsubscribed")
	return nil
}

// revokeSubscriptions stops every stream. With graceful set the transport registrations are
// released too; after a link loss there is nothing left to release.
func (s *Session) revokeSubscriptions(graceful bool) {
	s.subMu.Lock()
	subs := s.subs
	s.subs = make(map[device.CharacteristicID]*subscription)
	s.subMu.Unlock()

	for id, sub := range subs {
		sub.stream.close()
		if !graceful || sub.handle == nil {
			continue
		}
		if err := s.transport.UnsubscribeNotify(sub.handle); err != nil {
			s.logger.WithFields(logrus.Fields{
				"characteristic": id.String(),
				"error":          err,
			}).Warn("Failed to unsubscribe during disconnect")
		}
	}
}

// Subscriptions returns the characteristics with an active subscription.
func (s *Session) Subscriptions() []device.CharacteristicID {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	out := make([]device.CharacteristicID, 0, len(s.subs))
	for _, id := range device.Characteristics() {
		if _, ok := s.subs[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// decodeFrame picks the decoder for a notification: the fixed layouts for battery and
// measurement status, the current payload mode for payload characteristics.
func (s *Session) decodeFrame(id device.CharacteristicID, data []byte) (any, error) {
	switch {
	case id == device.Battery:
		v, err := protocol.DecodeBattery(data)
		return v, err
	case id == device.MeasurementControl:
		v, err := protocol.DecodeMeasurementStatus(data)
		return v, err
	case id.IsPayload():
		mode := s.PayloadMode()
		if mode == 0 {
			return nil, &protocol.DecodeError{What: id.String(), Got: len(data), Reason: "no payload mode configured"}
		}
		v, err := protocol.DecodeMotionSample(mode, data)
		return v, err
	default:
		return append([]byte(nil), data...), nil
	}
}
