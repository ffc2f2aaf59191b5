package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/internal/groutine"
	"github.com/srg/xdot/internal/protocol"
)

// Event is one notification frame after decoding. Exactly one of Value and Err is set.
type Event struct {
	Characteristic device.CharacteristicID
	Seq            uint64 // 1-based position in the characteristic's stream
	ReceivedAt     time.Time
	Raw            []byte
	// Value is protocol.MotionSample for payload characteristics, protocol.BatteryStatus
	// for the battery and protocol.MeasurementStatus for measurement control.
	Value any
	Err   error
}

// Sample returns the decoded motion sample, if the event carries one.
func (e Event) Sample() (protocol.MotionSample, bool) {
	s, ok := e.Value.(protocol.MotionSample)
	return s, ok
}

// Battery returns the decoded battery status, if the event carries one.
func (e Event) Battery() (protocol.BatteryStatus, bool) {
	b, ok := e.Value.(protocol.BatteryStatus)
	return b, ok
}

// Sink receives the events of one subscription, one call at a time, in arrival order.
type Sink func(Event)

// Decoder turns a raw frame of a characteristic into a typed value.
type Decoder func(id device.CharacteristicID, data []byte) (any, error)

// StreamStats counts what a stream delivered.
type StreamStats struct {
	Delivered    uint64
	DecodeErrors uint64
}

type frame struct {
	data []byte
	at   time.Time
}

// Dispatcher fans raw notification frames out to per-characteristic streams. Each stream
// owns a FIFO and a single worker goroutine, which makes decode-and-deliver sequential
// per characteristic while streams of different characteristics run independently.
type Dispatcher struct {
	logger *logrus.Logger
	buffer int
	decode Decoder
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. buffer is the queue depth of every stream.
func NewDispatcher(logger *logrus.Logger, buffer int, decode Decoder) *Dispatcher {
	if logger == nil {
		logger = logrus.New()
	}
	if buffer <= 0 {
		buffer = DefaultNotificationBuffer
	}
	return &Dispatcher{logger: logger, buffer: buffer, decode: decode}
}

type stream struct {
	id     device.CharacteristicID
	in     chan frame
	done   chan struct{}
	once   sync.Once
	sink   atomic.Pointer[Sink]
	closed atomic.Bool

	delivered    atomic.Uint64
	decodeErrors atomic.Uint64
}

// open starts a stream for id delivering to sink.
func (d *Dispatcher) open(id device.CharacteristicID, sink Sink) *stream {
	st := &stream{
		id:   id,
		in:   make(chan frame, d.buffer),
		done: make(chan struct{}),
	}
	st.setSink(sink)

	d.wg.Add(1)
	groutine.Go(context.Background(), fmt.Sprintf("dispatch-%s", id), func(ctx context.Context) {
		defer d.wg.Done()
		d.run(st)
		d.logger.WithField("goroutine", groutine.GetName(ctx)).Debug("Stream worker stopped")
	})
	return st
}

// Wait blocks until every stream worker has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(st *stream) {
	for {
		select {
		case <-st.done:
			return
		case f := <-st.in:
			if st.closed.Load() {
				return
			}
			d.deliver(st, f)
		}
	}
}

func (d *Dispatcher) deliver(st *stream, f frame) {
	ev := Event{
		Characteristic: st.id,
		Seq:            st.delivered.Add(1),
		ReceivedAt:     f.at,
		Raw:            f.data,
	}
	if v, err := d.decode(st.id, f.data); err != nil {
		ev.Err = err
		st.decodeErrors.Add(1)
		d.logger.WithFields(logrus.Fields{
			"characteristic": st.id.String(),
			"seq":            ev.Seq,
			"bytes":          len(f.data),
			"error":          err,
		}).Debug("Failed to decode notification frame")
	} else {
		ev.Value = v
	}

	sink := st.sink.Load()
	if sink == nil || *sink == nil {
		return
	}
	defer groutine.Recover(d.logger, "sink-"+st.id.String())
	(*sink)(ev)
}

func (st *stream) setSink(sink Sink) {
	st.sink.Store(&sink)
}

// push enqueues a frame, blocking while the stream's queue is full. Frames pushed
// after close are discarded.
func (st *stream) push(data []byte) {
	if st.closed.Load() {
		return
	}
	f := frame{data: append([]byte(nil), data...), at: time.Now()}
	select {
	case st.in <- f:
	case <-st.done:
	}
}

// close stops delivery. A sink call already running completes, no further calls are made.
func (st *stream) close() {
	st.once.Do(func() {
		st.closed.Store(true)
		close(st.done)
	})
}

func (st *stream) stats() StreamStats {
	return StreamStats{
		Delivered:    st.delivered.Load(),
		DecodeErrors: st.decodeErrors.Load(),
	}
}
