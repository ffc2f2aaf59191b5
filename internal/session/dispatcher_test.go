package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/xdot/internal/device"
)

var errOdd = errors.New("odd frame")

// firstByteDecoder decodes a frame into its first byte and rejects odd values.
func firstByteDecoder(_ device.CharacteristicID, data []byte) (any, error) {
	if len(data) == 0 || data[0]%2 == 1 {
		return nil, errOdd
	}
	return data[0], nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) sink(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) get() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestDispatcher_OrderAndDecodeErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger, 4, firstByteDecoder)

	var rec recorder
	st := d.open(device.ShortPayload, rec.sink)

	// more frames than the queue holds: push blocks instead of dropping
	for i := 0; i < 20; i++ {
		st.push([]byte{byte(i)})
	}

	require.Eventually(t, func() bool { return len(rec.get()) == 20 }, time.Second, 2*time.Millisecond)
	events := rec.get()
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		assert.Equal(t, []byte{byte(i)}, ev.Raw)
		if i%2 == 1 {
			assert.ErrorIs(t, ev.Err, errOdd)
			assert.Nil(t, ev.Value)
		} else {
			assert.NoError(t, ev.Err)
			assert.Equal(t, byte(i), ev.Value)
		}
	}
	assert.Equal(t, StreamStats{Delivered: 20, DecodeErrors: 10}, st.stats())

	st.close()
	d.Wait()
}

func TestDispatcher_PushCopiesFrame(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger, 1, firstByteDecoder)

	var rec recorder
	st := d.open(device.Battery, rec.sink)

	buf := []byte{2, 9}
	st.push(buf)
	buf[0] = 4 // transport stacks reuse their buffers

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, []byte{2, 9}, rec.get()[0].Raw)

	st.close()
	d.Wait()
}

func TestDispatcher_SinkPanicIsContained(t *testing.T) {
	logger, hook := test.NewNullLogger()
	d := NewDispatcher(logger, 4, firstByteDecoder)

	var rec recorder
	st := d.open(device.ShortPayload, func(ev Event) {
		if ev.Seq == 1 {
			panic("sink exploded")
		}
		rec.sink(ev)
	})

	st.push([]byte{0})
	st.push([]byte{2})

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 2*time.Millisecond)
	assert.Equal(t, uint64(2), rec.get()[0].Seq, "stream MUST survive a panicking sink")

	var panics int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			panics++
		}
	}
	assert.Equal(t, 1, panics)

	st.close()
	d.Wait()
}

func TestDispatcher_SetSink(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger, 4, firstByteDecoder)

	var first, second recorder
	st := d.open(device.ShortPayload, first.sink)

	st.push([]byte{0})
	require.Eventually(t, func() bool { return len(first.get()) == 1 }, time.Second, 2*time.Millisecond)

	st.setSink(second.sink)
	st.push([]byte{2})
	require.Eventually(t, func() bool { return len(second.get()) == 1 }, time.Second, 2*time.Millisecond)

	assert.Len(t, first.get(), 1)
	assert.Equal(t, uint64(2), second.get()[0].Seq, "sequence MUST continue across sink replacement")

	st.close()
	d.Wait()
}

func TestDispatcher_CloseStopsDelivery(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger, 4, firstByteDecoder)

	var rec recorder
	st := d.open(device.ShortPayload, rec.sink)
	st.close()
	st.close()
	d.Wait()

	st.push([]byte{0})
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.get(), "no sink call MUST happen after close")
}

func TestDispatcher_StreamsAreIndependent(t *testing.T) {
	logger, _ := test.NewNullLogger()
	d := NewDispatcher(logger, 1, firstByteDecoder)

	block := make(chan struct{})
	slow := d.open(device.ShortPayload, func(Event) { <-block })
	var rec recorder
	fast := d.open(device.Battery, rec.sink)

	slow.push([]byte{0})
	fast.push([]byte{2})

	require.Eventually(t, func() bool { return len(rec.get()) == 1 }, time.Second, 2*time.Millisecond,
		"a stalled stream MUST NOT hold up another characteristic")

	close(block)
	slow.close()
	fast.close()
	d.Wait()
}
