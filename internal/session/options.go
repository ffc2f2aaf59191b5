package session

import "time"

// Defaults applied to zero-valued Options fields.
const (
	DefaultDiscoverTimeout    = 20 * time.Second
	DefaultConnectTimeout     = 10 * time.Second
	DefaultOperationTimeout   = 5 * time.Second
	DefaultNotificationBuffer = 128
)

// Options tune a Session.
type Options struct {
	// DiscoverTimeout bounds the scan for the target address.
	DiscoverTimeout time.Duration
	// ConnectTimeout bounds link establishment after the device was found.
	ConnectTimeout time.Duration
	// OperationTimeout bounds each read, write and subscribe unless the caller's context is shorter.
	OperationTimeout time.Duration
	// NotificationBuffer is the per-characteristic queue depth between transport and sink.
	// A full queue blocks the transport callback, frames are never dropped.
	NotificationBuffer int
	// PayloadMode is the mode assumed for payload notifications before any
	// ArmMeasurement or ReadMeasurementStatus call. Zero means unknown.
	PayloadMode uint8
}

// DefaultOptions returns Options with every field set to its default.
func DefaultOptions() Options {
	return Options{}.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.DiscoverTimeout <= 0 {
		o.DiscoverTimeout = DefaultDiscoverTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	if o.NotificationBuffer <= 0 {
		o.NotificationBuffer = DefaultNotificationBuffer
	}
	return o
}
