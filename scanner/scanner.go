package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/internal/ringchan"
)

// DefaultNamePrefixes are the advertised names of DOT sensors, old and new branding.
var DefaultNamePrefixes = []string{"Xsens DOT", "Movella DOT"}

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventUpdated {
		return "updated"
	}
	return "new"
}

type DeviceEvent struct {
	Type   DeviceEventType
	Device device.DeviceHandle
}

// Scanner discovers DOT sensors. Devices are remembered across scans, so a device
// seen again in a later scan is reported as EventUpdated.
type Scanner struct {
	transport device.Transport
	devices   *hashmap.Map[string, device.DeviceHandle]
	events    *ringchan.RingChannel[DeviceEvent]
	logger    *logrus.Logger
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration time.Duration
	// NamePrefixes keeps devices whose advertised name starts with one of the prefixes.
	// Empty accepts every name.
	NamePrefixes []string
	AllowList    []string
	BlockList    []string
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:     10 * time.Second,
		NamePrefixes: DefaultNamePrefixes,
	}
}

// NewScanner creates a scanner on top of transport
func NewScanner(transport device.Transport, logger *logrus.Logger) (*Scanner, error) {
	if transport == nil {
		return nil, errors.New("scanner requires a transport")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		transport: transport,
		devices:   hashmap.New[string, device.DeviceHandle](),
		events:    ringchan.New[DeviceEvent](100),
		logger:    logger,
	}, nil
}

// Scan runs discovery for opts.Duration (or until ctx ends) and returns the devices seen
// in this scan, strongest signal first.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) ([]device.DeviceHandle, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")

	// Report scanning phase
	progressCallback("Scanning")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	found := hashmap.New[string, device.DeviceHandle]()
	err := s.transport.Scan(scanCtx,
		func(h device.DeviceHandle) bool { return shouldIncludeDevice(h, opts) },
		func(h device.DeviceHandle) {
			found.Set(device.NormalizeAddress(h.Address), h)
			s.handleDevice(h)
		})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", found.Len()).Info("BLE scan completed")

	// Report processing phase
	progressCallback("Processing results")

	devices := make([]device.DeviceHandle, 0, found.Len())
	found.Range(func(_ string, h device.DeviceHandle) bool {
		devices = append(devices, h)
		return true
	})
	sort.Slice(devices, func(i, j int) bool {
		if devices[i].RSSI != devices[j].RSSI {
			return devices[i].RSSI > devices[j].RSSI
		}
		return devices[i].Address < devices[j].Address
	})
	return devices, nil
}

// handleDevice updates existing or adds a new device
func (s *Scanner) handleDevice(h device.DeviceHandle) {
	key := device.NormalizeAddress(h.Address)

	event := DeviceEvent{Device: h, Type: EventNew}
	if _, existing := s.devices.GetOrInsert(key, h); existing {
		s.devices.Set(key, h)
		event.Type = EventUpdated
	} else {
		s.logger.WithFields(logrus.Fields{
			"device":  h.Name,
			"address": h.Address,
			"rssi":    h.RSSI,
		}).Info("Discovered new device")
	}

	s.events.Send(event)
}

// shouldIncludeDevice applies the block, allow and name filters
func shouldIncludeDevice(h device.DeviceHandle, opts *ScanOptions) bool {
	for _, blocked := range opts.BlockList {
		if h.MatchAddress(blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if h.MatchAddress(a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.NamePrefixes) > 0 {
		for _, prefix := range opts.NamePrefixes {
			if strings.HasPrefix(h.Name, prefix) {
				return true
			}
		}
		return false
	}

	return true
}

// Devices returns every device seen by this scanner, ordered by address
func (s *Scanner) Devices() []device.DeviceHandle {
	devs := make([]device.DeviceHandle, 0, s.devices.Len())
	s.devices.Range(func(_ string, h device.DeviceHandle) bool {
		devs = append(devs, h)
		return true
	})
	sort.Slice(devs, func(i, j int) bool { return devs[i].Address < devs[j].Address })
	return devs
}

// Events return a read-only channel of device events. When nobody reads, the oldest events are dropped.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}
