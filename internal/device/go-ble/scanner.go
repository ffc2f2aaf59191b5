package goble

import (
	"github.com/cornelk/hashmap"
	"github.com/srg/xdot/internal/device"
)

// seenSet de-duplicates advertisements within one scan. go-ble invokes the
// advertisement handler from its own goroutines, hence the concurrent map.
type seenSet struct {
	m *hashmap.Map[string, device.DeviceHandle]
}

func newSeenSet() *seenSet {
	return &seenSet{m: hashmap.New[string, device.DeviceHandle]()}
}

// add records the handle and reports whether it was not seen before.
func (s *seenSet) add(h device.DeviceHandle) bool {
	_, loaded := s.m.GetOrInsert(device.NormalizeAddress(h.Address), h)
	return !loaded
}
