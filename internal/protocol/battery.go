// Package protocol implements the binary codec of the DOT sensor GATT profile:
// battery and measurement status records, the measurement control command and the
// motion payload frames of every registered payload mode.
//
// All multi-byte values are little-endian. Every function in this package is pure.
package protocol

import "fmt"

const (
	BatteryLen            = 2
	MeasurementStatusLen  = 3
	MeasurementControlLen = 3
)

// BatteryStatus is the decoded battery characteristic.
type BatteryStatus struct {
	Level    uint8 // percent, 0..100
	Charging bool
}

func (b BatteryStatus) String() string {
	charging := "no"
	if b.Charging {
		charging = "yes"
	}
	return fmt.Sprintf("%d%% (charging: %s)", b.Level, charging)
}

// DecodeBattery decodes a 2-byte battery record: level, charging flag.
// Only a flag byte equal to 1 means charging.
func DecodeBattery(data []byte) (BatteryStatus, error) {
	if len(data) != BatteryLen {
		return BatteryStatus{}, lengthError("battery", BatteryLen, data)
	}
	return BatteryStatus{
		Level:    data[0],
		Charging: data[1] == 1,
	}, nil
}

// EncodeBattery is the inverse of DecodeBattery.
func EncodeBattery(b BatteryStatus) []byte {
	var charging byte
	if b.Charging {
		charging = 1
	}
	return []byte{b.Level, charging}
}
