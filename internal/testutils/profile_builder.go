package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	blelib "github.com/go-ble/ble"
	"github.com/srg/xdot/internal/device"
)

// CharacteristicConfig describes one characteristic of a mocked GATT profile.
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g. "read,write,notify"
	CCCD       bool   `json:"cccd,omitempty"`
}

// ServiceConfig describes one service of a mocked GATT profile.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// ProfileConfig is the complete mocked profile.
type ProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// ProfileBuilder builds the ble.Profile a mocked client returns from DiscoverProfile.
type ProfileBuilder struct {
	profile ProfileConfig
}

func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// DOTProfile is the profile of a DOT sensor: the measurement service with its control and
// payload characteristics (short payload carrying a CCCD) and, optionally, the battery service.
func DOTProfile(withBattery bool) *blelib.Profile {
	b := NewProfileBuilder().
		WithService(device.MeasurementServiceUUID).
		WithCharacteristic(device.MeasurementControlUUID, "read,write", false).
		WithCharacteristic(device.LongPayloadUUID, "notify", false).
		WithCharacteristic(device.MediumPayloadUUID, "notify", false).
		WithCharacteristic(device.ShortPayloadUUID, "notify", true)
	if withBattery {
		b.WithService(device.BatteryServiceUUID).
			WithCharacteristic(device.BatteryUUID, "read,notify", false)
	}
	return b.Build()
}

// WithService adds a service to the profile
func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *ProfileBuilder) WithCharacteristic(uuid, properties string, cccd bool) *ProfileBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	last := &b.profile.Services[len(b.profile.Services)-1]
	last.Characteristics = append(last.Characteristics, CharacteristicConfig{
		UUID:       uuid,
		Properties: properties,
		CCCD:       cccd,
	})
	return b
}

// FromJSON replaces the profile with one described in JSON
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...any) *ProfileBuilder {
	var config ProfileConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &config); err != nil {
		panic(fmt.Sprintf("ProfileBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = config
	return b
}

// parseProperties converts a comma separated property list to ble.Property flags.
// An empty list means read, write and notify.
func parseProperties(props string) blelib.Property {
	if props == "" {
		return blelib.CharRead | blelib.CharWrite | blelib.CharNotify
	}
	var property blelib.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= blelib.CharRead
		case "write":
			property |= blelib.CharWrite
		case "write-without-response":
			property |= blelib.CharWriteNR
		case "notify":
			property |= blelib.CharNotify
		case "indicate":
			property |= blelib.CharIndicate
		default:
			panic(fmt.Sprintf("unknown characteristic property %q", p))
		}
	}
	return property
}

// Build creates the ble.Profile. UUIDs that do not parse panic, which is fine for tests.
func (b *ProfileBuilder) Build() *blelib.Profile {
	profile := &blelib.Profile{}
	for _, svcConfig := range b.profile.Services {
		svc := &blelib.Service{UUID: blelib.MustParse(svcConfig.UUID)}
		for _, charConfig := range svcConfig.Characteristics {
			char := &blelib.Characteristic{
				UUID:     blelib.MustParse(charConfig.UUID),
				Property: parseProperties(charConfig.Properties),
			}
			if charConfig.CCCD {
				cccd := &blelib.Descriptor{UUID: blelib.ClientCharacteristicConfigUUID}
				char.Descriptors = append(char.Descriptors, cccd)
				char.CCCD = cccd
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		profile.Services = append(profile.Services, svc)
	}
	return profile
}
