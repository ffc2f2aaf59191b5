package device

import (
	"fmt"
	"strings"
)

// Service and characteristic identifiers of the DOT GATT profile.
const (
	MeasurementServiceUUID = "15172000-4947-11e9-8646-d663bd873d93"
	BatteryServiceUUID     = "15173000-4947-11e9-8646-d663bd873d93"

	MeasurementControlUUID = "15172001-4947-11e9-8646-d663bd873d93"
	LongPayloadUUID        = "15172002-4947-11e9-8646-d663bd873d93"
	MediumPayloadUUID      = "15172003-4947-11e9-8646-d663bd873d93"
	ShortPayloadUUID       = "15172004-4947-11e9-8646-d663bd873d93"
	BatteryUUID            = "15173001-4947-11e9-8646-d663bd873d93"

	ClientCharacteristicConfigUUID = "00002902-0000-1000-8000-00805f9b34fb"
)

// CCCDEnableNotify is the Client Characteristic Configuration value that turns notifications on.
var CCCDEnableNotify = []byte{0x01, 0x00}

// CharacteristicID names one of the fixed endpoints of the sensor profile.
type CharacteristicID uint8

const (
	Battery CharacteristicID = iota + 1
	MeasurementControl
	LongPayload
	MediumPayload
	ShortPayload
	// NotificationDescriptor is the CCCD attached to the short payload characteristic.
	NotificationDescriptor
)

type characteristicInfo struct {
	name      string
	service   string
	uuid      string
	notify    bool
	read      bool
	write     bool
	parent    CharacteristicID
	isPayload bool
}

var characteristics = map[CharacteristicID]characteristicInfo{
	Battery:                {name: "battery", service: BatteryServiceUUID, uuid: BatteryUUID, notify: true, read: true},
	MeasurementControl:     {name: "measurement-control", service: MeasurementServiceUUID, uuid: MeasurementControlUUID, read: true, write: true},
	LongPayload:            {name: "long-payload", service: MeasurementServiceUUID, uuid: LongPayloadUUID, notify: true, isPayload: true},
	MediumPayload:          {name: "medium-payload", service: MeasurementServiceUUID, uuid: MediumPayloadUUID, notify: true, isPayload: true},
	ShortPayload:           {name: "short-payload", service: MeasurementServiceUUID, uuid: ShortPayloadUUID, notify: true, isPayload: true},
	NotificationDescriptor: {name: "short-payload-cccd", service: MeasurementServiceUUID, uuid: ClientCharacteristicConfigUUID, read: true, write: true, parent: ShortPayload},
}

// Characteristics returns every known identifier in declaration order.
func Characteristics() []CharacteristicID {
	return []CharacteristicID{Battery, MeasurementControl, LongPayload, MediumPayload, ShortPayload, NotificationDescriptor}
}

// Valid reports whether id is a known identifier.
func (id CharacteristicID) Valid() bool {
	_, ok := characteristics[id]
	return ok
}

func (id CharacteristicID) String() string {
	if info, ok := characteristics[id]; ok {
		return info.name
	}
	return fmt.Sprintf("characteristic(%d)", uint8(id))
}

// UUID returns the attribute UUID of the characteristic (or descriptor).
func (id CharacteristicID) UUID() string {
	return characteristics[id].uuid
}

// ServiceUUID returns the UUID of the service the characteristic belongs to.
func (id CharacteristicID) ServiceUUID() string {
	return characteristics[id].service
}

// Notifiable reports whether the characteristic emits notifications.
func (id CharacteristicID) Notifiable() bool {
	return characteristics[id].notify
}

// Readable reports whether the attribute may be read.
func (id CharacteristicID) Readable() bool {
	return characteristics[id].read
}

// Writable reports whether the attribute may be written.
func (id CharacteristicID) Writable() bool {
	return characteristics[id].write
}

// IsPayload reports whether the characteristic carries motion payload frames.
func (id CharacteristicID) IsPayload() bool {
	return characteristics[id].isPayload
}

// IsDescriptor reports whether id names a descriptor rather than a characteristic.
// For descriptors Parent returns the owning characteristic.
func (id CharacteristicID) IsDescriptor() bool {
	return characteristics[id].parent != 0
}

// Parent returns the characteristic that owns a descriptor, or zero.
func (id CharacteristicID) Parent() CharacteristicID {
	return characteristics[id].parent
}

// ParseCharacteristic resolves a name (as printed by String) or a UUID to an identifier.
func ParseCharacteristic(s string) (CharacteristicID, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	normalized := NormalizeUUID(needle)
	for _, id := range Characteristics() {
		if id.String() == needle {
			return id, nil
		}
		if normalized != "" && !id.IsDescriptor() && NormalizeUUID(id.UUID()) == normalized {
			return id, nil
		}
	}
	return 0, &NotFoundError{Resource: "characteristic", UUIDs: []string{s}}
}
