package protocol

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/xdot/internal/device"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// PayloadMode describes one streamable measurement configuration.
type PayloadMode struct {
	Code           uint8
	Name           string // stable identifier, e.g. "free-acceleration"
	Label          string // human readable vendor label
	Characteristic device.CharacteristicID
	// Schema is nil when the frame layout is not published; decoding such a mode
	// always reports a DecodeError.
	Schema *Schema
}

func (m PayloadMode) String() string {
	return m.Label
}

// Decodable reports whether frames of this mode can be decoded.
func (m PayloadMode) Decodable() bool {
	return m.Schema != nil
}

// Payload mode codes.
const (
	ModeHighFidelityMag       uint8 = 1
	ModeExtendedQuaternion    uint8 = 2
	ModeCompleteQuaternion    uint8 = 3
	ModeOrientationEuler      uint8 = 4
	ModeOrientationQuaternion uint8 = 5
	ModeFreeAcceleration      uint8 = 6
	ModeExtendedEuler         uint8 = 7
	ModeCompleteEuler         uint8 = 16
	ModeHighFidelity          uint8 = 17
	ModeDeltaQuantitiesMag    uint8 = 18
	ModeDeltaQuantities       uint8 = 19
	ModeRateQuantitiesMag     uint8 = 20
	ModeRateQuantities        uint8 = 21
	ModeCustom1               uint8 = 22
	ModeCustom2               uint8 = 23
	ModeCustom3               uint8 = 24
	ModeCustom4               uint8 = 25
	ModeCustom5               uint8 = 26
)

// registry is written once at package initialisation and only read afterwards.
// Modes are registered in ascending code order.
var (
	registry       = orderedmap.New[uint8, PayloadMode]()
	registryByName = map[string]PayloadMode{}
)

func register(code uint8, name, label string, char device.CharacteristicID, schema *Schema) {
	if newest := registry.Newest(); newest != nil && newest.Key >= code {
		panic(fmt.Sprintf("payload mode %d registered after %d", code, newest.Key))
	}
	m := PayloadMode{Code: code, Name: name, Label: label, Characteristic: char, Schema: schema}
	registry.Set(code, m)
	registryByName[name] = m
}

func init() {
	const (
		ts      = FieldTimestamp
		quat    = FieldQuaternion
		euler   = FieldEuler
		freeAcc = FieldFreeAcceleration
		acc     = FieldAcceleration
		gyr     = FieldAngularVelocity
		dq      = FieldDeltaQ
		dv      = FieldDeltaV
		mag     = FieldMagneticField
		status  = FieldStatus
		clipAcc = FieldClipCountAcc
		clipGyr = FieldClipCountGyr
		pad     = FieldReserved
	)

	short, medium, long := device.ShortPayload, device.MediumPayload, device.LongPayload

	register(ModeHighFidelityMag, "high-fidelity-mag", "High Fidelity (with mag)", long, nil)
	register(ModeExtendedQuaternion, "extended-quaternion", "Extended (Quaternion)", medium,
		NewSchema(ts, quat, freeAcc, status, clipAcc, clipGyr))
	register(ModeCompleteQuaternion, "complete-quaternion", "Complete (Quaternion)", medium,
		NewSchema(ts, quat, freeAcc))
	register(ModeOrientationEuler, "orientation-euler", "Orientation (Euler)", short,
		NewSchema(ts, euler, pad))
	register(ModeOrientationQuaternion, "orientation-quaternion", "Orientation (Quaternion)", short,
		NewSchema(ts, quat))
	register(ModeFreeAcceleration, "free-acceleration", "Free acceleration", short,
		NewSchema(ts, freeAcc, pad))
	register(ModeExtendedEuler, "extended-euler", "Extended (Euler)", medium,
		NewSchema(ts, euler, freeAcc, status, clipAcc, clipGyr))
	register(ModeCompleteEuler, "complete-euler", "Complete (Euler)", medium,
		NewSchema(ts, euler, freeAcc))
	register(ModeHighFidelity, "high-fidelity", "High Fidelity", long, nil)
	register(ModeDeltaQuantitiesMag, "delta-quantities-mag", "Delta quantities (with mag)", medium,
		NewSchema(ts, dq, dv, mag))
	register(ModeDeltaQuantities, "delta-quantities", "Delta quantities", medium,
		NewSchema(ts, dq, dv))
	register(ModeRateQuantitiesMag, "rate-quantities-mag", "Rate quantities (with mag)", medium,
		NewSchema(ts, acc, gyr, mag))
	register(ModeRateQuantities, "rate-quantities", "Rate quantities", medium,
		NewSchema(ts, acc, gyr))
	register(ModeCustom1, "custom-mode-1", "Custom mode 1", medium,
		NewSchema(ts, euler, freeAcc, gyr))
	register(ModeCustom2, "custom-mode-2", "Custom mode 2", medium,
		NewSchema(ts, euler, freeAcc, mag))
	register(ModeCustom3, "custom-mode-3", "Custom mode 3", medium,
		NewSchema(ts, quat, gyr))
	register(ModeCustom4, "custom-mode-4", "Custom mode 4", long, nil)
	register(ModeCustom5, "custom-mode-5", "Custom mode 5", long, nil)
}

// LookupMode returns the registered mode for code.
func LookupMode(code uint8) (PayloadMode, bool) {
	return registry.Get(code)
}

// Mode is LookupMode returning an *UnknownModeError for unregistered codes.
func Mode(code uint8) (PayloadMode, error) {
	m, ok := registry.Get(code)
	if !ok {
		return PayloadMode{}, &UnknownModeError{Code: code}
	}
	return m, nil
}

// LookupModeByName resolves a mode by its Name or by its numeric code written in decimal.
func LookupModeByName(name string) (PayloadMode, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if m, ok := registryByName[key]; ok {
		return m, nil
	}
	if code, err := strconv.ParseUint(key, 10, 8); err == nil {
		return Mode(uint8(code))
	}
	return PayloadMode{}, &UnknownModeError{Name: name}
}

// Modes returns all registered modes ordered by code.
func Modes() []PayloadMode {
	out := make([]PayloadMode, 0, registry.Len())
	for pair := registry.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}
