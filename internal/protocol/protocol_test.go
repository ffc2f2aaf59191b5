package protocol

import (
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/xdot/internal/device"
)

func TestDecodeBattery(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected BatteryStatus
		wantErr  bool
	}{
		{name: "full and charging", input: []byte{100, 1}, expected: BatteryStatus{Level: 100, Charging: true}},
		{name: "half and not charging", input: []byte{50, 0}, expected: BatteryStatus{Level: 50, Charging: false}},
		{name: "flag other than one is not charging", input: []byte{50, 2}, expected: BatteryStatus{Level: 50, Charging: false}},
		{name: "flag 0xff is not charging", input: []byte{7, 0xff}, expected: BatteryStatus{Level: 7, Charging: false}},
		{name: "empty", input: nil, wantErr: true},
		{name: "too short", input: []byte{42}, wantErr: true},
		{name: "too long", input: []byte{42, 1, 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBattery(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrDecode)
				var de *DecodeError
				require.True(t, errors.As(err, &de), "MUST be a *DecodeError")
				assert.Equal(t, BatteryLen, de.Expected)
				assert.Equal(t, len(tt.input), de.Got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
			assert.Equal(t, tt.input[0], EncodeBattery(got)[0])
		})
	}
}

func TestBatteryStatusString(t *testing.T) {
	assert.Equal(t, "80% (charging: yes)", BatteryStatus{Level: 80, Charging: true}.String())
	assert.Equal(t, "3% (charging: no)", BatteryStatus{Level: 3}.String())
}

func TestDecodeMeasurementStatus(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected MeasurementStatus
		wantErr  bool
	}{
		{name: "started free acceleration", input: []byte{1, 1, 6}, expected: MeasurementStatus{Type: 1, Active: true, PayloadMode: 6}},
		{name: "stopped", input: []byte{1, 0, 6}, expected: MeasurementStatus{Type: 1, Active: false, PayloadMode: 6}},
		{name: "state byte two is not active", input: []byte{1, 2, 6}, expected: MeasurementStatus{Type: 1, Active: false, PayloadMode: 6}},
		{name: "unknown mode is still decoded", input: []byte{1, 1, 200}, expected: MeasurementStatus{Type: 1, Active: true, PayloadMode: 200}},
		{name: "too short", input: []byte{1, 1}, wantErr: true},
		{name: "too long", input: []byte{1, 1, 6, 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeMeasurementStatus(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrDecode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEncodeMeasurementControl(t *testing.T) {
	start, err := NewControlCommand(ModeFreeAcceleration, true)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 1, 6}, EncodeMeasurementControl(start))

	stop, err := NewControlCommand(ModeCompleteEuler, false)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 0, 16}, EncodeMeasurementControl(stop))

	// What the device reports back after accepting the command uses the same layout.
	for _, cmd := range []MeasurementControlCommand{start, stop} {
		encoded := EncodeMeasurementControl(cmd)
		require.Len(t, encoded, MeasurementControlLen)

		status, err := DecodeMeasurementStatus(encoded)
		require.NoError(t, err)
		assert.Equal(t, cmd.Status(), status, "status decoded from the command MUST match the command")
		assert.Equal(t, cmd.Action == Start, status.Active)
		assert.Equal(t, cmd.Mode.Code, status.PayloadMode)
	}
}

func TestNewControlCommand_UnknownMode(t *testing.T) {
	for _, code := range []uint8{0, 8, 15, 27, 255} {
		_, err := NewControlCommand(code, true)
		assert.ErrorIs(t, err, ErrUnknownPayloadMode, "code %d MUST be rejected", code)

		var ume *UnknownModeError
		require.True(t, errors.As(err, &ume))
		assert.Equal(t, code, ume.Code)
	}
}

func TestDecodeMotionSample_FreeAccelerationCapture(t *testing.T) {
	tests := []struct {
		frame     string
		timestamp uint32
		x, y, z   float32
	}{
		{"d8052244af9640406b2aa7405add14c000000000", 1143080408, 3.009197, 5.223928, -2.3260102},
		{"f34622440da53c409c13a640f01009c000000000", 1143097075, 2.947574, 5.189894, -2.1416588},
	}

	for _, tt := range tests {
		t.Run(tt.frame[:8], func(t *testing.T) {
			data, err := hex.DecodeString(tt.frame)
			require.NoError(t, err)

			sample, err := DecodeMotionSample(ModeFreeAcceleration, data)
			require.NoError(t, err)

			assert.Equal(t, ModeFreeAcceleration, sample.Mode)
			assert.Equal(t, tt.timestamp, sample.Timestamp)
			require.NotNil(t, sample.FreeAcceleration)
			assert.InDelta(t, tt.x, sample.FreeAcceleration.X, 1e-5)
			assert.InDelta(t, tt.y, sample.FreeAcceleration.Y, 1e-5)
			assert.InDelta(t, tt.z, sample.FreeAcceleration.Z, 1e-5)
			assert.Equal(t, uint32(0), sample.Reserved)
			assert.Nil(t, sample.Quaternion)
			assert.Nil(t, sample.Euler)
		})
	}
}

func TestDecodeMotionSample_FreeAccelerationLength(t *testing.T) {
	for _, n := range []int{0, 1, 16, 19, 21, 36} {
		_, err := DecodeMotionSample(ModeFreeAcceleration, make([]byte, n))
		require.Error(t, err, "length %d MUST be rejected", n)
		assert.ErrorIs(t, err, ErrDecode)

		var de *DecodeError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, 20, de.Expected)
		assert.Equal(t, n, de.Got)
	}
}

func TestDecodeMotionSample_UnknownMode(t *testing.T) {
	_, err := DecodeMotionSample(9, make([]byte, 20))
	assert.ErrorIs(t, err, ErrUnknownPayloadMode)
	assert.NotErrorIs(t, err, ErrDecode)
}

func TestDecodeMotionSample_UnpublishedLayout(t *testing.T) {
	for _, code := range []uint8{ModeHighFidelityMag, ModeHighFidelity, ModeCustom4, ModeCustom5} {
		mode, ok := LookupMode(code)
		require.True(t, ok)
		assert.False(t, mode.Decodable())

		_, err := DecodeMotionSample(code, make([]byte, 20))
		assert.ErrorIs(t, err, ErrDecode, "mode %d MUST report a decode error", code)
	}
}

func TestFreeAccelerationEncode(t *testing.T) {
	mode, err := Mode(ModeFreeAcceleration)
	require.NoError(t, err)

	frame, err := mode.Encode(FreeAcceleration(1143080408, 3.0091969966888428, 5.223927974700928, -2.326010227203369))
	require.NoError(t, err)
	assert.Equal(t, "d8052244af9640406b2aa7405add14c000000000", hex.EncodeToString(frame))
}

func TestSchema_EncodeMissingField(t *testing.T) {
	mode, err := Mode(ModeCompleteQuaternion)
	require.NoError(t, err)

	_, err = mode.Encode(MotionSample{Timestamp: 1})
	assert.Error(t, err)
}

func TestSchema_EveryDecodableMode(t *testing.T) {
	status := uint16(0x0102)
	clipAcc, clipGyr := uint8(3), uint8(4)
	full := MotionSample{
		Timestamp:        123456,
		Quaternion:       &Quaternion{W: 1, X: 0.5, Y: -0.25, Z: 0.125},
		Euler:            &Euler{Roll: 10, Pitch: -20, Yaw: 179.5},
		FreeAcceleration: &Vector3{X: 0.1, Y: 0.2, Z: -9.5},
		Acceleration:     &Vector3{X: 1, Y: 2, Z: 3},
		AngularVelocity:  &Vector3{X: -1, Y: -2, Z: -3},
		DeltaQ:           &Quaternion{W: 1, X: 0.001, Y: 0.002, Z: 0.003},
		DeltaV:           &Vector3{X: 0.01, Y: 0.02, Z: 0.03},
		MagneticField:    &Vector3{X: 0.5, Y: -0.25, Z: 1},
		Status:           &status,
		ClipCountAcc:     &clipAcc,
		ClipCountGyr:     &clipGyr,
	}

	for _, mode := range Modes() {
		if !mode.Decodable() {
			continue
		}
		t.Run(mode.Name, func(t *testing.T) {
			frame, err := mode.Encode(full)
			require.NoError(t, err)
			require.Len(t, frame, mode.Schema.Len())

			got, err := mode.Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, mode.Code, got.Mode)
			assert.Equal(t, full.Timestamp, got.Timestamp)

			for _, f := range mode.Schema.Fields() {
				switch f {
				case FieldQuaternion:
					assert.Equal(t, full.Quaternion, got.Quaternion)
				case FieldEuler:
					assert.Equal(t, full.Euler, got.Euler)
				case FieldFreeAcceleration:
					assert.Equal(t, full.FreeAcceleration, got.FreeAcceleration)
				case FieldMagneticField:
					assert.Equal(t, full.MagneticField, got.MagneticField)
				case FieldStatus:
					assert.Equal(t, full.Status, got.Status)
				}
			}

			_, err = mode.Decode(append(frame, 0))
			assert.ErrorIs(t, err, ErrDecode, "one extra byte MUST be rejected")
		})
	}
}

func TestRegistry(t *testing.T) {
	expected := []uint8{1, 2, 3, 4, 5, 6, 7, 16, 17, 18, 19, 20, 21, 22, 23, 24, 25, 26}
	modes := Modes()
	require.Len(t, modes, len(expected))

	names := map[string]bool{}
	for i, m := range modes {
		assert.Equal(t, expected[i], m.Code, "modes MUST be ordered by code")
		assert.NotEmpty(t, m.Label)
		assert.False(t, names[m.Name], "mode name %q MUST be unique", m.Name)
		names[m.Name] = true
		assert.True(t, m.Characteristic.IsPayload(), "mode %d MUST stream on a payload characteristic", m.Code)

		if m.Schema != nil {
			switch m.Characteristic {
			case device.ShortPayload:
				assert.Equal(t, 20, m.Schema.Len(), "short payload frames MUST be 20 bytes")
			case device.MediumPayload:
				assert.LessOrEqual(t, m.Schema.Len(), 40, "medium payload frames MUST fit 40 bytes")
			}
		}
	}

	for code := uint8(8); code <= 15; code++ {
		_, ok := LookupMode(code)
		assert.False(t, ok, "code %d MUST NOT be registered", code)
	}
}

func TestLookupModeByName(t *testing.T) {
	m, err := LookupModeByName("free-acceleration")
	require.NoError(t, err)
	assert.Equal(t, ModeFreeAcceleration, m.Code)
	assert.Equal(t, "Free acceleration", m.Label)
	assert.Equal(t, device.ShortPayload, m.Characteristic)

	m, err = LookupModeByName(" Complete-Euler ")
	require.NoError(t, err)
	assert.Equal(t, ModeCompleteEuler, m.Code)

	m, err = LookupModeByName("20")
	require.NoError(t, err)
	assert.Equal(t, ModeRateQuantitiesMag, m.Code)

	_, err = LookupModeByName("warp-speed")
	assert.ErrorIs(t, err, ErrUnknownPayloadMode)

	_, err = LookupModeByName("12")
	assert.ErrorIs(t, err, ErrUnknownPayloadMode)
}

func TestMeasurementStatusString(t *testing.T) {
	s := MeasurementStatus{Type: 1, Active: true, PayloadMode: 6}
	assert.Equal(t, "type=1 state=Started mode=6 (Free acceleration)", s.String())

	s = MeasurementStatus{Type: 1, PayloadMode: 99}
	assert.Equal(t, "type=1 state=Stopped mode=99 (unknown)", s.String())
}
