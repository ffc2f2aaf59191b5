package protocol

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Field is one fixed-size component of a motion payload frame.
type Field uint8

const (
	FieldTimestamp        Field = iota + 1 // uint32, microseconds
	FieldQuaternion                        // 4 x float32 (w, x, y, z)
	FieldEuler                             // 3 x float32 (roll, pitch, yaw), degrees
	FieldFreeAcceleration                  // 3 x float32, m/s^2
	FieldAcceleration                      // 3 x float32, m/s^2
	FieldAngularVelocity                   // 3 x float32, deg/s
	FieldDeltaQ                            // 4 x float32
	FieldDeltaV                            // 3 x float32, m/s
	FieldMagneticField                     // 3 x int16 fixed point, a.u.
	FieldStatus                            // uint16
	FieldClipCountAcc                      // uint8
	FieldClipCountGyr                      // uint8
	FieldReserved                          // uint32 padding
)

// magScale converts the fixed point magnetometer representation to arbitrary units.
const magScale = 1.0 / 4096

var fieldSpecs = map[Field]struct {
	name string
	size int
}{
	FieldTimestamp:        {"timestamp", 4},
	FieldQuaternion:       {"quaternion", 16},
	FieldEuler:            {"euler", 12},
	FieldFreeAcceleration: {"free_acc", 12},
	FieldAcceleration:     {"acc", 12},
	FieldAngularVelocity:  {"gyr", 12},
	FieldDeltaQ:           {"dq", 16},
	FieldDeltaV:           {"dv", 12},
	FieldMagneticField:    {"mag", 6},
	FieldStatus:           {"status", 2},
	FieldClipCountAcc:     {"clip_acc", 1},
	FieldClipCountGyr:     {"clip_gyr", 1},
	FieldReserved:         {"reserved", 4},
}

func (f Field) String() string {
	if s, ok := fieldSpecs[f]; ok {
		return s.name
	}
	return fmt.Sprintf("field(%d)", uint8(f))
}

// Size returns the encoded size of the field in bytes.
func (f Field) Size() int {
	return fieldSpecs[f].size
}

// Schema is the ordered field layout of a payload frame.
type Schema struct {
	fields []Field
	size   int
}

// NewSchema builds a schema from an ordered field list. It panics on unknown fields,
// schemas are only built from the static mode table.
func NewSchema(fields ...Field) *Schema {
	s := &Schema{fields: append([]Field(nil), fields...)}
	for _, f := range fields {
		spec, ok := fieldSpecs[f]
		if !ok {
			panic(fmt.Sprintf("protocol: unknown field %d", f))
		}
		s.size += spec.size
	}
	return s
}

// Len returns the exact frame length in bytes.
func (s *Schema) Len() int {
	return s.size
}

// Fields returns a copy of the field order.
func (s *Schema) Fields() []Field {
	return append([]Field(nil), s.fields...)
}

func (s *Schema) String() string {
	names := make([]string, len(s.fields))
	for i, f := range s.fields {
		names[i] = f.String()
	}
	return strings.Join(names, ",")
}

// Decode parses one frame. The frame length must match the schema exactly.
func (s *Schema) Decode(mode PayloadMode, data []byte) (MotionSample, error) {
	if len(data) != s.size {
		return MotionSample{}, &DecodeError{What: mode.Name, Expected: s.size, Got: len(data)}
	}

	sample := MotionSample{Mode: mode.Code}
	off := 0
	for _, f := range s.fields {
		b := data[off : off+f.Size()]
		switch f {
		case FieldTimestamp:
			sample.Timestamp = binary.LittleEndian.Uint32(b)
		case FieldQuaternion:
			q := Quaternion{W: f32(b, 0), X: f32(b, 1), Y: f32(b, 2), Z: f32(b, 3)}
			sample.Quaternion = &q
		case FieldEuler:
			e := Euler{Roll: f32(b, 0), Pitch: f32(b, 1), Yaw: f32(b, 2)}
			sample.Euler = &e
		case FieldFreeAcceleration:
			sample.FreeAcceleration = vec3(b)
		case FieldAcceleration:
			sample.Acceleration = vec3(b)
		case FieldAngularVelocity:
			sample.AngularVelocity = vec3(b)
		case FieldDeltaQ:
			q := Quaternion{W: f32(b, 0), X: f32(b, 1), Y: f32(b, 2), Z: f32(b, 3)}
			sample.DeltaQ = &q
		case FieldDeltaV:
			sample.DeltaV = vec3(b)
		case FieldMagneticField:
			sample.MagneticField = &Vector3{
				X: float32(int16(binary.LittleEndian.Uint16(b[0:]))) * magScale,
				Y: float32(int16(binary.LittleEndian.Uint16(b[2:]))) * magScale,
				Z: float32(int16(binary.LittleEndian.Uint16(b[4:]))) * magScale,
			}
		case FieldStatus:
			v := binary.LittleEndian.Uint16(b)
			sample.Status = &v
		case FieldClipCountAcc:
			v := b[0]
			sample.ClipCountAcc = &v
		case FieldClipCountGyr:
			v := b[0]
			sample.ClipCountGyr = &v
		case FieldReserved:
			sample.Reserved = binary.LittleEndian.Uint32(b)
		}
		off += f.Size()
	}
	return sample, nil
}

// Encode renders a sample into a frame. Every field group of the schema must be present
// in the sample, the reserved field is optional and written as stored.
func (s *Schema) Encode(sample MotionSample) ([]byte, error) {
	out := make([]byte, s.size)
	off := 0
	for _, f := range s.fields {
		b := out[off : off+f.Size()]
		switch f {
		case FieldTimestamp:
			binary.LittleEndian.PutUint32(b, sample.Timestamp)
		case FieldQuaternion:
			if sample.Quaternion == nil {
				return nil, missingField(f)
			}
			putQuat(b, *sample.Quaternion)
		case FieldEuler:
			if sample.Euler == nil {
				return nil, missingField(f)
			}
			putF32(b, 0, sample.Euler.Roll)
			putF32(b, 1, sample.Euler.Pitch)
			putF32(b, 2, sample.Euler.Yaw)
		case FieldFreeAcceleration:
			if err := putVec3(b, f, sample.FreeAcceleration); err != nil {
				return nil, err
			}
		case FieldAcceleration:
			if err := putVec3(b, f, sample.Acceleration); err != nil {
				return nil, err
			}
		case FieldAngularVelocity:
			if err := putVec3(b, f, sample.AngularVelocity); err != nil {
				return nil, err
			}
		case FieldDeltaQ:
			if sample.DeltaQ == nil {
				return nil, missingField(f)
			}
			putQuat(b, *sample.DeltaQ)
		case FieldDeltaV:
			if err := putVec3(b, f, sample.DeltaV); err != nil {
				return nil, err
			}
		case FieldMagneticField:
			m := sample.MagneticField
			if m == nil {
				return nil, missingField(f)
			}
			binary.LittleEndian.PutUint16(b[0:], uint16(int16(math.Round(float64(m.X/magScale)))))
			binary.LittleEndian.PutUint16(b[2:], uint16(int16(math.Round(float64(m.Y/magScale)))))
			binary.LittleEndian.PutUint16(b[4:], uint16(int16(math.Round(float64(m.Z/magScale)))))
		case FieldStatus:
			if sample.Status == nil {
				return nil, missingField(f)
			}
			binary.LittleEndian.PutUint16(b, *sample.Status)
		case FieldClipCountAcc:
			if sample.ClipCountAcc == nil {
				return nil, missingField(f)
			}
			b[0] = *sample.ClipCountAcc
		case FieldClipCountGyr:
			if sample.ClipCountGyr == nil {
				return nil, missingField(f)
			}
			b[0] = *sample.ClipCountGyr
		case FieldReserved:
			binary.LittleEndian.PutUint32(b, sample.Reserved)
		}
		off += f.Size()
	}
	return out, nil
}

func missingField(f Field) error {
	return fmt.Errorf("encode: sample has no %s", f)
}

func f32(b []byte, i int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
}

func putF32(b []byte, i int, v float32) {
	binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(v))
}

func vec3(b []byte) *Vector3 {
	return &Vector3{X: f32(b, 0), Y: f32(b, 1), Z: f32(b, 2)}
}

func putVec3(b []byte, f Field, v *Vector3) error {
	if v == nil {
		return missingField(f)
	}
	putF32(b, 0, v.X)
	putF32(b, 1, v.Y)
	putF32(b, 2, v.Z)
	return nil
}

func putQuat(b []byte, q Quaternion) {
	putF32(b, 0, q.W)
	putF32(b, 1, q.X)
	putF32(b, 2, q.Y)
	putF32(b, 3, q.Z)
}
