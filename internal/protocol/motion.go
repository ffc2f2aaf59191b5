package protocol

import (
	"fmt"
	"strings"
)

// Vector3 is a three-axis measurement.
type Vector3 struct {
	X, Y, Z float32
}

// Quaternion is an orientation (or orientation increment) as w, x, y, z.
type Quaternion struct {
	W, X, Y, Z float32
}

// Euler angles in degrees.
type Euler struct {
	Roll, Pitch, Yaw float32
}

// MotionSample is one decoded payload frame. Field groups the mode does not carry are nil.
type MotionSample struct {
	Mode      uint8
	Timestamp uint32 // sensor clock, microseconds

	Quaternion       *Quaternion
	Euler            *Euler
	FreeAcceleration *Vector3
	Acceleration     *Vector3
	AngularVelocity  *Vector3
	DeltaQ           *Quaternion
	DeltaV           *Vector3
	MagneticField    *Vector3
	Status           *uint16
	ClipCountAcc     *uint8
	ClipCountGyr     *uint8

	Reserved uint32
}

func (s MotionSample) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ts=%d", s.Timestamp)
	if q := s.Quaternion; q != nil {
		fmt.Fprintf(&b, " quat=[%.4f %.4f %.4f %.4f]", q.W, q.X, q.Y, q.Z)
	}
	if e := s.Euler; e != nil {
		fmt.Fprintf(&b, " euler=[%.3f %.3f %.3f]", e.Roll, e.Pitch, e.Yaw)
	}
	writeVec(&b, "free_acc", s.FreeAcceleration)
	writeVec(&b, "acc", s.Acceleration)
	writeVec(&b, "gyr", s.AngularVelocity)
	if q := s.DeltaQ; q != nil {
		fmt.Fprintf(&b, " dq=[%.6f %.6f %.6f %.6f]", q.W, q.X, q.Y, q.Z)
	}
	writeVec(&b, "dv", s.DeltaV)
	writeVec(&b, "mag", s.MagneticField)
	if s.Status != nil {
		fmt.Fprintf(&b, " status=%#04x", *s.Status)
	}
	if s.ClipCountAcc != nil && s.ClipCountGyr != nil {
		fmt.Fprintf(&b, " clip=%d/%d", *s.ClipCountAcc, *s.ClipCountGyr)
	}
	return b.String()
}

func writeVec(b *strings.Builder, name string, v *Vector3) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, " %s=[%.6f %.6f %.6f]", name, v.X, v.Y, v.Z)
}

// DecodeMotionSample decodes a payload frame streamed in the given mode.
func DecodeMotionSample(code uint8, data []byte) (MotionSample, error) {
	mode, err := Mode(code)
	if err != nil {
		return MotionSample{}, err
	}
	return mode.Decode(data)
}

// Decode decodes a payload frame of this mode.
func (m PayloadMode) Decode(data []byte) (MotionSample, error) {
	if m.Schema == nil {
		return MotionSample{}, &DecodeError{What: m.Name, Got: len(data), Reason: "frame layout not published"}
	}
	return m.Schema.Decode(m, data)
}

// Encode renders a sample in this mode's layout.
func (m PayloadMode) Encode(sample MotionSample) ([]byte, error) {
	if m.Schema == nil {
		return nil, fmt.Errorf("encode %s: frame layout not published", m.Name)
	}
	return m.Schema.Encode(sample)
}

// FreeAcceleration is a convenience constructor for the free acceleration layout.
func FreeAcceleration(timestamp uint32, x, y, z float32) MotionSample {
	return MotionSample{
		Mode:             ModeFreeAcceleration,
		Timestamp:        timestamp,
		FreeAcceleration: &Vector3{X: x, Y: y, Z: z},
	}
}
