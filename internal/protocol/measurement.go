package protocol

import "fmt"

// controlArm is the leading byte of every measurement control record.
const controlArm = 0x01

// MeasurementStatus is the decoded measurement control characteristic.
type MeasurementStatus struct {
	Type        uint8 // leading type byte, 1 for measurement control
	Active      bool
	PayloadMode uint8
}

func (s MeasurementStatus) String() string {
	state := "Stopped"
	if s.Active {
		state = "Started"
	}
	label := "unknown"
	if m, ok := LookupMode(s.PayloadMode); ok {
		label = m.Label
	}
	return fmt.Sprintf("type=%d state=%s mode=%d (%s)", s.Type, state, s.PayloadMode, label)
}

// DecodeMeasurementStatus decodes the 3-byte measurement control record.
// Active is true only when the state byte is exactly 1.
func DecodeMeasurementStatus(data []byte) (MeasurementStatus, error) {
	if len(data) != MeasurementStatusLen {
		return MeasurementStatus{}, lengthError("measurement status", MeasurementStatusLen, data)
	}
	return MeasurementStatus{
		Type:        data[0],
		Active:      data[1] == 1,
		PayloadMode: data[2],
	}, nil
}

// Action is the start/stop byte of a measurement control command.
type Action uint8

const (
	Stop  Action = 0
	Start Action = 1
)

func (a Action) String() string {
	if a == Start {
		return "start"
	}
	return "stop"
}

// MeasurementControlCommand starts or stops streaming in a payload mode.
type MeasurementControlCommand struct {
	Action Action
	Mode   PayloadMode
}

// NewControlCommand builds a command for a registered mode code.
func NewControlCommand(code uint8, start bool) (MeasurementControlCommand, error) {
	mode, ok := LookupMode(code)
	if !ok {
		return MeasurementControlCommand{}, &UnknownModeError{Code: code}
	}
	action := Stop
	if start {
		action = Start
	}
	return MeasurementControlCommand{Action: action, Mode: mode}, nil
}

// EncodeMeasurementControl renders the command as [arm, action, mode code].
func EncodeMeasurementControl(cmd MeasurementControlCommand) []byte {
	return []byte{controlArm, byte(cmd.Action), cmd.Mode.Code}
}

// Status returns the measurement status the device reports after accepting cmd.
func (cmd MeasurementControlCommand) Status() MeasurementStatus {
	return MeasurementStatus{
		Type:        controlArm,
		Active:      cmd.Action == Start,
		PayloadMode: cmd.Mode.Code,
	}
}
