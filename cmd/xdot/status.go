package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/xdot/internal/protocol"
	"github.com/srg/xdot/internal/session"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status [device-address]",
	Short: "Show battery and measurement status",
	Long: fmt.Sprintf(`Connects to the sensor and reports its battery and measurement control state:
whether measurement is running and in which payload mode.

Examples:
  xdot status %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args, func(ctx context.Context, s *session.Session, p *printer) error {
		battery, err := s.ReadBattery(ctx)
		if err != nil {
			return err
		}
		status, err := s.ReadMeasurementStatus(ctx)
		if err != nil {
			return err
		}

		p.field("Device", s.Device())
		p.field("Battery", battery)
		printMeasurementStatus(p, status)
		return nil
	})
}

func printMeasurementStatus(p *printer, status protocol.MeasurementStatus) {
	if status.Active {
		p.field("Measurement", p.good.Sprint("started"))
	} else {
		p.field("Measurement", p.warn.Sprint("stopped"))
	}
	label := "unknown"
	if m, ok := protocol.LookupMode(status.PayloadMode); ok {
		label = fmt.Sprintf("%s (%s)", m.Name, m.Label)
	}
	p.field("Payload mode", fmt.Sprintf("%d %s", status.PayloadMode, label))
}
