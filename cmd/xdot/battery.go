package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/xdot/internal/session"
)

// batteryCmd represents the battery command
var batteryCmd = &cobra.Command{
	Use:   "battery [device-address]",
	Short: "Read the sensor's battery level",
	Long: fmt.Sprintf(`Connects to the sensor and reads its battery level and charging state.

Examples:
  xdot battery %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: runBattery,
}

func runBattery(cmd *cobra.Command, args []string) error {
	return withSession(cmd, args, func(ctx context.Context, s *session.Session, p *printer) error {
		battery, err := s.ReadBattery(ctx)
		if err != nil {
			return err
		}

		p.field("Device", s.Device())
		switch {
		case battery.Level <= 15:
			p.field("Battery", p.bad.Sprintf("%d%%", battery.Level))
		case battery.Level <= 40:
			p.field("Battery", p.warn.Sprintf("%d%%", battery.Level))
		default:
			p.field("Battery", p.good.Sprintf("%d%%", battery.Level))
		}
		p.field("Charging", yesNo(battery.Charging))
		return nil
	})
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
