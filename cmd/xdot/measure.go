package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/xdot/internal/protocol"
	"github.com/srg/xdot/internal/session"
	"github.com/srg/xdot/pkg/config"
)

var startCmd = &cobra.Command{
	Use:   "start [device-address]",
	Short: "Start measurement in a payload mode",
	Long: fmt.Sprintf(`Arms the sensor: measurement starts in the given payload mode and keeps running
after this command exits. Use 'xdot stream' to receive the data, 'xdot stop' to end it.

Examples:
  xdot start %s --mode complete-euler
  xdot start %s --mode 6 --verify

%s`, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return runMeasure(cmd, args, true) },
}

var stopCmd = &cobra.Command{
	Use:   "stop [device-address]",
	Short: "Stop measurement",
	Long: fmt.Sprintf(`Disarms the sensor.

Examples:
  xdot stop %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error { return runMeasure(cmd, args, false) },
}

var (
	measureMode   string
	measureVerify bool
)

func init() {
	for _, c := range []*cobra.Command{startCmd, stopCmd} {
		c.Flags().StringVarP(&measureMode, "mode", "m", "", "Payload mode name or code (default from config, free-acceleration)")
		c.Flags().BoolVar(&measureVerify, "verify", false, "Read the measurement status back and check it")
	}
}

// payloadMode resolves the --mode flag, falling back to the configured mode.
func payloadMode(flag string, cfg *config.Config) (protocol.PayloadMode, error) {
	if flag != "" {
		return protocol.LookupModeByName(flag)
	}
	return cfg.Mode()
}

func runMeasure(cmd *cobra.Command, args []string, start bool) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mode, err := payloadMode(measureMode, cfg)
	if err != nil {
		return err
	}

	return withSession(cmd, args, func(ctx context.Context, s *session.Session, p *printer) error {
		if err := s.ArmMeasurement(ctx, mode.Code, start); err != nil {
			return err
		}
		cmdStatus, _ := s.MeasurementStatus()
		if !measureVerify {
			if start {
				p.ok("Measurement started in mode %s", mode.Name)
			} else {
				p.ok("Measurement stopped")
			}
			return nil
		}
		return verifyMeasurement(ctx, s, p, cmdStatus)
	})
}

// verifyMeasurement reads the device's measurement status and compares it with the commanded one.
func verifyMeasurement(ctx context.Context, s *session.Session, p *printer, want protocol.MeasurementStatus) error {
	got, err := s.ReadMeasurementStatus(ctx)
	if err != nil {
		return err
	}
	printMeasurementStatus(p, got)

	if got.Active != want.Active || (want.Active && got.PayloadMode != want.PayloadMode) {
		p.failure("Device reports %s, expected %s", got, want)
		return fmt.Errorf("%w: device reports %s", ErrVerifyFailed, got)
	}
	p.ok("Verified")
	return nil
}
