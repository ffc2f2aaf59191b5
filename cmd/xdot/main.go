package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Persistent flags shared by every subcommand, read back by setup.
const (
	flagLogLevel = "log-level"
	flagVerbose  = "verbose"
	flagConfig   = "config"
)

const (
	groupDevice      = "device"
	groupMeasurement = "measurement"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "xdot",
	Short: "Xsens DOT motion sensor CLI",
	Long: `Command-line client for Xsens / Movella DOT wearable motion sensors.

The sensor address comes from the command argument or from "address:" in the
config file (~/.config/xdot/config.yaml, or the file given with --config).
Timeouts, the notification buffer and the default payload mode are read from the
same file; --log-level and --verbose override its log level.`,
	Version:       formatVersion(version),
	SilenceErrors: true,
}

// exitCode maps a command error to the process exit status. Interrupting with
// Ctrl+C ends any command normally.
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}
	return 1
}

func main() {
	err := rootCmd.Execute()
	if code := exitCode(err); code != 0 {
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(code)
	}
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("xdot {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddGroup(
		&cobra.Group{ID: groupDevice, Title: "Device commands:"},
		&cobra.Group{ID: groupMeasurement, Title: "Measurement commands:"},
	)
	for _, cmd := range []*cobra.Command{scanCmd, batteryCmd, statusCmd} {
		cmd.GroupID = groupDevice
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{startCmd, stopCmd, streamCmd, modesCmd} {
		cmd.GroupID = groupMeasurement
		rootCmd.AddCommand(cmd)
	}

	flags := rootCmd.PersistentFlags()
	flags.String(flagLogLevel, "", "Log level (debug, info, warn, error); overrides the config file")
	flags.Bool(flagVerbose, false, "Debug logging, same as --log-level debug")
	flags.String(flagConfig, "", "Config file (default ~/.config/xdot/config.yaml)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
