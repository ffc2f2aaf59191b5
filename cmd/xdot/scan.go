package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/xdot/internal/device"
	"github.com/srg/xdot/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for DOT sensors",
	Long: `Scan for and display DOT sensors in the vicinity.

Only devices advertising as "Xsens DOT" or "Movella DOT" are shown unless --all is given
(the name prefixes can be changed with 'name_prefixes' in the config file).

Examples:
  # Scan for 5 seconds
  xdot scan --duration 5s

  # Print each sensor as soon as it is found
  xdot scan --watch

  # Every BLE device, as JSON
  xdot scan --all --format json`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanAllowList []string
	scanBlockList []string
	scanAll       bool
	scanWatch     bool
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config, 10s)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Show every BLE device, not only DOT sensors")
	scanCmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Print devices as they are discovered")
}

func runScan(cmd *cobra.Command, _ []string) error {
	// Validate format parameter
	switch scanFormat {
	case "table", "json":
	default:
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := cfg.ScanOptions()
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}
	if scanAll {
		opts.NamePrefixes = nil
	}
	opts.AllowList = scanAllowList
	opts.BlockList = scanBlockList

	s, err := scanner.NewScanner(newTransport(logger), logger)
	if err != nil {
		return fmt.Errorf("failed to create scanner: %w", err)
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	out := cmd.OutOrStdout()
	if scanWatch {
		return runWatch(ctx, s, opts, out)
	}

	progress := NewCountdownProgressPrinter(cmd.ErrOrStderr(), "Scanning for DOT sensors", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(ctx, opts, progress.Callback())
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	progress.Stop()

	if scanFormat == "json" {
		return displayDevicesJSON(out, devices)
	}
	return displayDevicesTable(out, devices)
}

// runWatch prints every discovery event while the scan runs.
func runWatch(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions, out io.Writer) error {
	scanErr := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, opts, nil)
		scanErr <- err
	}()

	p := newPrinter(out)
	for {
		select {
		case err := <-scanErr:
			// drain what arrived before the scan ended
		drain:
			for {
				select {
				case ev := <-s.Events():
					printEvent(p, ev)
				default:
					break drain
				}
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		case ev := <-s.Events():
			printEvent(p, ev)
		}
	}
}

func printEvent(p *printer, ev scanner.DeviceEvent) {
	if ev.Type == scanner.EventNew {
		p.ok("+ %s  %d dBm", ev.Device, ev.Device.RSSI)
		return
	}
	p.line("~ %s  %d dBm", ev.Device, ev.Device.RSSI)
}

func displayDevicesTable(w io.Writer, devices []device.DeviceHandle) error {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No sensors discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI")
	fmt.Fprintln(tw, strings.Repeat("-", 50))
	for _, d := range devices {
		name := d.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\n", name, d.Address, d.RSSI)
	}
	return tw.Flush()
}

type deviceJSON struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	RSSI    int    `json:"rssi"`
}

func displayDevicesJSON(w io.Writer, devices []device.DeviceHandle) error {
	out := make([]deviceJSON, 0, len(devices))
	for _, d := range devices {
		out = append(out, deviceJSON{Name: d.Name, Address: d.Address, RSSI: d.RSSI})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
