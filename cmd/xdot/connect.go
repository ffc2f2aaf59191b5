package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/xdot/internal/device"
	goble "github.com/srg/xdot/internal/device/go-ble"
	"github.com/srg/xdot/internal/session"
	"github.com/srg/xdot/pkg/config"
)

// newTransport creates the BLE transport used by every command (can be overridden in tests)
var newTransport = func(logger *logrus.Logger) device.Transport {
	return goble.NewTransport(logger)
}

// resolveAddress picks the address argument, falling back to the configured address.
func resolveAddress(args []string, cfg *config.Config) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if cfg.Address != "" {
		return cfg.Address, nil
	}
	return "", ErrNoAddress
}

// signalContext derives a context cancelled on Ctrl+C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// withSession connects to the sensor named by args or config, runs fn and disconnects.
func withSession(cmd *cobra.Command, args []string, fn func(ctx context.Context, s *session.Session, p *printer) error) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	address, err := resolveAddress(args, cfg)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd)
	defer cancel()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Connecting to %s", address), "Connecting")
	progress.Start()
	defer progress.Stop()

	transport := newTransport(logger)
	return session.With(ctx, transport, logger, address, cfg.SessionOptions(), func(ctx context.Context, s *session.Session) error {
		progress.Stop()
		return fn(ctx, s, newPrinter(cmd.OutOrStdout()))
	})
}
