package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/spf13/cobra"
	"github.com/srg/xdot/internal/session"
)

// streamCmd represents the stream command
var streamCmd = &cobra.Command{
	Use:   "stream [device-address]",
	Short: "Start measurement and print decoded samples",
	Long: fmt.Sprintf(`Arms the sensor in a payload mode, subscribes to the characteristic that mode is
delivered on and prints every frame until the duration elapses or Ctrl+C is pressed.
Measurement is stopped again on exit unless --no-stop is given.

Frames that cannot be decoded are reported in place and do not end the stream.

Examples:
  # Free acceleration for 10 seconds
  xdot stream %s --mode free-acceleration --duration 10s

  # Orientation until Ctrl+C, keep only the last 20 samples
  xdot stream %s --mode complete-euler --keep 20

  # Raw frames as hex
  xdot stream %s --mode 16 --raw

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: runStream,
}

var (
	streamMode     string
	streamDuration time.Duration
	streamKeep     int
	streamRaw      bool
	streamVerify   bool
	streamNoStop   bool
)

const maxStreamKeep = 1 << 16

func init() {
	streamCmd.Flags().StringVarP(&streamMode, "mode", "m", "", "Payload mode name or code (default from config, free-acceleration)")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stream duration (0 until Ctrl+C)")
	streamCmd.Flags().IntVar(&streamKeep, "keep", 0, "Print only the last N frames when the stream ends")
	streamCmd.Flags().BoolVar(&streamRaw, "raw", false, "Print raw frames as hex instead of decoded samples")
	streamCmd.Flags().BoolVar(&streamVerify, "verify", false, "Read the measurement status back after arming")
	streamCmd.Flags().BoolVar(&streamNoStop, "no-stop", false, "Leave measurement running on exit")
}

// frameWriter renders stream events, either live or into a bounded tail.
type frameWriter struct {
	raw bool

	mu   sync.Mutex
	p    *printer
	tail mpmc.RichOverlappedRingBuffer[string]

	enqueueErr atomic.Pointer[error]
}

func newFrameWriter(p *printer, raw bool, keep int) *frameWriter {
	fw := &frameWriter{p: p, raw: raw}
	if keep > 0 {
		// the ring keeps one slot free
		fw.tail = mpmc.NewOverlappedRingBuffer[string](uint32(keep) + 1)
	}
	return fw
}

func (fw *frameWriter) format(ev session.Event) string {
	at := ev.ReceivedAt.Format("15:04:05.000")
	if fw.raw {
		return fmt.Sprintf("%6d %s %s", ev.Seq, at, hex.EncodeToString(ev.Raw))
	}
	if ev.Err != nil {
		return fw.p.bad.Sprintf("%6d %s error: %v [%s]", ev.Seq, at, ev.Err, hex.EncodeToString(ev.Raw))
	}
	return fmt.Sprintf("%6d %s %v", ev.Seq, at, ev.Value)
}

// sink is the session.Sink of the stream's subscription.
func (fw *frameWriter) sink(ev session.Event) {
	line := fw.format(ev)
	if fw.tail != nil {
		if _, err := fw.tail.EnqueueM(line); err != nil {
			fw.enqueueErr.CompareAndSwap(nil, &err)
		}
		return
	}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.p.line("%s", line)
}

// flush prints the retained tail, at most keep lines, and returns how many it printed.
func (fw *frameWriter) flush(keep int) (int, error) {
	if fw.tail == nil {
		return 0, nil
	}
	if errp := fw.enqueueErr.Load(); errp != nil {
		return 0, fmt.Errorf("tail buffer: %w", *errp)
	}

	var lines []string
	for !fw.tail.IsEmpty() {
		line, err := fw.tail.Dequeue()
		if err != nil {
			return 0, fmt.Errorf("tail buffer: %w", err)
		}
		lines = append(lines, line)
	}
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	for _, line := range lines {
		fw.p.line("%s", line)
	}
	return len(lines), nil
}

func runStream(cmd *cobra.Command, args []string) error {
	if streamKeep < 0 || streamKeep > maxStreamKeep {
		return fmt.Errorf("--keep must be between 0 and %d", maxStreamKeep)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	mode, err := payloadMode(streamMode, cfg)
	if err != nil {
		return err
	}

	return withSession(cmd, args, func(ctx context.Context, s *session.Session, p *printer) error {
		fw := newFrameWriter(p, streamRaw || !mode.Decodable(), streamKeep)

		// subscribe first so no frame is lost between arming and subscribing
		sub, err := s.Subscribe(ctx, mode.Characteristic, fw.sink)
		if err != nil {
			return err
		}

		if err := s.ArmMeasurement(ctx, mode.Code, true); err != nil {
			return err
		}
		if streamVerify {
			want, _ := s.MeasurementStatus()
			if err := verifyMeasurement(ctx, s, p, want); err != nil {
				return err
			}
		}

		fmt.Fprintf(cmd.ErrOrStderr(), "Streaming %s from %s. Press Ctrl+C to stop...\n", mode.Name, s.Device())

		waitCtx := ctx
		if streamDuration > 0 {
			var cancel context.CancelFunc
			waitCtx, cancel = context.WithTimeout(ctx, streamDuration)
			defer cancel()
		}
		select {
		case <-waitCtx.Done():
		case <-s.Done():
		}
		interrupted := errors.Is(ctx.Err(), context.Canceled)

		// the caller's context may be cancelled by now; tear down on a fresh bound
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := s.Unsubscribe(sub); err != nil {
			return err
		}
		if !streamNoStop && s.State() == session.Connected {
			if err := s.ArmMeasurement(cleanupCtx, mode.Code, false); err != nil {
				return err
			}
		}
		shown, err := fw.flush(streamKeep)
		if err != nil {
			return err
		}

		stats := sub.Stats()
		summary := fmt.Sprintf("%d frames, %d decode errors", stats.Delivered, stats.DecodeErrors)
		if fw.tail != nil {
			summary += fmt.Sprintf(", last %d shown", shown)
		}
		fmt.Fprintln(cmd.ErrOrStderr(), summary)

		if failure := s.Failure(); failure != nil {
			return failure
		}
		if interrupted {
			return context.Canceled
		}
		return nil
	})
}
