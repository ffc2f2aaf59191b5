package session

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/srg/xdot/internal/device"
)

// Dial creates a session and connects it to address.
// On error the returned session is nil and nothing needs to be released.
func Dial(ctx context.Context, transport device.Transport, logger *logrus.Logger, address string, opts Options) (*Session, error) {
	s := New(transport, logger, opts)
	if err := s.DiscoverAndConnect(ctx, address); err != nil {
		_ = s.Disconnect()
		return nil, err
	}
	return s, nil
}

// With connects to address, runs fn and disconnects on every exit path, panics included.
// fn's error takes precedence over a disconnect error.
func With(ctx context.Context, transport device.Transport, logger *logrus.Logger, address string, opts Options, fn func(ctx context.Context, s *Session) error) (err error) {
	s, err := Dial(ctx, transport, logger, address, opts)
	if err != nil {
		return err
	}
	defer func() {
		if derr := s.Disconnect(); derr != nil && err == nil {
			err = derr
		}
	}()
	return fn(ctx, s)
}
