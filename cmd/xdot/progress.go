package main

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// ProgressPrinter displays a one-line progress indicator with elapsed or remaining time.
//
// Usage:
//
//	p := NewProgressPrinter(cmd.ErrOrStderr(), "Connecting to sensor", "Scanning")
//	p.Start()
//	defer p.Stop()
//
// Nothing is printed when the writer is not a terminal. A ProgressPrinter is single-use;
// Stop may be called any number of times.
type ProgressPrinter struct {
	w          io.Writer
	enabled    bool
	prefix     string
	phase      atomic.Value        // string
	stopPhases map[string]struct{} // phases that stop the printer when reported via Callback
	duration   time.Duration       // > 0 counts down, otherwise counts up

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewProgressPrinter creates a progress printer that counts up (shows elapsed time).
func NewProgressPrinter(w io.Writer, prefix string, phase string, stopPhases ...string) *ProgressPrinter {
	return NewCountdownProgressPrinter(w, prefix, phase, 0, stopPhases...)
}

// NewCountdownProgressPrinter creates a progress printer that counts down from duration.
func NewCountdownProgressPrinter(w io.Writer, prefix string, phase string, duration time.Duration, stopPhases ...string) *ProgressPrinter {
	stopSet := make(map[string]struct{}, len(stopPhases))
	for _, p := range stopPhases {
		stopSet[p] = struct{}{}
	}
	p := &ProgressPrinter{
		w:          w,
		enabled:    isTerminal(w),
		prefix:     prefix,
		stopPhases: stopSet,
		duration:   duration,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	p.phase.Store(phase)
	return p
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressPrinter) Start() {
	p.startOnce.Do(func() {
		if !p.enabled {
			close(p.done)
			return
		}
		go p.loop(time.Now())
	})
}

func (p *ProgressPrinter) loop(start time.Time) {
	defer close(p.done)

	ticker := time.NewTicker(progressUpdateInterval)
	defer ticker.Stop()

	p.print(p.phase.Load().(string), 0)
	for {
		select {
		case <-p.stop:
			fmt.Fprint(p.w, clearLineSequence)
			return
		case <-ticker.C:
			elapsed := time.Since(start)
			seconds := int(elapsed.Seconds())
			if p.duration > 0 {
				remaining := p.duration - elapsed
				seconds = 0
				if remaining > 0 {
					// round to the nearest second
					seconds = int(remaining.Seconds() + 0.5)
				}
			}
			p.print(p.phase.Load().(string), seconds)
		}
	}
}

// print displays a progress line with optional elapsed/remaining seconds
func (p *ProgressPrinter) print(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}

// Callback returns a phase callback. Reporting a stop phase stops the printer.
func (p *ProgressPrinter) Callback() func(phase string) {
	return func(phase string) {
		p.phase.Store(phase)
		if _, isStopPhase := p.stopPhases[phase]; isStopPhase {
			p.Stop()
		}
	}
}

// Stop stops the display and clears the line. Safe to call repeatedly and concurrently.
func (p *ProgressPrinter) Stop() {
	p.stopOnce.Do(func() {
		p.Start() // a never-started printer must still complete done
		close(p.stop)
		<-p.done
	})
}
