package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printer writes command output, colored only when the destination is a terminal.
type printer struct {
	w     io.Writer
	label *color.Color
	good  *color.Color
	warn  *color.Color
	bad   *color.Color
}

func newPrinter(w io.Writer) *printer {
	p := &printer{
		w:     w,
		label: color.New(color.Bold),
		good:  color.New(color.FgGreen),
		warn:  color.New(color.FgYellow),
		bad:   color.New(color.FgRed),
	}
	colored := isTerminal(w)
	for _, c := range []*color.Color{p.label, p.good, p.warn, p.bad} {
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// field prints an aligned "label: value" line.
func (p *printer) field(label string, value any) {
	fmt.Fprintf(p.w, "%s %v\n", p.label.Sprintf("%-16s", label+":"), value)
}

func (p *printer) line(format string, args ...any) {
	fmt.Fprintf(p.w, format+"\n", args...)
}

func (p *printer) ok(format string, args ...any) {
	fmt.Fprintln(p.w, p.good.Sprintf(format, args...))
}

func (p *printer) warning(format string, args ...any) {
	fmt.Fprintln(p.w, p.warn.Sprintf(format, args...))
}

func (p *printer) failure(format string, args ...any) {
	fmt.Fprintln(p.w, p.bad.Sprintf(format, args...))
}
