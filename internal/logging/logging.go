// Package logging sets up domesync's ambient stdlib-log output, deciding
// whether to colorize the subsystem tag based on whether stderr is a
// terminal.
package logging

import (
	"fmt"
	"log"
	"os"

	"github.com/mattn/go-isatty"
)

// Logger is a minimal bracketed-subsystem logger in the style of
// jra3-linear-fuse's "[sync] ..." log lines.
type Logger struct {
	subsystem string
	color     bool
}

// Mode selects when to colorize output.
type Mode string

const (
	ModeAuto   Mode = "auto"
	ModeAlways Mode = "always"
	ModeNever  Mode = "never"
)

// New returns a Logger tagged with subsystem, honoring mode against
// whether stderr is currently a terminal.
func New(subsystem string, mode Mode) *Logger {
	color := false
	switch mode {
	case ModeAlways:
		color = true
	case ModeNever:
		color = false
	default:
		color = isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	}
	return &Logger{subsystem: subsystem, color: color}
}

func (l *Logger) tag() string {
	if l.color {
		return fmt.Sprintf("\033[36m[%s]\033[0m", l.subsystem)
	}
	return fmt.Sprintf("[%s]", l.subsystem)
}

// Printf logs a formatted line tagged with the logger's subsystem.
func (l *Logger) Printf(format string, args ...any) {
	log.Printf("%s %s", l.tag(), fmt.Sprintf(format, args...))
}
