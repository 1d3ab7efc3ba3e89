// Package logging provides structured logging for the orchestrator,
// grounded on rescale-labs-Rescale_Interlink/internal/logging's zerolog
// wrapper: a console writer to stderr (the TUI owns stdout), timestamped,
// with a per-component child logger convention.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog.Logger with the orchestrator's component convention.
type Logger struct {
	zlog zerolog.Logger
}

// New creates the root logger. Orchestrator output goes to stderr since a
// terminal UI consumer owns stdout/the screen.
func New(debug bool) *Logger {
	return NewWithWriter(os.Stderr, debug)
}

// NewWithWriter creates a root logger writing to w; New uses it with
// os.Stderr, and tests use it with an in-memory or discarding writer.
func NewWithWriter(w io.Writer, debug bool) *Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zlog := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		Level(level).
		With().
		Timestamp().
		Logger()
	return &Logger{zlog: zlog}
}

// Component returns a child logger tagged with a "component" field, the
// convention used throughout the orchestrator (component=orchestrator,
// component=sendtask, component=receivetask, component=history).
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
