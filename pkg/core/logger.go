package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger provides leveled logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that adds fields to every message
	WithFields(fields map[string]interface{}) Logger

	// WithContext returns a logger that adds values carried by ctx,
	// such as the id of the running task
	WithContext(ctx context.Context) Logger
}

// zerologLogger implements Logger on top of zerolog
type zerologLogger struct {
	log zerolog.Logger
}

// NewDefaultLogger creates a logger writing human readable lines to stderr
func NewDefaultLogger() Logger {
	return NewLogger(os.Stderr, "", zerolog.InfoLevel)
}

// NewComponentLogger creates a default logger tagged with a component name
func NewComponentLogger(component string) Logger {
	return NewLogger(os.Stderr, component, zerolog.InfoLevel)
}

// NewLogger creates a logger writing to w at the given level.
// A non-empty component is attached to every line.
func NewLogger(w io.Writer, component string, level zerolog.Level) Logger {
	ctx := zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	return &zerologLogger{log: ctx.Logger()}
}

// NewJSONLogger creates a logger emitting one JSON object per line
func NewJSONLogger(w io.Writer, component string, level zerolog.Level) Logger {
	ctx := zerolog.New(w).Level(level).With().Timestamp()
	if component != "" {
		ctx = ctx.Str("component", component)
	}
	return &zerologLogger{log: ctx.Logger()}
}

// NewNopLogger creates a logger that discards everything
func NewNopLogger() Logger {
	return &zerologLogger{log: zerolog.Nop()}
}

// ParseLevel converts a level name ("debug", "info", ...) to a zerolog level.
// An empty name means info.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("invalid log level %q: %w", name, err)
	}
	return level, nil
}

// Error logs an error message
func (l *zerologLogger) Error(args ...interface{}) {
	l.log.Error().Msg(fmt.Sprint(args...))
}

// Errorf logs a formatted error message
func (l *zerologLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msgf(format, args...)
}

// Warn logs a warning message
func (l *zerologLogger) Warn(args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprint(args...))
}

// Warnf logs a formatted warning message
func (l *zerologLogger) Warnf(format string, args ...interface{}) {
	l.log.Warn().Msgf(format, args...)
}

// Info logs an informational message
func (l *zerologLogger) Info(args ...interface{}) {
	l.log.Info().Msg(fmt.Sprint(args...))
}

// Infof logs a formatted informational message
func (l *zerologLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msgf(format, args...)
}

// Debug logs a debug message
func (l *zerologLogger) Debug(args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprint(args...))
}

// Debugf logs a formatted debug message
func (l *zerologLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msgf(format, args...)
}

// WithFields implements Logger
func (l *zerologLogger) WithFields(fields map[string]interface{}) Logger {
	if len(fields) == 0 {
		return l
	}
	return &zerologLogger{log: l.log.With().Fields(fields).Logger()}
}

// WithContext implements Logger
func (l *zerologLogger) WithContext(ctx context.Context) Logger {
	id := TaskIDFromContext(ctx)
	if id == "" {
		return l
	}
	return &zerologLogger{log: l.log.With().Str("task_id", id).Logger()}
}
