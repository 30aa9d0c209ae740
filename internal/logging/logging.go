// Package logging provides the structured logger used across the wallet engine.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Fields carries structured log attributes.
type Fields map[string]interface{}

// Logger wraps zerolog with the service name attached to every record.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger for the given service. Format is "json" or "console".
func New(service, level, format string) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var zl zerolog.Logger
	if format == "console" {
		zl = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zl = zerolog.New(os.Stderr)
	}

	zl = zl.Level(lvl).With().Timestamp().Str("service", service).Logger()
	return &Logger{zl: zl}
}

// With returns a child logger carrying the additional fields on every record.
func (l *Logger) With(fields Fields) *Logger {
	ctx := l.zl.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zl: ctx.Logger()}
}

func (l *Logger) emit(ev *zerolog.Event, msg string, fields Fields) {
	for k, v := range fields {
		ev = ev.Interface(k, v)
	}
	ev.Msg(msg)
}

// Debug logs at debug level.
func (l *Logger) Debug(ctx context.Context, msg string, fields Fields) {
	l.emit(l.zl.Debug(), msg, fields)
}

// Info logs at info level.
func (l *Logger) Info(ctx context.Context, msg string, fields Fields) {
	l.emit(l.zl.Info(), msg, fields)
}

// Warn logs at warn level.
func (l *Logger) Warn(ctx context.Context, msg string, fields Fields) {
	l.emit(l.zl.Warn(), msg, fields)
}

// Error logs at error level.
func (l *Logger) Error(ctx context.Context, msg string, fields Fields) {
	l.emit(l.zl.Error(), msg, fields)
}

// WithError attaches an error to a child logger.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zl: l.zl.With().Err(err).Logger()}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}
