// Package logging provides the JSON-lines logger used by the lumen binaries.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/raysh454/lumen/internal/interfaces"
)

type (
	Logger = interfaces.Logger
	Field  = interfaces.Field
)

// StdoutLogger implements interfaces.Logger and prints one JSON object per line.
type StdoutLogger struct {
	h         *slog.Logger
	component string
}

// NewStdoutLogger creates a logger at info level writing to stdout. component
// is optional and is attached to every entry.
func NewStdoutLogger(component string) *StdoutLogger {
	return NewLogger(os.Stdout, component, "info")
}

// NewLogger creates a logger writing to w at the given level
// (debug, info, warn, error). Unknown levels fall back to info.
func NewLogger(w io.Writer, component, level string) *StdoutLogger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	l := slog.New(h)
	if component != "" {
		l = l.With("component", component)
	}
	return &StdoutLogger{h: l, component: component}
}

// ParseLevel maps a textual level to a slog.Level.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s *StdoutLogger) log(level slog.Level, msg string, fields []interfaces.Field) {
	if !s.h.Enabled(context.Background(), level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, attr(f))
	}
	s.h.LogAttrs(context.Background(), level, msg, attrs...)
}

// error values marshal to {} in JSON, so they are rendered as strings.
func attr(f interfaces.Field) slog.Attr {
	if err, ok := f.Value.(error); ok && err != nil {
		return slog.String(f.Key, err.Error())
	}
	return slog.Any(f.Key, f.Value)
}

func (s *StdoutLogger) Debug(msg string, fields ...interfaces.Field) {
	s.log(slog.LevelDebug, msg, fields)
}

func (s *StdoutLogger) Info(msg string, fields ...interfaces.Field) {
	s.log(slog.LevelInfo, msg, fields)
}

func (s *StdoutLogger) Warn(msg string, fields ...interfaces.Field) {
	s.log(slog.LevelWarn, msg, fields)
}

func (s *StdoutLogger) Error(msg string, fields ...interfaces.Field) {
	s.log(slog.LevelError, msg, fields)
}

func (s *StdoutLogger) With(fields ...interfaces.Field) interfaces.Logger {
	args := make([]any, 0, len(fields))
	component := s.component
	for _, f := range fields {
		if f.Key == "component" {
			if str, ok := f.Value.(string); ok {
				component = str
			}
		}
		args = append(args, attr(f))
	}
	return &StdoutLogger{h: s.h.With(args...), component: component}
}
