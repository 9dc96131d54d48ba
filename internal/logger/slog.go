package logger

import (
	"context"
	"io"
	"log/slog"
)

// SlogLogger is a Logger backed by log/slog with a JSON handler.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger writes JSON entries at or above level to w, always including
// the given base fields.
func NewSlogLogger(w io.Writer, level Level, base []Field) *SlogLogger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: toSlogLevel(level)})
	l := slog.New(handler)
	if len(base) > 0 {
		l = l.With(toAttrs(base)...)
	}
	return &SlogLogger{l: l}
}

// NewNop returns a logger that discards everything.
func NewNop() *SlogLogger {
	return NewSlogLogger(io.Discard, LogLevelError+1, nil)
}

func (s *SlogLogger) Debug(msg string, fields ...Field) { s.log(slog.LevelDebug, msg, fields) }
func (s *SlogLogger) Info(msg string, fields ...Field) { s.log(slog.LevelInfo, msg, fields) }
func (s *SlogLogger) Warn(msg string, fields ...Field) { s.log(slog.LevelWarn, msg, fields) }
func (s *SlogLogger) Error(msg string, fields ...Field) { s.log(slog.LevelError, msg, fields) }

// With returns a child logger carrying fields.
func (s *SlogLogger) With(fields ...Field) Logger {
	return &SlogLogger{l: s.l.With(toAttrs(fields)...)}
}

// Module returns a child logger tagged with module=name.
func (s *SlogLogger) Module(name string) Logger {
	return s.With(String("module", name))
}

func (s *SlogLogger) log(level slog.Level, msg string, fields []Field) {
	s.l.LogAttrs(context.Background(), level, msg, toSlogAttrs(fields)...)
}

func toSlogLevel(level Level) slog.Level {
	switch level {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	default:
		// Above error: nothing is emitted.
		return slog.LevelError + 4
	}
}

func toSlogAttrs(fields []Field) []slog.Attr {
	attrs := make([]slog.Attr, 0, len(fields))
	for _, f := range fields {
		attrs = append(attrs, slog.Any(f.Key, f.Value))
	}
	return attrs
}

func toAttrs(fields []Field) []any {
	args := make([]any, 0, len(fields))
	for _, f := range fields {
		args = append(args, slog.Any(f.Key, f.Value))
	}
	return args
}
