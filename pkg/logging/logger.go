// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package logging provides structured logging capabilities for the xypi hub.
package logging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"
	"unicode"
)

// Logger is the interface for structured logging used throughout the hub.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	With(args ...any) Logger
	WithContext(ctx context.Context) Logger
}

// slogLogger wraps slog.Logger to implement the Logger interface.
type slogLogger struct {
	logger *slog.Logger
}

// NewLogger creates a new logger with the specified configuration.
func NewLogger(config *Config) Logger {
	if config == nil {
		config = DefaultConfig()
	}

	opts := &slog.HandlerOptions{
		Level: config.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String(slog.TimeKey, a.Value.Time().Format(time.RFC3339))
			}
			return a
		},
	}

	var handler slog.Handler
	switch config.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(config.Output, opts)
	default:
		handler = slog.NewTextHandler(config.Output, opts)
	}

	logger := slog.New(handler).With(
		"service", "xypi-hub",
		"version", config.Version,
	)

	return &slogLogger{logger: logger}
}

func (l *slogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *slogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *slogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *slogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: l.logger.With(args...)}
}

// WithContext pulls a connection/session id out of ctx if one was attached
// (the WebSocket session attaches its connection id), so a worker's logs can
// be correlated back to the request that caused them.
func (l *slogLogger) WithContext(ctx context.Context) Logger {
	attrs := make([]any, 0, 4)

	if connID := ctx.Value(ctxKeyConnID{}); connID != nil {
		attrs = append(attrs, "conn_id", connID)
	}
	if jobID := ctx.Value(ctxKeyJobID{}); jobID != nil {
		attrs = append(attrs, "job_id", jobID)
	}

	if len(attrs) > 0 {
		return l.With(attrs...)
	}
	return l
}

type ctxKeyConnID struct{}
type ctxKeyJobID struct{}

// WithConnID attaches a connection id to ctx for later retrieval by WithContext.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyConnID{}, id)
}

// WithJobID attaches a job id to ctx for later retrieval by WithContext.
func WithJobID(ctx context.Context, id uint32) context.Context {
	return context.WithValue(ctx, ctxKeyJobID{}, id)
}

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level.
	Level slog.Level

	// Format is the output format (text or json).
	Format Format

	// Output is where logs are written (default: os.Stdout).
	Output *os.File

	// Version is the hub version to include in logs.
	Version string
}

// Format represents the log output format.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// DefaultConfig returns a default logger configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:   slog.LevelInfo,
		Format:  FormatText,
		Output:  os.Stdout,
		Version: "unknown",
	}
}

// LevelFromVerbosity maps the hub's --log-level 0..5 flag (5=most verbose)
// onto an slog.Level, following the CLI contract in spec.md section 6.
func LevelFromVerbosity(v uint16) slog.Level {
	switch {
	case v == 0:
		return slog.LevelError + 4 // effectively silent
	case v == 1:
		return slog.LevelError
	case v == 2:
		return slog.LevelWarn
	case v == 3:
		return slog.LevelInfo
	case v == 4:
		return slog.LevelDebug
	default:
		return slog.LevelDebug - 4 // more verbose than Debug
	}
}

// sanitizeLogValue strips control characters that could be used for log
// injection (newlines, carriage returns, etc.) from a logged value.
func sanitizeLogValue(value any) any {
	if str, ok := value.(string); ok {
		sanitized := strings.Map(func(r rune) rune {
			if r == '\n' || r == '\r' || r == '\t' {
				return ' '
			}
			if unicode.IsControl(r) && !unicode.IsSpace(r) {
				return -1
			}
			return r
		}, str)
		return sanitized
	}
	return value
}

func sanitizeFields(fields []any) []any {
	sanitized := make([]any, len(fields))
	for i, field := range fields {
		sanitized[i] = sanitizeLogValue(field)
	}
	return sanitized
}

// LogOperation returns a logger annotated with the calling operation and caller location.
func LogOperation(logger Logger, operation string, fields ...any) Logger {
	_, file, line, _ := runtime.Caller(1)
	baseFields := []any{
		"operation", sanitizeLogValue(operation),
		"caller", fmt.Sprintf("%s:%d", file, line),
	}
	return logger.With(append(baseFields, sanitizeFields(fields)...)...)
}

// LogDuration logs the duration of a completed operation.
func LogDuration(logger Logger, start time.Time, operation string) {
	duration := time.Since(start)
	logger.Info("operation completed",
		"operation", operation,
		"duration_ms", duration.Milliseconds(),
	)
}

// LogError logs an error with context, the pattern every worker and session
// loop uses for the "catch -> log -> store error" envelope (spec.md 4.5/9).
func LogError(logger Logger, err error, operation string, fields ...any) {
	if err == nil {
		return
	}
	baseFields := []any{
		"operation", operation,
		"error", err.Error(),
		"error_type", getErrorType(err),
	}
	logger.Error("operation failed", append(baseFields, sanitizeFields(fields)...)...)
}

func getErrorType(err error) string {
	if err == nil {
		return ""
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return "PathError"
	}
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		return "SyscallError"
	}
	return fmt.Sprintf("%T", err)
}

// NoOpLogger discards all log messages; useful in unit tests.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...any)          {}
func (NoOpLogger) Info(msg string, args ...any)           {}
func (NoOpLogger) Warn(msg string, args ...any)           {}
func (NoOpLogger) Error(msg string, args ...any)          {}
func (NoOpLogger) With(args ...any) Logger                { return NoOpLogger{} }
func (NoOpLogger) WithContext(ctx context.Context) Logger { return NoOpLogger{} }
