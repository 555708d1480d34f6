// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Run("with config", func(t *testing.T) {
		config := &Config{Level: slog.LevelDebug, Format: FormatJSON, Output: os.Stdout, Version: "1.0.0"}
		logger := NewLogger(config)
		require.NotNil(t, logger)
		sl, ok := logger.(*slogLogger)
		assert.True(t, ok)
		assert.NotNil(t, sl.logger)
	})

	t.Run("with nil config", func(t *testing.T) {
		logger := NewLogger(nil)
		require.NotNil(t, logger)
	})
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NotNil(t, config)
	assert.Equal(t, slog.LevelInfo, config.Level)
	assert.Equal(t, FormatText, config.Format)
	assert.Equal(t, os.Stdout, config.Output)
	assert.Equal(t, "unknown", config.Version)
}

func TestSlogLogger_LogMethods(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatJSON, Output: os.Stdout, Version: "test"})
	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "key", "value")
	logger.Warn("warn message", "key", "value")
	logger.Error("error message", "key", "value")
}

func TestSlogLogger_With(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout, Version: "test"})
	newLogger := logger.With("component", "test", "job_id", 123)
	assert.NotEqual(t, logger, newLogger)
	assert.IsType(t, &slogLogger{}, newLogger)
}

func TestSlogLogger_WithContext(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout, Version: "test"})

	t.Run("context with values", func(t *testing.T) {
		ctx := WithConnID(context.Background(), "conn-1")
		ctx = WithJobID(ctx, 7)
		contextLogger := logger.WithContext(ctx)
		assert.NotEqual(t, logger, contextLogger)
	})

	t.Run("context without values", func(t *testing.T) {
		contextLogger := logger.WithContext(context.Background())
		assert.Equal(t, logger, contextLogger)
	})
}

func TestLevelFromVerbosity(t *testing.T) {
	assert.Equal(t, slog.LevelError, LevelFromVerbosity(1))
	assert.Equal(t, slog.LevelWarn, LevelFromVerbosity(2))
	assert.Equal(t, slog.LevelInfo, LevelFromVerbosity(3))
	assert.Equal(t, slog.LevelDebug, LevelFromVerbosity(4))
}

func TestLogOperation(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout, Version: "test"})
	operationLogger := LogOperation(logger, "test-operation", "extra", "field")
	assert.NotEqual(t, logger, operationLogger)
}

func TestLogDuration(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout, Version: "test"})
	start := time.Now().Add(-100 * time.Millisecond)
	LogDuration(logger, start, "test-operation")
}

func TestLogError(t *testing.T) {
	logger := NewLogger(&Config{Level: slog.LevelDebug, Format: FormatText, Output: os.Stdout, Version: "test"})

	t.Run("with error", func(t *testing.T) {
		LogError(logger, errors.New("test error"), "test-operation", "extra", "field")
	})
	t.Run("with nil error", func(t *testing.T) {
		LogError(logger, nil, "test-operation", "extra", "field")
	})
}

func TestGetErrorType(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"nil error", nil, ""},
		{"generic error", errors.New("test error"), "*errors.errorString"},
		{"path error", &os.PathError{Op: "open", Path: "/test", Err: errors.New("not found")}, "PathError"},
		{"syscall error", &os.SyscallError{Syscall: "test", Err: errors.New("failed")}, "SyscallError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, getErrorType(tt.err))
		})
	}
}

func TestNoOpLogger(t *testing.T) {
	logger := NoOpLogger{}
	logger.Debug("test")
	logger.Info("test")
	logger.Warn("test")
	logger.Error("test")
	assert.Equal(t, NoOpLogger{}, logger.With("key", "value"))
	assert.Equal(t, NoOpLogger{}, logger.WithContext(context.Background()))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, Format("text"), FormatText)
	assert.Equal(t, Format("json"), FormatJSON)
}

func TestLoggerInterface(t *testing.T) {
	var _ Logger = (*slogLogger)(nil)
	var _ Logger = NoOpLogger{}
}

func TestLoggerOutput(t *testing.T) {
	t.Run("text format", func(t *testing.T) {
		var buf bytes.Buffer
		handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logger := &slogLogger{logger: slog.New(handler).With("service", "xypi-hub", "version", "test")}
		logger.Info("test message", "key", "value")
		output := buf.String()
		assert.Contains(t, output, "test message")
		assert.Contains(t, output, "key=value")
		assert.Contains(t, output, "service=xypi-hub")
	})

	t.Run("json format", func(t *testing.T) {
		var buf bytes.Buffer
		handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
		logger := &slogLogger{logger: slog.New(handler).With("service", "xypi-hub", "version", "test")}
		logger.Info("test message", "key", "value")
		output := buf.String()
		assert.True(t, json.Valid([]byte(output)), "Output should be valid JSON")
		assert.Contains(t, output, "test message")
		assert.Contains(t, output, "\"key\":\"value\"")
	})
}

func TestLogLevels(t *testing.T) {
	tests := []struct {
		name        string
		level       slog.Level
		shouldLog   []string
		shouldntLog []string
	}{
		{"debug level", slog.LevelDebug, []string{"debug", "info", "warn", "error"}, []string{}},
		{"info level", slog.LevelInfo, []string{"info", "warn", "error"}, []string{"debug"}},
		{"warn level", slog.LevelWarn, []string{"warn", "error"}, []string{"debug", "info"}},
		{"error level", slog.LevelError, []string{"error"}, []string{"debug", "info", "warn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: tt.level})
			logger := &slogLogger{logger: slog.New(handler)}

			logger.Debug("debug message")
			logger.Info("info message")
			logger.Warn("warn message")
			logger.Error("error message")

			output := buf.String()
			for _, should := range tt.shouldLog {
				assert.Contains(t, output, should+" message")
			}
			for _, shouldnt := range tt.shouldntLog {
				assert.NotContains(t, output, shouldnt+" message")
			}
		})
	}
}
