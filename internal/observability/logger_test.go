package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/esplay/internal/config"
	"github.com/jmylchreest/esplay/internal/media"
)

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, `"key":"value"`)

	var parsed map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &parsed))
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "text"}, &buf)
	logger.Info("test message", slog.String("key", "value"))

	output := buf.String()
	assert.Contains(t, output, "test message")
	assert.Contains(t, output, "key=value")
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name        string
		configLevel string
		logLevel    slog.Level
		shouldLog   bool
	}{
		{"debug logs at debug level", "debug", slog.LevelDebug, true},
		{"debug filtered at info level", "info", slog.LevelDebug, false},
		{"info logs at info level", "info", slog.LevelInfo, true},
		{"info filtered at warn level", "warn", slog.LevelInfo, false},
		{"error logs at error level", "error", slog.LevelError, true},
		{"trace logs at trace level", "trace", LevelTrace, true},
		{"trace filtered at debug level", "debug", LevelTrace, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: tt.configLevel, Format: "json"}, &buf)
			logger.Log(context.Background(), tt.logLevel, "level test")

			if tt.shouldLog {
				assert.Contains(t, buf.String(), "level test")
			} else {
				assert.Empty(t, buf.String())
			}
		})
	}
}

func TestTraceLevelDisplay(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "trace", Format: "json"}, &buf)
	logger.Log(context.Background(), LevelTrace, "trace message")

	output := buf.String()
	assert.Contains(t, output, `"level":"TRACE"`)
	assert.NotContains(t, output, "DEBUG-4")
}

func TestNewLogger_CustomTimeFormat(t *testing.T) {
	var buf bytes.Buffer
	cfg := config.LoggingConfig{Level: "info", Format: "json", TimeFormat: time.DateOnly}
	NewLoggerWithWriter(cfg, &buf).Info("time test")

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &parsed))
	ts, ok := parsed["time"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.DateOnly, ts)
	assert.NoError(t, err)
}

func TestRedaction_SecretTag(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	logger.Info("encrypted frame", slog.Any("encryption", media.Encryption{Handle: "drm-key-42", Size: 16}))

	output := buf.String()
	assert.NotContains(t, output, "drm-key-42")
	assert.Contains(t, output, Redacted)
	assert.Contains(t, output, `"Size":16`)
}

func TestRedaction_SensitiveFields(t *testing.T) {
	for _, field := range []string{"password", "Token", "api_key", "Credential"} {
		t.Run(field, func(t *testing.T) {
			var buf bytes.Buffer
			logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
			logger.Info("test message", slog.String(field, "hunter2"))

			assert.NotContains(t, buf.String(), "hunter2")
			assert.Contains(t, buf.String(), Redacted)
		})
	}
}

func TestRedaction_LeavesOtherFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)
	logger.Info("session opened",
		slog.String("path", "/media/clip.ts"),
		slog.Int("width", 1280),
		slog.Duration("duration", 2*time.Second))

	output := buf.String()
	assert.Contains(t, output, "/media/clip.ts")
	assert.Contains(t, output, `"width":1280`)
	assert.NotContains(t, output, Redacted)
}

func TestWithHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	enriched := WithError(WithSession(WithRequestID(WithComponent(logger, "demux"), "req-1"), "01HX"), errors.New("boom"))
	enriched.Info("chained test")

	output := buf.String()
	assert.Contains(t, output, `"component":"demux"`)
	assert.Contains(t, output, `"request_id":"req-1"`)
	assert.Contains(t, output, `"session_id":"01HX"`)
	assert.Contains(t, output, `"error":"boom"`)

	assert.Same(t, logger, WithError(logger, nil))
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = ContextWithRequestID(ctx, "req-9")
	assert.Equal(t, "req-9", RequestIDFromContext(ctx))
}

func TestRequestLoggingToggle(t *testing.T) {
	t.Cleanup(func() { SetRequestLogging(true) })

	assert.True(t, IsRequestLoggingEnabled())
	SetRequestLogging(false)
	assert.False(t, IsRequestLoggingEnabled())
}

func TestTimedOperationWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	var err error
	done := TimedOperationWithError(context.Background(), logger, "play", &err)
	err = errors.New("backend gone")
	done()

	output := buf.String()
	assert.Contains(t, output, "operation started")
	assert.Contains(t, output, "operation failed")
	assert.Contains(t, output, "backend gone")

	buf.Reset()
	var ok error
	TimedOperationWithError(context.Background(), logger, "pause", &ok)()
	assert.Contains(t, buf.String(), "operation completed")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"trace", LevelTrace},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLevel(tt.input))
		})
	}
}
