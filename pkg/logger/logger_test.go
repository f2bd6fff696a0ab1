package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/cwrk-planet/room-bus/pkg/logger"
)

func keepDefault(t *testing.T) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	line := strings.TrimSpace(buf.String())
	require.NoError(t, json.Unmarshal([]byte(line), &m), "expected one JSON line, got %q", line)
	return m
}

func TestDetectEnv(t *testing.T) {
	t.Setenv("ROOMBUS_ENV", "")
	t.Setenv("APP_ENV", "")
	assert.Equal(t, logger.EnvDev, logger.DetectEnv())

	t.Setenv("APP_ENV", "staging")
	assert.Equal(t, logger.EnvStage, logger.DetectEnv())

	t.Setenv("ROOMBUS_ENV", "production")
	assert.Equal(t, logger.EnvProd, logger.DetectEnv())
}

func TestParseLevel(t *testing.T) {
	for raw, want := range map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	} {
		got, err := logger.ParseLevel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, got, raw)
	}

	_, err := logger.ParseLevel("loud")
	assert.Error(t, err)
}

func TestInit_DevStd_Text(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	logger.Init(logger.Config{
		Service: "demo",
		Env:     logger.EnvDev,
		Backend: logger.BackendStd,
		Level:   slog.LevelDebug,
		Output:  &buf,
	})

	slog.Debug("Hello world")

	out := buf.String()
	assert.Contains(t, out, "Hello world")
	assert.Contains(t, out, "service=demo")
	assert.Contains(t, out, "env=dev")
	assert.NotContains(t, out, "{")
}

func TestInit_LevelFilters(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	logger.Init(logger.Config{Env: logger.EnvDev, Backend: logger.BackendStd, Level: slog.LevelWarn, Output: &buf})

	slog.Info("quiet")
	assert.Empty(t, buf.String())

	slog.Warn("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestInit_ProdZap_JSON(t *testing.T) {
	keepDefault(t)
	var buf bytes.Buffer
	logger.Init(logger.Config{
		Service: "demo",
		Version: "1.2.3",
		Env:     logger.EnvProd,
		Backend: logger.BackendZap,
		Level:   slog.LevelInfo,
		Output:  &buf,
	})

	slog.Info("booted", slog.String("k", "v"))
	require.NoError(t, logger.Sync())

	m := decodeLine(t, &buf)
	assert.Equal(t, "booted", m["msg"])
	assert.Equal(t, "INFO", m["level"])
	assert.Equal(t, "demo", m["service"])
	assert.Equal(t, "prod", m["env"])
	assert.Equal(t, "1.2.3", m["version"])
	assert.Equal(t, "v", m["k"])
}

func TestInit_TraceIDsFromContext(t *testing.T) {
	keepDefault(t)
	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	var buf bytes.Buffer
	logger.Init(logger.Config{Env: logger.EnvStage, Backend: logger.BackendStd, Output: &buf})

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	slog.InfoContext(ctx, "with trace")
	span.End()

	m := decodeLine(t, &buf)
	assert.Equal(t, span.SpanContext().TraceID().String(), m["trace_id"])
	assert.Equal(t, span.SpanContext().SpanID().String(), m["span_id"])

	buf.Reset()
	slog.Info("no trace")
	m = decodeLine(t, &buf)
	assert.NotContains(t, m, "trace_id")
}
