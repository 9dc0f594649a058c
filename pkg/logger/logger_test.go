package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/cwrk-planet/admin-chat/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestParseEnv(t *testing.T) {
	assert.Equal(t, logger.EnvDev, logger.ParseEnv(""))
	assert.Equal(t, logger.EnvStage, logger.ParseEnv("Staging"))
	assert.Equal(t, logger.EnvProd, logger.ParseEnv(" production "))
	assert.Equal(t, logger.EnvDev, logger.ParseEnv("qa"))
}

func TestDetectEnv(t *testing.T) {
	t.Setenv("ADMIN_CHAT_ENV", "")
	t.Setenv("APP_ENV", "prod")
	assert.Equal(t, logger.EnvProd, logger.DetectEnv())

	t.Setenv("ADMIN_CHAT_ENV", "staging")
	assert.Equal(t, logger.EnvStage, logger.DetectEnv())
}

func TestInit_DevStd_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	l := logger.Init(logger.Config{
		Service: "demo",
		Version: "v0.0.1",
		Env:     logger.EnvDev,
		Backend: logger.BackendStd,
		Level:   slog.LevelDebug,
		Output:  &buf,
	})

	l.Info("hello world")

	out := buf.String()
	assert.NotContains(t, out, "{")
	assert.Contains(t, out, "hello world")
	assert.Contains(t, out, "service=demo")
	assert.Contains(t, out, "env=dev")
}

func TestInit_ProdZap_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Config{
		Service:          "demo",
		Version:          "1.2.3",
		Env:              logger.EnvProd,
		Backend:          logger.BackendZap,
		Level:            slog.LevelInfo,
		SampleInitial:    100000,
		SampleThereafter: 100000,
		Output:           &buf,
	})

	slog.Info("booted", slog.String("k", "v"))

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m), buf.String())
	assert.Equal(t, "booted", m["msg"])
	assert.Equal(t, "demo", m["service"])
	assert.Equal(t, "prod", m["env"])
	assert.Equal(t, "1.2.3", m["version"])
	assert.Contains(t, m, "pid")
	assert.Contains(t, m, "instance_id")
	assert.Equal(t, "INFO", m["level"])
	assert.Equal(t, "v", m["k"])
}

func TestComponent_TagsRecords(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Config{Env: logger.EnvDev, Backend: logger.BackendStd, Output: &buf})

	logger.Component("transport").Info("dialing")

	assert.Contains(t, buf.String(), "component=transport")
}

func TestAttrsFromCtx(t *testing.T) {
	assert.Nil(t, logger.AttrsFromCtx(context.Background()))

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		SpanID:     trace.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	attrs := logger.AttrsFromCtx(ctx)
	require.Len(t, attrs, 2)
	assert.Equal(t, "trace_id", attrs[0].Key)
	assert.Equal(t, sc.TraceID().String(), attrs[0].Value.String())
	assert.Equal(t, "span_id", attrs[1].Key)
}
