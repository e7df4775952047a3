package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/lexrag/internal/config"
)

func newBufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	l, err := NewLoggerTo(zapcore.AddSync(&buf), cfg, nil)
	require.NoError(t, err)
	return l, &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m), sc.Text())
		out = append(out, m)
	}
	return out
}

func TestLogger_ContextFields(t *testing.T) {
	l, buf := newBufferLogger(t, nil)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{0x01, 0x02},
		SpanID:     trace.SpanID{0x03},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	ctx = WithRequestID(ctx, "req-42")
	ctx = WithClientID(ctx, "lexsy")

	l.Info(ctx, "question answered", zap.Int("citations", 3))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "question answered", got[0]["msg"])
	assert.Equal(t, "lexrag", got[0]["service"])
	assert.Equal(t, "req-42", got[0]["request.id"])
	assert.Equal(t, "lexsy", got[0]["client.id"])
	assert.Equal(t, sc.TraceID().String(), got[0]["trace_id"])
	assert.Equal(t, true, got[0]["trace_sampled"])
	assert.EqualValues(t, 3, got[0]["citations"])
	assert.Contains(t, got[0]["caller"], "logger_test.go")
}

func TestLogger_Redaction(t *testing.T) {
	l, buf := newBufferLogger(t, nil)
	ctx := context.Background()

	l.With(zap.String("api_key", "sk-abcdefghijklmnopqrstuvwx")).
		Info(ctx, "calling model",
			zap.String("authorization", "Bearer abc.def"),
			zap.String("note", "uses sk-zyxwvutsrqponmlkjihgfedc today"),
			zap.String("client", "lexsy"))

	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "[REDACTED]", got[0]["api_key"])
	assert.Equal(t, "[REDACTED]", got[0]["authorization"])
	assert.Equal(t, "[REDACTED:pattern]", got[0]["note"])
	assert.Equal(t, "lexsy", got[0]["client"])
	assert.NotContains(t, buf.String(), "sk-")
}

func TestLogger_SecretField(t *testing.T) {
	l, buf := newBufferLogger(t, nil)
	l.Info(context.Background(), "configured", Secret("qdrant", config.Secret("hunter22")))
	assert.NotContains(t, buf.String(), "hunter22")
	assert.Contains(t, buf.String(), "[REDACTED:8]")
}

func TestLogger_SamplingNeverDropsErrors(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) {
		c.Sampling = SamplingConfig{Enabled: true, Tick: config.Duration(1 << 40), Initial: 2, Thereafter: 0}
		c.Stacktrace = zapcore.FatalLevel
	})
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Info(ctx, "embedding batch")
		l.Error(ctx, "embedding failed")
	}

	var infos, errs int
	for _, m := range lines(t, buf) {
		switch m["level"] {
		case "info":
			infos++
		case "error":
			errs++
		}
	}
	assert.Equal(t, 2, infos)
	assert.Equal(t, 5, errs)
}

func TestLogger_Levels(t *testing.T) {
	l, buf := newBufferLogger(t, func(c *Config) { c.Level = zapcore.WarnLevel })
	ctx := context.Background()
	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	l.Warn(ctx, "w")
	assert.False(t, l.Enabled(zapcore.InfoLevel))
	got := lines(t, buf)
	require.Len(t, got, 1)
	assert.Equal(t, "w", got[0]["msg"])
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "DEBUG", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = FromSettings(config.LoggingConfig{Format: "xml"})
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"stream", func(c *Config) { c.Output.Stream = "file" }, "output stream"},
		{"no output", func(c *Config) { c.Output.Stream = "" }, "at least one output"},
		{"tick", func(c *Config) { c.Sampling.Tick = 0 }, "sampling tick"},
		{"pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, "invalid redaction pattern"},
		{"long pattern", func(c *Config) { c.Redaction.Patterns = []string{strings.Repeat("a", 201)} }, "too long"},
		{"empty field", func(c *Config) { c.Fields = map[string]string{"env": ""} }, "empty value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	otelOnly := NewDefaultConfig()
	otelOnly.Output = OutputConfig{OTEL: true}
	assert.NoError(t, otelOnly.Validate())
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))
	assert.Equal(t, ctx, WithClientID(ctx, ""))

	long := strings.Repeat("r", 300)
	assert.Len(t, RequestIDFromContext(WithRequestID(ctx, long)), maxIDLen)

	tl := NewTestLogger()
	assert.Same(t, tl.Logger, FromContext(WithLogger(ctx, tl.Logger)))
	assert.NotNil(t, FromContext(ctx))
}

func TestTestLogger(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(WithClientID(context.Background(), "acme"), "source ingested", zap.Int("chunks", 4))

	tl.AssertLogged(t, zapcore.InfoLevel, "ingested")
	tl.AssertField(t, "source ingested", "client.id", "acme")
	tl.AssertField(t, "source ingested", "chunks", int64(4))
	assert.Len(t, tl.All(), 1)
}
