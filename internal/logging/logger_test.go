package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/dispatchd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func bufferLogger(t *testing.T, mutate func(*Config)) (*Logger, *bytes.Buffer) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Sampling.Enabled = false
	cfg.Caller = false
	if mutate != nil {
		mutate(cfg)
	}
	var buf bytes.Buffer
	l, err := newLogger(cfg, &buf, nil)
	require.NoError(t, err)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestNewLogger_WritesJSONWithServiceField(t *testing.T) {
	l, buf := bufferLogger(t, nil)

	l.Info(context.Background(), "decision made", zap.String("agent_id", "a1"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "decision made", lines[0]["msg"])
	assert.Equal(t, "a1", lines[0]["agent_id"])
	assert.Equal(t, "dispatchd", lines[0]["service"])
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	l, buf := bufferLogger(t, nil)

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()
	ctx = WithTask(ctx, "task-42", "user-7")
	ctx = WithRequestID(ctx, "req-1")

	l.Warn(ctx, "policy warnings")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "task-42", lines[0]["task.id"])
	assert.Equal(t, "user-7", lines[0]["task.user"])
	assert.Equal(t, "req-1", lines[0]["request.id"])
	assert.Equal(t, span.SpanContext().TraceID().String(), lines[0]["trace_id"])
}

func TestLogger_TraceLevel(t *testing.T) {
	l, buf := bufferLogger(t, func(c *Config) { c.Level = zapcore.DebugLevel })
	l.Trace(context.Background(), "candidate scored")
	assert.Empty(t, buf.String())

	l, buf = bufferLogger(t, func(c *Config) { c.Level = TraceLevel })
	l.Trace(context.Background(), "candidate scored")
	assert.Contains(t, buf.String(), "candidate scored")
}

func TestRedactingEncoder(t *testing.T) {
	l, buf := bufferLogger(t, nil)

	l.With(zap.String("token", "nats-secret")).Info(context.Background(), "connected",
		zap.String("password", "hunter2"),
		zap.String("header", "Bearer abc.def"),
		Secret("redis_password", config.Secret("s3cret")),
		zap.String("agent_id", "a1"))

	out := buf.String()
	assert.NotContains(t, out, "nats-secret")
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc.def")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "[REDACTED:6]")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "a1", lines[0]["agent_id"])
	assert.Equal(t, "[REDACTED]", lines[0]["password"])
	assert.Equal(t, "[REDACTED:pattern]", lines[0]["header"])
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	l, buf := bufferLogger(t, func(c *Config) { c.Redaction.Enabled = false })
	l.Info(context.Background(), "x", zap.String("password", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Enabled: true, Patterns: []string{"("}})
	assert.Error(t, err)
}

func TestSampling_ErrorsNeverSampled(t *testing.T) {
	l, buf := bufferLogger(t, func(c *Config) {
		c.Sampling.Enabled = true
		c.Sampling.Initial = 1
		c.Sampling.Thereafter = 0
	})

	for i := 0; i < 5; i++ {
		l.Info(context.Background(), "repeated")
		l.Error(context.Background(), "failure")
	}

	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, `"repeated"`))
	assert.Equal(t, 5, strings.Count(out, `"failure"`))
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	assert.Error(t, err)
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "console", DisableSampling: true}, "dispatchd-test")
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)
	assert.False(t, cfg.Sampling.Enabled)
	assert.Equal(t, "dispatchd-test", cfg.Fields["service"])

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"}, "")
	assert.Error(t, err)
}

func TestWithTask_DropsInvalidIDs(t *testing.T) {
	ctx := WithTask(context.Background(), "bad id with spaces", "")
	assert.Nil(t, TaskFromContext(ctx))

	ctx = WithTask(context.Background(), "t1", "bad/user")
	task := TaskFromContext(ctx)
	require.NotNil(t, task)
	assert.Equal(t, "t1", task.TaskID)
	assert.Empty(t, task.UserID)
}

func TestWithRequestID_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { WithRequestID(context.Background(), "") })
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
}

func TestTestLogger_AssertField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "outcome recorded", zap.String("agent_id", "a1"))

	tl.AssertField(t, "outcome recorded", "agent_id", "a1")
	assert.Equal(t, 1, tl.FilterMessage("outcome recorded").Len())

	tl.Reset()
	assert.Empty(t, tl.All())
}
