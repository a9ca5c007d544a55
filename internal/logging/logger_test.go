package logging

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger.Underlying())
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	assert.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	cfg, err = FromSettings(config.LoggingConfig{Level: "trace"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)

	_, err = FromSettings(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRequest(context.Background(), Request{
		TenantID:   "tenant-1",
		TenantSlug: "acme",
		CallerID:   "user-9",
	})
	ctx = WithRequestID(ctx, "req-123")

	tl.Info(ctx, "asset ingested", zap.String("asset_id", "a1"))

	tl.AssertLogged(t, zapcore.InfoLevel, "asset ingested")
	tl.AssertField(t, "asset ingested", "tenant_id", "tenant-1")
	tl.AssertField(t, "asset ingested", "tenant_slug", "acme")
	tl.AssertField(t, "asset ingested", "caller_id", "user-9")
	tl.AssertField(t, "asset ingested", "request_id", "req-123")
	tl.AssertField(t, "asset ingested", "asset_id", "a1")
}

func TestContextFields_TraceCorrelation(t *testing.T) {
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := ContextFields(ctx)
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "trace_id")
	assert.Contains(t, keys, "span_id")
}

func TestWithRequestID_DropsInvalid(t *testing.T) {
	ctx := WithRequestID(context.Background(), "bad id\nwith newline")
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(context.Background(), strings.Repeat("a", maxIDLen+1))
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestSecurity(t *testing.T) {
	tl := NewTestLogger()
	tl.Security(context.Background(), "guest token rejected", zap.String("ip", "10.0.0.1"))

	entries := tl.FilterMessage("guest token rejected").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "security", entries[0].LoggerName)
	assert.Equal(t, "guest token rejected", entries[0].ContextMap()["security_event"])
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Warn(ctx, "from ctx")
	tl.AssertLogged(t, zapcore.WarnLevel, "from ctx")
}

func encode(t *testing.T, enc zapcore.Encoder, msg string, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(zapcore.Entry{Message: msg}, fields)
	require.NoError(t, err)
	return buf.String()
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc, "verifying Bearer abc.def.ghi",
		zap.String("authorization", "Bearer xyz"),
		zap.String("url", "https://s3/bucket/key.jpg?X-Amz-Signature=deadbeef&X-Amz-Expires=60"),
		zap.String("asset_id", "a1"),
	)

	assert.NotContains(t, out, "xyz")
	assert.NotContains(t, out, "deadbeef")
	assert.NotContains(t, out, "abc.def.ghi")
	assert.Contains(t, out, "bucket/key.jpg")
	assert.Contains(t, out, `"asset_id":"a1"`)
}

func TestRedactingEncoder_WithFields(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	child := enc.Clone()
	child.AddString("jwt", "eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxIn0.sig")
	out := encode(t, child, "hello")
	assert.NotContains(t, out, "eyJhbGci")
}

func TestRedactingEncoder_SignedURLsAndDSN(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	out := encode(t, enc, "connecting to postgres://media:hunter2@db:5432/media",
		zap.String("url", "http://127.0.0.1:8080/objects/t1/a1.jpg?expires=1700000000&signature=AbC_d-9"),
		zap.Error(fmt.Errorf("dial postgres://media:hunter2@db:5432: refused")),
	)

	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "AbC_d-9")
	assert.Contains(t, out, "postgres://media:[REDACTED]@db:5432")
	assert.Contains(t, out, "expires=1700000000&signature=[REDACTED]")
}

func TestNewRedactingEncoder_BadPattern(t *testing.T) {
	_, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{Patterns: []string{"("}})
	assert.Error(t, err)

	_, err = NewRedactingEncoder(newEncoder("json"), RedactionConfig{Patterns: []string{strings.Repeat("a", maxPatternLen+1)}})
	assert.ErrorContains(t, err, "longer than")
}

func TestEncodeLevel_Trace(t *testing.T) {
	out := encode(t, newEncoder("json"), "decoder probe")
	assert.Contains(t, out, `"level":"info"`)

	buf, err := newEncoder("json").EncodeEntry(zapcore.Entry{Level: TraceLevel, Message: "decoder probe"}, nil)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"trace"`)
}

func TestSample_ErrorsBypass(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	z := zap.New(sample(core, SamplingConfig{Tick: config.Duration(time.Minute), Initial: 2, Thereafter: 1000}))

	for i := 0; i < 10; i++ {
		z.Warn("embedding failed")
		z.Error("index unavailable")
	}

	assert.Equal(t, 2, logs.FilterMessage("embedding failed").Len())
	assert.Equal(t, 10, logs.FilterMessage("index unavailable").Len())
}

func TestSample_Disabled(t *testing.T) {
	core, _ := observer.New(zapcore.InfoLevel)
	assert.Equal(t, core, sample(core, SamplingConfig{}))
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	cfg.Stdout, cfg.OTEL = false, false
	cfg.Fields["empty"] = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "json or console")
	assert.Contains(t, err.Error(), "stdout or otel")
	assert.Contains(t, err.Error(), `"empty"`)
}

func TestNewLogger_NoOutputWithoutProvider(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Stdout = false
	_, err := NewLogger(cfg, nil)
	assert.ErrorContains(t, err, "no log output")
}

func TestSecretField(t *testing.T) {
	tl := NewTestLogger()
	tl.Info(context.Background(), "configured", Secret("storage_key", config.Secret("s3cr3t")))
	for _, e := range tl.All() {
		assert.NotContains(t, fmt.Sprint(e.ContextMap()), "s3cr3t")
	}
}
