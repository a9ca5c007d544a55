package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/mediasearch/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.Enabled())
	assert.Empty(t, tel.Degraded())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Protocol = "udp"

	_, err := New(context.Background(), cfg)
	assert.ErrorContains(t, err, "invalid telemetry config")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "disabled skips validation", mutate: func(c *Config) { c.Endpoint = "" }},
		{name: "enabled local insecure", mutate: func(c *Config) { c.Enabled = true }},
		{name: "loopback ip", mutate: func(c *Config) {
			c.Enabled = true
			c.Endpoint = "127.0.0.1:4317"
		}},
		{name: "bracketed ipv6 loopback", mutate: func(c *Config) {
			c.Enabled = true
			c.Endpoint = "[::1]:4317"
		}},
		{name: "remote with tls", mutate: func(c *Config) {
			c.Enabled = true
			c.Insecure = false
			c.Endpoint = "https://collector.example.com:4318"
		}},
		{name: "remote insecure rejected", mutate: func(c *Config) {
			c.Enabled = true
			c.Endpoint = "collector.example.com:4317"
		}, wantErr: "insecure export"},
		{name: "bad protocol", mutate: func(c *Config) {
			c.Enabled = true
			c.Protocol = "udp"
		}, wantErr: "protocol must be"},
		{name: "bad rate", mutate: func(c *Config) {
			c.Enabled = true
			c.Sampling.Rate = 2
		}, wantErr: "sampling rate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.ObservabilityConfig{
		EnableTelemetry: true,
		ServiceName:     "mediasearch-test",
		OTLPEndpoint:    "127.0.0.1:4318",
		OTLPProtocol:    "http/protobuf",
		OTLPInsecure:    true,
		SampleRate:      0.25,
	}, "production", "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "mediasearch-test", cfg.ServiceName)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "production", cfg.Environment)
	assert.InDelta(t, 0.25, cfg.Sampling.Rate, 1e-9)
	assert.NoError(t, cfg.Validate())
}

func TestNewResource(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Environment = "production"

	got := map[string]string{}
	for _, kv := range newResource(cfg).Attributes() {
		got[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "mediasearch", got["service.name"])
	assert.Equal(t, "production", got["deployment.environment"])
}

func TestSampler(t *testing.T) {
	cfg := NewDefaultConfig()
	assert.Contains(t, sampler(cfg).Description(), "AlwaysOnSampler")

	cfg.Sampling.Rate = 0
	assert.Contains(t, sampler(cfg).Description(), "AlwaysOffSampler")

	cfg.Sampling.Rate = 0.5
	assert.Contains(t, sampler(cfg).Description(), "TraceIDRatioBased")
}

func TestRecorder_Spans(t *testing.T) {
	rec := NewRecorder()
	for _, tenant := range []string{"t1", "t2"} {
		_, span := rec.Tracer("ingest").Start(context.Background(), "Orchestrator.Ingest")
		span.SetAttributes(attribute.String("tenant_id", tenant), attribute.Int64("bytes", 42))
		span.End()
	}

	assert.Len(t, rec.Spans("Orchestrator.Ingest"), 2)
	span := rec.RequireSpan(t, "Orchestrator.Ingest", "tenant_id", "t2")
	v, ok := SpanAttribute(span, "bytes")
	assert.True(t, ok)
	assert.Equal(t, int64(42), v)
	assert.Nil(t, rec.Span("Orchestrator.Ingest", "tenant_id", "t3"))
	assert.Empty(t, rec.Spans("missing"))
}

func TestRecorder_Counter(t *testing.T) {
	rec := NewRecorder()
	counter, err := rec.Meter("test").Int64Counter("uploads_total")
	require.NoError(t, err)

	counter.Add(context.Background(), 2)
	counter.Add(context.Background(), 3, metric.WithAttributes(attribute.String("kind", "video")))

	assert.Equal(t, int64(5), rec.Counter(t, "uploads_total"))
}

func TestGlobalRecorder_Shared(t *testing.T) {
	assert.Same(t, GlobalRecorder(), GlobalRecorder())
}

func TestShutdown_Idempotent(t *testing.T) {
	rec := NewRecorder()
	assert.True(t, rec.Enabled())
	require.NoError(t, rec.Shutdown(context.Background()))
	assert.False(t, rec.Enabled())
	assert.NoError(t, rec.Shutdown(context.Background()))
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry
	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.Enabled())
	assert.Nil(t, tel.Degraded())
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}
