package telemetry

import (
	"context"
	"sync"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// Recorder is a Telemetry that keeps spans and metrics in memory.
type Recorder struct {
	*Telemetry

	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
}

// NewRecorder returns an enabled Recorder that is not installed globally.
func NewRecorder() *Recorder {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewSpanRecorder()
	reader := sdkmetric.NewManualReader()
	return &Recorder{
		Telemetry: &Telemetry{
			config:         cfg,
			tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		},
		spans:  spans,
		reader: reader,
	}
}

var (
	globalOnce     sync.Once
	globalRecorder *Recorder
)

// GlobalRecorder installs one Recorder as the process-wide provider and
// returns it on every call. Package-level tracers bind to the first
// installed provider only, so tests share it and filter spans by attribute.
func GlobalRecorder() *Recorder {
	globalOnce.Do(func() {
		globalRecorder = NewRecorder()
		globalRecorder.install()
	})
	return globalRecorder
}

// Spans returns the ended spans named name.
func (r *Recorder) Spans(name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range r.spans.Ended() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// Span returns the last ended span named name whose attribute key equals
// value, or nil.
func (r *Recorder) Span(name, key string, value any) sdktrace.ReadOnlySpan {
	spans := r.Spans(name)
	for i := len(spans) - 1; i >= 0; i-- {
		if v, ok := SpanAttribute(spans[i], key); ok && v == value {
			return spans[i]
		}
	}
	return nil
}

// RequireSpan fails tb unless Span finds a match.
func (r *Recorder) RequireSpan(tb testing.TB, name, key string, value any) sdktrace.ReadOnlySpan {
	tb.Helper()
	s := r.Span(name, key, value)
	if s == nil {
		tb.Fatalf("no span %q with %s=%v among %d spans of that name", name, key, value, len(r.Spans(name)))
	}
	return s
}

// SpanAttribute returns the Go value of a span attribute.
func SpanAttribute(s sdktrace.ReadOnlySpan, key string) (any, bool) {
	for _, kv := range s.Attributes() {
		if string(kv.Key) != key {
			continue
		}
		switch kv.Value.Type() {
		case attribute.STRING:
			return kv.Value.AsString(), true
		case attribute.INT64:
			return kv.Value.AsInt64(), true
		case attribute.FLOAT64:
			return kv.Value.AsFloat64(), true
		case attribute.BOOL:
			return kv.Value.AsBool(), true
		default:
			return kv.Value.AsInterface(), true
		}
	}
	return nil, false
}

// Counter sums an int64 counter across attribute sets.
func (r *Recorder) Counter(tb testing.TB, name string) int64 {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := r.reader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok && m.Name == name {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}
