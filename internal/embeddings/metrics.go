package embeddings

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const embeddingsInstrumentationName = "github.com/fyrsmithlabs/mediasearch/internal/embeddings"

// Metrics holds embedding client instruments.
type Metrics struct {
	meter      metric.Meter
	logger     *zap.Logger
	duration   metric.Float64Histogram
	inputBytes metric.Int64Histogram
	errors     metric.Int64Counter
}

// NewMetrics creates instruments on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(embeddingsInstrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"mediasearch.embedding.request_duration_seconds",
		metric.WithDescription("Duration of embedding service calls in seconds, labeled by operation and outcome"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.inputBytes, err = m.meter.Int64Histogram(
		"mediasearch.embedding.input_bytes",
		metric.WithDescription("Size of images sent to the embedding service"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(16<<10, 64<<10, 256<<10, 1<<20, 4<<20, 10<<20),
	)
	if err != nil {
		m.logger.Warn("failed to create input size histogram", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"mediasearch.embedding.errors_total",
		metric.WithDescription("Embedding service failures by operation and reason (unavailable, bad_status, malformed, dimension)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordCall records one embedding service call.
func (m *Metrics) RecordCall(ctx context.Context, operation string, duration time.Duration, size int, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", operation),
		attribute.String("outcome", outcome(err)),
	}

	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	}
	if size > 0 && m.inputBytes != nil {
		m.inputBytes.Record(ctx, int64(size), metric.WithAttributes(attrs[0]))
	}
	if err != nil && m.errors != nil {
		m.errors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrServiceUnavailable):
		return "unavailable"
	case errors.Is(err, ErrBadStatus):
		return "bad_status"
	case errors.Is(err, ErrInvalidDimension):
		return "dimension"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	default:
		return "error"
	}
}
