package http

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/mediasearch/internal/http"

// Upper bounds for payload histograms. Query images and uploads are capped
// well below the last bucket by the body limits.
var payloadBuckets = []float64{1 << 10, 10 << 10, 100 << 10, 1 << 20, 5 << 20, 10 << 20, 25 << 20, 50 << 20}

// HTTPMetrics records per-route request counts, latency and payload sizes.
// A nil instrument is skipped, so a meter that refuses one metric does not
// disable the others.
type HTTPMetrics struct {
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inBytes  metric.Int64Histogram
	outBytes metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

// NewHTTPMetrics registers instruments on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	var m HTTPMetrics
	var errs []error
	track := func(err error) { errs = append(errs, err) }

	var err error
	m.requests, err = meter.Int64Counter("mediasearch.http.requests_total",
		metric.WithDescription("HTTP requests by method, route template and status."),
		metric.WithUnit("{request}"))
	track(err)
	// Image search is dominated by the embedding call, hence the long tail.
	m.duration, err = meter.Float64Histogram("mediasearch.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route template and status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	track(err)
	m.inBytes, err = meter.Int64Histogram("mediasearch.http.request_size_bytes",
		metric.WithDescription("Declared request body size. Uploads and query images dominate."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(payloadBuckets...))
	track(err)
	m.outBytes, err = meter.Int64Histogram("mediasearch.http.response_size_bytes",
		metric.WithDescription("Response body size by method, route template and status."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1000, 10000, 100000, 1000000))
	track(err)
	m.inFlight, err = meter.Int64UpDownCounter("mediasearch.http.active_requests",
		metric.WithDescription("Requests currently being served."),
		metric.WithUnit("{request}"))
	track(err)

	if err := errors.Join(errs...); err != nil && logger != nil {
		logger.Warn("some http instruments are unavailable", zap.Error(err))
	}
	return &m
}

// MetricsMiddleware records each request after the handler returns. Handler
// errors are rendered here so the recorded status is the one the client saw.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := req.Context()

			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}
			if err := next(c); err != nil {
				c.Error(err)
			}

			res := c.Response()
			set := metric.WithAttributes(
				attribute.String("method", req.Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.String("status", strconv.Itoa(res.Status)),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, set)
			}
			if m.duration != nil {
				m.duration.Record(ctx, time.Since(start).Seconds(), set)
			}
			if m.inBytes != nil && req.ContentLength > 0 {
				m.inBytes.Record(ctx, req.ContentLength, set)
			}
			if m.outBytes != nil {
				m.outBytes.Record(ctx, res.Size, set)
			}
			return nil
		}
	}
}

// routeLabel uses the matched route template (/api/v1/media/:id) so asset
// and product IDs never become label values.
func routeLabel(path string) string {
	if path == "" || path == "/*" {
		return "unmatched"
	}
	return path
}
