package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fyrsmithlabs/mediasearch/internal/telemetry"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func TestMetricsMiddleware_RouteTemplates(t *testing.T) {
	rec := telemetry.NewRecorder()
	m := newHTTPMetrics(rec.Meter(httpInstrumentationName), zap.NewNop())

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/health", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/api/v1/media/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	})

	for _, path := range []string{"/health", "/api/v1/media/6f1c2a9e-0d4b-4c55-9a57-3b1f0e2d7c11", "/nope"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, int64(3), rec.Counter(t, "mediasearch.http.requests_total"))
}

func TestMetricsMiddleware_Attributes(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newHTTPMetrics(mp.Meter(httpInstrumentationName), nil)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/media/:id", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "media not found")
	})
	resp := httptest.NewRecorder()
	e.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/media/6f1c2a9e", nil))
	require.Equal(t, http.StatusNotFound, resp.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	seen := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			seen[mt.Name] = true
			sum, ok := mt.Data.(metricdata.Sum[int64])
			if !ok || mt.Name != "mediasearch.http.requests_total" {
				continue
			}
			require.Len(t, sum.DataPoints, 1)
			attrs := sum.DataPoints[0].Attributes
			endpoint, _ := attrs.Value("endpoint")
			status, _ := attrs.Value("status")
			assert.Equal(t, "/api/v1/media/:id", endpoint.AsString())
			assert.False(t, strings.Contains(endpoint.AsString(), "6f1c2a9e"))
			assert.Equal(t, "404", status.AsString())
		}
	}
	for _, name := range []string{
		"mediasearch.http.requests_total",
		"mediasearch.http.request_duration_seconds",
		"mediasearch.http.response_size_bytes",
		"mediasearch.http.active_requests",
	} {
		assert.True(t, seen[name], name)
	}
}

func TestRouteLabel(t *testing.T) {
	assert.Equal(t, "unmatched", routeLabel(""))
	assert.Equal(t, "unmatched", routeLabel("/*"))
	assert.Equal(t, "/api/v1/media/:id/reprocess", routeLabel("/api/v1/media/:id/reprocess"))
}
