// Package http serves the media upload and image search API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/fyrsmithlabs/mediasearch/internal/ingest"
	"github.com/fyrsmithlabs/mediasearch/internal/logging"
	"github.com/fyrsmithlabs/mediasearch/internal/ratelimit"
	"github.com/fyrsmithlabs/mediasearch/internal/search"
	"github.com/fyrsmithlabs/mediasearch/internal/tenant"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MediaService is the ingestion side of the API.
type MediaService interface {
	Ingest(ctx context.Context, up ingest.Upload) (*ingest.Result, error)
	Reprocess(ctx context.Context, scope ingest.Scope, id string) (*asset.MediaAsset, error)
	Link(ctx context.Context, scope ingest.Scope, id, sku string) (*asset.MediaAsset, error)
	Asset(ctx context.Context, scope ingest.Scope, id string) (*ingest.AssetView, error)
	ProductMedia(ctx context.Context, tenantID, productID string) ([]catalog.Media, error)
	DeleteProduct(ctx context.Context, tenantID, productID string) (int, error)
}

// SearchService is the query side of the API.
type SearchService interface {
	SearchByImage(ctx context.Context, tenantID, filename string, data []byte) (*search.Response, error)
	Health(ctx context.Context) *search.Health
}

// Deps are the services behind the routes.
type Deps struct {
	Media    MediaService
	Search   SearchService
	Resolver *tenant.Resolver
	// Limiter is optional; without it no route is rate limited.
	Limiter  *ratelimit.Limiter
	Policies ratelimit.Policies
	// Gatherer backs /metrics. Defaults to the Prometheus default registry.
	Gatherer prometheus.Gatherer
	// Checks are pinged by /health, keyed by dependency name.
	Checks map[string]Checker
}

// Checker reports whether a dependency is reachable.
type Checker interface {
	Ping(ctx context.Context) error
}

// Server provides the HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	logger  *logging.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// UploadMaxBytes caps media uploads; larger requests are told to use a
	// presigned upload.
	UploadMaxBytes int64
	// SearchMaxBytes caps query images.
	SearchMaxBytes int64
	// SearchTimeout bounds the embedding call and vector search of one query.
	SearchTimeout time.Duration
	// TrustedProxies are the CIDRs allowed to set X-Forwarded-For. Without
	// them the client IP is the TCP peer address.
	TrustedProxies []string
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.UploadMaxBytes <= 0 {
		c.UploadMaxBytes = 50 << 20
	}
	if c.SearchMaxBytes <= 0 {
		c.SearchMaxBytes = search.DefaultMaxQueryBytes
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = 30 * time.Second
	}
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, cfg *Config) (*Server, error) {
	if deps.Media == nil || deps.Search == nil {
		return nil, fmt.Errorf("media and search services are required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("tenant resolver is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.applyDefaults()
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	extractor, err := ipExtractor(cfg.TrustedProxies)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = extractor

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger.Underlying()),
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			ctx := logging.WithRequestID(c.Request().Context(), id)
			c.SetRequest(c.Request().WithContext(ctx))
		},
	}))
	e.Use(s.requestLogger)
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// ipExtractor resolves the client IP used for rate limiting and logs.
// Forwarded headers are honoured only from the listed proxy ranges.
func ipExtractor(trusted []string) (echo.IPExtractor, error) {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect(), nil
	}
	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trusted {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", cidr, err)
		}
		opts = append(opts, echo.TrustIPRange(ipNet))
	}
	return echo.ExtractIPFromXFFHeader(opts...), nil
}

// registerRoutes sets up the HTTP endpoints. Rate limiting runs before
// authentication so rejected callers cost no token verification.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/search/health", s.handleSearchHealth)
	v1.POST("/search/by-image", s.handleSearchByImage,
		s.rateLimit(s.deps.Policies.Search), s.authenticate)

	v1.POST("/media/upload", s.handleUpload,
		s.rateLimit(s.deps.Policies.Upload), s.authenticate)
	v1.POST("/media/:id/reprocess", s.handleReprocess,
		s.rateLimit(s.deps.Policies.Reprocess), s.authenticate)
	v1.POST("/media/:id/link", s.handleLink, s.authenticate)
	v1.GET("/media/:id", s.handleGetMedia, s.authenticate)

	v1.GET("/products/:id/media", s.handleProductMedia, s.authenticate)
	v1.DELETE("/products/:id/media", s.handleDeleteProductMedia,
		s.authenticate, s.requireRole(tenant.RoleManager))
}

// Mount serves h for every path under prefix, e.g. signed object URLs of the
// in-memory object store.
func (s *Server) Mount(prefix string, h http.Handler) {
	s.echo.Any(prefix+"/*", echo.WrapHandler(h))
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
