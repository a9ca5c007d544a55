// Mediasearchd serves product media uploads and image similarity search.
//
// The daemon validates and stores uploads, embeds them in the background and
// answers image queries scoped to the caller's tenant.
//
// Configuration is read from a YAML file and MEDIASEARCH_* environment
// variables. See internal/config for the keys.
//
// Usage:
//
//	# Start with in-memory backends
//	MEDIASEARCH_AUTH_JWT_SECRET=... mediasearchd
//
//	# Use an explicit config file
//	mediasearchd -config /etc/mediasearch/config.yaml
package main

import (
	"context"
	"crypto/rand"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/fyrsmithlabs/mediasearch/internal/config"
	"github.com/fyrsmithlabs/mediasearch/internal/database"
	"github.com/fyrsmithlabs/mediasearch/internal/dispatch"
	"github.com/fyrsmithlabs/mediasearch/internal/embeddings"
	httpserver "github.com/fyrsmithlabs/mediasearch/internal/http"
	"github.com/fyrsmithlabs/mediasearch/internal/ingest"
	"github.com/fyrsmithlabs/mediasearch/internal/logging"
	"github.com/fyrsmithlabs/mediasearch/internal/objectstore"
	"github.com/fyrsmithlabs/mediasearch/internal/ratelimit"
	"github.com/fyrsmithlabs/mediasearch/internal/search"
	"github.com/fyrsmithlabs/mediasearch/internal/telemetry"
	"github.com/fyrsmithlabs/mediasearch/internal/tenant"
	"github.com/fyrsmithlabs/mediasearch/internal/validation"
	"github.com/fyrsmithlabs/mediasearch/internal/vectorstore"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// objectsPrefix serves the in-memory object store's signed URLs.
const objectsPrefix = "/objects"

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  mediasearchd [-config path]   Start the daemon\n")
			fmt.Fprintf(os.Stderr, "  mediasearchd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("mediasearchd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the daemon and blocks until ctx is cancelled.
//
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Connects the storage, index, dispatch and rate limit backends
//  4. Wires ingestion and search behind the HTTP server
//  5. Shuts down gracefully on context cancellation
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromSettings(cfg.Observability, cfg.Server.Environment, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	for _, reason := range tel.Degraded() {
		logger.Warn(ctx, "telemetry export degraded", zap.String("reason", reason))
	}

	logger.Info(ctx, "starting mediasearchd",
		zap.String("version", version),
		zap.String("environment", cfg.Server.Environment),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout.Duration()))

	deps, err := initDependencies(ctx, cfg, logger.Underlying())
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "dependencies initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("database", cfg.Database.Backend),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.String("dispatch", cfg.Dispatch.Backend),
		zap.String("ratelimit", cfg.RateLimit.Backend))

	srv, err := newServer(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	pool       *pgxpool.Pool
	natsConn   *nats.Conn
	redis      *redis.Client
	objects    objectstore.Store
	memObjects *objectstore.MemoryStore
	assets     asset.Store
	catalog    catalog.Catalog
	index      vectorstore.Index
	embedder   *embeddings.Client
	queue      dispatch.Queue
	limiter    *ratelimit.Limiter
	resolver   *tenant.Resolver
	logger     *zap.Logger
}

// Close releases all infrastructure resources. The queue drains before the
// stores its jobs write to are closed.
func (d *dependencies) Close() {
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			d.logger.Warn("dispatch queue close failed", zap.Error(err))
		}
	}
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.index != nil {
		if err := d.index.Close(); err != nil {
			d.logger.Warn("vector index close failed", zap.Error(err))
		}
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// initDependencies connects every backend selected by cfg. On failure the
// backends opened so far are released.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *dependencies, err error) {
	deps := &dependencies{logger: logger}
	defer func() {
		if err != nil {
			deps.Close()
		}
	}()

	if cfg.Database.Backend == "postgres" {
		if deps.pool, err = database.Connect(ctx, cfg.Database, logger); err != nil {
			return nil, err
		}
		if cfg.Database.Migrate {
			if err = database.Migrate(cfg.Database.DSN.Value(), logger); err != nil {
				return nil, err
			}
		}
		deps.assets = asset.NewPostgresStore(deps.pool)
		deps.catalog = catalog.NewPostgresCatalog(deps.pool)
	} else {
		deps.assets = asset.NewMemoryStore()
		deps.catalog = memoryCatalog(cfg, logger)
	}

	if deps.objects, err = initObjectStore(ctx, cfg, deps, logger); err != nil {
		return nil, err
	}

	if deps.index, err = vectorstore.New(ctx, cfg.VectorStore, cfg.Embeddings.Dimension, deps.pool, logger); err != nil {
		return nil, fmt.Errorf("failed to create vector index: %w", err)
	}

	embedCfg := embeddings.ConfigFromSettings(cfg.Embeddings)
	if deps.embedder, err = embeddings.NewClient(embedCfg, logger); err != nil {
		return nil, fmt.Errorf("failed to create embedding client: %w", err)
	}
	logger.Info("embedding client initialized", zap.String("base_url", cfg.Embeddings.BaseURL))

	processor := dispatch.NewProcessor(deps.assets, deps.objects, deps.embedder, deps.index, logger)
	if deps.queue, err = initQueue(cfg, deps, processor, logger); err != nil {
		return nil, err
	}

	var store ratelimit.Store
	if cfg.RateLimit.Backend == "redis" {
		if deps.redis, err = ratelimit.DialRedis(ctx, cfg.RateLimit); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		store = ratelimit.NewRedisStore(deps.redis, "")
	} else {
		store = ratelimit.NewMemoryStore()
	}
	deps.limiter = ratelimit.New(store, logger)

	deps.resolver, err = tenant.NewResolver(tenant.Config{
		Secret: []byte(cfg.Auth.JWTSecret.Value()),
		Issuer: cfg.Auth.Issuer,
	}, deps.catalog)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant resolver: %w", err)
	}
	return deps, nil
}

func initObjectStore(ctx context.Context, cfg *config.Config, deps *dependencies, logger *zap.Logger) (objectstore.Store, error) {
	if cfg.Storage.Backend == "minio" {
		store, err := objectstore.NewMinioStore(ctx, objectstore.MinioConfig{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey.Value(),
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			UseSSL:    cfg.Storage.UseSSL,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to object storage: %w", err)
		}
		return store, nil
	}

	key := []byte(cfg.Storage.SigningKey.Value())
	if len(key) == 0 {
		// Signed URLs do not survive a restart of the in-memory store anyway.
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate url signing key: %w", err)
		}
	}
	baseURL := cfg.Storage.PublicURL
	if baseURL == "" {
		host := cfg.Server.Host
		if host == "" || host == "0.0.0.0" {
			host = "localhost"
		}
		baseURL = fmt.Sprintf("http://%s%s", net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)), objectsPrefix)
	}
	deps.memObjects = objectstore.NewMemoryStore(baseURL, key)
	logger.Warn("using in-memory object storage; uploads are lost on restart")
	return deps.memObjects, nil
}

func initQueue(cfg *config.Config, deps *dependencies, handler dispatch.Handler, logger *zap.Logger) (dispatch.Queue, error) {
	if cfg.Dispatch.Backend != "nats" {
		return dispatch.NewWorkerPool(handler, dispatch.PoolOptions{
			Workers:    cfg.Dispatch.Workers,
			QueueSize:  cfg.Dispatch.QueueSize,
			JobTimeout: cfg.Dispatch.JobTimeout.Duration(),
		}, logger), nil
	}

	nc, err := nats.Connect(cfg.Dispatch.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(1*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.Dispatch.NATSURL, err)
	}
	deps.natsConn = nc
	logger.Info("connected to NATS", zap.String("url", cfg.Dispatch.NATSURL))

	q, err := dispatch.NewNATSQueue(nc, handler, dispatch.NATSOptions{
		Stream:     cfg.Dispatch.Stream,
		Subject:    cfg.Dispatch.Subject,
		Workers:    cfg.Dispatch.Workers,
		JobTimeout: cfg.Dispatch.JobTimeout.Duration(),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create dispatch queue: %w", err)
	}
	return q, nil
}

// memoryCatalog seeds a demo tenant in development so the API is usable
// without a database.
func memoryCatalog(cfg *config.Config, logger *zap.Logger) *catalog.MemoryCatalog {
	cat := catalog.NewMemoryCatalog()
	if cfg.Server.Environment != config.EnvDevelopment {
		return cat
	}
	cat.AddTenant(catalog.Tenant{ID: "demo", Slug: "demo", Name: "Demo", Active: true})
	cat.AddProduct(catalog.Product{ID: "demo-product", TenantID: "demo", SKU: "DEMO-1", Name: "Demo Product"})
	logger.Info("seeded in-memory catalog", zap.String("tenant_slug", "demo"), zap.String("sku", "DEMO-1"))
	return cat
}

// newServer wires ingestion and search behind the HTTP API.
func newServer(cfg *config.Config, deps *dependencies, logger *logging.Logger) (*httpserver.Server, error) {
	urlTTL := cfg.Storage.SignedURLTTL.Duration()

	orchestrator := ingest.New(ingest.Config{
		MaxUploadBytes: cfg.Limits.UploadMaxBytes.Int64(),
		MaxDimension:   cfg.Limits.MaxDimension,
		Sanitize: validation.Options{
			MaxSide: cfg.Limits.SanitizeMaxSide,
			Quality: cfg.Limits.SanitizeQuality,
		},
		URLTTL: urlTTL,
	}, deps.objects, deps.assets, deps.catalog, deps.queue, deps.index, deps.logger)

	engine := search.NewEngine(search.Config{
		TopK:          cfg.Search.TopK,
		MaxQueryBytes: cfg.Limits.SearchMaxBytes.Int64(),
		URLTTL:        urlTTL,
		URLCacheSize:  cfg.Search.URLCacheSize,
		MaxDimension:  cfg.Limits.MaxDimension,
		Debug:         cfg.Server.Environment == config.EnvDevelopment,
	}, deps.embedder, deps.index, deps.assets, deps.catalog, deps.objects, deps.logger)

	checks := map[string]httpserver.Checker{}
	if deps.pool != nil {
		checks["database"] = database.NewReadinessChecker(deps.pool)
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Media:    orchestrator,
		Search:   engine,
		Resolver: deps.resolver,
		Limiter:  deps.limiter,
		Policies: ratelimit.PoliciesFromSettings(cfg.RateLimit),
		Checks:   checks,
	}, logger, &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		UploadMaxBytes: cfg.Limits.UploadMaxBytes.Int64(),
		SearchMaxBytes: cfg.Limits.SearchMaxBytes.Int64(),
		SearchTimeout:  cfg.Embeddings.Timeout.Duration() + 5*time.Second,
		TrustedProxies: cfg.Server.TrustedProxies,
	})
	if err != nil {
		return nil, err
	}
	if deps.memObjects != nil {
		srv.Mount(objectsPrefix, deps.memObjects.Handler(objectsPrefix))
	}
	return srv, nil
}
