// Package config provides configuration loading for mediasearch.
//
// Configuration comes from an optional YAML file overlaid with MEDIASEARCH_*
// environment variables. Defaults cover a single-process development setup:
// in-memory object storage, asset store, rate limiter and chromem index.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Environments recognised by Server.Environment.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config holds the complete mediasearch configuration.
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Auth          AuthConfig          `koanf:"auth"`
	Limits        LimitsConfig        `koanf:"limits"`
	RateLimit     RateLimitConfig     `koanf:"ratelimit"`
	Storage       StorageConfig       `koanf:"storage"`
	Database      DatabaseConfig      `koanf:"database"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	Dispatch      DispatchConfig      `koanf:"dispatch"`
	Search        SearchConfig        `koanf:"search"`
	Observability ObservabilityConfig `koanf:"observability"`
	Logging       LoggingConfig       `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"http_host"`
	Port            int      `koanf:"http_port"`
	Environment     string   `koanf:"environment"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// TrustedProxies lists the CIDRs of reverse proxies whose
	// X-Forwarded-For header is believed. Empty means the client address
	// is always the TCP peer.
	TrustedProxies []string `koanf:"trusted_proxies"`
}

// IsProduction reports whether debug output must be suppressed.
func (s ServerConfig) IsProduction() bool {
	return s.Environment == EnvProduction
}

// AuthConfig holds bearer token verification settings.
type AuthConfig struct {
	JWTSecret Secret `koanf:"jwt_secret"`
	Issuer    string `koanf:"issuer"`
}

// LimitsConfig bounds the size of untrusted input.
type LimitsConfig struct {
	UploadMaxBytes  ByteSize `koanf:"upload_max_bytes"`
	SearchMaxBytes  ByteSize `koanf:"search_max_bytes"`
	MaxDimension    int      `koanf:"max_dimension"`
	SanitizeMaxSide int      `koanf:"sanitize_max_side"`
	SanitizeQuality int      `koanf:"sanitize_quality"`
}

// RateLimitConfig holds admission control policies.
type RateLimitConfig struct {
	Backend         string   `koanf:"backend"`
	RedisAddr       string   `koanf:"redis_addr"`
	RedisPassword   Secret   `koanf:"redis_password"`
	RedisDB         int      `koanf:"redis_db"`
	SearchLimit     int      `koanf:"search_limit"`
	SearchWindow    Duration `koanf:"search_window"`
	UploadLimit     int      `koanf:"upload_limit"`
	UploadWindow    Duration `koanf:"upload_window"`
	ReprocessLimit  int      `koanf:"reprocess_limit"`
	ReprocessWindow Duration `koanf:"reprocess_window"`
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	Backend      string   `koanf:"backend"`
	Endpoint     string   `koanf:"endpoint"`
	AccessKey    string   `koanf:"access_key"`
	SecretKey    Secret   `koanf:"secret_key"`
	Bucket       string   `koanf:"bucket"`
	Region       string   `koanf:"region"`
	UseSSL       bool     `koanf:"use_ssl"`
	PublicURL    string   `koanf:"public_url"`
	SigningKey   Secret   `koanf:"signing_key"`
	SignedURLTTL Duration `koanf:"signed_url_ttl"`
}

// DatabaseConfig holds the asset store and catalog database settings.
type DatabaseConfig struct {
	Backend  string `koanf:"backend"`
	DSN      Secret `koanf:"dsn"`
	MaxConns int32  `koanf:"max_conns"`
	Migrate  bool   `koanf:"migrate"`
}

// VectorStoreConfig selects and configures the nearest-neighbour backend.
type VectorStoreConfig struct {
	Provider     string `koanf:"provider"`
	Collection   string `koanf:"collection"`
	ChromemPath  string `koanf:"chromem_path"`
	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantUseTLS bool   `koanf:"qdrant_use_tls"`
}

// EmbeddingsConfig holds the external embedding service settings.
type EmbeddingsConfig struct {
	BaseURL           string   `koanf:"base_url"`
	Timeout           Duration `koanf:"timeout"`
	Dimension         int      `koanf:"dimension"`
	RequestsPerSecond float64  `koanf:"requests_per_second"`
	Burst             int      `koanf:"burst"`
}

// DispatchConfig controls asynchronous embedding dispatch.
type DispatchConfig struct {
	Backend    string   `koanf:"backend"`
	Workers    int      `koanf:"workers"`
	QueueSize  int      `koanf:"queue_size"`
	JobTimeout Duration `koanf:"job_timeout"`
	NATSURL    string   `koanf:"nats_url"`
	Stream     string   `koanf:"stream"`
	Subject    string   `koanf:"subject"`
}

// SearchConfig controls similarity search.
type SearchConfig struct {
	TopK         int `koanf:"top_k"`
	URLCacheSize int `koanf:"url_cache_size"`
}

// ObservabilityConfig holds OpenTelemetry configuration.
type ObservabilityConfig struct {
	EnableTelemetry bool    `koanf:"enable_telemetry"`
	ServiceName     string  `koanf:"service_name"`
	OTLPEndpoint    string  `koanf:"otlp_endpoint"`
	OTLPProtocol    string  `koanf:"otlp_protocol"`
	OTLPInsecure    bool    `koanf:"otlp_insecure"`
	SampleRate      float64 `koanf:"sample_rate"`
}

// LoggingConfig holds the subset of logger settings exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for missing configuration fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Environment == "" {
		cfg.Server.Environment = EnvDevelopment
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Limits.UploadMaxBytes == 0 {
		cfg.Limits.UploadMaxBytes = 50 << 20
	}
	if cfg.Limits.SearchMaxBytes == 0 {
		cfg.Limits.SearchMaxBytes = 10 << 20
	}
	if cfg.Limits.MaxDimension == 0 {
		cfg.Limits.MaxDimension = 10000
	}
	if cfg.Limits.SanitizeMaxSide == 0 {
		cfg.Limits.SanitizeMaxSide = 2048
	}
	if cfg.Limits.SanitizeQuality == 0 {
		cfg.Limits.SanitizeQuality = 85
	}

	if cfg.RateLimit.Backend == "" {
		cfg.RateLimit.Backend = "memory"
	}
	if cfg.RateLimit.SearchLimit == 0 {
		cfg.RateLimit.SearchLimit = 60
	}
	if cfg.RateLimit.SearchWindow == 0 {
		cfg.RateLimit.SearchWindow = Duration(time.Minute)
	}
	if cfg.RateLimit.UploadLimit == 0 {
		cfg.RateLimit.UploadLimit = 10
	}
	if cfg.RateLimit.UploadWindow == 0 {
		cfg.RateLimit.UploadWindow = Duration(time.Minute)
	}
	if cfg.RateLimit.ReprocessLimit == 0 {
		cfg.RateLimit.ReprocessLimit = 5
	}
	if cfg.RateLimit.ReprocessWindow == 0 {
		cfg.RateLimit.ReprocessWindow = Duration(time.Minute)
	}

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "memory"
	}
	if cfg.Storage.Bucket == "" {
		cfg.Storage.Bucket = "media"
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Storage.SignedURLTTL == 0 {
		cfg.Storage.SignedURLTTL = Duration(7 * 24 * time.Hour)
	}

	if cfg.Database.Backend == "" {
		cfg.Database.Backend = "memory"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}

	if cfg.VectorStore.Provider == "" {
		cfg.VectorStore.Provider = "chromem"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "media_embeddings"
	}
	if cfg.VectorStore.QdrantHost == "" {
		cfg.VectorStore.QdrantHost = "localhost"
	}
	if cfg.VectorStore.QdrantPort == 0 {
		cfg.VectorStore.QdrantPort = 6334
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8001"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(5 * time.Second)
	}
	if cfg.Embeddings.Dimension == 0 {
		cfg.Embeddings.Dimension = 512
	}
	if cfg.Embeddings.RequestsPerSecond == 0 {
		cfg.Embeddings.RequestsPerSecond = 20
	}
	if cfg.Embeddings.Burst == 0 {
		cfg.Embeddings.Burst = 5
	}

	if cfg.Dispatch.Backend == "" {
		cfg.Dispatch.Backend = "local"
	}
	if cfg.Dispatch.Workers == 0 {
		cfg.Dispatch.Workers = 4
	}
	if cfg.Dispatch.QueueSize == 0 {
		cfg.Dispatch.QueueSize = 256
	}
	if cfg.Dispatch.JobTimeout == 0 {
		cfg.Dispatch.JobTimeout = Duration(30 * time.Second)
	}
	if cfg.Dispatch.Stream == "" {
		cfg.Dispatch.Stream = "MEDIA_EMBED"
	}
	if cfg.Dispatch.Subject == "" {
		cfg.Dispatch.Subject = "media.embed"
	}

	if cfg.Search.TopK == 0 {
		cfg.Search.TopK = 24
	}
	if cfg.Search.URLCacheSize == 0 {
		cfg.Search.URLCacheSize = 1024
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "mediasearch"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}
	if cfg.Observability.SampleRate == 0 {
		cfg.Observability.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}
	if c.Server.Environment != EnvProduction && c.Server.Environment != EnvDevelopment {
		errs = append(errs, fmt.Errorf("server.environment must be %q or %q, got %q",
			EnvProduction, EnvDevelopment, c.Server.Environment))
	}

	for _, cidr := range c.Server.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: invalid CIDR %q", cidr))
		}
	}

	if len(c.Auth.JWTSecret.Value()) < 32 {
		errs = append(errs, errors.New("auth.jwt_secret must be at least 32 bytes"))
	}

	if c.Limits.SearchMaxBytes <= 0 || c.Limits.UploadMaxBytes <= 0 {
		errs = append(errs, errors.New("limits must be positive"))
	}
	if c.Limits.SanitizeQuality < 1 || c.Limits.SanitizeQuality > 100 {
		errs = append(errs, fmt.Errorf("limits.sanitize_quality must be 1-100, got %d", c.Limits.SanitizeQuality))
	}

	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			errs = append(errs, errors.New("ratelimit.redis_addr required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ratelimit backend %q", c.RateLimit.Backend))
	}

	switch c.Storage.Backend {
	case "memory":
	case "minio":
		if c.Storage.Endpoint == "" || c.Storage.AccessKey == "" || !c.Storage.SecretKey.IsSet() {
			errs = append(errs, errors.New("storage.endpoint, access_key and secret_key required for minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Database.Backend {
	case "memory":
	case "postgres":
		if !c.Database.DSN.IsSet() {
			errs = append(errs, errors.New("database.dsn required for postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown database backend %q", c.Database.Backend))
	}

	switch c.VectorStore.Provider {
	case "chromem", "qdrant":
	case "pgvector":
		if c.Database.Backend != "postgres" {
			errs = append(errs, errors.New("pgvector provider requires the postgres database backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown vectorstore provider %q", c.VectorStore.Provider))
	}

	if !strings.HasPrefix(c.Embeddings.BaseURL, "http://") && !strings.HasPrefix(c.Embeddings.BaseURL, "https://") {
		errs = append(errs, fmt.Errorf("embeddings.base_url must be http(s), got %q", c.Embeddings.BaseURL))
	}
	if c.Embeddings.Dimension <= 0 {
		errs = append(errs, errors.New("embeddings.dimension must be positive"))
	}

	switch c.Dispatch.Backend {
	case "local":
	case "nats":
		if c.Dispatch.NATSURL == "" {
			errs = append(errs, errors.New("dispatch.nats_url required for nats backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown dispatch backend %q", c.Dispatch.Backend))
	}
	if c.Dispatch.Workers < 1 {
		errs = append(errs, errors.New("dispatch.workers must be >= 1"))
	}

	if c.Search.TopK < 1 {
		errs = append(errs, errors.New("search.top_k must be >= 1"))
	}

	if c.Observability.EnableTelemetry && c.Observability.ServiceName == "" {
		errs = append(errs, errors.New("service name required when telemetry is enabled"))
	}

	return errors.Join(errs...)
}
