package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultDimension is the vector length agreed with the embedding service.
const DefaultDimension = 512

// DefaultTimeout bounds every call to the service.
const DefaultTimeout = 5 * time.Second

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyInput indicates an empty image payload.
	ErrEmptyInput = errors.New("empty image payload")

	// ErrServiceUnavailable indicates a network failure or timeout.
	ErrServiceUnavailable = errors.New("embedding service unavailable")

	// ErrBadStatus indicates a non-2xx response.
	ErrBadStatus = errors.New("embedding service returned an error status")

	// ErrMalformedResponse indicates an undecodable body or a missing or
	// non-array embedding.
	ErrMalformedResponse = errors.New("malformed embedding response")

	// ErrInvalidDimension indicates a vector of the wrong length.
	ErrInvalidDimension = errors.New("invalid embedding dimension")
)

// maxErrorBody caps how much of an error response is kept for the asset's
// error field.
const maxErrorBody = 512

// maxEmbedBody caps a successful response. A 512-float vector is about 10KB.
const maxEmbedBody = 1 << 20

// Config holds configuration for the embedding client.
type Config struct {
	// BaseURL is the service root, e.g. http://localhost:8001.
	BaseURL string

	// Timeout bounds each call. Defaults to 5s.
	Timeout time.Duration

	// Dimension is the required vector length. Defaults to 512.
	Dimension int

	// RequestsPerSecond throttles outbound calls. Zero disables throttling.
	RequestsPerSecond float64
	Burst             int
}

// ConfigFromSettings maps loaded configuration onto a client Config.
func ConfigFromSettings(s config.EmbeddingsConfig) Config {
	return Config{
		BaseURL:           s.BaseURL,
		Timeout:           s.Timeout.Duration(),
		Dimension:         s.Dimension,
		RequestsPerSecond: s.RequestsPerSecond,
		Burst:             s.Burst,
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Timeout < 0 || c.Dimension < 0 || c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Dimension == 0 {
		c.Dimension = DefaultDimension
	}
	if c.RequestsPerSecond > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
}

// Result is a successful embedding.
type Result struct {
	Vector []float32
	Model  string
	Device string
}

// Health is the service's /health answer.
type Health struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
	Device      string `json:"device"`
}

// Client calls the embedding service.
type Client struct {
	config  Config
	client  *http.Client
	limiter *rate.Limiter
	metrics *Metrics
	logger  *zap.Logger
}

// NewClient creates a client with the given configuration.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		config:  cfg,
		client:  &http.Client{},
		metrics: NewMetrics(logger),
		logger:  logger,
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}
	return c, nil
}

// Dimension returns the vector length the client enforces.
func (c *Client) Dimension() int {
	return c.config.Dimension
}

type embedResponse struct {
	Embedding json.RawMessage `json:"embedding"`
	Model     string          `json:"model"`
	Device    string          `json:"device"`
}

// EmbedImage uploads data as the multipart field "file" and validates the
// returned vector.
func (c *Client) EmbedImage(ctx context.Context, filename string, data []byte) (res *Result, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordCall(ctx, "embed_image", time.Since(start), len(data), err)
	}()

	if len(data) == 0 {
		return nil, ErrEmptyInput
	}

	body, contentType, err := multipartBody(filename, data)
	if err != nil {
		return nil, fmt.Errorf("building request body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/embed-image", body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrBadStatus, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxEmbedBody+1))
	if err != nil {
		// A body cut short by the deadline is an outage, not a contract break.
		return nil, fmt.Errorf("%w: reading body: %v", ErrServiceUnavailable, err)
	}
	if len(raw) > maxEmbedBody {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ErrMalformedResponse, maxEmbedBody)
	}
	return c.decode(raw)
}

func (c *Client) decode(raw []byte) (*Result, error) {
	var parsed embedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	trimmed := bytes.TrimSpace(parsed.Embedding)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("%w: missing embedding", ErrMalformedResponse)
	}
	if trimmed[0] != '[' {
		return nil, fmt.Errorf("%w: embedding is not an array", ErrMalformedResponse)
	}

	var vec []float32
	if err := json.Unmarshal(trimmed, &vec); err != nil {
		return nil, fmt.Errorf("%w: embedding is not numeric: %v", ErrMalformedResponse, err)
	}
	if len(vec) != c.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, c.config.Dimension, len(vec))
	}
	return &Result{Vector: vec, Model: parsed.Model, Device: parsed.Device}, nil
}

// Health probes GET /health within the client timeout.
func (c *Client) Health(ctx context.Context) (h *Health, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordCall(ctx, "health", time.Since(start), 0, err)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrBadStatus, resp.StatusCode)
	}
	var out Health
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return &out, nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: throttled: %v", ErrServiceUnavailable, err)
	}
	return nil
}

func multipartBody(filename string, data []byte) (io.Reader, string, error) {
	if filename == "" {
		filename = "image.jpg"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}
