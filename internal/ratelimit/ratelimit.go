// Package ratelimit gates expensive operations per caller and tenant before
// any downstream work starts.
//
// Each Policy counts in its own fixed window keyed by operation, caller IP and
// tenant slug, so heavy search traffic never consumes the upload budget. A
// window is replaced, never merged, once its reset time passes.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Response headers set on every protected response.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

const unknown = "unknown"

// ErrInvalidPolicy indicates a policy without a name, limit or window.
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Rejections counts requests refused by admission control.
var Rejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "mediasearch",
		Subsystem: "ratelimit",
		Name:      "rejections_total",
		Help:      "Total number of requests rejected by rate limiting",
	},
	[]string{"operation"},
)

// Policy is one operation's budget.
type Policy struct {
	Name   string
	Limit  int
	Window time.Duration
}

// Validate checks the policy.
func (p Policy) Validate() error {
	if p.Name == "" || p.Limit <= 0 || p.Window <= 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidPolicy, p)
	}
	return nil
}

// Default policies.
var (
	SearchPolicy    = Policy{Name: "image_search", Limit: 60, Window: time.Minute}
	UploadPolicy    = Policy{Name: "media_upload", Limit: 10, Window: time.Minute}
	ReprocessPolicy = Policy{Name: "media_reprocess", Limit: 5, Window: time.Minute}
)

// Policies groups the protected operations.
type Policies struct {
	Search    Policy
	Upload    Policy
	Reprocess Policy
}

// PoliciesFromSettings builds policies from configuration, keeping the
// defaults for unset values.
func PoliciesFromSettings(s config.RateLimitConfig) Policies {
	pick := func(p Policy, limit int, window config.Duration) Policy {
		if limit > 0 {
			p.Limit = limit
		}
		if window > 0 {
			p.Window = window.Duration()
		}
		return p
	}
	return Policies{
		Search:    pick(SearchPolicy, s.SearchLimit, s.SearchWindow),
		Upload:    pick(UploadPolicy, s.UploadLimit, s.UploadWindow),
		Reprocess: pick(ReprocessPolicy, s.ReprocessLimit, s.ReprocessWindow),
	}
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set when the request was rejected.
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least one.
func (d Decision) RetryAfterSeconds() int {
	s := int(math.Ceil(d.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// SetHeaders writes the quota headers, and Retry-After on rejection.
// X-RateLimit-Reset is the window end in epoch milliseconds.
func (d Decision) SetHeaders(h http.Header) {
	h.Set(HeaderLimit, strconv.Itoa(d.Limit))
	h.Set(HeaderRemaining, strconv.Itoa(d.Remaining))
	h.Set(HeaderReset, strconv.FormatInt(d.ResetAt.UnixMilli(), 10))
	if !d.Allowed {
		h.Set(HeaderRetryAfter, strconv.Itoa(d.RetryAfterSeconds()))
	}
}

// Rejection is the 429 response body.
type Rejection struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Rejection returns the body for a refused request.
func (d Decision) Rejection() Rejection {
	secs := d.RetryAfterSeconds()
	return Rejection{
		Error:      "Rate limit exceeded",
		Message:    fmt.Sprintf("Too many requests. Try again in %d seconds.", secs),
		RetryAfter: secs,
	}
}

// Store counts hits per key within fixed windows.
type Store interface {
	// Increment adds one hit to key's current window, opening a new window
	// of the given length when none is active, and returns the hit count
	// and the window end.
	Increment(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
}

// Limiter applies policies against a Store.
type Limiter struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Limiter.
func New(store Store, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{store: store, logger: logger, now: time.Now}
}

// Key builds the counter key for an operation, caller and tenant.
func Key(operation, ip, tenantSlug string) string {
	if ip == "" {
		ip = unknown
	}
	if tenantSlug == "" {
		tenantSlug = unknown
	}
	return operation + ":" + ip + ":" + tenantSlug
}

// Allow records a hit for (policy, ip, tenantSlug) and reports whether it is
// within budget.
func (l *Limiter) Allow(ctx context.Context, p Policy, ip, tenantSlug string) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}
	key := Key(p.Name, ip, tenantSlug)
	count, resetAt, err := l.store.Increment(ctx, key, p.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("incrementing %s: %w", p.Name, err)
	}

	d := Decision{
		Allowed:   count <= p.Limit,
		Limit:     p.Limit,
		Remaining: max(0, p.Limit-count),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = min(max(resetAt.Sub(l.now()), 0), p.Window)
		Rejections.WithLabelValues(p.Name).Inc()
		l.logger.Warn("rate limit exceeded",
			zap.String("operation", p.Name),
			zap.String("ip", ip),
			zap.String("tenant_slug", tenantSlug),
			zap.Int("limit", p.Limit),
			zap.Duration("retry_after", d.RetryAfter))
	}
	return d, nil
}
