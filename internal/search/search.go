// Package search answers "which products look like this picture" within one
// tenant.
//
// Ranking and enrichment are separate steps. SearchByVector only talks to the
// vector index; Enrich re-reads every hit from the asset store and catalog,
// signs a fresh URL and drops any hit it cannot complete instead of failing
// the whole search.
package search

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/fyrsmithlabs/mediasearch/internal/embeddings"
	"github.com/fyrsmithlabs/mediasearch/internal/objectstore"
	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
	"github.com/fyrsmithlabs/mediasearch/internal/validation"
	"github.com/fyrsmithlabs/mediasearch/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("mediasearch.search")

const (
	// DefaultTopK is the number of products returned by an image search.
	DefaultTopK = 24

	// DefaultMaxQueryBytes is the search upload ceiling.
	DefaultMaxQueryBytes = 10 << 20

	// DefaultURLTTL is the lifetime of signed URLs in search results.
	DefaultURLTTL = time.Hour

	// DefaultURLCacheSize bounds the signed URL cache.
	DefaultURLCacheSize = 4096

	// HealthTimeout bounds the embedding service probe.
	HealthTimeout = 5 * time.Second
)

// ErrInvalidTenant indicates a search without a usable tenant.
var ErrInvalidTenant = errors.New("invalid tenant")

// Embedder produces query vectors.
type Embedder interface {
	EmbedImage(ctx context.Context, filename string, data []byte) (*embeddings.Result, error)
	Health(ctx context.Context) (*embeddings.Health, error)
}

// Config tunes the engine.
type Config struct {
	TopK          int
	MaxQueryBytes int64
	URLTTL        time.Duration
	URLCacheSize  int
	MaxDimension  int
	// Debug adds raw scores to image search responses.
	Debug bool
}

func (c *Config) applyDefaults() {
	if c.TopK <= 0 {
		c.TopK = DefaultTopK
	}
	if c.MaxQueryBytes <= 0 {
		c.MaxQueryBytes = DefaultMaxQueryBytes
	}
	if c.URLTTL <= 0 {
		c.URLTTL = DefaultURLTTL
	}
	if c.URLCacheSize <= 0 {
		c.URLCacheSize = DefaultURLCacheSize
	}
}

// Ranked is one index hit before enrichment.
type Ranked struct {
	AssetID      string
	ProductID    string
	Kind         asset.Kind
	StorageKey   string
	ThumbnailKey string
	Score        float32
	CreatedAt    time.Time
}

// Match describes which media of a product matched.
type Match struct {
	AssetID  string     `json:"assetId"`
	Type     asset.Kind `json:"type"`
	ThumbURL string     `json:"thumbUrl,omitempty"`
}

// Result is an enriched hit.
type Result struct {
	ProductID         string  `json:"productId"`
	ProductName       string  `json:"productName"`
	SKU               string  `json:"sku"`
	Score             float32 `json:"score"`
	SimilarityPercent int     `json:"similarityPercent"`
	Match             Match   `json:"match"`
}

// Engine runs tenant-scoped similarity searches.
type Engine struct {
	embedder  Embedder
	index     vectorstore.Index
	assets    asset.Store
	catalog   catalog.Catalog
	urls      *urlCache
	validator *validation.Validator
	config    Config
	logger    *zap.Logger
}

// NewEngine wires an Engine.
func NewEngine(cfg Config, embedder Embedder, index vectorstore.Index, assets asset.Store,
	cat catalog.Catalog, objects objectstore.Store, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Engine{
		embedder:  embedder,
		index:     index,
		assets:    assets,
		catalog:   cat,
		urls:      newURLCache(objects, cfg.URLCacheSize, cfg.URLTTL),
		validator: validation.New(cfg.MaxDimension),
		config:    cfg,
		logger:    logger,
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// SearchByVector returns up to topK hits owned by tenantID, best first.
// Ties keep the oldest asset first.
func (e *Engine) SearchByVector(ctx context.Context, vector []float32, tenantID string, topK int) ([]Ranked, error) {
	ctx, span := tracer.Start(ctx, "search.SearchByVector")
	defer span.End()
	span.SetAttributes(attribute.String("tenant_id", tenantID), attribute.Int("top_k", topK))

	if err := sanitize.ValidateTenantID(tenantID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTenant, err)
	}
	hits, err := e.index.Search(vectorstore.WithTenantID(ctx, tenantID), vector, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	ranked := make([]Ranked, 0, len(hits))
	for _, h := range hits {
		if h.TenantID != tenantID {
			e.logger.Error("vector index returned a foreign hit",
				zap.String("tenant_id", tenantID),
				zap.String("hit_tenant_id", h.TenantID),
				zap.String("asset_id", h.AssetID),
				zap.String("provider", e.index.Provider()))
			continue
		}
		ranked = append(ranked, Ranked{
			AssetID:      h.AssetID,
			ProductID:    h.ProductID,
			Kind:         asset.Kind(h.Kind),
			StorageKey:   h.StorageKey,
			ThumbnailKey: h.ThumbnailKey,
			Score:        h.Score,
			CreatedAt:    h.CreatedAt,
		})
	}
	span.SetAttributes(attribute.Int("hits", len(ranked)))
	return ranked, nil
}

// Enrich resolves each hit to its product and a signed preview URL, keeping
// the input order. Hits that cannot be resolved are logged and left out.
func (e *Engine) Enrich(ctx context.Context, tenantID string, ranked []Ranked) []Result {
	ctx, span := tracer.Start(ctx, "search.Enrich")
	defer span.End()

	products := make(map[string]*catalog.Product)
	results := make([]Result, 0, len(ranked))
	for _, r := range ranked {
		res, reason, err := e.enrichOne(ctx, tenantID, r, products)
		if err != nil {
			Dropped.WithLabelValues(reason).Inc()
			e.logger.Warn("dropping search hit",
				zap.String("tenant_id", tenantID),
				zap.String("asset_id", r.AssetID),
				zap.String("reason", reason),
				zap.Error(err))
			continue
		}
		results = append(results, res)
	}
	span.SetAttributes(attribute.Int("results", len(results)))
	return results
}

func (e *Engine) enrichOne(ctx context.Context, tenantID string, r Ranked,
	products map[string]*catalog.Product) (Result, string, error) {
	a, err := e.assets.Get(ctx, tenantID, r.AssetID)
	if err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			e.urls.forget(r.StorageKey, r.ThumbnailKey)
			return Result{}, "asset_missing", err
		}
		return Result{}, "asset_error", err
	}
	if a.Status != asset.StateCompleted {
		return Result{}, "not_completed", fmt.Errorf("asset is %s", a.Status)
	}
	if a.ProductID == nil || *a.ProductID == "" {
		return Result{}, "unassigned", errors.New("asset has no product")
	}

	product, ok := products[*a.ProductID]
	if !ok {
		product, err = e.catalog.Product(ctx, tenantID, *a.ProductID)
		if err != nil {
			if errors.Is(err, catalog.ErrProductNotFound) {
				return Result{}, "product_missing", err
			}
			return Result{}, "product_error", err
		}
		products[*a.ProductID] = product
	}

	previewKey := a.StorageKey
	if a.Kind == asset.KindVideo && a.ThumbnailKey != "" {
		previewKey = a.ThumbnailKey
	}
	thumbURL, err := e.urls.sign(ctx, previewKey)
	if err != nil {
		return Result{}, "sign_error", err
	}

	return Result{
		ProductID:         product.ID,
		ProductName:       product.Name,
		SKU:               product.SKU,
		Score:             r.Score,
		SimilarityPercent: SimilarityPercent(r.Score),
		Match: Match{
			AssetID:  a.ID,
			Type:     a.Kind,
			ThumbURL: thumbURL,
		},
	}, "", nil
}

// SimilarityPercent maps a cosine similarity in [-1, 1] onto 0..100.
func SimilarityPercent(cosine float32) int {
	p := math.Round((1 + float64(cosine)) * 50)
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return int(p)
}

// BestPerProduct keeps the first result of each product, so ranked input
// yields each product's best match, and truncates to limit.
func BestPerProduct(results []Result, limit int) []Result {
	seen := make(map[string]struct{}, len(results))
	out := make([]Result, 0, min(len(results), limit))
	for _, r := range results {
		if len(out) == limit {
			break
		}
		if _, dup := seen[r.ProductID]; dup {
			continue
		}
		seen[r.ProductID] = struct{}{}
		out = append(out, r)
	}
	return out
}
