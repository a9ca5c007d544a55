package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the backend could not be reached.
	ErrConnectionFailed = errors.New("vector store connection failed")

	// ErrInvalidVector indicates a vector of the wrong dimension or with
	// non-finite components.
	ErrInvalidVector = errors.New("invalid vector")

	// ErrInvalidEntry indicates an entry without an asset ID.
	ErrInvalidEntry = errors.New("invalid index entry")

	// ErrInvalidCollectionName indicates a collection name outside ^[a-z0-9_]{1,64}$.
	ErrInvalidCollectionName = errors.New("invalid collection name")
)

// MaxTopK caps a single query.
const MaxTopK = 1000

// Entry is one indexed vector and the asset facts needed to rank and enrich it.
type Entry struct {
	AssetID      string
	TenantID     string
	ProductID    string
	Kind         string
	StorageKey   string
	ThumbnailKey string
	Vector       []float32
	CreatedAt    time.Time
}

// Hit is a scored match. Score is cosine similarity in [-1, 1].
type Hit struct {
	AssetID      string
	TenantID     string
	ProductID    string
	Kind         string
	StorageKey   string
	ThumbnailKey string
	CreatedAt    time.Time
	Score        float32
}

// Index is a tenant-scoped nearest-neighbour index over asset embeddings.
//
// The tenant always comes from the context (see WithTenantID). Calls
// without one fail with ErrMissingTenant.
type Index interface {
	// Upsert inserts or replaces entries keyed by asset ID.
	Upsert(ctx context.Context, entries ...Entry) error

	// Search returns up to topK hits ordered by descending score, then
	// oldest asset first, then asset ID.
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)

	// Delete removes the tenant's entries for the given asset IDs.
	// Unknown IDs are ignored.
	Delete(ctx context.Context, assetIDs ...string) error

	// Provider names the backend for logs and metrics.
	Provider() string

	Close() error
}

func checkVector(v []float32, dim int) error {
	if len(v) != dim {
		return fmt.Errorf("%w: expected %d dimensions, got %d", ErrInvalidVector, dim, len(v))
	}
	for _, x := range v {
		if f := float64(x); math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non-finite component", ErrInvalidVector)
		}
	}
	return nil
}

func checkEntries(entries []Entry, dim int) error {
	for _, e := range entries {
		if e.AssetID == "" {
			return ErrInvalidEntry
		}
		if err := checkVector(e.Vector, dim); err != nil {
			return fmt.Errorf("asset %s: %w", e.AssetID, err)
		}
	}
	return nil
}

func checkTopK(topK int) (int, error) {
	if topK < 1 {
		return 0, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidConfig, topK)
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	return topK, nil
}
