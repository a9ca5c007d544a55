package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("mediasearch.vectorstore.chromem")

// timeNow is swapped in tests.
var timeNow = time.Now

var errTextEmbedding = errors.New("chromem index stores precomputed vectors only")

// ChromemConfig holds configuration for the embedded chromem-go index.
type ChromemConfig struct {
	// Path enables persistence when set. Empty keeps the index in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool

	// Collection defaults to "media_embeddings".
	Collection string

	// VectorSize must match the embedding service dimension.
	VectorSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "media_embeddings"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 512
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemIndex is an Index backed by chromem-go.
//
// All tenants share one collection; isolation is a tenant_id metadata match
// applied to every query.
type ChromemIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
	isolation  PayloadIsolation
}

// NewChromemIndex opens (or creates) the chromem collection.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	db, err := openChromemDB(config, logger)
	if err != nil {
		return nil, err
	}

	col, err := db.GetOrCreateCollection(config.Collection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errTextEmbedding
	})
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize),
		zap.Int("documents", col.Count()),
	)

	return &ChromemIndex{
		db:         db,
		collection: col,
		config:     config,
		logger:     logger,
		isolation:  NewPayloadIsolation(),
	}, nil
}

// openChromemDB opens the persistent database, moving an unreadable
// directory aside once so the service can start with an empty index.
func openChromemDB(config ChromemConfig, logger *zap.Logger) (*chromem.DB, error) {
	if config.Path == "" {
		return chromem.NewDB(), nil
	}

	path, err := expandChromemPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, config.Compress)
	if err == nil {
		return db, nil
	}

	quarantine := fmt.Sprintf("%s.corrupt-%d", path, timeNow().Unix())
	logger.Warn("chromem database unreadable, quarantining",
		zap.String("path", path),
		zap.String("quarantine", quarantine),
		zap.Error(err),
	)
	RecordQuarantine()
	if rerr := os.Rename(path, quarantine); rerr != nil {
		return nil, fmt.Errorf("opening chromem db: %w (quarantine failed: %v)", err, rerr)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("recreating directory %s: %w", path, err)
	}
	db, err = chromem.NewPersistentDB(path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db after quarantine: %w", err)
	}
	return db, nil
}

func expandChromemPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return filepath.Clean(path), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Provider returns "chromem".
func (s *ChromemIndex) Provider() string { return "chromem" }

// Upsert stores entries under the context tenant.
func (s *ChromemIndex) Upsert(ctx context.Context, entries ...Entry) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()
	defer func() { observeUpsert(s.Provider(), len(entries), err) }()

	span.SetAttributes(attribute.Int("entry_count", len(entries)))

	if err := s.isolation.Stamp(ctx, entries); err != nil {
		span.RecordError(err)
		return err
	}
	if err := checkEntries(entries, s.config.VectorSize); err != nil {
		span.RecordError(err)
		return err
	}

	for _, e := range entries {
		doc := chromem.Document{
			ID:        e.AssetID,
			Embedding: append([]float32(nil), e.Vector...),
			Metadata: map[string]string{
				keyTenantID:     e.TenantID,
				keyAssetID:      e.AssetID,
				keyProductID:    e.ProductID,
				keyKind:         e.Kind,
				keyStorageKey:   e.StorageKey,
				keyThumbnailKey: e.ThumbnailKey,
				keyCreatedAt:    strconv.FormatInt(e.CreatedAt.UnixNano(), 10),
			},
		}
		if err := s.collection.AddDocument(ctx, doc); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("adding document %s: %w", e.AssetID, err)
		}
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns the nearest entries of the context tenant.
func (s *ChromemIndex) Search(ctx context.Context, vector []float32, topK int) (hits []Hit, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()
	start := time.Now()
	defer func() { observeSearch(s.Provider(), start, len(hits), err) }()

	where, err := s.isolation.Filter(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if topK, err = checkTopK(topK); err != nil {
		return nil, err
	}
	if err := checkVector(vector, s.config.VectorSize); err != nil {
		return nil, err
	}

	// chromem rejects nResults above the collection size.
	n := overfetch(topK)
	if count := s.collection.Count(); n > count {
		n = count
	}
	if n == 0 {
		return []Hit{}, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, append([]float32(nil), vector...), n, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	hits = make([]Hit, 0, len(results))
	for _, r := range results {
		// Belt and braces: the where filter already scopes the query.
		if r.Metadata[keyTenantID] != where[keyTenantID] {
			continue
		}
		hits = append(hits, hitFromMetadata(r.ID, r.Metadata, r.Similarity))
	}
	hits = rank(hits, topK)

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

func hitFromMetadata(id string, md map[string]string, score float32) Hit {
	h := Hit{
		AssetID:      id,
		TenantID:     md[keyTenantID],
		ProductID:    md[keyProductID],
		Kind:         md[keyKind],
		StorageKey:   md[keyStorageKey],
		ThumbnailKey: md[keyThumbnailKey],
		Score:        score,
	}
	if ns, err := strconv.ParseInt(md[keyCreatedAt], 10, 64); err == nil {
		h.CreatedAt = time.Unix(0, ns).UTC()
	}
	return h
}

// Delete removes the context tenant's entries for the given assets.
func (s *ChromemIndex) Delete(ctx context.Context, assetIDs ...string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Delete")
	defer span.End()

	tenantID, err := s.isolation.Tenant(ctx)
	if err != nil {
		span.RecordError(err)
		return err
	}

	owned := make([]string, 0, len(assetIDs))
	for _, id := range assetIDs {
		doc, err := s.collection.GetByID(ctx, id)
		if err != nil {
			continue // not indexed
		}
		if doc.Metadata[keyTenantID] == tenantID {
			owned = append(owned, id)
		}
	}
	if len(owned) == 0 {
		return nil
	}

	if err := s.collection.Delete(ctx, nil, nil, owned...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting documents: %w", err)
	}
	span.SetAttributes(attribute.Int("deleted", len(owned)))
	return nil
}

// Count returns the number of indexed entries across all tenants.
func (s *ChromemIndex) Count() int {
	return s.collection.Count()
}

// Close is a no-op; persistent writes happen on every upsert.
func (s *ChromemIndex) Close() error {
	return nil
}

var _ Index = (*ChromemIndex)(nil)
