package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var pgTracer = otel.Tracer("mediasearch.vectorstore.pgvector")

// PgvectorIndex searches the embedding table in the asset database directly.
//
// The embedding table is owned by the asset store, which drops a row when its
// asset is reset, fails or is deleted, so Upsert only validates and Delete is
// a no-op. Scores are
// cosine similarity, 1 - cosine distance.
type PgvectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
	isolation PayloadIsolation
}

// NewPgvectorIndex wraps a pool that has pgvector types registered.
func NewPgvectorIndex(pool *pgxpool.Pool, dimension int) (*PgvectorIndex, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pgvector provider requires a database pool", ErrInvalidConfig)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return &PgvectorIndex{pool: pool, dimension: dimension, isolation: NewPayloadIsolation()}, nil
}

// Provider returns "pgvector".
func (s *PgvectorIndex) Provider() string { return "pgvector" }

// Upsert validates entries; the rows themselves are owned by the asset store.
func (s *PgvectorIndex) Upsert(ctx context.Context, entries ...Entry) (err error) {
	defer func() { observeUpsert(s.Provider(), len(entries), err) }()
	if err := s.isolation.Stamp(ctx, entries); err != nil {
		return err
	}
	return checkEntries(entries, s.dimension)
}

const pgvectorSearch = `
	SELECT a.id, a.tenant_id, COALESCE(a.product_id, ''), a.kind, a.storage_key,
		COALESCE(a.thumbnail_key, ''), a.created_at, 1 - (e.vector <=> $2) AS score
	FROM embedding e
	JOIN media_asset a ON a.id = e.asset_id
	WHERE e.tenant_id = $1 AND a.tenant_id = $1
	ORDER BY e.vector <=> $2, a.created_at, a.id
	LIMIT $3`

// Search returns the nearest embeddings of the context tenant.
func (s *PgvectorIndex) Search(ctx context.Context, vector []float32, topK int) (hits []Hit, err error) {
	ctx, span := pgTracer.Start(ctx, "PgvectorIndex.Search")
	defer span.End()
	start := time.Now()
	defer func() { observeSearch(s.Provider(), start, len(hits), err) }()

	tenantID, err := s.isolation.Tenant(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if topK, err = checkTopK(topK); err != nil {
		return nil, err
	}
	if err := checkVector(vector, s.dimension); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, pgvectorSearch, tenantID, pgvector.NewVector(vector), overfetch(topK))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("query embeddings: %w", err)
	}
	defer rows.Close()

	hits = []Hit{}
	for rows.Next() {
		var h Hit
		var score float64
		if err := rows.Scan(&h.AssetID, &h.TenantID, &h.ProductID, &h.Kind, &h.StorageKey,
			&h.ThumbnailKey, &h.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("scan embedding hit: %w", err)
		}
		h.Score = float32(score)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate embedding hits: %w", err)
	}
	hits = rank(hits, topK)

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	return hits, nil
}

// Delete checks the tenant; the asset store removes embedding rows.
func (s *PgvectorIndex) Delete(ctx context.Context, _ ...string) error {
	_, err := s.isolation.Tenant(ctx)
	return err
}

// Close is a no-op; the pool is owned by the caller.
func (s *PgvectorIndex) Close() error { return nil }

var _ Index = (*PgvectorIndex)(nil)
