package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on PostgreSQL with a pgvector column for
// embeddings. The pool must have pgvector types registered.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const assetColumns = `id, tenant_id, product_id, kind, storage_key, width, height, duration_ms,
	status, COALESCE(error, ''), COALESCE(thumbnail_key, ''), COALESCE(pending_sku, ''),
	attempt, created_at, updated_at`

func scanAsset(row pgx.Row) (*MediaAsset, error) {
	var a MediaAsset
	var kind, status string
	err := row.Scan(&a.ID, &a.TenantID, &a.ProductID, &kind, &a.StorageKey, &a.Width, &a.Height, &a.DurationMS,
		&status, &a.Error, &a.ThumbnailKey, &a.PendingSKU, &a.Attempt, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = Kind(kind)
	a.Status = State(status)
	return &a, nil
}

func (s *PostgresStore) runInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// UpsertByKey implements Store.
func (s *PostgresStore) UpsertByKey(ctx context.Context, u Upsert) (*MediaAsset, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	var out *MediaAsset
	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO media_asset (id, tenant_id, product_id, kind, storage_key, width, height,
				status, thumbnail_key, pending_sku)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (storage_key) DO UPDATE SET
				product_id    = COALESCE(EXCLUDED.product_id, media_asset.product_id),
				kind          = EXCLUDED.kind,
				width         = EXCLUDED.width,
				height        = EXCLUDED.height,
				status        = EXCLUDED.status,
				error         = NULL,
				thumbnail_key = EXCLUDED.thumbnail_key,
				pending_sku   = EXCLUDED.pending_sku,
				attempt       = media_asset.attempt + 1,
				updated_at    = now()
			WHERE media_asset.tenant_id = EXCLUDED.tenant_id
			RETURNING `+assetColumns,
			uuid.NewString(), u.TenantID, u.ProductID, string(u.Kind), u.StorageKey, u.Width, u.Height,
			string(u.status()), nullIfEmpty(u.ThumbnailKey), nullIfEmpty(u.PendingSKU))

		a, err := scanAsset(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrKeyConflict
		}
		if err != nil {
			return fmt.Errorf("upsert media asset: %w", err)
		}
		if a.Attempt > 1 {
			if err := deleteEmbedding(ctx, tx, a.ID); err != nil {
				return err
			}
		}
		if u.ProductID != nil {
			if err := insertLink(ctx, tx, a.ID, *u.ProductID); err != nil {
				return err
			}
		}
		out = a
		return nil
	})
	return out, err
}

func deleteEmbedding(ctx context.Context, db DBTX, assetID string) error {
	if _, err := db.Exec(ctx, `DELETE FROM embedding WHERE asset_id = $1`, assetID); err != nil {
		return fmt.Errorf("delete embedding: %w", err)
	}
	return nil
}

func insertLink(ctx context.Context, db DBTX, assetID, productID string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO media_asset_product (asset_id, product_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, assetID, productID)
	if err != nil {
		return fmt.Errorf("link product: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, tenantID, id string) (*MediaAsset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM media_asset WHERE id = $1 AND tenant_id = $2`, id, tenantID))
	return a, mapNoRows(err)
}

// GetAny implements Store.
func (s *PostgresStore) GetAny(ctx context.Context, id string) (*MediaAsset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM media_asset WHERE id = $1`, id))
	return a, mapNoRows(err)
}

// GetByKey implements Store.
func (s *PostgresStore) GetByKey(ctx context.Context, tenantID, storageKey string) (*MediaAsset, error) {
	a, err := scanAsset(s.pool.QueryRow(ctx,
		`SELECT `+assetColumns+` FROM media_asset WHERE storage_key = $1 AND tenant_id = $2`, storageKey, tenantID))
	return a, mapNoRows(err)
}

func mapNoRows(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("query media asset: %w", err)
	}
	return nil
}

// sourceStates lists the states SetState may leave to reach next.
func sourceStates(next State) []string {
	var out []string
	for _, s := range []State{StatePending, StateProcessing, StateCompleted, StateFailed} {
		if s.CanTransition(next) {
			out = append(out, string(s))
		}
	}
	return out
}

// SetState implements Store.
func (s *PostgresStore) SetState(ctx context.Context, id string, attempt int64, state State, reason string) error {
	var errText *string
	if state == StateFailed {
		errText = &reason
	}
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE media_asset SET status = $3, error = $4, updated_at = now()
			WHERE id = $1 AND attempt = $2 AND status = ANY($5)`,
			id, attempt, string(state), errText, sourceStates(state))
		if err != nil {
			return fmt.Errorf("set state: %w", err)
		}
		if tag.RowsAffected() == 1 {
			if state == StateFailed {
				return deleteEmbedding(ctx, tx, id)
			}
			return nil
		}

		var current string
		var currentAttempt int64
		err = tx.QueryRow(ctx, `SELECT status, attempt FROM media_asset WHERE id = $1`, id).
			Scan(&current, &currentAttempt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("set state: %w", err)
		}
		if currentAttempt != attempt {
			return fmt.Errorf("%w: asset %s at attempt %d, write for %d", ErrStaleAttempt, id, currentAttempt, attempt)
		}
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, state)
	})
}

// Reset implements Store.
func (s *PostgresStore) Reset(ctx context.Context, id string) (*MediaAsset, error) {
	var out *MediaAsset
	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		a, err := scanAsset(tx.QueryRow(ctx, `
			UPDATE media_asset SET status = 'pending', error = NULL, attempt = attempt + 1, updated_at = now()
			WHERE id = $1
			RETURNING `+assetColumns, id))
		if err := mapNoRows(err); err != nil {
			return err
		}
		out = a
		return deleteEmbedding(ctx, tx, id)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SaveEmbedding implements Store.
func (s *PostgresStore) SaveEmbedding(ctx context.Context, e Embedding) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO embedding (id, tenant_id, asset_id, vector, model)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_id) DO UPDATE SET
			vector = EXCLUDED.vector, model = EXCLUDED.model, created_at = now()`,
		uuid.NewString(), e.TenantID, e.AssetID, pgvector.NewVector(e.Vector), e.Model)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" { // foreign_key_violation
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("save embedding: %w", err)
	}
	return nil
}

// Embedding implements Store.
func (s *PostgresStore) Embedding(ctx context.Context, assetID string) (*Embedding, error) {
	var e Embedding
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx, `
		SELECT tenant_id, asset_id, vector, model, created_at FROM embedding WHERE asset_id = $1`, assetID).
		Scan(&e.TenantID, &e.AssetID, &vec, &e.Model, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query embedding: %w", err)
	}
	e.Vector = vec.Slice()
	return &e, nil
}

// LinkProduct implements Store.
func (s *PostgresStore) LinkProduct(ctx context.Context, tenantID, assetID, productID string) error {
	return s.runInTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE media_asset SET product_id = COALESCE(product_id, $3), pending_sku = NULL, updated_at = now()
			WHERE id = $1 AND tenant_id = $2`, assetID, tenantID, productID)
		if err != nil {
			return fmt.Errorf("link product: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return insertLink(ctx, tx, assetID, productID)
	})
}

// ListByProduct implements Store.
func (s *PostgresStore) ListByProduct(ctx context.Context, tenantID, productID string) ([]*MediaAsset, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+assetColumns+` FROM media_asset
		WHERE tenant_id = $1 AND id IN (SELECT asset_id FROM media_asset_product WHERE product_id = $2)
		ORDER BY created_at, id`, tenantID, productID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var out []*MediaAsset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteProduct implements Store. Links are removed and unreferenced assets
// deleted in one transaction; embeddings follow through ON DELETE CASCADE.
func (s *PostgresStore) DeleteProduct(ctx context.Context, tenantID, productID string) ([]Orphan, error) {
	var orphans []Orphan
	err := s.runInTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			DELETE FROM media_asset_product l USING media_asset a
			WHERE l.asset_id = a.id AND a.tenant_id = $1 AND l.product_id = $2
			RETURNING l.asset_id`, tenantID, productID)
		if err != nil {
			return fmt.Errorf("unlink product: %w", err)
		}
		unlinked, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return fmt.Errorf("unlink product: %w", err)
		}
		if len(unlinked) == 0 {
			return nil
		}

		// Assets still linked elsewhere move to their first remaining product.
		if _, err := tx.Exec(ctx, `
			UPDATE media_asset a SET
				product_id = (SELECT min(l.product_id) FROM media_asset_product l WHERE l.asset_id = a.id),
				updated_at = now()
			WHERE a.tenant_id = $1 AND a.product_id = $2`, tenantID, productID); err != nil {
			return fmt.Errorf("repoint product: %w", err)
		}

		rows, err = tx.Query(ctx, `
			DELETE FROM media_asset a
			WHERE a.id = ANY($1)
			  AND NOT EXISTS (SELECT 1 FROM media_asset_product l WHERE l.asset_id = a.id)
			RETURNING a.id, a.storage_key, COALESCE(a.thumbnail_key, '')
			`, unlinked)
		if err != nil {
			return fmt.Errorf("delete orphans: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var o Orphan
			if err := rows.Scan(&o.AssetID, &o.StorageKey, &o.ThumbnailKey); err != nil {
				return fmt.Errorf("scan orphan: %w", err)
			}
			orphans = append(orphans, o)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return orphans, nil
}
