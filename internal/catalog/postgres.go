package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresCatalog reads the storefront's tenant and product tables.
type PostgresCatalog struct {
	pool *pgxpool.Pool
}

// NewPostgresCatalog wraps pool.
func NewPostgresCatalog(pool *pgxpool.Pool) *PostgresCatalog {
	return &PostgresCatalog{pool: pool}
}

// TenantBySlug implements Catalog.
func (c *PostgresCatalog) TenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	var t Tenant
	err := c.pool.QueryRow(ctx, `SELECT id, slug, name, is_active FROM tenant WHERE slug = $1`, slug).
		Scan(&t.ID, &t.Slug, &t.Name, &t.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}
	if !t.Active {
		return nil, ErrTenantInactive
	}
	return &t, nil
}

const productColumns = `id, tenant_id, sku, name, image_urls, video_urls`

func scanProduct(row pgx.Row) (*Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.TenantID, &p.SKU, &p.Name, &p.ImageURLs, &p.VideoURLs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProductNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query product: %w", err)
	}
	return &p, nil
}

// Product implements Catalog.
func (c *PostgresCatalog) Product(ctx context.Context, tenantID, id string) (*Product, error) {
	return scanProduct(c.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM product WHERE id = $1 AND tenant_id = $2`, id, tenantID))
}

// ProductBySKU implements Catalog.
func (c *PostgresCatalog) ProductBySKU(ctx context.Context, tenantID, sku string) (*Product, error) {
	return scanProduct(c.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM product WHERE tenant_id = $1 AND sku = $2`, tenantID, sku))
}
