// Package catalog is the narrow read contract onto the storefront's tenant and
// product tables, plus the canonical view of a product's media.
package catalog

import (
	"context"
	"errors"
)

var (
	// ErrTenantNotFound indicates no tenant has the slug.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantInactive indicates the tenant exists but is disabled.
	ErrTenantInactive = errors.New("tenant is inactive")

	// ErrProductNotFound indicates no product matched within the tenant.
	ErrProductNotFound = errors.New("product not found")
)

// Tenant is an isolated customer account.
type Tenant struct {
	ID     string `json:"id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Product carries the display fields used by search enrichment and the legacy
// media arrays that predate the normalized asset table.
type Product struct {
	ID        string   `json:"id"`
	TenantID  string   `json:"tenantId"`
	SKU       string   `json:"sku"`
	Name      string   `json:"name"`
	ImageURLs []string `json:"-"`
	VideoURLs []string `json:"-"`
}

// Catalog reads tenants and products.
type Catalog interface {
	TenantBySlug(ctx context.Context, slug string) (*Tenant, error)
	Product(ctx context.Context, tenantID, id string) (*Product, error)
	ProductBySKU(ctx context.Context, tenantID, sku string) (*Product, error)
}
