package catalog

import (
	"context"
	"sync"
)

// MemoryCatalog is an in-process Catalog for development and tests.
type MemoryCatalog struct {
	mu       sync.RWMutex
	tenants  map[string]*Tenant  // slug -> tenant
	products map[string]*Product // id -> product
}

// NewMemoryCatalog returns an empty catalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		tenants:  make(map[string]*Tenant),
		products: make(map[string]*Product),
	}
}

// AddTenant registers t.
func (c *MemoryCatalog) AddTenant(t Tenant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants[t.Slug] = &t
}

// AddProduct registers p.
func (c *MemoryCatalog) AddProduct(p Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = &p
}

// TenantBySlug implements Catalog.
func (c *MemoryCatalog) TenantBySlug(_ context.Context, slug string) (*Tenant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tenants[slug]
	if !ok {
		return nil, ErrTenantNotFound
	}
	if !t.Active {
		return nil, ErrTenantInactive
	}
	cp := *t
	return &cp, nil
}

// Product implements Catalog.
func (c *MemoryCatalog) Product(_ context.Context, tenantID, id string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok || p.TenantID != tenantID {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

// ProductBySKU implements Catalog.
func (c *MemoryCatalog) ProductBySKU(_ context.Context, tenantID, sku string) (*Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if p.TenantID == tenantID && p.SKU == sku {
			cp := *p
			return &cp, nil
		}
	}
	return nil, ErrProductNotFound
}
