package vectorstore

import (
	"context"
)

// Payload keys stored alongside every vector.
const (
	keyTenantID     = "tenant_id"
	keyAssetID      = "asset_id"
	keyProductID    = "product_id"
	keyKind         = "kind"
	keyStorageKey   = "storage_key"
	keyThumbnailKey = "thumbnail_key"
	keyCreatedAt    = "created_at"
)

// PayloadIsolation enforces tenant scoping with a tenant_id payload field on a
// single shared collection.
//
// Every write stamps the tenant from context over whatever the caller
// supplied, and every read is filtered on it. A missing or invalid tenant is
// an error, never an unfiltered query.
type PayloadIsolation struct{}

// NewPayloadIsolation creates the payload isolation mode.
func NewPayloadIsolation() PayloadIsolation {
	return PayloadIsolation{}
}

// Tenant returns the validated tenant ID from ctx.
func (PayloadIsolation) Tenant(ctx context.Context) (string, error) {
	return tenantFromContext(ctx)
}

// Filter returns the payload match every query must carry.
func (p PayloadIsolation) Filter(ctx context.Context) (map[string]string, error) {
	tenantID, err := p.Tenant(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]string{keyTenantID: tenantID}, nil
}

// Stamp overwrites the tenant on each entry with the context tenant.
func (p PayloadIsolation) Stamp(ctx context.Context, entries []Entry) error {
	tenantID, err := p.Tenant(ctx)
	if err != nil {
		return err
	}
	for i := range entries {
		entries[i].TenantID = tenantID
	}
	return nil
}

// Mode returns the isolation mode name for logging.
func (PayloadIsolation) Mode() string {
	return "payload"
}
