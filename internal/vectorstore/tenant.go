package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
)

var (
	// ErrMissingTenant means the context carries no tenant. Index calls fail
	// rather than run unscoped.
	ErrMissingTenant = errors.New("tenant missing from context")

	// ErrInvalidTenant means the context tenant is not a well-formed ID.
	ErrInvalidTenant = errors.New("invalid tenant identifier")
)

type tenantKey struct{}

// WithTenantID scopes every Index call made with the returned context to
// tenantID.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// tenantFromContext returns the validated tenant ID carried by ctx.
func tenantFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(tenantKey{}).(string)
	if !ok {
		return "", ErrMissingTenant
	}
	if sanitize.ValidateTenantID(id) != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, id)
	}
	return id, nil
}
