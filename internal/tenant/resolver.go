package tenant

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/golang-jwt/jwt/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Config configures a Resolver.
type Config struct {
	Secret []byte
	// Issuer, when set, must match the token's iss claim.
	Issuer string
	// CacheSize and CacheTTL bound the slug lookup cache.
	CacheSize int
	CacheTTL  time.Duration
}

// Resolver verifies bearer tokens and picks the request's tenant.
type Resolver struct {
	config  Config
	catalog catalog.Catalog
	tenants *expirable.LRU[string, *catalog.Tenant]
	parser  *jwt.Parser
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config, cat catalog.Catalog) (*Resolver, error) {
	if len(cfg.Secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidConfig, MinSecretLength)
	}
	if cat == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrInvalidConfig)
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Resolver{
		config:  cfg,
		catalog: cat,
		tenants: expirable.NewLRU[string, *catalog.Tenant](cfg.CacheSize, nil, cfg.CacheTTL),
		parser:  jwt.NewParser(opts...),
	}, nil
}

// Verify parses and checks a token. Guest tokens are rejected.
func (r *Resolver) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	claims := &Claims{}
	if _, err := r.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.config.Secret, nil
	}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := claims.validate(); err != nil {
		return nil, err
	}
	if claims.Role == RoleGuest {
		return nil, ErrGuestToken
	}
	return claims, nil
}

// Resolve verifies the Authorization header value and selects the tenant.
//
// A super administrator's slug header selects any active tenant. Everyone
// else is bound to the token's clientId; a slug header naming a different
// tenant is a mismatch.
func (r *Resolver) Resolve(ctx context.Context, authorization, slug string) (*Context, error) {
	claims, err := r.Verify(BearerToken(authorization))
	if err != nil {
		return nil, err
	}
	tc := &Context{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}

	if claims.Role == RoleSuperAdmin && slug != "" {
		t, err := r.tenantBySlug(ctx, slug)
		if err != nil {
			return nil, err
		}
		tc.TenantID, tc.TenantSlug = t.ID, t.Slug
		return tc, nil
	}

	if claims.ClientID == "" {
		if claims.Role == RoleSuperAdmin {
			return nil, ErrTenantRequired
		}
		return nil, fmt.Errorf("%w: missing clientId", ErrInvalidToken)
	}
	tc.TenantID = claims.ClientID

	if slug == "" {
		slug = claims.ClientSlug
	}
	if slug == "" {
		return tc, nil
	}
	t, err := r.tenantBySlug(ctx, slug)
	if errors.Is(err, ErrUnknownTenant) && slug != claims.ClientSlug {
		return nil, ErrTenantMismatch
	}
	if err != nil {
		return nil, err
	}
	if t.ID != claims.ClientID {
		return nil, ErrTenantMismatch
	}
	tc.TenantSlug = t.Slug
	return tc, nil
}

func (r *Resolver) tenantBySlug(ctx context.Context, slug string) (*catalog.Tenant, error) {
	t, ok := r.tenants.Get(slug)
	if !ok {
		var err error
		t, err = r.catalog.TenantBySlug(ctx, slug)
		switch {
		case errors.Is(err, catalog.ErrTenantNotFound), errors.Is(err, catalog.ErrTenantInactive):
			return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, slug)
		case err != nil:
			return nil, fmt.Errorf("resolving tenant %s: %w", slug, err)
		}
		r.tenants.Add(slug, t)
	}
	if !t.Active {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTenant, slug)
	}
	return t, nil
}
