// Package tenant resolves the caller's identity and tenant from a bearer
// token.
//
// Every request is scoped to exactly one tenant. Only super administrators
// may pick a tenant other than the one in their token, by slug.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Common errors.
var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
	ErrGuestToken   = errors.New("guest tokens are not accepted")
	// ErrTenantMismatch indicates a tenant selector the caller may not use.
	ErrTenantMismatch = errors.New("tenant does not match token")
	// ErrUnknownTenant indicates a missing or inactive tenant.
	ErrUnknownTenant = errors.New("unknown or inactive tenant")
	// ErrTenantRequired indicates a token without a tenant and no selector.
	ErrTenantRequired = errors.New("tenant selection required")
	ErrInvalidConfig  = errors.New("invalid configuration")
)

// MinSecretLength is the shortest accepted HS256 secret.
const MinSecretLength = 32

// Role is a caller's privilege level.
type Role string

const (
	RoleSuperAdmin Role = "SUPER_ADMIN"
	RoleAdmin      Role = "ADMIN"
	RoleManager    Role = "MANAGER"
	RoleUser       Role = "USER"
	RoleGuest      Role = "GUEST"
)

var roleLevels = map[Role]int{
	RoleSuperAdmin: 4,
	RoleAdmin:      3,
	RoleManager:    2,
	RoleUser:       1,
}

// AtLeast reports whether r ranks at or above required. Unknown roles rank
// below everything.
func (r Role) AtLeast(required Role) bool {
	have, ok := roleLevels[r]
	if !ok {
		return false
	}
	return have >= roleLevels[required]
}

// Claims is the token payload.
type Claims struct {
	UserID     string `json:"userId"`
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	ClientID   string `json:"clientId,omitempty"`
	ClientSlug string `json:"clientSlug,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) validate() error {
	if c.UserID == "" || c.Email == "" || c.Role == "" {
		return fmt.Errorf("%w: missing userId, email or role", ErrInvalidToken)
	}
	return nil
}

// Context is the resolved caller.
type Context struct {
	UserID     string
	Email      string
	Role       Role
	TenantID   string
	TenantSlug string
}

// CrossTenant reports whether the caller may reach other tenants' records.
func (c *Context) CrossTenant() bool {
	return c.Role == RoleSuperAdmin
}

type contextKey struct{}

// WithContext attaches the caller to ctx.
func WithContext(ctx context.Context, tc *Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the caller attached by WithContext.
func FromContext(ctx context.Context) (*Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(*Context)
	return tc, ok && tc != nil
}

// Issue signs claims with HS256, valid for ttl from now. It is used by the
// CLI and tests; production tokens come from the storefront.
func Issue(secret []byte, claims Claims, ttl time.Duration) (string, error) {
	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidConfig, MinSecretLength)
	}
	now := time.Now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	if claims.Subject == "" {
		claims.Subject = claims.UserID
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// BearerToken strips an optional "Bearer " prefix.
func BearerToken(header string) string {
	h := strings.TrimSpace(header)
	if strings.EqualFold(h, "bearer") {
		return ""
	}
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return h
}
