package tenant

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte(strings.Repeat("s", 32))

// countingCatalog counts slug lookups reaching the catalog.
type countingCatalog struct {
	*catalog.MemoryCatalog
	lookups int
}

func (c *countingCatalog) TenantBySlug(ctx context.Context, slug string) (*catalog.Tenant, error) {
	c.lookups++
	return c.MemoryCatalog.TenantBySlug(ctx, slug)
}

func newResolver(t *testing.T) (*Resolver, *countingCatalog) {
	t.Helper()
	cat := &countingCatalog{MemoryCatalog: catalog.NewMemoryCatalog()}
	cat.AddTenant(catalog.Tenant{ID: "t-acme", Slug: "acme", Name: "Acme", Active: true})
	cat.AddTenant(catalog.Tenant{ID: "t-globex", Slug: "globex", Name: "Globex", Active: true})
	cat.AddTenant(catalog.Tenant{ID: "t-dormant", Slug: "dormant", Name: "Dormant"})

	r, err := NewResolver(Config{Secret: testSecret}, cat)
	require.NoError(t, err)
	return r, cat
}

func token(t *testing.T, c Claims) string {
	t.Helper()
	tok, err := Issue(testSecret, c, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok
}

func user(role Role, clientID, slug string) Claims {
	return Claims{UserID: "u1", Email: "u1@example.com", Role: role, ClientID: clientID, ClientSlug: slug}
}

func TestRole_AtLeast(t *testing.T) {
	assert.True(t, RoleSuperAdmin.AtLeast(RoleAdmin))
	assert.True(t, RoleManager.AtLeast(RoleManager))
	assert.False(t, RoleUser.AtLeast(RoleManager))
	assert.False(t, RoleGuest.AtLeast(RoleUser))
	assert.False(t, Role("ROOT").AtLeast(RoleUser))
}

func TestResolve_User(t *testing.T) {
	r, _ := newResolver(t)

	tc, err := r.Resolve(context.Background(), token(t, user(RoleAdmin, "t-acme", "acme")), "")
	require.NoError(t, err)
	assert.Equal(t, &Context{UserID: "u1", Email: "u1@example.com", Role: RoleAdmin, TenantID: "t-acme", TenantSlug: "acme"}, tc)
	assert.False(t, tc.CrossTenant())

	tc, err = r.Resolve(context.Background(), token(t, user(RoleUser, "t-acme", "")), "acme")
	require.NoError(t, err)
	assert.Equal(t, "t-acme", tc.TenantID)
	assert.Equal(t, "acme", tc.TenantSlug)
}

func TestResolve_NoSlugAnywhere(t *testing.T) {
	r, cat := newResolver(t)
	tc, err := r.Resolve(context.Background(), token(t, user(RoleUser, "t-acme", "")), "")
	require.NoError(t, err)
	assert.Equal(t, "t-acme", tc.TenantID)
	assert.Empty(t, tc.TenantSlug)
	assert.Zero(t, cat.lookups)
}

func TestResolve_SuperAdminSelectsTenant(t *testing.T) {
	r, cat := newResolver(t)
	tok := token(t, user(RoleSuperAdmin, "", ""))

	tc, err := r.Resolve(context.Background(), tok, "globex")
	require.NoError(t, err)
	assert.Equal(t, "t-globex", tc.TenantID)
	assert.True(t, tc.CrossTenant())

	_, err = r.Resolve(context.Background(), tok, "globex")
	require.NoError(t, err)
	assert.Equal(t, 1, cat.lookups, "slug lookups are cached")

	_, err = r.Resolve(context.Background(), tok, "")
	assert.ErrorIs(t, err, ErrTenantRequired)

	_, err = r.Resolve(context.Background(), tok, "nobody")
	assert.ErrorIs(t, err, ErrUnknownTenant)
	_, err = r.Resolve(context.Background(), tok, "dormant")
	assert.ErrorIs(t, err, ErrUnknownTenant)
}

func TestResolve_Errors(t *testing.T) {
	r, _ := newResolver(t)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u1", Email: "e", Role: RoleUser, ClientID: "t-acme",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	}).SignedString(testSecret)
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: "u1", Email: "e", Role: RoleUser, ClientID: "t-acme",
	}).SignedString(testSecret)
	require.NoError(t, err)

	otherKey, err := Issue([]byte(strings.Repeat("x", 32)), user(RoleUser, "t-acme", "acme"), time.Hour)
	require.NoError(t, err)

	noneAlg, err := jwt.NewWithClaims(jwt.SigningMethodNone, user(RoleUser, "t-acme", "acme")).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name string
		auth string
		slug string
		want error
	}{
		{"missing", "", "", ErrMissingToken},
		{"bare prefix", "Bearer ", "", ErrMissingToken},
		{"garbage", "Bearer not-a-jwt", "", ErrInvalidToken},
		{"expired", "Bearer " + expired, "", ErrInvalidToken},
		{"no expiry", "Bearer " + noExp, "", ErrInvalidToken},
		{"wrong key", "Bearer " + otherKey, "", ErrInvalidToken},
		{"alg none", "Bearer " + noneAlg, "", ErrInvalidToken},
		{"missing email", token(t, Claims{UserID: "u1", Role: RoleUser, ClientID: "t-acme"}), "", ErrInvalidToken},
		{"no client", token(t, user(RoleAdmin, "", "")), "", ErrInvalidToken},
		{"guest", token(t, user(RoleGuest, "t-acme", "acme")), "", ErrGuestToken},
		{"other tenant", token(t, user(RoleAdmin, "t-acme", "acme")), "globex", ErrTenantMismatch},
		{"unknown selector", token(t, user(RoleAdmin, "t-acme", "acme")), "nobody", ErrTenantMismatch},
		{"inactive own tenant", token(t, user(RoleUser, "t-dormant", "dormant")), "", ErrUnknownTenant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.auth, tt.slug)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolve_Issuer(t *testing.T) {
	cat := catalog.NewMemoryCatalog()
	r, err := NewResolver(Config{Secret: testSecret, Issuer: "storefront"}, cat)
	require.NoError(t, err)

	c := user(RoleUser, "t-acme", "")
	_, err = r.Resolve(context.Background(), token(t, c), "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	c.Issuer = "storefront"
	_, err = r.Resolve(context.Background(), token(t, c), "")
	assert.NoError(t, err)
}

func TestNewResolver_Validation(t *testing.T) {
	_, err := NewResolver(Config{Secret: []byte("short")}, catalog.NewMemoryCatalog())
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewResolver(Config{Secret: testSecret}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Issue([]byte("short"), user(RoleUser, "t", ""), time.Hour)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestContext_RoundTrip(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)

	tc := &Context{UserID: "u1", TenantID: "t-acme"}
	got, ok := FromContext(WithContext(context.Background(), tc))
	require.True(t, ok)
	assert.Same(t, tc, got)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer  abc "))
	assert.Equal(t, "abc", BearerToken("abc"))
	assert.Empty(t, BearerToken(""))
}
