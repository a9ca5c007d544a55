package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/database/dbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSigner struct {
	fail map[string]bool
}

func (f fakeSigner) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if f.fail[key] {
		return "", errors.New("sign failed")
	}
	return "https://signed/" + key + "?ttl=" + ttl.String(), nil
}

func TestRefs_MergesLegacyAndAssets(t *testing.T) {
	p := &Product{
		ID:        "p1",
		ImageURLs: []string{"https://cdn.example.com/a.jpg", "", "https://bucket.s3.amazonaws.com/clients/t1/products/sku/media/image/1-a.jpg?x=1"},
		VideoURLs: []string{"clients/t1/products/sku/media/video/2-b.mp4"},
	}
	assets := []*asset.MediaAsset{
		{ID: "m1", Kind: asset.KindImage, StorageKey: "clients/t1/products/sku/media/image/1-a.jpg", Status: asset.StateCompleted},
	}

	refs := Refs(p, assets)
	require.Len(t, refs, 3)
	assert.Equal(t, LegacyRef{URL: "https://cdn.example.com/a.jpg", Kind: asset.KindImage}, refs[0])
	assert.Equal(t, LegacyRef{URL: "clients/t1/products/sku/media/video/2-b.mp4", Kind: asset.KindVideo}, refs[1])
	assert.Equal(t, AssetRef{Asset: assets[0]}, refs[2])
}

func TestResolveMedia(t *testing.T) {
	refs := []MediaRef{
		LegacyRef{URL: "https://cdn.example.com/a.jpg", Kind: asset.KindImage},
		LegacyRef{URL: "clients/t1/legacy.mp4", Kind: asset.KindVideo},
		AssetRef{Asset: &asset.MediaAsset{ID: "m1", Kind: asset.KindVideo, StorageKey: "k/v.mp4", ThumbnailKey: "k/v-thumb.jpg", Status: asset.StatePending}},
	}

	media, err := ResolveMedia(context.Background(), refs, fakeSigner{}, time.Hour)
	require.NoError(t, err)
	require.Len(t, media, 3)

	assert.Equal(t, "https://cdn.example.com/a.jpg", media[0].URL)
	assert.True(t, media[0].Legacy)
	assert.Equal(t, "https://signed/clients/t1/legacy.mp4?ttl=1h0m0s", media[1].URL)
	assert.Equal(t, "m1", media[2].ID)
	assert.Equal(t, "https://signed/k/v.mp4?ttl=1h0m0s", media[2].URL)
	assert.Equal(t, "https://signed/k/v-thumb.jpg?ttl=1h0m0s", media[2].ThumbnailURL)
	assert.Equal(t, asset.StatePending, media[2].Status)
	assert.False(t, media[2].Legacy)
}

func TestResolveMedia_SignFailure(t *testing.T) {
	refs := []MediaRef{AssetRef{Asset: &asset.MediaAsset{ID: "m1", StorageKey: "k/bad.jpg"}}}
	_, err := ResolveMedia(context.Background(), refs, fakeSigner{fail: map[string]bool{"k/bad.jpg": true}}, time.Hour)
	assert.Error(t, err)
}

func runCatalogSuite(t *testing.T, c Catalog) {
	ctx := context.Background()

	tn, err := c.TenantBySlug(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "t1", tn.ID)

	_, err = c.TenantBySlug(ctx, "closed")
	assert.ErrorIs(t, err, ErrTenantInactive)
	_, err = c.TenantBySlug(ctx, "nobody")
	assert.ErrorIs(t, err, ErrTenantNotFound)

	p, err := c.ProductBySKU(ctx, "t1", "SKU-1")
	require.NoError(t, err)
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, []string{"https://cdn/a.jpg"}, p.ImageURLs)

	_, err = c.ProductBySKU(ctx, "t2", "SKU-1")
	assert.ErrorIs(t, err, ErrProductNotFound)

	p, err = c.Product(ctx, "t1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "Red Shoe", p.Name)
	_, err = c.Product(ctx, "t2", "p1")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestMemoryCatalog(t *testing.T) {
	c := NewMemoryCatalog()
	c.AddTenant(Tenant{ID: "t1", Slug: "acme", Active: true})
	c.AddTenant(Tenant{ID: "t3", Slug: "closed"})
	c.AddProduct(Product{ID: "p1", TenantID: "t1", SKU: "SKU-1", Name: "Red Shoe", ImageURLs: []string{"https://cdn/a.jpg"}})
	runCatalogSuite(t, c)
}

func TestPostgresCatalog(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	_, err := pool.Exec(ctx, `
		INSERT INTO tenant (id, slug, is_active) VALUES ('t1', 'acme', true), ('t2', 'other', true), ('t3', 'closed', false);
		INSERT INTO product (id, tenant_id, sku, name, image_urls) VALUES ('p1', 't1', 'SKU-1', 'Red Shoe', '{https://cdn/a.jpg}');`)
	require.NoError(t, err)
	runCatalogSuite(t, NewPostgresCatalog(pool))
}
