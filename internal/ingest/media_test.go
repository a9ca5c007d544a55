package ingest

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/catalog"
	"github.com/fyrsmithlabs/mediasearch/internal/dispatch"
	"github.com/fyrsmithlabs/mediasearch/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (f *fixture) ingest(t *testing.T, sku, filename string, data []byte) *Result {
	t.Helper()
	res, err := f.orch.Ingest(context.Background(), Upload{TenantID: tenantA, SKU: sku, Filename: filename, Data: data})
	require.NoError(t, err)
	return res
}

func TestReprocess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.ingest(t, "SKU-1", "a.jpg", jpegBytes(t, 8, 8))

	// Fail the first attempt.
	require.NoError(t, f.assets.SetState(ctx, res.MediaID, 1, asset.StateFailed, "embedding service unavailable"))

	a, err := f.orch.Reprocess(ctx, Scope{TenantID: tenantA}, res.MediaID)
	require.NoError(t, err)
	assert.Equal(t, asset.StatePending, a.Status)
	assert.Empty(t, a.Error)
	assert.Equal(t, int64(2), a.Attempt)

	require.Equal(t, 2, f.queue.count())
	assert.Equal(t, dispatch.Job{AssetID: a.ID, TenantID: tenantA, Attempt: 2}, f.queue.jobs[1])
}

func TestReprocess_RemovesIndexEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.ingest(t, "SKU-1", "a.jpg", jpegBytes(t, 8, 8))
	require.NoError(t, f.index.Upsert(vectorstore.WithTenantID(ctx, tenantA),
		vectorstore.Entry{AssetID: res.MediaID, Vector: []float32{1, 0, 0, 0}}))

	_, err := f.orch.Reprocess(ctx, Scope{TenantID: tenantA}, res.MediaID)
	require.NoError(t, err)
	assert.Zero(t, f.index.Count())
}

func TestReprocess_RejectsThumbnail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.ingest(t, "SKU-1", "clip.mp4", mp4Bytes())
	thumb, err := f.assets.GetByKey(ctx, tenantA, res.ThumbnailKey)
	require.NoError(t, err)
	queued := f.queue.count()

	_, err = f.orch.Reprocess(ctx, Scope{TenantID: tenantA}, thumb.ID)
	assert.ErrorIs(t, err, ErrDerivedAsset)

	got, err := f.assets.Get(ctx, tenantA, thumb.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StateCompleted, got.Status)
	assert.Equal(t, thumb.Attempt, got.Attempt)
	assert.Equal(t, queued, f.queue.count())

	_, err = f.orch.Reprocess(ctx, Scope{TenantID: tenantA}, res.MediaID)
	assert.NoError(t, err, "the video itself may be reprocessed")
}

func TestReprocess_TenantScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.ingest(t, "SKU-1", "a.jpg", jpegBytes(t, 8, 8))

	_, err := f.orch.Reprocess(ctx, Scope{TenantID: "tenant-b"}, res.MediaID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.orch.Reprocess(ctx, Scope{TenantID: tenantA}, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	a, err := f.orch.Reprocess(ctx, Scope{TenantID: "tenant-b", AnyTenant: true}, res.MediaID)
	require.NoError(t, err)
	assert.Equal(t, tenantA, a.TenantID)
}

func TestReprocess_DispatchFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.ingest(t, "SKU-1", "a.jpg", jpegBytes(t, 8, 8))

	f.queue.err = dispatch.ErrClosed
	_, err := f.orch.Reprocess(ctx, Scope{TenantID: tenantA}, res.MediaID)
	assert.ErrorIs(t, err, ErrDispatch)

	a, err := f.assets.Get(ctx, tenantA, res.MediaID)
	require.NoError(t, err)
	assert.Equal(t, asset.StateFailed, a.Status)
}

func TestAsset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.ingest(t, "SKU-1", "clip.mp4", mp4Bytes())

	view, err := f.orch.Asset(ctx, Scope{TenantID: tenantA}, res.MediaID)
	require.NoError(t, err)
	assert.Contains(t, view.URL, res.Key)
	assert.Contains(t, view.ThumbnailURL, res.ThumbnailKey)

	_, err = f.orch.Asset(ctx, Scope{TenantID: "tenant-b"}, res.MediaID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductMedia_MergesLegacy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.catalog.AddProduct(catalog.Product{
		ID: "prod-2", TenantID: tenantA, SKU: "SKU-2", Name: "Lamp",
		ImageURLs: []string{"https://cdn.example.com/legacy.jpg"},
	})
	res := f.ingest(t, "SKU-2", "lamp.jpg", jpegBytes(t, 8, 8))

	media, err := f.orch.ProductMedia(ctx, tenantA, "prod-2")
	require.NoError(t, err)
	require.Len(t, media, 2)
	assert.True(t, media[0].Legacy)
	assert.Equal(t, "https://cdn.example.com/legacy.jpg", media[0].URL)
	assert.False(t, media[1].Legacy)
	assert.Equal(t, res.MediaID, media[1].ID)
	assert.Contains(t, media[1].URL, "signature=")

	_, err = f.orch.ProductMedia(ctx, "tenant-b", "prod-2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProductMedia_Empty(t *testing.T) {
	f := newFixture(t)
	media, err := f.orch.ProductMedia(context.Background(), tenantA, "prod-1")
	require.NoError(t, err)
	assert.NotNil(t, media)
	assert.Empty(t, media)
}

func TestDeleteProduct(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.ingest(t, "SKU-1", "a.jpg", jpegBytes(t, 8, 8))
	vid := f.ingest(t, "SKU-1", "clip.mp4", mp4Bytes())

	vec := []float32{1, 0, 0, 0}
	require.NoError(t, f.index.Upsert(vectorstore.WithTenantID(ctx, tenantA),
		vectorstore.Entry{AssetID: img.MediaID, Vector: vec},
		vectorstore.Entry{AssetID: vid.MediaID, Vector: vec},
	))
	require.Equal(t, 3, f.objects.Len())

	n, err := f.orch.DeleteProduct(ctx, tenantA, "prod-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "image, video and its thumbnail")

	assert.Zero(t, f.objects.Len())
	assert.Zero(t, f.index.Count())
	_, err = f.assets.Get(ctx, tenantA, img.MediaID)
	assert.ErrorIs(t, err, asset.ErrNotFound)

	n, err = f.orch.DeleteProduct(ctx, tenantA, "prod-1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLink_ResolvesPendingSKU(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.ingest(t, "LAMP-7", "clip.mp4", mp4Bytes())

	_, err := f.orch.Link(ctx, Scope{TenantID: tenantA}, res.MediaID, "")
	assert.ErrorIs(t, err, ErrProductNotFound, "the SKU has no product yet")

	f.catalog.AddProduct(catalog.Product{ID: "prod-7", TenantID: tenantA, SKU: "LAMP-7", Name: "Lamp"})
	a, err := f.orch.Link(ctx, Scope{TenantID: tenantA}, res.MediaID, "")
	require.NoError(t, err)
	require.NotNil(t, a.ProductID)
	assert.Equal(t, "prod-7", *a.ProductID)
	assert.Empty(t, a.PendingSKU)

	listed, err := f.assets.ListByProduct(ctx, tenantA, "prod-7")
	require.NoError(t, err)
	require.Len(t, listed, 2, "the video and its thumbnail")
	for _, m := range listed {
		assert.Empty(t, m.PendingSKU)
	}
}

func TestLink_ExplicitSKU(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.catalog.AddProduct(catalog.Product{ID: "prod-2", TenantID: tenantA, SKU: "SKU-2", Name: "Lamp"})
	res := f.ingest(t, "SKU-1", "a.jpg", jpegBytes(t, 8, 8))

	a, err := f.orch.Link(ctx, Scope{TenantID: tenantA}, res.MediaID, " SKU-2 ")
	require.NoError(t, err)
	assert.Equal(t, "prod-1", *a.ProductID, "the primary product is kept")

	for _, product := range []string{"prod-1", "prod-2"} {
		listed, err := f.assets.ListByProduct(ctx, tenantA, product)
		require.NoError(t, err)
		require.Len(t, listed, 1, product)
	}

	n, err := f.orch.DeleteProduct(ctx, tenantA, "prod-1")
	require.NoError(t, err)
	assert.Zero(t, n, "still linked to prod-2")
	kept, err := f.assets.Get(ctx, tenantA, res.MediaID)
	require.NoError(t, err)
	assert.Equal(t, "prod-2", *kept.ProductID)
}

func TestLink_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	img := f.ingest(t, "SKU-1", "a.jpg", jpegBytes(t, 8, 8))
	vid := f.ingest(t, "SKU-1", "clip.mp4", mp4Bytes())
	thumb, err := f.assets.GetByKey(ctx, tenantA, vid.ThumbnailKey)
	require.NoError(t, err)

	_, err = f.orch.Link(ctx, Scope{TenantID: tenantA}, img.MediaID, "")
	assert.ErrorIs(t, err, ErrSKURequired, "nothing pending and no SKU given")

	_, err = f.orch.Link(ctx, Scope{TenantID: "tenant-b"}, img.MediaID, "SKU-1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.orch.Link(ctx, Scope{TenantID: tenantA}, thumb.ID, "SKU-1")
	assert.ErrorIs(t, err, ErrDerivedAsset)

	_, err = f.orch.Link(ctx, Scope{TenantID: tenantA}, img.MediaID, "NOPE")
	assert.ErrorIs(t, err, ErrProductNotFound)
}
