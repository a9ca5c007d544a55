package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDim = 4

func newTestChromem(t *testing.T) *ChromemIndex {
	t.Helper()
	idx, err := NewChromemIndex(ChromemConfig{VectorSize: testDim}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func entry(id string, created int, v ...float32) Entry {
	return Entry{
		AssetID:    id,
		ProductID:  "p-" + id,
		Kind:       "image",
		StorageKey: "clients/t/products/s/media/image/" + id + ".jpg",
		Vector:     v,
		CreatedAt:  epoch.Add(time.Duration(created) * time.Minute),
	}
}

func TestChromemConfig_Validate(t *testing.T) {
	cfg := ChromemConfig{}
	cfg.ApplyDefaults()
	assert.Equal(t, "media_embeddings", cfg.Collection)
	assert.Equal(t, 512, cfg.VectorSize)
	assert.NoError(t, cfg.Validate())

	cfg.Collection = "Bad-Name"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidCollectionName)

	cfg = ChromemConfig{Collection: "ok", VectorSize: -1}
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestChromemIndex_UpsertAndSearch(t *testing.T) {
	idx := newTestChromem(t)
	ctx := WithTenantID(context.Background(), "tenant-a")

	require.NoError(t, idx.Upsert(ctx,
		entry("a1", 0, 1, 0, 0, 0),
		entry("a2", 1, 0, 1, 0, 0),
		entry("a3", 2, 0.9, 0.1, 0, 0),
	))

	hits, err := idx.Search(ctx, []float32{1, 0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a1", hits[0].AssetID)
	assert.Equal(t, "a3", hits[1].AssetID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, "tenant-a", hits[0].TenantID)
	assert.Equal(t, "p-a1", hits[0].ProductID)
	assert.Equal(t, epoch, hits[0].CreatedAt)
}

func TestChromemIndex_TenantIsolation(t *testing.T) {
	idx := newTestChromem(t)
	ctxA := WithTenantID(context.Background(), "tenant-a")
	ctxB := WithTenantID(context.Background(), "tenant-b")

	require.NoError(t, idx.Upsert(ctxA, entry("a1", 0, 1, 0, 0, 0)))
	require.NoError(t, idx.Upsert(ctxB, entry("b1", 0, 1, 0, 0, 0)))

	hits, err := idx.Search(ctxB, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b1", hits[0].AssetID)

	// Tenant B cannot delete tenant A's entry.
	require.NoError(t, idx.Delete(ctxB, "a1"))
	hits, err = idx.Search(ctxA, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].AssetID)
}

func TestChromemIndex_TenantStampedFromContext(t *testing.T) {
	idx := newTestChromem(t)
	ctx := WithTenantID(context.Background(), "tenant-a")

	e := entry("a1", 0, 1, 0, 0, 0)
	e.TenantID = "tenant-b"
	require.NoError(t, idx.Upsert(ctx, e))

	hits, err := idx.Search(WithTenantID(context.Background(), "tenant-b"), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemIndex_FailClosed(t *testing.T) {
	idx := newTestChromem(t)
	bg := context.Background()

	_, err := idx.Search(bg, []float32{1, 0, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrMissingTenant)
	assert.ErrorIs(t, idx.Upsert(bg, entry("a1", 0, 1, 0, 0, 0)), ErrMissingTenant)
	assert.ErrorIs(t, idx.Delete(bg, "a1"), ErrMissingTenant)

	_, err = idx.Search(WithTenantID(bg, "bad/tenant"), []float32{1, 0, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrInvalidTenant)
}

func TestChromemIndex_RejectsBadInput(t *testing.T) {
	idx := newTestChromem(t)
	ctx := WithTenantID(context.Background(), "tenant-a")

	assert.ErrorIs(t, idx.Upsert(ctx, entry("a1", 0, 1, 0)), ErrInvalidVector)
	assert.ErrorIs(t, idx.Upsert(ctx, entry("", 0, 1, 0, 0, 0)), ErrInvalidEntry)

	_, err := idx.Search(ctx, []float32{1, 0, 0}, 5)
	assert.ErrorIs(t, err, ErrInvalidVector)
	_, err = idx.Search(ctx, []float32{1, 0, 0, 0}, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestChromemIndex_EmptySearch(t *testing.T) {
	idx := newTestChromem(t)
	hits, err := idx.Search(WithTenantID(context.Background(), "tenant-a"), []float32{1, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemIndex_TiesBreakOldestFirst(t *testing.T) {
	idx := newTestChromem(t)
	ctx := WithTenantID(context.Background(), "tenant-a")

	require.NoError(t, idx.Upsert(ctx,
		entry("newer", 5, 0, 0, 1, 0),
		entry("older", 1, 0, 0, 1, 0),
		entry("oldest-b", 0, 0, 0, 1, 0),
		entry("oldest-a", 0, 0, 0, 1, 0),
	))

	for i := 0; i < 3; i++ {
		hits, err := idx.Search(ctx, []float32{0, 0, 1, 0}, 3)
		require.NoError(t, err)
		require.Len(t, hits, 3)
		assert.Equal(t, []string{"oldest-a", "oldest-b", "older"},
			[]string{hits[0].AssetID, hits[1].AssetID, hits[2].AssetID})
	}
}

func TestChromemIndex_UpsertReplaces(t *testing.T) {
	idx := newTestChromem(t)
	ctx := WithTenantID(context.Background(), "tenant-a")

	require.NoError(t, idx.Upsert(ctx, entry("a1", 0, 1, 0, 0, 0)))
	require.NoError(t, idx.Upsert(ctx, entry("a1", 0, 0, 1, 0, 0)))
	assert.Equal(t, 1, idx.Count())

	hits, err := idx.Search(ctx, []float32{0, 1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
}

func TestChromemIndex_Delete(t *testing.T) {
	idx := newTestChromem(t)
	ctx := WithTenantID(context.Background(), "tenant-a")

	require.NoError(t, idx.Upsert(ctx, entry("a1", 0, 1, 0, 0, 0), entry("a2", 0, 0, 1, 0, 0)))
	require.NoError(t, idx.Delete(ctx, "a1", "missing"))
	assert.Equal(t, 1, idx.Count())
	require.NoError(t, idx.Delete(ctx))
}

func TestChromemIndex_Persistence(t *testing.T) {
	dir := t.TempDir()
	ctx := WithTenantID(context.Background(), "tenant-a")

	idx, err := NewChromemIndex(ChromemConfig{Path: dir, VectorSize: testDim}, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Upsert(ctx, entry("a1", 0, 1, 0, 0, 0)))
	require.NoError(t, idx.Close())

	reopened, err := NewChromemIndex(ChromemConfig{Path: dir, VectorSize: testDim}, nil)
	require.NoError(t, err)
	hits, err := reopened.Search(ctx, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].AssetID)
}
