package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRank(t *testing.T) {
	hits := []Hit{
		{AssetID: "c", Score: 0.5, CreatedAt: epoch},
		{AssetID: "b", Score: 0.9, CreatedAt: epoch.Add(2)},
		{AssetID: "a", Score: 0.9, CreatedAt: epoch.Add(2)},
		{AssetID: "z", Score: 0.9, CreatedAt: epoch.Add(1)},
	}
	got := rank(hits, 3)
	require.Len(t, got, 3)
	assert.Equal(t, "z", got[0].AssetID)
	assert.Equal(t, "a", got[1].AssetID)
	assert.Equal(t, "b", got[2].AssetID)
}

func TestOverfetch(t *testing.T) {
	assert.Equal(t, 9, overfetch(1))
	assert.Equal(t, 48, overfetch(24))
}

func TestCheckTopK(t *testing.T) {
	k, err := checkTopK(MaxTopK + 5)
	require.NoError(t, err)
	assert.Equal(t, MaxTopK, k)
	_, err = checkTopK(-1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPgvectorIndex_Guards(t *testing.T) {
	_, err := NewPgvectorIndex(nil, 512)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	idx := &PgvectorIndex{dimension: testDim, isolation: NewPayloadIsolation()}
	assert.ErrorIs(t, idx.Upsert(context.Background(), entry("a1", 0, 1, 0, 0, 0)), ErrMissingTenant)
	ctx := WithTenantID(context.Background(), "tenant-a")
	assert.NoError(t, idx.Upsert(ctx, entry("a1", 0, 1, 0, 0, 0)))
	assert.ErrorIs(t, idx.Upsert(ctx, entry("a1", 0, 1)), ErrInvalidVector)
	assert.NoError(t, idx.Delete(ctx, "a1"))
	_, err = idx.Search(ctx, []float32{1}, 5)
	assert.ErrorIs(t, err, ErrInvalidVector)
}
