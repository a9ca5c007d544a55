package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
	"github.com/fyrsmithlabs/mediasearch/internal/embeddings"
	"github.com/fyrsmithlabs/mediasearch/internal/objectstore"
	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
	"github.com/fyrsmithlabs/mediasearch/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantA = "tenant-a"

type fakeEmbedder struct {
	mu    sync.Mutex
	dim   int
	err   error
	calls []string
}

func (f *fakeEmbedder) EmbedImage(_ context.Context, filename string, data []byte) (*embeddings.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filename)
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, f.dim)
	v[len(data)%f.dim] = 1
	return &embeddings.Result{Vector: v, Model: "clip-test", Device: "cpu"}, nil
}

func (f *fakeEmbedder) filenames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fixture struct {
	assets   *asset.MemoryStore
	objects  *objectstore.MemoryStore
	embedder *fakeEmbedder
	index    *vectorstore.ChromemIndex
	proc     *Processor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	idx, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: asset.Dimension}, nil)
	require.NoError(t, err)

	f := &fixture{
		assets:   asset.NewMemoryStore(),
		objects:  objectstore.NewMemoryStore("http://media.test", []byte("k")),
		embedder: &fakeEmbedder{dim: asset.Dimension},
		index:    idx,
	}
	f.proc = NewProcessor(f.assets, f.objects, f.embedder, f.index, nil)
	return f
}

func (f *fixture) put(t *testing.T, kind string) string {
	t.Helper()
	ext := "jpg"
	if kind == "video" {
		ext = "mp4"
	}
	key, err := sanitize.StorageKey(tenantA, "sku-1", kind, ext, time.Now())
	require.NoError(t, err)
	_, err = f.objects.Put(context.Background(), key, []byte("bytes-"+key), "application/octet-stream")
	require.NoError(t, err)
	return key
}

func (f *fixture) image(t *testing.T) *asset.MediaAsset {
	t.Helper()
	a, err := f.assets.UpsertByKey(context.Background(), asset.Upsert{
		TenantID: tenantA, Kind: asset.KindImage, StorageKey: f.put(t, "image"),
	})
	require.NoError(t, err)
	return a
}

func jobFor(a *asset.MediaAsset) Job {
	return Job{AssetID: a.ID, TenantID: a.TenantID, Attempt: a.Attempt}
}

func TestProcessor_Image(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.image(t)

	require.NoError(t, f.proc.Process(ctx, jobFor(a)))

	got, err := f.assets.Get(ctx, tenantA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StateCompleted, got.Status)
	assert.Empty(t, got.Error)

	emb, err := f.assets.Embedding(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, emb.Vector, asset.Dimension)
	assert.Equal(t, "clip-test", emb.Model)

	hits, err := f.index.Search(vectorstore.WithTenantID(ctx, tenantA), emb.Vector, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].AssetID)
}

func TestProcessor_VideoEmbedsThumbnail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	videoKey := f.put(t, "video")
	thumbKey := sanitize.ThumbnailKey(videoKey)
	_, err := f.objects.Put(ctx, thumbKey, []byte("thumb"), "image/jpeg")
	require.NoError(t, err)

	a, err := f.assets.UpsertByKey(ctx, asset.Upsert{
		TenantID: tenantA, Kind: asset.KindVideo, StorageKey: videoKey, ThumbnailKey: thumbKey,
	})
	require.NoError(t, err)

	require.NoError(t, f.proc.Process(ctx, jobFor(a)))
	require.Len(t, f.embedder.filenames(), 1)
	assert.Contains(t, f.embedder.filenames()[0], "-thumb.jpg")

	got, err := f.assets.Get(ctx, tenantA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StateCompleted, got.Status)
}

func TestProcessor_Failures(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(f *fixture)
		reason string
	}{
		{
			name:   "service unavailable",
			setup:  func(f *fixture) { f.embedder.err = fmt.Errorf("%w: dial tcp", embeddings.ErrServiceUnavailable) },
			reason: "embedding service unavailable",
		},
		{
			name:   "dimension mismatch",
			setup:  func(f *fixture) { f.embedder.dim = 384 },
			reason: "invalid embedding dimension",
		},
		{
			name:   "bad status",
			setup:  func(f *fixture) { f.embedder.err = fmt.Errorf("%w: 500", embeddings.ErrBadStatus) },
			reason: "500",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := f.image(t)
			tt.setup(f)

			err := f.proc.Process(ctx, jobFor(a))
			require.Error(t, err)

			got, err := f.assets.Get(ctx, tenantA, a.ID)
			require.NoError(t, err)
			assert.Equal(t, asset.StateFailed, got.Status)
			assert.Contains(t, got.Error, tt.reason)

			_, err = f.assets.Embedding(ctx, a.ID)
			assert.ErrorIs(t, err, asset.ErrNotFound, "no embedding row on failure")
			assert.Zero(t, f.index.Count())
		})
	}
}

func TestProcessor_MissingObject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.assets.UpsertByKey(ctx, asset.Upsert{
		TenantID: tenantA, Kind: asset.KindImage, StorageKey: "clients/tenant-a/products/x/media/image/1-a.jpg",
	})
	require.NoError(t, err)

	require.Error(t, f.proc.Process(ctx, jobFor(a)))
	got, err := f.assets.Get(ctx, tenantA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StateFailed, got.Status)
	assert.Contains(t, got.Error, "read media")
}

func TestProcessor_StaleAttemptDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.image(t)
	stale := jobFor(a)

	// Re-ingesting the same key supersedes the queued job.
	b, err := f.assets.UpsertByKey(ctx, asset.Upsert{TenantID: tenantA, Kind: asset.KindImage, StorageKey: a.StorageKey})
	require.NoError(t, err)
	require.Equal(t, a.Attempt+1, b.Attempt)

	require.NoError(t, f.proc.Process(ctx, stale))
	assert.Empty(t, f.embedder.filenames())

	got, err := f.assets.Get(ctx, tenantA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StatePending, got.Status)

	require.NoError(t, f.proc.Process(ctx, jobFor(b)))
	got, err = f.assets.Get(ctx, tenantA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StateCompleted, got.Status)
}

func TestProcessor_DroppedJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.image(t)

	assert.NoError(t, f.proc.Process(ctx, Job{AssetID: "missing", TenantID: tenantA, Attempt: 1}))
	assert.NoError(t, f.proc.Process(ctx, Job{AssetID: a.ID, TenantID: "tenant-b", Attempt: a.Attempt}), "other tenant sees nothing")
	assert.NoError(t, f.proc.Process(ctx, Job{}))
	assert.Empty(t, f.embedder.filenames())
}

func TestProcessor_ReprocessAfterFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.image(t)

	f.embedder.err = errors.New("boom")
	require.Error(t, f.proc.Process(ctx, jobFor(a)))

	f.embedder.err = nil
	reset, err := f.assets.Reset(ctx, a.ID)
	require.NoError(t, err)
	require.NoError(t, f.proc.Process(ctx, jobFor(reset)))

	got, err := f.assets.Get(ctx, tenantA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StateCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestProcessor_FailedReprocessRemovesVector(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.image(t)
	require.NoError(t, f.proc.Process(ctx, jobFor(a)))
	require.Equal(t, 1, f.index.Count())

	reset, err := f.assets.Reset(ctx, a.ID)
	require.NoError(t, err)
	f.embedder.dim = 100

	err = f.proc.Process(ctx, jobFor(reset))
	require.ErrorIs(t, err, asset.ErrInvalidDimension)

	got, err := f.assets.Get(ctx, tenantA, a.ID)
	require.NoError(t, err)
	assert.Equal(t, asset.StateFailed, got.Status)
	_, err = f.assets.Embedding(ctx, a.ID)
	assert.ErrorIs(t, err, asset.ErrNotFound)
	assert.Zero(t, f.index.Count(), "the vector of the earlier completed attempt is gone")
}
