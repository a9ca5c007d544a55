package sanitize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Acme Store!", "acme_store"},
		{"media_embeddings", "media_embeddings"},
		{"", DefaultIdentifier},
		{"!!!", DefaultIdentifier},
		{"__a__b__", "a_b"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Identifier(tt.in), tt.in)
	}

	long := Identifier(strings.Repeat("x", 100))
	assert.Len(t, long, MaxIdentifierLength)
	assert.NotEqual(t, long, Identifier(strings.Repeat("x", 101)))
}

func TestSegment(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SKU-123", "sku-123"},
		{"../../etc/passwd", "etc-passwd"},
		{"My Product #1", "my-product-1"},
		{"   ", "fallback"},
		{"..", "fallback"},
		{"a....b", "ab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Segment(tt.in, "fallback"), tt.in)
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", Extension("Photo.JPG", "bin"))
	assert.Equal(t, "webp", Extension("a.b.webp", "bin"))
	assert.Equal(t, "bin", Extension("noext", "bin"))
	assert.Equal(t, "bin", Extension("x.verylongextension", "bin"))
}

func TestStorageKey(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	key, err := StorageKey("Tenant_A", "SKU 42/../x", "image", "JPG", now)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "clients/tenant_a/products/sku-42-x/media/image/1700000000000-"), key)
	assert.True(t, strings.HasSuffix(key, ".jpg"), key)
	assert.Equal(t, strings.ToLower(key), key)
	assert.NoError(t, ValidateKey(key))

	other, err := StorageKey("Tenant_A", "SKU 42/../x", "image", "JPG", now)
	require.NoError(t, err)
	assert.NotEqual(t, key, other, "same inputs must still produce distinct keys")
}

func TestStorageKey_UnassignedSKU(t *testing.T) {
	key, err := StorageKey("t1", "", "video", "mp4", time.Now())
	require.NoError(t, err)
	assert.Contains(t, key, "/products/"+UnassignedSKU+"/")
}

func TestThumbnailKey(t *testing.T) {
	got := ThumbnailKey("clients/t1/products/sku/media/video/123-abc.mp4")
	assert.Equal(t, "clients/t1/products/sku/media/thumbnail/123-abc-thumb.jpg", got)
	assert.NoError(t, ValidateKey(got))
	assert.True(t, IsThumbnailKey(got))
	assert.False(t, IsThumbnailKey("clients/t1/products/sku/media/image/123-abc.jpg"))
	assert.False(t, IsThumbnailKey("clients/t1/products/sku/media/image/123-abc-thumb.jpg"))
}

func TestCheckFilename(t *testing.T) {
	valid := []string{"photo.jpg", "My Photo (1).PNG", "clip.mp4"}
	for _, name := range valid {
		assert.NoError(t, CheckFilename(name), name)
	}

	tests := []struct {
		name string
		want error
	}{
		{"", ErrEmptyFilename},
		{"../../etc/passwd", ErrPathTraversal},
		{"a..jpg", ErrPathTraversal},
		{"dir/file.jpg", ErrPathTraversal},
		{`dir\file.jpg`, ErrPathTraversal},
		{"<SCRIPT>alert(1).jpg", ErrSuspiciousFilename},
		{"JavaScript:alert(1).png", ErrSuspiciousFilename},
		{"vbscript:run.jpg", ErrSuspiciousFilename},
		{"data:image.png", ErrSuspiciousFilename},
		{"nul\x00.jpg", ErrSuspiciousFilename},
		{strings.Repeat("a", 300) + ".jpg", ErrSuspiciousFilename},
	}
	for _, tt := range tests {
		assert.ErrorIs(t, CheckFilename(tt.name), tt.want, tt.name)
	}
}

func TestValidateKey(t *testing.T) {
	assert.ErrorIs(t, ValidateKey("clients/t/products/s/media/image/../x.jpg"), ErrPathTraversal)
	assert.ErrorIs(t, ValidateKey("/etc/passwd"), ErrInvalidKey)
	assert.ErrorIs(t, ValidateKey("clients/T/products/s/media/image/x.jpg"), ErrInvalidKey)
}

func TestValidateTenantID(t *testing.T) {
	assert.NoError(t, ValidateTenantID("clx9a8b7c"))
	assert.NoError(t, ValidateTenantID("tenant_1-a"))
	assert.ErrorIs(t, ValidateTenantID(""), ErrInvalidTenantID)
	assert.ErrorIs(t, ValidateTenantID("a/b"), ErrInvalidTenantID)
	assert.ErrorIs(t, ValidateTenantID(strings.Repeat("a", 65)), ErrInvalidTenantID)
}
