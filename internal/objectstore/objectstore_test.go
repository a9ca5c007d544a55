package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "clients/t1/products/sku-1/media/image/1700000000000-abcdef012345.jpg"

func TestMemoryStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("http://localhost:8080/objects", []byte("k"))

	obj, err := s.Put(ctx, testKey, []byte("jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, testKey, obj.Key)
	assert.True(t, strings.HasPrefix(obj.URL, "http://localhost:8080/objects/"+testKey+"?"))

	data, err := s.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), data)

	require.NoError(t, s.Delete(ctx, testKey))
	_, err = s.Get(ctx, testKey)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, testKey), "deleting a missing object is a no-op")
}

func TestMemoryStore_RejectsBadKeys(t *testing.T) {
	s := NewMemoryStore("http://x", []byte("k"))
	_, err := s.Put(context.Background(), "../etc/passwd", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, sanitize.ErrPathTraversal)
	assert.Zero(t, s.Len())
}

func TestMemoryStore_SignedURL(t *testing.T) {
	s := NewMemoryStore("http://x", []byte("k"))
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	raw, err := s.SignedURL(context.Background(), testKey, time.Hour)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "1700003600", q.Get("expires"))
	assert.NoError(t, s.Verify(testKey, q.Get("expires"), q.Get("signature")))
	assert.ErrorIs(t, s.Verify("clients/t2/x.jpg", q.Get("expires"), q.Get("signature")), ErrBadSignature)
	assert.ErrorIs(t, s.Verify(testKey, "1700009999", q.Get("signature")), ErrBadSignature)

	now = now.Add(2 * time.Hour)
	assert.ErrorIs(t, s.Verify(testKey, q.Get("expires"), q.Get("signature")), ErrBadSignature)
}

func TestMemoryStore_TTLBounds(t *testing.T) {
	s := NewMemoryStore("http://x", []byte("k"))
	_, err := s.SignedURL(context.Background(), testKey, 8*24*time.Hour)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = s.SignedURL(context.Background(), testKey, -time.Minute)
	assert.ErrorIs(t, err, ErrInvalidTTL)
	_, err = s.SignedURL(context.Background(), testKey, 0)
	assert.NoError(t, err)
}

func TestMemoryStore_Handler(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("", []byte("k"))
	obj, err := s.Put(ctx, testKey, []byte("pixels"), "image/jpeg")
	require.NoError(t, err)

	srv := httptest.NewServer(s.Handler("/objects"))
	defer srv.Close()

	u, err := url.Parse(obj.URL)
	require.NoError(t, err)

	resp, err := http.Get(srv.URL + "/objects" + u.Path + "?" + u.RawQuery)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))
	assert.Equal(t, "pixels", string(body))

	resp, err = http.Get(srv.URL + "/objects" + u.Path + "?expires=1&signature=bad")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
