package objectstore

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/sanitize"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps objects in process memory and signs URLs with HMAC.
//
// It backs the development profile and tests. Handler serves the signed URLs
// it produces so the full upload-then-display loop works without S3.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	baseURL string
	key     []byte
	now     func() time.Time
}

// NewMemoryStore returns a store whose URLs are rooted at baseURL
// (e.g. http://localhost:8080/objects) and signed with signingKey.
func NewMemoryStore(baseURL string, signingKey []byte) *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		baseURL: strings.TrimRight(baseURL, "/"),
		key:     signingKey,
		now:     time.Now,
	}
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	if err := sanitize.ValidateKey(key); err != nil {
		return Object{}, err
	}
	buf := make([]byte, len(data))
	copy(buf, data)

	s.mu.Lock()
	s.objects[key] = memoryObject{data: buf, contentType: contentType}
	s.mu.Unlock()

	signed, err := s.SignedURL(ctx, key, DefaultTTL)
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: signed}, nil
}

// SignedURL implements Store.
func (s *MemoryStore) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	ttl, err := checkTTL(ttl)
	if err != nil {
		return "", err
	}
	expires := s.now().Add(ttl).Unix()
	q := url.Values{}
	q.Set("expires", strconv.FormatInt(expires, 10))
	q.Set("signature", s.sign(key, expires))
	return fmt.Sprintf("%s/%s?%s", s.baseURL, key, q.Encode()), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[key]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	out := make([]byte, len(obj.data))
	copy(out, obj.data)
	return out, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.objects, key)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Verify checks a signature produced by SignedURL.
func (s *MemoryStore) Verify(key, expires, signature string) error {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if s.now().Unix() > exp {
		return ErrBadSignature
	}
	if !hmac.Equal([]byte(signature), []byte(s.sign(key, exp))) {
		return ErrBadSignature
	}
	return nil
}

func (s *MemoryStore) sign(key string, expires int64) string {
	mac := hmac.New(sha256.New, s.key)
	fmt.Fprintf(mac, "%s\n%d", key, expires)
	return hex.EncodeToString(mac.Sum(nil))
}

// Handler serves objects under prefix after verifying the URL signature.
func (s *MemoryStore) Handler(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.URL.Path, prefix)
		key = strings.TrimPrefix(key, "/")
		q := r.URL.Query()
		if err := s.Verify(key, q.Get("expires"), q.Get("signature")); err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		s.mu.RLock()
		obj, ok := s.objects[key]
		s.mu.RUnlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", obj.contentType)
		w.Header().Set("Cache-Control", "private, max-age=3600")
		_, _ = w.Write(obj.data)
	})
}
