package search

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/objectstore"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// urlCache keeps signed URLs for half of their lifetime, so a cached URL
// always has at least half of its TTL left when it is handed out.
type urlCache struct {
	objects objectstore.Store
	ttl     time.Duration
	lru     *expirable.LRU[string, string]
}

func newURLCache(objects objectstore.Store, size int, ttl time.Duration) *urlCache {
	return &urlCache{
		objects: objects,
		ttl:     ttl,
		lru:     expirable.NewLRU[string, string](size, nil, ttl/2),
	}
}

func (c *urlCache) sign(ctx context.Context, key string) (string, error) {
	if url, ok := c.lru.Get(key); ok {
		URLCacheLookups.WithLabelValues("hit").Inc()
		return url, nil
	}
	URLCacheLookups.WithLabelValues("miss").Inc()

	url, err := c.objects.SignedURL(ctx, key, c.ttl)
	if err != nil {
		return "", err
	}
	c.lru.Add(key, url)
	return url, nil
}

func (c *urlCache) forget(keys ...string) {
	for _, k := range keys {
		c.lru.Remove(k)
	}
}
