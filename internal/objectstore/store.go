// Package objectstore stores original and derived media objects by key and
// issues time-limited signed read URLs for them.
//
// Records elsewhere in the system keep only the key; URLs are minted on read
// and are never persisted.
package objectstore

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is the signed URL lifetime used for catalog display.
const DefaultTTL = 7 * 24 * time.Hour

var (
	// ErrNotFound indicates no object exists under the key.
	ErrNotFound = errors.New("object not found")

	// ErrInvalidTTL indicates a signed URL lifetime outside (0, 7d].
	ErrInvalidTTL = errors.New("invalid signed url ttl")

	// ErrBadSignature indicates a signed URL failed verification.
	ErrBadSignature = errors.New("invalid or expired signature")
)

// Object describes a stored object.
type Object struct {
	Key string
	URL string
}

// Store is the object storage contract used by the pipeline.
type Store interface {
	// Put writes data under key. key must come from sanitize.StorageKey.
	Put(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	// SignedURL returns a read URL for key valid for ttl.
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Get reads an object back, used by the embedding worker.
	Get(ctx context.Context, key string) ([]byte, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

func checkTTL(ttl time.Duration) (time.Duration, error) {
	if ttl == 0 {
		return DefaultTTL, nil
	}
	if ttl < time.Second || ttl > DefaultTTL {
		return 0, ErrInvalidTTL
	}
	return ttl, nil
}
