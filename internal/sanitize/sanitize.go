// Package sanitize turns untrusted names into safe identifiers and object keys.
//
// Object keys have the shape
//
//	clients/{tenant}/products/{sku}/media/{kind}/{unixms}-{token}.{ext}
//
// where every segment is lower-case and restricted to [a-z0-9._-].
package sanitize

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

const (
	// MaxIdentifierLength is the maximum length for collection name components.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of the "_<8 hex>" suffix on truncated identifiers.
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "default"

	// MaxSegmentLength bounds a single object key segment.
	MaxSegmentLength = 96

	// UnassignedSKU is the key segment used when an upload carries no SKU.
	UnassignedSKU = "unassigned"
)

// Identifier sanitizes a string for use in vector store collection names,
// which must match ^[a-z0-9_]{1,64}$.
//
//	"Acme Store!" -> "acme_store"
//	"" or "!!!"   -> "default"
func Identifier(s string) string {
	sanitized := collapse(mapRunes(strings.ToLower(s), func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}), "_")
	if sanitized == "" {
		return DefaultIdentifier
	}
	if len(sanitized) > MaxIdentifierLength {
		sanitized = truncateWithHash(sanitized, MaxIdentifierLength, "_")
	}
	return sanitized
}

// Segment sanitizes one path segment of an object key: lower-cased,
// traversal sequences removed, anything outside [a-z0-9._-] replaced with '-'.
// An empty result becomes fallback.
func Segment(s, fallback string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", "")
	}
	sanitized := collapse(mapRunes(s, func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			return r
		}
		return '-'
	}), "-")
	sanitized = strings.Trim(sanitized, ".")
	if sanitized == "" {
		return fallback
	}
	if len(sanitized) > MaxSegmentLength {
		sanitized = truncateWithHash(sanitized, MaxSegmentLength, "-")
	}
	return sanitized
}

// Extension returns the sanitized, dot-less extension of filename, or def
// when it has none.
func Extension(filename, def string) string {
	ext := strings.TrimPrefix(path.Ext(strings.ToLower(filename)), ".")
	ext = Segment(ext, "")
	if ext == "" || len(ext) > 8 {
		return def
	}
	return ext
}

// StorageKey builds a collision-resistant object key for an upload.
// ext overrides the filename's extension when the payload was re-encoded.
func StorageKey(tenantID, sku, kind, ext string, now time.Time) (string, error) {
	token, err := randomToken(6)
	if err != nil {
		return "", fmt.Errorf("generate key token: %w", err)
	}
	return fmt.Sprintf("clients/%s/products/%s/media/%s/%d-%s.%s",
		Segment(tenantID, DefaultIdentifier),
		Segment(sku, UnassignedSKU),
		Segment(kind, "media"),
		now.UnixMilli(),
		token,
		Segment(ext, "bin"),
	), nil
}

// ThumbnailKey derives the companion thumbnail key for a video key.
func ThumbnailKey(videoKey string) string {
	dir, file := path.Split(videoKey)
	base := strings.TrimSuffix(file, path.Ext(file))
	dir = strings.Replace(dir, "/media/video/", "/media/thumbnail/", 1)
	return dir + base + "-thumb.jpg"
}

// IsThumbnailKey reports whether key was derived by ThumbnailKey.
func IsThumbnailKey(key string) bool {
	return strings.Contains(key, "/media/thumbnail/") && strings.HasSuffix(key, "-thumb.jpg")
}

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func mapRunes(s string, f func(rune) rune) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(f(r))
	}
	return b.String()
}

// collapse squeezes runs of sep and trims it from both ends.
func collapse(s, sep string) string {
	double := sep + sep
	for strings.Contains(s, double) {
		s = strings.ReplaceAll(s, double, sep)
	}
	return strings.Trim(s, sep)
}

// truncateWithHash shortens s to max, appending a hash of the original so
// distinct long inputs stay distinct.
func truncateWithHash(s string, max int, sep string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := sep + hex.EncodeToString(hash[:])[:8]
	truncated := strings.TrimRight(s[:max-len(suffix)], sep)
	return truncated + suffix
}
