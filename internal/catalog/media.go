package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/mediasearch/internal/asset"
)

// MediaRef is either a LegacyRef or an AssetRef.
type MediaRef interface {
	mediaRef()
}

// LegacyRef is an entry of a product's loosely typed image or video array.
// URL may be absolute or a bare storage key.
type LegacyRef struct {
	URL  string
	Kind asset.Kind
}

// AssetRef points at a normalized media asset.
type AssetRef struct {
	Asset *asset.MediaAsset
}

func (LegacyRef) mediaRef() {}
func (AssetRef) mediaRef()  {}

// Media is the canonical display form of a product's media.
type Media struct {
	ID           string      `json:"id,omitempty"`
	Kind         asset.Kind  `json:"kind"`
	URL          string      `json:"url"`
	ThumbnailURL string      `json:"thumbnailUrl,omitempty"`
	Status       asset.State `json:"status,omitempty"`
	Legacy       bool        `json:"legacy"`
}

// URLSigner issues read URLs for storage keys.
type URLSigner interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Refs gathers a product's legacy arrays and normalized assets into one list,
// legacy entries first. Legacy entries whose key is also a normalized asset are
// dropped so a migrated item is not listed twice.
func Refs(p *Product, assets []*asset.MediaAsset) []MediaRef {
	normalized := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		normalized[a.StorageKey] = struct{}{}
	}

	var refs []MediaRef
	add := func(urls []string, kind asset.Kind) {
		for _, u := range urls {
			u = strings.TrimSpace(u)
			if u == "" {
				continue
			}
			if _, dup := normalized[keyOf(u)]; dup {
				continue
			}
			refs = append(refs, LegacyRef{URL: u, Kind: kind})
		}
	}
	if p != nil {
		add(p.ImageURLs, asset.KindImage)
		add(p.VideoURLs, asset.KindVideo)
	}
	for _, a := range assets {
		refs = append(refs, AssetRef{Asset: a})
	}
	return refs
}

// ResolveMedia turns refs into display media, minting fresh signed URLs for
// anything held in object storage.
func ResolveMedia(ctx context.Context, refs []MediaRef, signer URLSigner, ttl time.Duration) ([]Media, error) {
	out := make([]Media, 0, len(refs))
	for _, ref := range refs {
		switch r := ref.(type) {
		case LegacyRef:
			u := r.URL
			if !isAbsolute(u) {
				signed, err := signer.SignedURL(ctx, u, ttl)
				if err != nil {
					return nil, fmt.Errorf("sign legacy media %s: %w", u, err)
				}
				u = signed
			}
			out = append(out, Media{Kind: r.Kind, URL: u, Legacy: true})
		case AssetRef:
			m := Media{ID: r.Asset.ID, Kind: r.Asset.Kind, Status: r.Asset.Status}
			u, err := signer.SignedURL(ctx, r.Asset.StorageKey, ttl)
			if err != nil {
				return nil, fmt.Errorf("sign media %s: %w", r.Asset.ID, err)
			}
			m.URL = u
			if r.Asset.ThumbnailKey != "" {
				if m.ThumbnailURL, err = signer.SignedURL(ctx, r.Asset.ThumbnailKey, ttl); err != nil {
					return nil, fmt.Errorf("sign thumbnail %s: %w", r.Asset.ID, err)
				}
			}
			out = append(out, m)
		default:
			return nil, fmt.Errorf("unknown media reference %T", ref)
		}
	}
	return out, nil
}

func isAbsolute(u string) bool {
	return strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://")
}

// keyOf extracts the storage key from an absolute URL pointing at a
// "clients/..." object, or returns u unchanged.
func keyOf(u string) string {
	if !isAbsolute(u) {
		return u
	}
	if i := strings.Index(u, "/clients/"); i >= 0 {
		key := u[i+1:]
		if q := strings.IndexByte(key, '?'); q >= 0 {
			key = key[:q]
		}
		return key
	}
	return u
}
