// Package asset is the system of record for ingested media and their
// embeddings.
//
// Every write is keyed: UpsertByKey is idempotent on the storage key, and
// SetState is the only path that changes processing status. Each upsert or
// reset bumps Attempt, and SetState is conditional on it, so a late write from
// an older attempt can never overwrite a newer pending reset.
//
// An embedding exists only for a completed asset: re-upserting, resetting or
// failing an asset deletes its embedding row.
package asset

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Kind is the media family of an asset.
type Kind string

// Asset kinds.
const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// State is an asset's processing state.
type State string

// Processing states.
const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateProcessing, StateCompleted, StateFailed:
		return true
	}
	return false
}

// CanTransition reports whether SetState may move an asset from s to next.
// Returning to pending is only possible through Reset or UpsertByKey.
func (s State) CanTransition(next State) bool {
	switch next {
	case StateProcessing:
		// processing -> processing covers queue redelivery.
		return s == StatePending || s == StateProcessing
	case StateCompleted:
		return s == StateProcessing
	case StateFailed:
		return s == StatePending || s == StateProcessing
	}
	return false
}

// Dimension is the embedding length agreed with the embedding service.
const Dimension = 512

var (
	// ErrNotFound indicates the asset does not exist for the caller's tenant.
	ErrNotFound = errors.New("media asset not found")

	// ErrStaleAttempt indicates a state write for a superseded attempt.
	ErrStaleAttempt = errors.New("stale processing attempt")

	// ErrInvalidTransition indicates a state change the machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrKeyConflict indicates a storage key already owned by another tenant.
	ErrKeyConflict = errors.New("storage key owned by another tenant")

	// ErrInvalidDimension indicates an embedding of the wrong length.
	ErrInvalidDimension = errors.New("invalid embedding dimension")
)

// MediaAsset is one ingested file.
type MediaAsset struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenantId"`
	ProductID    *string   `json:"productId,omitempty"`
	Kind         Kind      `json:"kind"`
	StorageKey   string    `json:"key"`
	Width        *int      `json:"width,omitempty"`
	Height       *int      `json:"height,omitempty"`
	DurationMS   *int      `json:"durationMs,omitempty"`
	Status       State     `json:"status"`
	Error        string    `json:"error,omitempty"`
	ThumbnailKey string    `json:"thumbnailKey,omitempty"`
	PendingSKU   string    `json:"pendingSku,omitempty"`
	Attempt      int64     `json:"attempt"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Upsert carries the fields written by UpsertByKey.
type Upsert struct {
	TenantID     string
	ProductID    *string
	Kind         Kind
	StorageKey   string
	Width        *int
	Height       *int
	ThumbnailKey string
	PendingSKU   string
	// Status defaults to pending. Locally synthesized thumbnails are
	// written as completed.
	Status State
}

// Validate checks required fields.
func (u Upsert) Validate() error {
	if u.TenantID == "" {
		return errors.New("tenant id is required")
	}
	if u.StorageKey == "" {
		return errors.New("storage key is required")
	}
	if !u.Kind.Valid() {
		return fmt.Errorf("invalid kind %q", u.Kind)
	}
	if u.Status != "" && u.Status != StatePending && u.Status != StateCompleted {
		return fmt.Errorf("upsert status must be pending or completed, got %q", u.Status)
	}
	return nil
}

func (u Upsert) status() State {
	if u.Status == "" {
		return StatePending
	}
	return u.Status
}

// Embedding is the vector derived from a completed asset.
type Embedding struct {
	TenantID  string    `json:"tenantId"`
	AssetID   string    `json:"assetId"`
	Vector    []float32 `json:"-"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"createdAt"`
}

// Validate enforces the dimension contract.
func (e Embedding) Validate() error {
	if e.TenantID == "" || e.AssetID == "" {
		return errors.New("embedding requires tenant and asset id")
	}
	if len(e.Vector) != Dimension {
		return fmt.Errorf("%w: got %d, want %d", ErrInvalidDimension, len(e.Vector), Dimension)
	}
	return nil
}

// Store persists media assets, their product links and embeddings.
type Store interface {
	UpsertByKey(ctx context.Context, u Upsert) (*MediaAsset, error)
	Get(ctx context.Context, tenantID, id string) (*MediaAsset, error)
	// GetAny reads an asset regardless of tenant. Callers must hold the super role.
	GetAny(ctx context.Context, id string) (*MediaAsset, error)
	GetByKey(ctx context.Context, tenantID, storageKey string) (*MediaAsset, error)
	SetState(ctx context.Context, id string, attempt int64, state State, reason string) error
	Reset(ctx context.Context, id string) (*MediaAsset, error)
	SaveEmbedding(ctx context.Context, e Embedding) error
	Embedding(ctx context.Context, assetID string) (*Embedding, error)
	LinkProduct(ctx context.Context, tenantID, assetID, productID string) error
	ListByProduct(ctx context.Context, tenantID, productID string) ([]*MediaAsset, error)
	DeleteProduct(ctx context.Context, tenantID, productID string) (orphans []Orphan, err error)
}

// Orphan is an asset removed by a cascading delete whose storage objects and
// index entries must now be reclaimed.
type Orphan struct {
	AssetID      string
	StorageKey   string
	ThumbnailKey string
}

// Keys returns every storage key held by the orphan.
func (o Orphan) Keys() []string {
	if o.ThumbnailKey == "" {
		return []string{o.StorageKey}
	}
	return []string{o.StorageKey, o.ThumbnailKey}
}
