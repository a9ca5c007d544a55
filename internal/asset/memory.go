package asset

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store with the same semantics as PostgresStore.
type MemoryStore struct {
	mu         sync.RWMutex
	assets     map[string]*MediaAsset
	byKey      map[string]string
	links      map[string]map[string]struct{} // asset id -> product ids
	embeddings map[string]*Embedding
	now        func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		assets:     make(map[string]*MediaAsset),
		byKey:      make(map[string]string),
		links:      make(map[string]map[string]struct{}),
		embeddings: make(map[string]*Embedding),
		now:        time.Now,
	}
}

func clone(a *MediaAsset) *MediaAsset {
	c := *a
	return &c
}

// UpsertByKey implements Store.
func (s *MemoryStore) UpsertByKey(_ context.Context, u Upsert) (*MediaAsset, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	a, exists := s.assets[s.byKey[u.StorageKey]]
	if exists {
		if a.TenantID != u.TenantID {
			return nil, ErrKeyConflict
		}
		a.Attempt++
		delete(s.embeddings, a.ID)
	} else {
		a = &MediaAsset{
			ID:         uuid.NewString(),
			TenantID:   u.TenantID,
			StorageKey: u.StorageKey,
			Attempt:    1,
			CreatedAt:  now,
		}
		s.assets[a.ID] = a
		s.byKey[u.StorageKey] = a.ID
	}

	a.Kind = u.Kind
	a.Width = u.Width
	a.Height = u.Height
	a.ThumbnailKey = u.ThumbnailKey
	a.PendingSKU = u.PendingSKU
	if u.ProductID != nil {
		pid := *u.ProductID
		a.ProductID = &pid
		s.link(a.ID, pid)
	}
	a.Status = u.status()
	a.Error = ""
	a.UpdatedAt = now
	return clone(a), nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, tenantID, id string) (*MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

// GetAny implements Store.
func (s *MemoryStore) GetAny(_ context.Context, id string) (*MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

// GetByKey implements Store.
func (s *MemoryStore) GetByKey(_ context.Context, tenantID, storageKey string) (*MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[s.byKey[storageKey]]
	if !ok || a.TenantID != tenantID {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

// SetState implements Store.
func (s *MemoryStore) SetState(_ context.Context, id string, attempt int64, state State, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return ErrNotFound
	}
	if a.Attempt != attempt {
		return fmt.Errorf("%w: asset %s at attempt %d, write for %d", ErrStaleAttempt, id, a.Attempt, attempt)
	}
	if !a.Status.CanTransition(state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, a.Status, state)
	}
	a.Status = state
	if state == StateFailed {
		a.Error = reason
		delete(s.embeddings, id)
	} else {
		a.Error = ""
	}
	a.UpdatedAt = s.now().UTC()
	return nil
}

// Reset implements Store.
func (s *MemoryStore) Reset(_ context.Context, id string) (*MediaAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.Attempt++
	a.Status = StatePending
	a.Error = ""
	delete(s.embeddings, id)
	a.UpdatedAt = s.now().UTC()
	return clone(a), nil
}

// SaveEmbedding implements Store.
func (s *MemoryStore) SaveEmbedding(_ context.Context, e Embedding) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assets[e.AssetID]; !ok {
		return ErrNotFound
	}
	vec := make([]float32, len(e.Vector))
	copy(vec, e.Vector)
	e.Vector = vec
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.embeddings[e.AssetID] = &e
	return nil
}

// Embedding implements Store.
func (s *MemoryStore) Embedding(_ context.Context, assetID string) (*Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.embeddings[assetID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

// LinkProduct implements Store.
func (s *MemoryStore) LinkProduct(_ context.Context, tenantID, assetID, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assets[assetID]
	if !ok || a.TenantID != tenantID {
		return ErrNotFound
	}
	s.link(assetID, productID)
	if a.ProductID == nil {
		pid := productID
		a.ProductID = &pid
	}
	a.PendingSKU = ""
	a.UpdatedAt = s.now().UTC()
	return nil
}

func (s *MemoryStore) link(assetID, productID string) {
	set, ok := s.links[assetID]
	if !ok {
		set = make(map[string]struct{})
		s.links[assetID] = set
	}
	set[productID] = struct{}{}
}

// ListByProduct implements Store. Results are ordered oldest first.
func (s *MemoryStore) ListByProduct(_ context.Context, tenantID, productID string) ([]*MediaAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*MediaAsset
	for id, set := range s.links {
		if _, ok := set[productID]; !ok {
			continue
		}
		if a := s.assets[id]; a != nil && a.TenantID == tenantID {
			out = append(out, clone(a))
		}
	}
	sortOldestFirst(out)
	return out, nil
}

// DeleteProduct implements Store.
func (s *MemoryStore) DeleteProduct(_ context.Context, tenantID, productID string) ([]Orphan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var orphans []Orphan
	for id, set := range s.links {
		a := s.assets[id]
		if a == nil || a.TenantID != tenantID {
			continue
		}
		if _, ok := set[productID]; !ok {
			continue
		}
		delete(set, productID)
		if len(set) > 0 {
			if a.ProductID != nil && *a.ProductID == productID {
				next := firstProduct(set)
				a.ProductID = &next
				a.UpdatedAt = s.now().UTC()
			}
			continue
		}
		orphans = append(orphans, Orphan{AssetID: id, StorageKey: a.StorageKey, ThumbnailKey: a.ThumbnailKey})
		delete(s.links, id)
		delete(s.byKey, a.StorageKey)
		delete(s.embeddings, id)
		delete(s.assets, id)
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].StorageKey < orphans[j].StorageKey })
	return orphans, nil
}

func firstProduct(set map[string]struct{}) string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids[0]
}

func sortOldestFirst(assets []*MediaAsset) {
	sort.Slice(assets, func(i, j int) bool {
		if !assets[i].CreatedAt.Equal(assets[j].CreatedAt) {
			return assets[i].CreatedAt.Before(assets[j].CreatedAt)
		}
		return assets[i].ID < assets[j].ID
	})
}
