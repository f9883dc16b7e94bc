// Package memory implements assetrepo.Store with in-process maps, for tests
// and single-node development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediaforge/assetstore/pkg/assetstore"
	"github.com/mediaforge/assetstore/pkg/assetstore/assetrepo"
	"github.com/mediaforge/assetstore/pkg/assetstore/media"
)

// Store is an in-memory implementation of assetrepo.Store.
type Store struct {
	mu       sync.RWMutex
	assets   map[uuid.UUID]*assetrepo.Asset
	variants map[uuid.UUID][]*assetstore.AssetVariant
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		assets:   make(map[uuid.UUID]*assetrepo.Asset),
		variants: make(map[uuid.UUID][]*assetstore.AssetVariant),
	}
}

func (s *Store) CreateAsset(ctx context.Context, asset *assetrepo.Asset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *asset
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.assets[cp.ID] = &cp
	return nil
}

func (s *Store) GetAsset(ctx context.Context, id uuid.UUID) (*assetrepo.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	asset, ok := s.assets[id]
	if !ok {
		return nil, assetrepo.ErrAssetNotFound
	}
	cp := *asset
	return &cp, nil
}

func (s *Store) ListAssets(ctx context.Context, limit, offset int) ([]*assetrepo.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*assetrepo.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		cp := *a
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID.String() < all[j].ID.String()
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

func (s *Store) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[id]; !ok {
		return assetrepo.ErrAssetNotFound
	}
	delete(s.assets, id)
	delete(s.variants, id)
	return nil
}

func (s *Store) UpdateProcessingState(ctx context.Context, id uuid.UUID, state assetstore.ProcessingState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[id]
	if !ok {
		return assetrepo.ErrAssetNotFound
	}
	asset.State = state
	if state == assetstore.ProcessingStateFailed {
		asset.FailureReason = reason
	} else {
		asset.FailureReason = ""
	}
	asset.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SaveMetadata(ctx context.Context, id uuid.UUID, meta *media.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	asset, ok := s.assets[id]
	if !ok {
		return assetrepo.ErrAssetNotFound
	}
	cp := *meta
	asset.Metadata = &cp
	asset.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) CreateVariant(ctx context.Context, v *assetstore.AssetVariant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assets[v.AssetID]; !ok {
		return assetrepo.ErrAssetNotFound
	}

	cp := *v
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}

	// A re-render of the same variant type replaces the previous row.
	existing := s.variants[v.AssetID]
	for i, old := range existing {
		if old.VariantType == v.VariantType {
			existing[i] = &cp
			return nil
		}
	}
	s.variants[v.AssetID] = append(existing, &cp)
	return nil
}

func (s *Store) ListVariants(ctx context.Context, assetID uuid.UUID) ([]*assetstore.AssetVariant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	variants := s.variants[assetID]
	out := make([]*assetstore.AssetVariant, 0, len(variants))
	for _, v := range variants {
		cp := *v
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VariantType < out[j].VariantType })
	return out, nil
}

func (s *Store) DeleteVariants(ctx context.Context, assetID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.variants, assetID)
	return nil
}

var _ assetrepo.Store = (*Store)(nil)
