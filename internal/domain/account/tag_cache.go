package account

import (
	"context"

	"github.com/dynacloud/killbill/internal/cache"
	"github.com/dynacloud/killbill/internal/types"
)

// CachedTagStore decorates a TagStore with a read-through cache. Control
// tags are consulted on every payment run and every overdue pass, so lookups
// are cached and invalidated on writes.
type CachedTagStore struct {
	store TagStore
	cache cache.Cache
}

func NewCachedTagStore(store TagStore, c cache.Cache) *CachedTagStore {
	return &CachedTagStore{store: store, cache: c}
}

func (s *CachedTagStore) HasTag(ctx context.Context, accountID string, tag types.ControlTag) (bool, error) {
	key := cache.GenerateKey(cache.PrefixTag, accountID, tag)
	if v, ok := s.cache.Get(ctx, key); ok {
		if has, ok := v.(bool); ok {
			return has, nil
		}
	}

	has, err := s.store.HasTag(ctx, accountID, tag)
	if err != nil {
		return false, err
	}
	s.cache.Set(ctx, key, has, 0)
	return has, nil
}

func (s *CachedTagStore) AddTag(ctx context.Context, accountID string, tag types.ControlTag) error {
	if err := s.store.AddTag(ctx, accountID, tag); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.GenerateKey(cache.PrefixTag, accountID, tag))
	return nil
}

func (s *CachedTagStore) RemoveTag(ctx context.Context, accountID string, tag types.ControlTag) error {
	if err := s.store.RemoveTag(ctx, accountID, tag); err != nil {
		return err
	}
	s.cache.Delete(ctx, cache.GenerateKey(cache.PrefixTag, accountID, tag))
	return nil
}
