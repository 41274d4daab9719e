package ruleset

import (
	"context"
	"log/slog"
	"sync"

	"github.com/liamcoop/incentives/incentive"
)

// CachedStore wraps a Store and serves ListActive from a Cache.
// Every successful mutation invalidates the cache. A load that overlaps an
// invalidation is returned to its caller but not cached.
type CachedStore struct {
	Store
	cache  Cache
	logger *slog.Logger

	mu         sync.Mutex
	generation uint64 // bumped by Invalidate
}

// NewCachedStore creates a read-through cache in front of store
func NewCachedStore(store Store, c Cache, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{Store: store, cache: c, logger: logger}
}

// ListActive returns the cached active rule sets, loading them on a miss
func (s *CachedStore) ListActive(ctx context.Context) ([]*incentive.RuleSet, error) {
	if sets, ok := s.cache.Get(); ok {
		return sets, nil
	}

	s.mu.Lock()
	gen := s.generation
	s.mu.Unlock()

	sets, err := s.Store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		s.logger.Debug("Active rule sets changed during load, not caching", "count", len(sets))
		return sets, nil
	}
	s.cache.Set(sets)
	s.logger.Debug("Active rule sets loaded", "count", len(sets))
	return sets, nil
}

// Invalidate drops the cached active rule sets
func (s *CachedStore) Invalidate() {
	s.mu.Lock()
	s.generation++
	s.cache.Invalidate()
	s.mu.Unlock()
	s.logger.Debug("Active rule set cache invalidated")
}

func (s *CachedStore) Add(ctx context.Context, rs *incentive.RuleSet) error {
	if err := s.Store.Add(ctx, rs); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

func (s *CachedStore) Update(ctx context.Context, rs *incentive.RuleSet) error {
	if err := s.Store.Update(ctx, rs); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}

func (s *CachedStore) SetActive(ctx context.Context, id string, active bool) (*incentive.RuleSet, error) {
	rs, err := s.Store.SetActive(ctx, id, active)
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return rs, nil
}

func (s *CachedStore) Delete(ctx context.Context, id string) error {
	if err := s.Store.Delete(ctx, id); err != nil {
		return err
	}
	s.Invalidate()
	return nil
}
