package ruleset

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/liamcoop/incentives/incentive"
)

const activeKey = "active"

// InMemoryCache implements Cache on top of go-cache.
// Thread-safe for concurrent access.
type InMemoryCache struct {
	store *cache.Cache
}

// NewInMemoryCache creates a new in-memory rule set cache
func NewInMemoryCache(config CacheConfig) *InMemoryCache {
	ttl := config.TTL
	cleanup := time.Minute
	if ttl <= 0 {
		ttl = cache.NoExpiration
		cleanup = 0
	}
	return &InMemoryCache{
		store: cache.New(ttl, cleanup),
	}
}

// Get returns copies of the cached rule sets
func (c *InMemoryCache) Get() ([]*incentive.RuleSet, bool) {
	v, found := c.store.Get(activeKey)
	if !found {
		return nil, false
	}
	return cloneAll(v.([]*incentive.RuleSet)), true
}

// Set stores copies of sets
func (c *InMemoryCache) Set(sets []*incentive.RuleSet) {
	c.store.Set(activeKey, cloneAll(sets), cache.DefaultExpiration)
}

// Invalidate clears the cache
func (c *InMemoryCache) Invalidate() {
	c.store.Delete(activeKey)
}

// IsValid returns true if cache contains unexpired data
func (c *InMemoryCache) IsValid() bool {
	_, found := c.store.Get(activeKey)
	return found
}

func cloneAll(sets []*incentive.RuleSet) []*incentive.RuleSet {
	out := make([]*incentive.RuleSet, len(sets))
	for i, rs := range sets {
		out[i] = rs.Clone()
	}
	return out
}
