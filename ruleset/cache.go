package ruleset

import (
	"time"

	"github.com/liamcoop/incentives/incentive"
)

// Cache holds the active rule sets between mutations.
type Cache interface {
	// Get returns the cached rule sets and whether the cache was valid
	Get() ([]*incentive.RuleSet, bool)

	// Set stores rule sets in cache
	Set(sets []*incentive.RuleSet)

	// Invalidate clears the cache, forcing a refresh on next Get
	Invalidate()

	// IsValid returns true if cache has valid data
	IsValid() bool
}

// CacheConfig holds configuration for cache behavior
type CacheConfig struct {
	// TTL is the time-to-live for cached entries.
	// Set to 0 for no expiration (manual invalidation only).
	TTL time.Duration
}

// DefaultCacheConfig returns the cache settings used when none are configured
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL: 0, // only invalidate on mutations and change notifications
	}
}
