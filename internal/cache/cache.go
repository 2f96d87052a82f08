package cache

import (
	"sync"
	"time"

	"marketwatch/internal/market"
)

// SnapshotCache holds the last-known-good asset data per category. Readers
// always see a fully consistent snapshot: publishes swap one category's
// immutable map under the lock, and Read copies only the top-level maps, so
// a snapshot handed out is never mutated afterwards.
type SnapshotCache struct {
	mu        sync.RWMutex
	assets    map[market.Category]market.AssetMap
	freshness map[market.Category]time.Time
	updatedAt time.Time
}

// New constructs an empty cache. Until the first publish, Read returns a
// snapshot with no assets and a zero LastUpdatedAt.
func New() *SnapshotCache {
	return &SnapshotCache{
		assets:    make(map[market.Category]market.AssetMap),
		freshness: make(map[market.Category]time.Time),
	}
}

// Publish swaps in a new asset map for exactly one category and stamps its
// freshness. An empty map is a no-op: a degenerate upstream payload must
// never erase good data (staleness is preferred over emptiness). Reports
// whether the category was actually updated.
func (c *SnapshotCache) Publish(cat market.Category, assets market.AssetMap, now time.Time) bool {
	if len(assets) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.assets[cat] = assets
	c.freshness[cat] = now
	c.updatedAt = now
	return true
}

// Read returns the most recently published snapshot. It never blocks on an
// in-flight refresh beyond the brief map copy under the read lock.
func (c *SnapshotCache) Read() market.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	assets := make(map[market.Category]market.AssetMap, len(c.assets))
	for cat, m := range c.assets {
		assets[cat] = m
	}
	freshness := make(map[market.Category]time.Time, len(c.freshness))
	for cat, ts := range c.freshness {
		freshness[cat] = ts
	}

	return market.Snapshot{
		Assets:        assets,
		Freshness:     freshness,
		LastUpdatedAt: c.updatedAt,
	}
}
