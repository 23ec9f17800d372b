// Package cache implements the rendered-feed result cache.
package cache

import (
	"context"
	"time"
)

// DefaultTTL is how long a rendered document stays valid.
const DefaultTTL = 15 * time.Minute

// Backend persists cache rows. database.Store satisfies it.
type Backend interface {
	GetCachedFeed(ctx context.Context, feedID string, notBefore time.Time) ([]byte, bool, error)
	SaveCachedFeed(ctx context.Context, feedID string, value []byte, created, expireBefore time.Time) error
}

// Cache is a TTL cache of rendered documents keyed by feed ID. Rows are
// append-only; expired rows of every feed are swept on each Put.
type Cache struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache. A non-positive ttl selects DefaultTTL.
func New(backend Backend, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{backend: backend, ttl: ttl, now: time.Now}
}

// WithClock replaces the clock used for TTL arithmetic.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// TTL returns the validity window.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the newest document stored for feedID within the TTL.
func (c *Cache) Get(ctx context.Context, feedID string) ([]byte, bool, error) {
	return c.backend.GetCachedFeed(ctx, feedID, c.now().Add(-c.ttl))
}

// Put sweeps expired rows and stores value as the newest entry for feedID.
func (c *Cache) Put(ctx context.Context, feedID string, value []byte) error {
	now := c.now()
	return c.backend.SaveCachedFeed(ctx, feedID, value, now, now.Add(-c.ttl))
}
