package cache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ssaamm/rss2/internal/cache"
	"github.com/ssaamm/rss2/internal/database"
	"github.com/ssaamm/rss2/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newStore(t *testing.T, feedIDs ...string) *database.DB {
	t.Helper()
	db, err := database.New(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for _, id := range feedIDs {
		require.NoError(t, db.InsertFeed(context.Background(), &model.Feed{
			ID:      id,
			Created: time.Now(),
			Config:  model.CombineConfig{URLs: []string{"http://example.com"}},
		}))
	}
	return db
}

func TestCacheHitWithinTTL(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.New(newStore(t, "f"), 0).WithClock(clk.now)
	assert.Equal(t, cache.DefaultTTL, c.TTL())

	_, ok, err := c.Get(ctx, "f")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "f", []byte("<rss/>")))
	clk.t = clk.t.Add(14 * time.Minute)

	value, ok, err := c.Get(ctx, "f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("<rss/>"), value)
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.New(newStore(t, "f", "g"), 15*time.Minute).WithClock(clk.now)

	require.NoError(t, c.Put(ctx, "f", []byte("f1")))
	require.NoError(t, c.Put(ctx, "g", []byte("g1")))

	clk.t = clk.t.Add(16 * time.Minute)
	_, ok, err := c.Get(ctx, "f")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "f", []byte("f2")))
	value, ok, err := c.Get(ctx, "f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("f2"), value)

	_, ok, err = c.Get(ctx, "g")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheNewestWins(t *testing.T) {
	ctx := context.Background()
	clk := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := cache.New(newStore(t, "f"), time.Hour).WithClock(clk.now)

	require.NoError(t, c.Put(ctx, "f", []byte("one")))
	clk.t = clk.t.Add(time.Second)
	require.NoError(t, c.Put(ctx, "f", []byte("two")))

	value, ok, err := c.Get(ctx, "f")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("two"), value)
}
