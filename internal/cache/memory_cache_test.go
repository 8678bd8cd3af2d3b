package cache

import (
	"context"
	"testing"
	"time"

	"github.com/annel0/terrain/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ ColdStorage = (*storage.MemoryStore)(nil)
	_ ColdStorage = (*storage.BadgerStore)(nil)
	_ ColdStorage = (*storage.MariaStore)(nil)
	_ ColdStorage = (*storage.FileStore)(nil)

	_ CacheRepo = (*MemoryCache)(nil)
	_ CacheRepo = (*RedisCache)(nil)
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestCache(cold ColdStorage) (*MemoryCache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache(CacheConfig{DefaultTTL: time.Minute, MaxTTL: time.Hour}, cold)
	c.now = clock.Now
	return c, clock
}

func TestMemoryCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(nil)

	_, err := c.Get(ctx, "heightmap:a")
	assert.True(t, IsCacheMiss(err))

	require.NoError(t, c.Set(ctx, "heightmap:a", []byte("data"), 0))
	got, err := c.Get(ctx, "heightmap:a")
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)

	ok, err := c.Exists(ctx, "heightmap:a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "heightmap:a"))
	ok, _ = c.Exists(ctx, "heightmap:a")
	assert.False(t, ok)

	assert.ErrorIs(t, c.Set(ctx, "", nil, 0), ErrInvalidKey)
	_, err = c.Get(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestMemoryCache_TTL(t *testing.T) {
	ctx := context.Background()
	c, clock := newTestCache(nil)

	require.NoError(t, c.Set(ctx, "short", []byte("1"), 10*time.Second))
	require.NoError(t, c.Set(ctx, "default", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "capped", []byte("3"), 48*time.Hour))

	clock.Advance(11 * time.Second)
	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss, "запись с истёкшим TTL недоступна")
	_, err = c.Get(ctx, "default")
	assert.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = c.Get(ctx, "default")
	assert.ErrorIs(t, err, ErrCacheMiss)

	ok, _ := c.Exists(ctx, "capped")
	assert.True(t, ok)
	clock.Advance(time.Hour)
	assert.Equal(t, 1, c.Purge(), "TTL ограничен MaxTTL")
}

func TestMemoryCache_ReadThrough(t *testing.T) {
	ctx := context.Background()
	cold := storage.NewMemoryStore()
	require.NoError(t, cold.Store(ctx, "heightmap:cold", []byte("from-disk")))

	c, _ := newTestCache(cold)

	got, err := c.Get(ctx, "heightmap:cold")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-disk"), got)

	ok, _ := c.Exists(ctx, "heightmap:cold")
	assert.True(t, ok, "значение из Cold Storage прогревает кеш")

	_, err = c.Get(ctx, "heightmap:cold")
	require.NoError(t, err)
	_, err = c.Get(ctx, "heightmap:none")
	assert.ErrorIs(t, err, ErrCacheMiss)

	m := c.GetMetrics()
	assert.Equal(t, int64(3), m.TotalRequests)
	assert.Equal(t, int64(1), m.CacheHits)
	assert.Equal(t, int64(1), m.ColdHits)
	assert.Equal(t, int64(1), m.CacheMisses)
	assert.InDelta(t, 2.0/3.0, m.HitRatio, 1e-9)
	assert.Equal(t, int64(1), m.TotalKeys)
}

func TestMemoryCache_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(nil)

	value := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", value, 0))
	value[0] = 'X'

	got, _ := c.Get(ctx, "k")
	got[1] = 'Y'

	again, _ := c.Get(ctx, "k")
	assert.Equal(t, []byte("abc"), again)
}

func TestMemoryCache_Close(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCache(nil)
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	require.NoError(t, c.Close())

	ok, _ := c.Exists(ctx, "k")
	assert.False(t, ok)
}
