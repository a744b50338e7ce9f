package cache

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiresEntries(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[string, int](func() time.Time { return now })

	c.Set("a", 1, time.Minute)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestTTLCacheSetNXSingleWinner(t *testing.T) {
	c := NewTTLCache[string, string]()

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.SetNX("key", "processing", time.Hour) {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestTTLCacheSetNXAfterExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[string, string](func() time.Time { return now })

	require.True(t, c.SetNX("k", "v1", time.Second))
	require.False(t, c.SetNX("k", "v2", time.Second))

	now = now.Add(2 * time.Second)
	require.True(t, c.SetNX("k", "v3", time.Second))
	v, _ := c.Get("k")
	assert.Equal(t, "v3", v)
}

func TestTTLCacheSweep(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewTTLCacheWithClock[string, int](func() time.Time { return now })
	c.Set("short", 1, time.Second)
	c.Set("forever", 2, 0)

	now = now.Add(time.Minute)
	assert.Equal(t, 1, c.Sweep())
	_, ok := c.Get("forever")
	assert.True(t, ok)
}

func TestCatalogCacheKeyIsCaseInsensitive(t *testing.T) {
	c := NewCatalogCache()
	c.SetProduct("SKU-1", ProductEntry{ID: 7, SKU: "SKU-1", Price: "10.00"})

	got, ok := c.GetProduct(" sku-1 ")
	require.True(t, ok)
	assert.Equal(t, int64(7), got.ID)

	c.InvalidateProduct("sku-1")
	_, ok = c.GetProduct("SKU-1")
	assert.False(t, ok)
}
