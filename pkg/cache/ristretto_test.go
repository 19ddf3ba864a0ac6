package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T) *RistrettoCache {
	t.Helper()
	c, err := NewRistrettoCache(&RistrettoConfig{
		NumCounters: 1000,
		MaxCost:     100,
		BufferItems: 64,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c.(*RistrettoCache)
}

func TestRistrettoCache_SetGetDelete(t *testing.T) {
	c := newTestCache(t)

	assert.True(t, c.Set("market:0xcond1", "cached-market", time.Hour))
	c.Wait()

	got, found := c.Get("market:0xcond1")
	require.True(t, found)
	assert.Equal(t, "cached-market", got)

	_, found = c.Get("market:absent")
	assert.False(t, found)

	c.Delete("market:0xcond1")
	_, found = c.Get("market:0xcond1")
	assert.False(t, found)
}

func TestRistrettoCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t)

	c.Set("price:tok1", 0.42, 100*time.Millisecond)
	c.Wait()

	_, found := c.Get("price:tok1")
	require.True(t, found)

	time.Sleep(250 * time.Millisecond)
	_, found = c.Get("price:tok1")
	assert.False(t, found)
}

func TestRistrettoCache_Clear(t *testing.T) {
	c := newTestCache(t)

	c.Set("a", 1, time.Hour)
	c.Set("b", 2, time.Hour)
	c.Wait()

	c.Clear()
	_, found := c.Get("a")
	assert.False(t, found)
}
