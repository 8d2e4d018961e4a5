package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rumgo/internal/resource"
)

func TestLRU_GetAdd(t *testing.T) {
	c := NewLRU[uint32, string](100, nil)

	require.True(t, c.Add(1, "a", 10))
	require.True(t, c.Add(2, "b", 10))

	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = c.Get(3)
	assert.False(t, ok)

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)

	require.True(t, c.Add(1, "A", 30))
	assert.Equal(t, int64(40), c.Size())
	assert.Equal(t, 2, c.Len())
}

func TestLRU_EvictOrder(t *testing.T) {
	c := NewLRU[uint32, int](30, nil)
	for i := uint32(1); i <= 3; i++ {
		require.True(t, c.Add(i, int(i), 10))
	}
	assert.False(t, c.Fits(10))

	// Touch 1 so 2 becomes the oldest.
	c.Get(1)

	k, _, ok := c.Evict(nil)
	require.True(t, ok)
	assert.Equal(t, uint32(2), k)
	assert.True(t, c.Fits(10))
}

func TestLRU_EvictPredicate(t *testing.T) {
	c := NewLRU[uint32, bool](100, nil)
	c.Add(1, true, 1) // pinned
	c.Add(2, false, 1)
	c.Add(3, true, 1) // pinned

	k, _, ok := c.Evict(func(_ uint32, pinned bool) bool { return !pinned })
	require.True(t, ok)
	assert.Equal(t, uint32(2), k)

	_, _, ok = c.Evict(func(_ uint32, pinned bool) bool { return !pinned })
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestLRU_ResourceController(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 20})
	c := NewLRU[uint32, int](1000, rc)

	require.True(t, c.Add(1, 1, 15))
	assert.False(t, c.Add(2, 2, 10))
	assert.Equal(t, int64(15), rc.MemoryUsage())

	c.Remove(1)
	assert.Equal(t, int64(0), rc.MemoryUsage())
	require.True(t, c.Add(2, 2, 10))

	var keys []uint32
	c.Range(func(k uint32, _ int) bool {
		keys = append(keys, k)
		return true
	})
	assert.Equal(t, []uint32{2}, keys)

	c.Purge()
	assert.Zero(t, c.Len())
	assert.Zero(t, rc.MemoryUsage())
}
