package posting

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rumgo/model"
)

func TestBuildIndex(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	items := randomItems(r, 1000, true)
	buf, n := Encode(nil, items, 0, true)

	index, err := BuildIndex(buf, n, true)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(index), MaxLandmarks)
	assert.NotEmpty(t, index)

	for _, lm := range index {
		assert.Equal(t, items[lm.Index-1].Locator, lm.Prev)
		d := NewDecoder(buf, n, true, true)
		d.Jump(lm)
		it, ok, err := d.Next()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, items[lm.Index], it)
	}

	small, err := BuildIndex(buf, 1, true)
	require.NoError(t, err)
	assert.Empty(t, small)
}

func TestSeek(t *testing.T) {
	r := rand.New(rand.NewSource(12))
	items := randomItems(r, 700, false)
	buf, n := Encode(nil, items, 0, false)
	index, err := BuildIndex(buf, n, false)
	require.NoError(t, err)

	check := func(target model.Locator) {
		d, err := Seek(buf, n, index, target, false, true)
		require.NoError(t, err)

		want := -1
		for i, it := range items {
			if !it.Locator.Less(target) {
				want = i
				break
			}
		}
		it, ok, err := d.Next()
		require.NoError(t, err)
		if want < 0 {
			assert.False(t, ok)
			return
		}
		require.True(t, ok)
		assert.Equal(t, items[want], it)
	}

	check(model.MinLocator)
	check(model.MaxLocator)
	for i := 0; i < 200; i++ {
		it := items[r.Intn(len(items))].Locator
		check(it)
		check(model.LocatorFromUint64(it.Uint64() + 1))
	}
}
