package posting

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/rumgo/model"
)

func locs(vs ...uint64) []model.Item {
	out := make([]model.Item, len(vs))
	for i, v := range vs {
		out[i] = model.Item{Locator: model.LocatorFromUint64(v)}
	}
	return out
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name string
		a, b []model.Item
		want []model.Item
	}{
		{"empty a", nil, locs(1, 2), locs(1, 2)},
		{"empty b", locs(1, 2), nil, locs(1, 2)},
		{"a before b", locs(1, 2), locs(3, 4), locs(1, 2, 3, 4)},
		{"b before a", locs(5, 6), locs(1, 2), locs(1, 2, 5, 6)},
		{"interleaved", locs(1, 3, 5), locs(2, 3, 4), locs(1, 2, 3, 4, 5)},
		{"equal", locs(1, 2), locs(1, 2), locs(1, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.a, tt.b))
		})
	}
}

func TestMergeDoesNotAlias(t *testing.T) {
	a := make([]model.Item, 2, 10)
	copy(a, locs(1, 2))
	out := Merge(a, locs(3))
	out[0] = model.Item{}
	assert.Equal(t, locs(1, 2), a)
}

func TestMergeReplacesAddInfo(t *testing.T) {
	a := []model.Item{{Locator: model.LocatorFromUint64(7), AddInfo: model.Some(1)}}
	b := []model.Item{{Locator: model.LocatorFromUint64(7), AddInfo: model.Some(2)}}
	assert.Equal(t, b, Merge(a, b))
}

func TestMergeUnion(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for round := 0; round < 50; round++ {
		set := map[uint64]bool{}
		gen := func() []model.Item {
			m := map[uint64]bool{}
			for i := 0; i < r.Intn(40); i++ {
				m[uint64(1+r.Intn(200))] = true
			}
			var vs []uint64
			for v := range m {
				vs = append(vs, v)
				set[v] = true
			}
			sort.Slice(vs, func(i, j int) bool { return vs[i] < vs[j] })
			return locs(vs...)
		}
		a, b := gen(), gen()

		var want []uint64
		for v := range set {
			want = append(want, v)
		}
		sort.Slice(want, func(i, j int) bool { return want[i] < want[j] })
		assert.Equal(t, locs(want...), Merge(a, b))
	}
}

func TestNormalize(t *testing.T) {
	in := []model.Item{
		{Locator: model.LocatorFromUint64(5)},
		{Locator: model.LocatorFromUint64(2), AddInfo: model.Some(1)},
		{Locator: model.LocatorFromUint64(2), AddInfo: model.Some(9)},
	}
	out := Normalize(in)
	assert.Equal(t, []model.Item{
		{Locator: model.LocatorFromUint64(2), AddInfo: model.Some(9)},
		{Locator: model.LocatorFromUint64(5)},
	}, out)
}

func TestFilter(t *testing.T) {
	out := Filter(locs(1, 2, 3, 4), func(l model.Locator) bool { return l.Uint64()%2 == 0 })
	assert.Equal(t, locs(2, 4), out)
}
