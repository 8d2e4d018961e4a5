package build

import (
	"github.com/google/btree"

	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/model"
)

// group collects the items of one key.
type group struct {
	key   model.Key
	items []model.Item
}

// accumulator groups postings by key in a balanced tree.
type accumulator struct {
	tree *btree.BTreeG[*group]
	size int64
	// last is the largest locator added since the last drain
	last model.Locator
	n    int
}

func newAccumulator(compare func(a, b model.Key) int) *accumulator {
	return &accumulator{
		tree: btree.NewG(16, func(a, b *group) bool { return compare(a.key, b.key) < 0 }),
	}
}

// add records p. It reports false when p's locator is below one already
// added, in which case the accumulator must be drained first.
func (a *accumulator) add(p model.Posting) bool {
	if p.Item.Locator.Less(a.last) {
		return false
	}
	a.last = p.Item.Locator
	probe := &group{key: p.Key}
	g, ok := a.tree.Get(probe)
	if !ok {
		g = &group{key: p.Key.Clone()}
		a.tree.ReplaceOrInsert(g)
		a.size += int64(len(p.Key.Value)) + 64
	}
	g.items = append(g.items, p.Item)
	a.size += 16
	a.n++
	return true
}

func (a *accumulator) len() int { return a.n }

// drain returns the groups in key order with normalized items and resets
// the accumulator.
func (a *accumulator) drain() []*group {
	out := make([]*group, 0, a.tree.Len())
	a.tree.Ascend(func(g *group) bool {
		g.items = posting.Normalize(g.items)
		out = append(out, g)
		return true
	})
	a.tree.Clear(false)
	a.size, a.n, a.last = 0, 0, model.MinLocator
	return out
}
