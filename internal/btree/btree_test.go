package btree

import (
	"context"
	"math/rand"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/internal/wal"
	"github.com/hupe1980/rumgo/model"
)

const testPageSize = 512

type locOps struct{}

func (locOps) Data() bool { return true }

func (locOps) Compare(key, b page.Bound) int { return key.Loc.Compare(b.Loc) }

func newTestTree(t *testing.T, opts Options) *Tree {
	t.Helper()
	m, err := buffer.Open(t.TempDir(), buffer.Options{PageSize: testPageSize, Durability: wal.DurabilityAsync})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	// page 0 stands in for the meta page so the root is not page zero
	u := m.Begin()
	mb, err := u.Allocate(page.NewMeta(false))
	require.NoError(t, err)
	rb, err := u.Allocate(page.New(0, page.FlagData|page.FlagLeaf, 0))
	require.NoError(t, err)
	_, err = u.Finish()
	require.NoError(t, err)
	mb.Done(buffer.LockExclusive)
	rb.Done(buffer.LockExclusive)

	return New(m, rb.ID(), locOps{}, opts)
}

func loc(i int) model.Locator {
	return model.Locator{Container: uint32(i / 100), Slot: uint16(i%100 + 1)}
}

func leafItems(t *testing.T, p *page.Page) []model.Item {
	t.Helper()
	items, err := p.Items(false, true)
	require.NoError(t, err)
	return items
}

// insertEdit merges one item into a leaf and halves the leaf on overflow.
func insertEdit(it model.Item) Edit {
	return func(p *page.Page) (*page.Page, *page.Page, error) {
		items, err := p.Items(false, true)
		if err != nil {
			return nil, nil, err
		}
		merged := posting.Merge(items, []model.Item{it})
		budget := page.PostingCapacity(testPageSize)

		left := p.Clone()
		if left.SetItems(merged, budget, false) == len(merged) {
			return left, nil, nil
		}
		half := len(merged) / 2
		left.SetItems(merged[:half], budget, false)
		left.High = page.LocBound(merged[half-1].Locator)

		right := page.New(0, p.Flags, 0)
		right.SetItems(merged[half:], budget, false)
		right.High = p.High
		return left, right, nil
	}
}

// removeEdit drops every item of a leaf.
func removeEdit(p *page.Page) (*page.Page, *page.Page, error) {
	left := p.Clone()
	left.SetItems(nil, 0, false)
	return left, nil, nil
}

func insert(t *testing.T, tr *Tree, l model.Locator) {
	t.Helper()
	require.NoError(t, tr.Update(context.Background(), page.LocBound(l), insertEdit(model.Item{Locator: l})))
}

func allItems(t *testing.T, tr *Tree) []model.Locator {
	t.Helper()
	var out []model.Locator
	require.NoError(t, tr.Walk(context.Background(), 0, func(p *page.Page) error {
		out = append(out, model.Locators(leafItems(t, p))...)
		return nil
	}))
	return out
}

// checkTree verifies sibling symmetry, bound order and item placement on
// every level.
func checkTree(t *testing.T, tr *Tree) (incomplete int) {
	t.Helper()
	ctx := context.Background()
	level, err := tr.Level()
	require.NoError(t, err)

	for l := int(level); l >= 0; l-- {
		var prev *page.Page
		require.NoError(t, tr.Walk(ctx, uint16(l), func(p *page.Page) error {
			if p.IsIncomplete() {
				incomplete++
			}
			if prev != nil {
				assert.Equal(t, prev.ID, p.Left, "left link of %d", p.ID)
				assert.Equal(t, prev.Right, p.ID)
				assert.True(t, prev.High.Loc.Less(p.High.Loc) || p.High.Inf, "bounds of %d and %d", prev.ID, p.ID)
			} else {
				assert.Equal(t, page.InvalidID, p.Left)
			}
			if p.IsLeaf() {
				for _, it := range leafItems(t, p) {
					assert.True(t, p.High.Inf || !p.High.Loc.Less(it.Locator), "item %s above high of %d", it.Locator, p.ID)
				}
			} else if !p.IsDeleted() {
				require.NotEmpty(t, p.Downlinks)
				assert.Equal(t, p.High, p.Downlinks[len(p.Downlinks)-1].High, "last downlink of %d", p.ID)
			}
			prev = p
			return nil
		}))
		assert.Equal(t, page.InvalidID, prev.Right)
		assert.True(t, prev.High.Inf, "rightmost page of level %d", l)
	}
	return incomplete
}

func TestInsertSplitsAndKeepsOrder(t *testing.T) {
	var splits, rootSplits int
	tr := newTestTree(t, Options{FixIncompleteSplit: true, OnSplit: func(_ uint16, root bool) {
		splits++
		if root {
			rootSplits++
		}
	}})
	root := tr.Root()

	rnd := rand.New(rand.NewSource(1))
	perm := rnd.Perm(10000)
	for _, i := range perm {
		insert(t, tr, loc(i))
	}

	want := make([]model.Locator, 10000)
	for i := range want {
		want[i] = loc(i)
	}
	assert.Equal(t, want, allItems(t, tr))
	assert.Equal(t, root, tr.Root())

	level, err := tr.Level()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, level, uint16(2))
	assert.Positive(t, splits)
	assert.Equal(t, int(level), rootSplits)
	assert.Zero(t, checkTree(t, tr))
}

func TestDescendFindsCoveringLeaf(t *testing.T) {
	tr := newTestTree(t, Options{})
	for i := 0; i < 2000; i++ {
		insert(t, tr, loc(i*2))
	}

	ctx := context.Background()
	for _, i := range []int{0, 2, 999, 1000, 3998, 5000} {
		b, _, err := tr.Descend(ctx, page.LocBound(loc(i)), buffer.LockShare)
		require.NoError(t, err)
		p := b.Page()
		b.Done(buffer.LockShare)
		assert.True(t, p.High.Inf || !p.High.Loc.Less(loc(i)))
		if i%2 == 0 && i < 4000 {
			assert.Contains(t, model.Locators(leafItems(t, p)), loc(i))
		}
	}
}

func TestConcurrentInserts(t *testing.T) {
	tr := newTestTree(t, Options{FixIncompleteSplit: true})

	const workers, per = 8, 400
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < per; i++ {
				l := loc(i*workers + w)
				err := tr.Update(context.Background(), page.LocBound(l), insertEdit(model.Item{Locator: l}))
				if !assert.NoError(t, err) {
					return
				}
			}
		}(w)
	}
	wg.Wait()

	got := allItems(t, tr)
	assert.Len(t, got, workers*per)
	assert.True(t, slices.IsSortedFunc(got, func(a, b model.Locator) int { return a.Compare(b) }))
	assert.Zero(t, checkTree(t, tr))
}

func TestIncompleteSplitConvergence(t *testing.T) {
	tr := newTestTree(t, Options{})
	for i := 0; i < 1500; i++ {
		insert(t, tr, loc(i*4))
	}
	require.Zero(t, checkTree(t, tr))

	injected := New(tr.Manager(), tr.Root(), locOps{}, Options{InjectSplitIncomplete: true})
	var added []model.Locator
	for i := 0; i < 400; i++ {
		added = append(added, loc(i*4+1), loc(i*4+2))
	}
	for _, l := range added {
		require.NoError(t, injected.Update(context.Background(), page.LocBound(l), insertEdit(model.Item{Locator: l})))
	}
	require.Positive(t, checkTree(t, tr))
	assert.Len(t, allItems(t, tr), 2300)

	// every key stays reachable through move-right
	for _, l := range added {
		b, _, err := tr.Descend(context.Background(), page.LocBound(l), buffer.LockShare)
		require.NoError(t, err)
		assert.Contains(t, model.Locators(leafItems(t, b.Page())), l)
		b.Done(buffer.LockShare)
	}

	fixing := New(tr.Manager(), tr.Root(), locOps{}, Options{FixIncompleteSplit: true})
	for i := 0; i < 6000; i += 10 {
		b, _, err := fixing.Descend(context.Background(), page.LocBound(loc(i)), buffer.LockExclusive)
		require.NoError(t, err)
		b.Done(buffer.LockExclusive)
	}
	var pending []uint32
	require.NoError(t, tr.Walk(context.Background(), 0, func(p *page.Page) error {
		if p.IsIncomplete() {
			pending = append(pending, p.ID)
		}
		return nil
	}))
	for _, id := range pending {
		require.NoError(t, fixing.FinishSplit(context.Background(), id))
	}
	assert.Zero(t, checkTree(t, tr))
	assert.Len(t, allItems(t, tr), 2300)
}

func TestSearchDescentDoesNotFix(t *testing.T) {
	tr := newTestTree(t, Options{FixIncompleteSplit: true})
	for i := 0; i < 600; i++ {
		insert(t, tr, loc(i*4))
	}
	injected := New(tr.Manager(), tr.Root(), locOps{}, Options{InjectSplitIncomplete: true})
	for i := 0; i < 300; i++ {
		for d := 1; d < 4; d++ {
			l := loc(i*4 + d)
			require.NoError(t, injected.Update(context.Background(), page.LocBound(l), insertEdit(model.Item{Locator: l})))
		}
	}
	before := checkTree(t, tr)
	require.Positive(t, before)

	b, _, err := tr.Descend(context.Background(), page.LocBound(loc(0)), buffer.LockShare)
	require.NoError(t, err)
	b.Done(buffer.LockShare)
	assert.Equal(t, before, checkTree(t, tr))
}

func buildLeaves(t *testing.T, tr *Tree, n int) []*page.Page {
	t.Helper()
	for i := 0; i < n; i++ {
		insert(t, tr, loc(i))
	}
	var leaves []*page.Page
	require.NoError(t, tr.Walk(context.Background(), 0, func(p *page.Page) error {
		leaves = append(leaves, p)
		return nil
	}))
	require.GreaterOrEqual(t, len(leaves), 4)
	return leaves
}

func emptyLeaf(p *page.Page) bool { return p.NItems == 0 }

func TestDeleteLeaf(t *testing.T) {
	for _, twoPhase := range []bool{false, true} {
		tr := newTestTree(t, Options{})
		leaves := buildLeaves(t, tr, 600)
		victim := leaves[1]
		victimItems := leafItems(t, victim)

		ctx := context.Background()
		require.NoError(t, tr.Update(ctx, page.LocBound(victimItems[0].Locator), removeEdit))

		ok, err := tr.DeleteLeaf(ctx, victim.ID, nil, DeleteOptions{TwoPhase: twoPhase, Retry: true, Empty: emptyLeaf})
		require.NoError(t, err)
		require.True(t, ok)

		p, err := tr.Snapshot(victim.ID)
		require.NoError(t, err)
		assert.True(t, p.IsDeleted())
		assert.False(t, p.IsHalfDead())
		assert.Positive(t, p.DeleteXID)
		assert.Equal(t, leaves[0].ID, p.Left)
		assert.Equal(t, leaves[2].ID, p.Right)

		left, err := tr.Snapshot(leaves[0].ID)
		require.NoError(t, err)
		assert.Equal(t, leaves[2].ID, left.Right)
		assert.Zero(t, checkTree(t, tr))
		assert.Len(t, allItems(t, tr), 600-len(victimItems))

		// the removed range is served by the right neighbour again
		insert(t, tr, victimItems[0].Locator)
		assert.Len(t, allItems(t, tr), 600-len(victimItems)+1)
	}
}

func TestDeleteLeafRefusals(t *testing.T) {
	tr := newTestTree(t, Options{})
	leaves := buildLeaves(t, tr, 600)
	ctx := context.Background()
	opts := DeleteOptions{Empty: emptyLeaf}

	// leftmost and rightmost leaves stay
	for _, p := range []*page.Page{leaves[0], leaves[len(leaves)-1]} {
		require.NoError(t, tr.Update(ctx, page.LocBound(leafItems(t, p)[0].Locator), removeEdit))
		ok, err := tr.DeleteLeaf(ctx, p.ID, nil, opts)
		require.NoError(t, err)
		assert.False(t, ok)
	}

	// non-empty leaves stay
	ok, err := tr.DeleteLeaf(ctx, leaves[1].ID, nil, opts)
	require.NoError(t, err)
	assert.False(t, ok)

	// pinned leaves stay
	require.NoError(t, tr.Update(ctx, page.LocBound(leafItems(t, leaves[1])[0].Locator), removeEdit))
	pin, err := tr.Manager().Read(leaves[1].ID, buffer.LockNone)
	require.NoError(t, err)
	ok, err = tr.DeleteLeaf(ctx, leaves[1].ID, nil, opts)
	require.NoError(t, err)
	assert.False(t, ok)
	pin.Release()

	ok, err = tr.DeleteLeaf(ctx, leaves[1].ID, nil, opts)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDeleteRoot(t *testing.T) {
	tr := newTestTree(t, Options{})
	buildLeaves(t, tr, 600)
	require.NoError(t, tr.DeleteRoot(context.Background()))

	p, err := tr.Snapshot(tr.Root())
	require.NoError(t, err)
	assert.True(t, p.IsDeleted())
	_, _, err = tr.Descend(context.Background(), page.LocBound(loc(1)), buffer.LockShare)
	assert.ErrorIs(t, err, ErrCorrupt)
}
