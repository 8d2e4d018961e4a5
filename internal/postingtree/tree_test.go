package postingtree

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/wal"
	"github.com/hupe1980/rumgo/model"
)

func newManager(t *testing.T) *buffer.Manager {
	t.Helper()
	m, err := buffer.Open(t.TempDir(), buffer.Options{PageSize: 512, Durability: wal.DurabilityAsync})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func loc(i int) model.Locator {
	return model.Locator{Container: uint32(i / 50), Slot: uint16(i%50 + 1)}
}

func items(from, to, step int) []model.Item {
	var out []model.Item
	for i := from; i < to; i += step {
		out = append(out, model.Item{Locator: loc(i)})
	}
	return out
}

var defaultOpts = Options{Strict: true, Btree: btree.Options{FixIncompleteSplit: true}}

func TestCreateSpillsIntoInserts(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	want := items(0, 3000, 1)
	tr, err := Create(ctx, m, want, defaultOpts)
	require.NoError(t, err)

	got, err := tr.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Locators(want), model.Locators(got))

	stats, err := tr.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3000, stats.Items)
	assert.Greater(t, stats.Leaves, 1)
	assert.Greater(t, stats.Levels, 1)
}

func TestInsertMerges(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	tr, err := Create(ctx, m, items(0, 2000, 2), defaultOpts)
	require.NoError(t, err)
	require.NoError(t, tr.Insert(ctx, items(1, 2000, 2)))
	// duplicates collapse
	require.NoError(t, tr.Insert(ctx, items(0, 100, 1)))

	got, err := tr.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Locators(items(0, 2000, 1)), model.Locators(got))
}

func TestInsertUnsortedBatch(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	tr, err := Create(ctx, m, nil, defaultOpts)
	require.NoError(t, err)

	batch := items(0, 1500, 1)
	rand.New(rand.NewSource(3)).Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })
	require.NoError(t, tr.Insert(ctx, batch))

	got, err := tr.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Locators(items(0, 1500, 1)), model.Locators(got))
}

func TestAddInfo(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	opts := defaultOpts
	opts.AddInfo = true

	var in []model.Item
	for i := 0; i < 1200; i++ {
		it := model.Item{Locator: loc(i)}
		if i%3 == 0 {
			it.AddInfo = model.Some(int64(i * 7))
		}
		in = append(in, it)
	}
	tr, err := Create(ctx, m, in, opts)
	require.NoError(t, err)

	got, err := tr.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, got)

	it, ok, err := tr.Contains(ctx, loc(300))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Some(2100), it.AddInfo)
}

func TestCursor(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	tr, err := Create(ctx, m, items(0, 2000, 2), defaultOpts)
	require.NoError(t, err)

	t.Run("forward", func(t *testing.T) {
		c, err := tr.Seek(ctx, loc(501), false)
		require.NoError(t, err)
		var got []model.Locator
		for {
			it, ok, err := c.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, it.Locator)
		}
		assert.Equal(t, model.Locators(items(502, 2000, 2)), got)
	})

	t.Run("reverse", func(t *testing.T) {
		c, err := tr.Seek(ctx, loc(1001), true)
		require.NoError(t, err)
		var got []model.Locator
		for {
			it, ok, err := c.Next()
			require.NoError(t, err)
			if !ok {
				break
			}
			got = append(got, it.Locator)
		}
		want := model.Locators(items(0, 1001, 2))
		for i, j := 0, len(want)-1; i < j; i, j = i+1, j-1 {
			want[i], want[j] = want[j], want[i]
		}
		assert.Equal(t, want, got)
	})

	t.Run("skip", func(t *testing.T) {
		c, err := tr.Seek(ctx, model.MinLocator, false)
		require.NoError(t, err)
		it, ok, err := c.Next()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, loc(0), it.Locator)

		for _, target := range []int{7, 9, 1499, 1997} {
			require.NoError(t, c.SkipTo(loc(target)))
			it, ok, err = c.Next()
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, loc(target+1), it.Locator)
		}
		require.NoError(t, c.SkipTo(loc(5000)))
		_, ok, err = c.Next()
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestContains(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	tr, err := Create(ctx, m, items(0, 2000, 3), defaultOpts)
	require.NoError(t, err)

	for i := 0; i < 2000; i += 97 {
		_, ok, err := tr.Contains(ctx, loc(i))
		require.NoError(t, err)
		assert.Equal(t, i%3 == 0, ok, "locator %d", i)
	}
}

func TestVacuum(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	tr, err := Create(ctx, m, items(0, 3000, 1), defaultOpts)
	require.NoError(t, err)

	// kill everything in the middle so inner leaves become empty
	dead := func(l model.Locator) bool {
		v := int(l.Container)*50 + int(l.Slot) - 1
		return v >= 500 && v < 2500
	}
	stats, err := tr.Vacuum(ctx, dead, VacuumOptions{DeletePages: true, RetryDelete: true})
	require.NoError(t, err)
	assert.Equal(t, 2000, stats.Removed)
	assert.Equal(t, 1000, stats.Remaining)
	assert.Positive(t, stats.EmptyLeaves)
	assert.Positive(t, stats.DeletedPages)

	got, err := tr.Items(ctx)
	require.NoError(t, err)
	want := append(items(0, 500, 1), items(2500, 3000, 1)...)
	assert.Equal(t, model.Locators(want), model.Locators(got))

	// the freed ranges accept inserts again
	require.NoError(t, tr.Insert(ctx, items(1000, 1100, 1)))
	got, err = tr.Items(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1100)
}

func TestVacuumEverything(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	tr, err := Create(ctx, m, items(0, 2000, 1), defaultOpts)
	require.NoError(t, err)

	_, err = tr.Vacuum(ctx, func(model.Locator) bool { return true }, VacuumOptions{DeletePages: true})
	require.NoError(t, err)
	empty, err := tr.Empty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	require.NoError(t, tr.Drop(ctx))
	err = tr.Insert(ctx, items(0, 1, 1))
	assert.ErrorIs(t, err, ErrDeleted)
}

func TestVacuumResetsCycle(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	opts := defaultOpts
	opts.Btree.CycleID = func() uint16 { return 9 }

	tr, err := Create(ctx, m, items(0, 2000, 1), opts)
	require.NoError(t, err)

	tagged := 0
	require.NoError(t, tr.Btree().Walk(ctx, 0, func(p *page.Page) error {
		if p.CycleID == 9 {
			tagged++
		}
		return nil
	}))
	require.Positive(t, tagged)

	_, err = tr.Vacuum(ctx, func(model.Locator) bool { return false }, VacuumOptions{CycleID: 9})
	require.NoError(t, err)
	require.NoError(t, tr.Btree().Walk(ctx, 0, func(p *page.Page) error {
		assert.Zero(t, p.CycleID)
		return nil
	}))
}

func TestConcurrentInsert(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()
	tr, err := Create(ctx, m, nil, defaultOpts)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < 2000; i += 4 * 25 {
				assert.NoError(t, tr.Insert(ctx, items(i, i+100, 4)))
			}
		}(w)
	}
	wg.Wait()

	got, err := tr.Items(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.Locators(items(0, 2000, 1)), model.Locators(got))
}
