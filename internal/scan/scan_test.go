package scan

import (
	"context"
	"fmt"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/wal"
	"github.com/hupe1980/rumgo/model"
	"github.com/hupe1980/rumgo/opclass"
)

const rows = 3000

func newTree(t *testing.T) *entrytree.Tree {
	t.Helper()
	m, err := buffer.Open(t.TempDir(), buffer.Options{PageSize: 512, Durability: wal.DurabilityAsync})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	u := m.Begin()
	b, err := u.Allocate(page.NewMeta(true))
	require.NoError(t, err)
	_, err = u.Finish()
	require.NoError(t, err)
	b.Done(buffer.LockExclusive)

	tr, err := entrytree.Create(m, entrytree.Options{
		AddInfo: true,
		Strict:  true,
		Btree:   btree.Options{FixIncompleteSplit: true},
		Posting: btree.Options{FixIncompleteSplit: true},
	})
	require.NoError(t, err)
	return tr
}

func loc(i int) model.Locator {
	return model.Locator{Container: uint32(i / 100), Slot: uint16(i%100 + 1)}
}

func word(s string) model.Key { return model.Key{Value: []byte(s)} }

// newDataset indexes rows 0..rows-1. Row i carries "m2", "m3" and "m5" when
// divisible, and the tag "t%02d" of i%50. Attached values are rows-i.
func newDataset(t *testing.T) *entrytree.Tree {
	t.Helper()
	tr := newTree(t)
	groups := map[string][]model.Item{}
	for i := 0; i < rows; i++ {
		it := model.Item{Locator: loc(i), AddInfo: model.Some(int64(rows - i))}
		for _, d := range []int{2, 3, 5} {
			if i%d == 0 {
				k := fmt.Sprintf("m%d", d)
				groups[k] = append(groups[k], it)
			}
		}
		tag := fmt.Sprintf("t%02d", i%50)
		groups[tag] = append(groups[tag], it)
	}
	ctx := context.Background()
	for k, items := range groups {
		require.NoError(t, tr.Insert(ctx, word(k), items))
	}
	return tr
}

func exact(strategy opclass.Strategy, words ...string) *opclass.ScanKey {
	sk := &opclass.ScanKey{Strategy: strategy}
	for _, w := range words {
		sk.Entries = append(sk.Entries, opclass.QueryEntry{Key: []byte(w)})
	}
	return sk
}

func prefix(p string) *opclass.ScanKey {
	return &opclass.ScanKey{
		Strategy: opclass.StrategyPrefix,
		Entries:  []opclass.QueryEntry{{Key: []byte(p), Partial: true}},
	}
}

func run(t *testing.T, tr *entrytree.Tree, keys []*opclass.ScanKey, opts Options) ([]Result, Mode) {
	t.Helper()
	s, err := New(tr, keys, nil, opts)
	require.NoError(t, err)
	defer s.Close()
	var out []Result
	for {
		r, ok, err := s.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, r)
	}
	assert.Equal(t, StateExhausted, s.State())
	return out, s.Mode()
}

func locators(rs []Result) []model.Locator {
	out := make([]model.Locator, len(rs))
	for i, r := range rs {
		out[i] = r.Locator
	}
	return out
}

func sorted(ls []model.Locator) []model.Locator {
	ls = slices.Clone(ls)
	slices.SortFunc(ls, model.Locator.Compare)
	return ls
}

func expect(pred func(i int) bool) []model.Locator {
	var out []model.Locator
	for i := 0; i < rows; i++ {
		if pred(i) {
			out = append(out, loc(i))
		}
	}
	return out
}

func TestSeparateInsertsScanInOrder(t *testing.T) {
	tr := newTree(t)
	ctx := context.Background()
	l1, l2, l3 := model.Locator{Container: 1, Slot: 1}, model.Locator{Container: 1, Slot: 2}, model.Locator{Container: 2, Slot: 1}
	l4, l5 := model.Locator{Container: 2, Slot: 7}, model.Locator{Container: 9, Slot: 3}
	require.NoError(t, tr.Insert(ctx, word("a"), model.NewItems(l1, l2, l5)))
	require.NoError(t, tr.Insert(ctx, word("a"), model.NewItems(l3, l4)))

	want := []model.Locator{l1, l2, l3, l4, l5}
	got, mode := run(t, tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "a")}, Options{})
	assert.Equal(t, ModeRegular, mode)
	assert.Equal(t, want, locators(got))

	got, mode = run(t, tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "a")}, Options{ForceOrderedScan: true})
	assert.Equal(t, ModeOrdered, mode)
	assert.Equal(t, want, locators(got))
}

func TestModesAgree(t *testing.T) {
	tr := newDataset(t)

	t.Run("any", func(t *testing.T) {
		want := expect(func(i int) bool { return i%3 == 0 || i%5 == 0 })
		keys := func() []*opclass.ScanKey { return []*opclass.ScanKey{exact(opclass.StrategyAny, "m3", "m5")} }

		fast, mode := run(t, tr, keys(), Options{})
		assert.Equal(t, ModeFast, mode)
		assert.Equal(t, want, locators(fast))

		regular, mode := run(t, tr, keys(), Options{DisableFastScan: true})
		assert.Equal(t, ModeRegular, mode)
		assert.Equal(t, want, locators(regular))

		ordered, mode := run(t, tr, keys(), Options{ForceOrderedScan: true})
		assert.Equal(t, ModeOrdered, mode)
		assert.Equal(t, want, sorted(locators(ordered)))
	})

	t.Run("all", func(t *testing.T) {
		want := expect(func(i int) bool { return i%6 == 0 })
		keys := func() []*opclass.ScanKey { return []*opclass.ScanKey{exact(opclass.StrategyAll, "m2", "m3")} }

		fast, mode := run(t, tr, keys(), Options{})
		assert.Equal(t, ModeFast, mode)
		assert.Equal(t, want, locators(fast))

		regular, _ := run(t, tr, keys(), Options{DisableFastScan: true})
		assert.Equal(t, want, locators(regular))
	})

	t.Run("intersect keys", func(t *testing.T) {
		want := expect(func(i int) bool { return i%6 == 0 && i%50 == 20 })
		keys := func() []*opclass.ScanKey {
			return []*opclass.ScanKey{exact(opclass.StrategyAll, "m2", "m3"), exact(opclass.StrategyAny, "t20")}
		}

		fast, _ := run(t, tr, keys(), Options{})
		assert.Equal(t, want, locators(fast))
		regular, _ := run(t, tr, keys(), Options{DisableFastScan: true})
		assert.Equal(t, want, locators(regular))
	})

	t.Run("missing entry", func(t *testing.T) {
		got, _ := run(t, tr, []*opclass.ScanKey{exact(opclass.StrategyAll, "m2", "nope")}, Options{})
		assert.Empty(t, got)
		got, _ = run(t, tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "m7", "nope")}, Options{DisableFastScan: true})
		assert.Empty(t, got)
	})
}

func TestConjunctionsSkipOrdered(t *testing.T) {
	tr := newDataset(t)
	cases := []struct {
		name string
		keys func() []*opclass.ScanKey
		want []model.Locator
	}{
		{"all", func() []*opclass.ScanKey { return []*opclass.ScanKey{exact(opclass.StrategyAll, "m2", "m3")} }, expect(func(i int) bool { return i%6 == 0 })},
		{"two keys", func() []*opclass.ScanKey {
			return []*opclass.ScanKey{exact(opclass.StrategyAny, "m2"), exact(opclass.StrategyAny, "m3")}
		}, expect(func(i int) bool { return i%6 == 0 })},
		{"mixed keys", func() []*opclass.ScanKey {
			return []*opclass.ScanKey{exact(opclass.StrategyAll, "m2", "m3"), exact(opclass.StrategyAny, "t20")}
		}, expect(func(i int) bool { return i%6 == 0 && i%50 == 20 })},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for _, opts := range []Options{
				{},
				{DisableFastScan: true},
				{IndexOrder: true, PreferOrderedScan: true},
				{IndexOrder: true, PreferOrderedScan: true, DisableFastScan: true},
			} {
				got, mode := run(t, tr, tc.keys(), opts)
				assert.NotEqual(t, ModeOrdered, mode, "%+v", opts)
				assert.Equal(t, tc.want, locators(got), "%+v", opts)
			}

			_, err := New(tr, tc.keys(), nil, Options{ForceOrderedScan: true})
			assert.ErrorIs(t, err, ErrUnsupported)
			_, err = New(tr, tc.keys(), nil, Options{IndexOrder: true, PreferOrderedScan: true, Reverse: true})
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestDisjunctionPrefersOrderedOnlyInReverse(t *testing.T) {
	tr := newDataset(t)
	want := expect(func(i int) bool { return i%3 == 0 || i%5 == 0 })
	keys := func() []*opclass.ScanKey { return []*opclass.ScanKey{exact(opclass.StrategyAny, "m3", "m5")} }

	forward, mode := run(t, tr, keys(), Options{IndexOrder: true, PreferOrderedScan: true})
	assert.Equal(t, ModeFast, mode)
	assert.Equal(t, want, locators(forward))

	reverse, mode := run(t, tr, keys(), Options{IndexOrder: true, PreferOrderedScan: true, Reverse: true})
	assert.Equal(t, ModeOrdered, mode)
	assert.Equal(t, want, sorted(locators(reverse)))
}

func TestPrefixScan(t *testing.T) {
	tr := newDataset(t)
	want := expect(func(i int) bool { return i%50 < 10 })

	regular, mode := run(t, tr, []*opclass.ScanKey{prefix("t0")}, Options{})
	assert.Equal(t, ModeRegular, mode)
	assert.Equal(t, want, locators(regular))

	forward, mode := run(t, tr, []*opclass.ScanKey{prefix("t0")}, Options{IndexOrder: true, PreferOrderedScan: true})
	assert.Equal(t, ModeOrdered, mode)
	assert.Equal(t, want, sorted(locators(forward)))
	// key order: every row of t00 comes before any row of t01
	assert.Equal(t, loc(0), forward[0].Locator)
	assert.Equal(t, loc(50), forward[1].Locator)

	reverse, mode := run(t, tr, []*opclass.ScanKey{prefix("t0")}, Options{ForceOrderedScan: true, Reverse: true})
	assert.Equal(t, ModeOrdered, mode)
	back := locators(reverse)
	slices.Reverse(back)
	assert.Equal(t, locators(forward), back)
}

func TestRangeScan(t *testing.T) {
	tr := newDataset(t)
	sk := &opclass.ScanKey{
		Strategy: opclass.StrategyRange,
		Entries:  []opclass.QueryEntry{{Key: []byte("t10"), Partial: true, Extra: []byte("t13")}},
	}
	got, _ := run(t, tr, []*opclass.ScanKey{sk}, Options{ForceOrderedScan: true})
	assert.Equal(t, expect(func(i int) bool { r := i % 50; return r >= 10 && r < 13 }), sorted(locators(got)))
}

func TestFullScan(t *testing.T) {
	tr := newDataset(t)
	got, mode := run(t, tr, []*opclass.ScanKey{{Mode: opclass.SearchEverything}}, Options{})
	assert.Equal(t, ModeFull, mode)
	assert.Equal(t, expect(func(int) bool { return true }), locators(got))
}

func TestIncludeEmpty(t *testing.T) {
	tr := newDataset(t)
	ctx := context.Background()
	placeholders := model.NewItems(model.Locator{Container: 500, Slot: 1}, model.Locator{Container: 500, Slot: 2})
	require.NoError(t, tr.Insert(ctx, model.Key{Category: model.CategoryEmptyItem}, placeholders))

	sk := exact(opclass.StrategyAny, "m5")
	sk.Mode = opclass.SearchIncludeEmpty
	got, _ := run(t, tr, []*opclass.ScanKey{sk}, Options{})
	want := append(expect(func(i int) bool { return i%5 == 0 }), model.Locators(placeholders)...)
	assert.Equal(t, want, locators(got))
}

func TestOrderByLimit(t *testing.T) {
	tr := newDataset(t)
	order := exact(opclass.StrategyAny, "m5")
	order.OrderBy = true

	s, err := New(tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "m5")}, []*opclass.ScanKey{order}, Options{Limit: 4})
	require.NoError(t, err)
	defer s.Close()

	var got []Result
	for {
		r, ok, err := s.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, r)
	}
	require.Len(t, got, 4)
	// the largest rows divisible by 5 carry the smallest attached values
	for i, r := range got {
		row := rows - 5*(i+1)
		assert.Equal(t, loc(row), r.Locator)
		assert.Equal(t, []float64{float64(rows - row)}, r.Scores)
		assert.False(t, r.RecheckOrder)
	}
}

func TestOrderByWithoutMatchRechecks(t *testing.T) {
	tr := newDataset(t)
	order := exact(opclass.StrategyAny, "m2")
	s, err := New(tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "t01")}, []*opclass.ScanKey{order}, Options{})
	require.NoError(t, err)
	defer s.Close()

	r, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, loc(1), r.Locator)
	assert.True(t, r.RecheckOrder)
	assert.True(t, r.Recheck)
}

type plain struct{}

func (plain) Compare(a, b []byte) int { return opclass.Bytes{}.Compare(a, b) }

func TestUnsupported(t *testing.T) {
	tr := newTree(t)

	_, err := New(tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "a")}, nil, Options{Reverse: true})
	assert.ErrorIs(t, err, ErrUnsupported)

	other := exact(opclass.StrategyAny, "b")
	other.Attr = 1
	_, err = New(tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "a"), other}, nil, Options{ForceOrderedScan: true})
	assert.ErrorIs(t, err, ErrUnsupported)

	p := prefix("a")
	p.Class = plain{}
	_, err = New(tr, []*opclass.ScanKey{p}, nil, Options{})
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = New(tr, nil, nil, Options{})
	assert.ErrorIs(t, err, ErrNoKeys)
}

func TestPlainClassRunsRegular(t *testing.T) {
	tr := newDataset(t)
	sk := exact(opclass.StrategyAny, "m3", "m5")
	sk.Class = plain{}
	got, mode := run(t, tr, []*opclass.ScanKey{sk}, Options{})
	assert.Equal(t, ModeRegular, mode)
	assert.Equal(t, expect(func(i int) bool { return i%3 == 0 || i%5 == 0 }), locators(got))
}

func TestClosedScan(t *testing.T) {
	tr := newDataset(t)
	s, err := New(tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "m2")}, nil, Options{})
	require.NoError(t, err)
	_, ok, err := s.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	s.Close()
	_, _, err = s.Next(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCanceledScan(t *testing.T) {
	tr := newDataset(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s, err := New(tr, []*opclass.ScanKey{exact(opclass.StrategyAny, "m2", "m3")}, nil, Options{})
	require.NoError(t, err)
	_, _, err = s.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTracker(t *testing.T) {
	tk := NewTracker()
	fresh, err := tk.Add(model.Locator{Container: 1, Slot: 1})
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = tk.Add(model.Locator{Container: 1, Slot: 1})
	require.NoError(t, err)
	assert.False(t, fresh)

	_, err = tk.Add(model.Lossy(1))
	assert.ErrorIs(t, err, ErrLossyDuplicate)

	fresh, err = tk.Add(model.Lossy(2))
	require.NoError(t, err)
	assert.True(t, fresh)
	_, err = tk.Add(model.Locator{Container: 2, Slot: 4})
	assert.ErrorIs(t, err, ErrLossyDuplicate)
	assert.Equal(t, 1, tk.Len())
}
