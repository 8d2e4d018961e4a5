package postingtree

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/model"
)

// ErrDeleted is returned when the tree was removed by a vacuum.
var ErrDeleted = errors.New("postingtree: tree deleted")

// splitSlack covers the verbatim first item of a new right half.
const splitSlack = 2*posting.FirstSize + 16

// Options configures a Tree.
type Options struct {
	AddInfo bool
	// Strict rejects runs holding invalid locators.
	Strict bool
	Btree  btree.Options
}

type ops struct{}

func (ops) Data() bool { return true }

func (ops) Compare(key, b page.Bound) int { return key.Loc.Compare(b.Loc) }

// Tree is a handle on one posting tree.
type Tree struct {
	bt     *btree.Tree
	m      *buffer.Manager
	opts   Options
	budget int
}

// Open returns a handle on the posting tree rooted at root.
func Open(m *buffer.Manager, root uint32, opts Options) *Tree {
	return &Tree{
		bt:     btree.New(m, root, ops{}, opts.Btree),
		m:      m,
		opts:   opts,
		budget: page.PostingCapacity(m.PageSize()),
	}
}

// Create writes a new posting tree holding items. As many items as fit go
// into the root leaf in one unit; the rest are inserted.
func Create(ctx context.Context, m *buffer.Manager, items []model.Item, opts Options) (*Tree, error) {
	items = posting.Normalize(items)

	root := page.New(0, page.FlagData|page.FlagLeaf, 0)
	n := root.SetItems(items, page.PostingCapacity(m.PageSize()), opts.AddInfo)

	u := m.Begin()
	b, err := u.Allocate(root)
	if err != nil {
		u.Abort()
		return nil, err
	}
	_, err = u.Finish()
	b.Done(buffer.LockExclusive)
	if err != nil {
		return nil, err
	}

	t := Open(m, b.ID(), opts)
	if n < len(items) {
		if err := t.insert(ctx, items[n:]); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Root returns the root page number.
func (t *Tree) Root() uint32 { return t.bt.Root() }

// Btree returns the underlying B-tree.
func (t *Tree) Btree() *btree.Tree { return t.bt }

// Insert merges items into the tree. Locators already present keep their
// position and take the new attached value.
func (t *Tree) Insert(ctx context.Context, items []model.Item) error {
	return t.insert(ctx, posting.Normalize(items))
}

func (t *Tree) insert(ctx context.Context, items []model.Item) error {
	for len(items) > 0 {
		var consumed int
		err := t.bt.Update(ctx, page.LocBound(items[0].Locator), func(p *page.Page) (*page.Page, *page.Page, error) {
			left, right, n, err := t.place(p, items)
			consumed = n
			return left, right, err
		})
		if err != nil {
			return t.checkDeleted(err)
		}
		items = items[consumed:]
	}
	return nil
}

// checkDeleted turns a failed descent into ErrDeleted when the root is gone.
func (t *Tree) checkDeleted(err error) error {
	if !errors.Is(err, btree.ErrCorrupt) {
		return err
	}
	if root, rerr := t.bt.Snapshot(t.Root()); rerr == nil && root.IsDeleted() {
		return fmt.Errorf("%w: root %d", ErrDeleted, t.Root())
	}
	return err
}

// place merges a prefix of items into leaf p. It returns the new leaf
// content, an optional right half and the number of items consumed.
func (t *Tree) place(p *page.Page, items []model.Item) (*page.Page, *page.Page, int, error) {
	existing, err := p.Items(t.opts.AddInfo, t.opts.Strict)
	if err != nil {
		return nil, nil, 0, err
	}

	n := len(items)
	if !p.High.Inf {
		n = sort.Search(len(items), func(i int) bool { return p.High.Loc.Less(items[i].Locator) })
	}
	if n == 0 {
		return nil, nil, 0, fmt.Errorf("%w: leaf %d does not cover %s", btree.ErrCorrupt, p.ID, items[0].Locator)
	}

	for {
		merged := posting.Merge(existing, items[:n])
		size := posting.EncodedSize(merged, t.opts.AddInfo)

		if size <= t.budget {
			left := p.Clone()
			left.SetItems(merged, t.budget, t.opts.AddInfo)
			return left, nil, n, nil
		}
		if size <= 2*t.budget-splitSlack {
			appending := p.IsRightmost() && (len(existing) == 0 || existing[len(existing)-1].Locator.Less(items[0].Locator))
			left, right := t.splitLeaf(p, merged, appending)
			return left, right, n, nil
		}
		if n == 1 {
			return nil, nil, 0, fmt.Errorf("%w: leaf %d overflows", btree.ErrCorrupt, p.ID)
		}
		n /= 2
	}
}

// splitLeaf divides merged between p and a new right page. Appends to the
// rightmost leaf fill the left page; other splits balance by size.
func (t *Tree) splitLeaf(p *page.Page, merged []model.Item, appending bool) (*page.Page, *page.Page) {
	_, maxLeft := posting.Encode(nil, merged, t.budget, t.opts.AddInfo)

	cut := maxLeft
	if !appending {
		total := posting.EncodedSize(merged, t.opts.AddInfo)
		acc := 0
		prev := model.MinLocator
		for i, it := range merged {
			acc += posting.ItemSize(prev, it, i == 0, t.opts.AddInfo)
			prev = it.Locator
			if acc >= total/2 {
				cut = i + 1
				break
			}
		}
	}
	cut = max(1, min(cut, maxLeft, len(merged)-1))

	left := p.Clone()
	left.SetItems(merged[:cut], t.budget, t.opts.AddInfo)
	left.High = page.LocBound(merged[cut-1].Locator)

	right := page.New(0, page.FlagData|page.FlagLeaf, 0)
	right.SetItems(merged[cut:], t.budget, t.opts.AddInfo)
	right.High = p.High
	return left, right
}

// Items returns every locator of the tree in order.
func (t *Tree) Items(ctx context.Context) ([]model.Item, error) {
	var out []model.Item
	err := t.bt.Walk(ctx, 0, func(p *page.Page) error {
		items, err := p.Items(t.opts.AddInfo, t.opts.Strict)
		if err != nil {
			return err
		}
		out = append(out, items...)
		return nil
	})
	return out, t.checkDeleted(err)
}

// Stats describes the shape of a posting tree.
type Stats struct {
	Items  int
	Leaves int
	Pages  int
	Levels int
}

// Stats walks every level of the tree.
func (t *Tree) Stats(ctx context.Context) (Stats, error) {
	level, err := t.bt.Level()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Levels: int(level) + 1}
	for l := int(level); l >= 0; l-- {
		err := t.bt.Walk(ctx, uint16(l), func(p *page.Page) error {
			s.Pages++
			if p.IsLeaf() {
				s.Leaves++
				s.Items += p.NItems
			}
			return nil
		})
		if err != nil {
			return s, err
		}
	}
	return s, nil
}

// Empty reports whether no leaf holds an item.
func (t *Tree) Empty(ctx context.Context) (bool, error) {
	empty := true
	err := t.bt.Walk(ctx, 0, func(p *page.Page) error {
		if p.NItems > 0 {
			empty = false
			return btree.ErrStop
		}
		return nil
	})
	return empty, t.checkDeleted(err)
}

// Drop marks every page of the tree deleted.
func (t *Tree) Drop(ctx context.Context) error {
	return t.bt.DeleteRoot(ctx)
}
