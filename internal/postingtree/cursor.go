package postingtree

import (
	"context"
	"sort"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/model"
)

// Cursor iterates the items of a posting tree from snapshots of its leaves.
// It holds no locks between calls.
type Cursor struct {
	t       *Tree
	ctx     context.Context
	reverse bool

	leaf  *page.Page
	items []model.Item
	pos   int
	// boundary is the smallest locator a reverse cursor has passed
	boundary model.Locator
	done     bool
}

// Seek returns a cursor positioned at the first item >= from, or for a
// reverse cursor at the last item <= from.
func (t *Tree) Seek(ctx context.Context, from model.Locator, reverse bool) (*Cursor, error) {
	c := &Cursor{t: t, ctx: ctx, reverse: reverse}
	if err := c.load(from); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Cursor) load(from model.Locator) error {
	b, _, err := c.t.bt.Descend(c.ctx, page.LocBound(from), buffer.LockShare)
	if err != nil {
		return c.t.checkDeleted(err)
	}
	p := b.Page()
	b.Done(buffer.LockShare)

	c.leaf = p
	if c.reverse {
		items, err := p.Items(c.t.opts.AddInfo, c.t.opts.Strict)
		if err != nil {
			return err
		}
		c.items = items
		c.pos = sort.Search(len(items), func(i int) bool { return from.Less(items[i].Locator) }) - 1
		c.boundary = from
		return nil
	}
	items, err := decodeFrom(p, from, c.t.opts.AddInfo, c.t.opts.Strict)
	if err != nil {
		return err
	}
	c.items, c.pos = items, 0
	return nil
}

// decodeFrom decodes the items of p that are >= from using the jump index.
func decodeFrom(p *page.Page, from model.Locator, addInfo, strict bool) ([]model.Item, error) {
	d, err := posting.Seek(p.Data, p.NItems, p.Index, from, addInfo, strict)
	if err != nil {
		return nil, err
	}
	out := make([]model.Item, 0, d.Remaining())
	for {
		it, ok, err := d.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, it)
	}
}

// Next returns the next item. ok is false once the cursor is exhausted.
func (c *Cursor) Next() (model.Item, bool, error) {
	for !c.done {
		if err := c.ctx.Err(); err != nil {
			return model.Item{}, false, err
		}
		if c.reverse {
			if c.pos >= 0 && c.pos < len(c.items) {
				it := c.items[c.pos]
				c.pos--
				c.boundary = it.Locator
				return it, true, nil
			}
			if err := c.stepLeft(); err != nil {
				return model.Item{}, false, err
			}
			continue
		}
		if c.pos < len(c.items) {
			it := c.items[c.pos]
			c.pos++
			return it, true, nil
		}
		if err := c.stepRight(); err != nil {
			return model.Item{}, false, err
		}
	}
	return model.Item{}, false, nil
}

func (c *Cursor) stepRight() error {
	if c.leaf.Right == page.InvalidID {
		c.done = true
		return nil
	}
	p, err := c.t.bt.Snapshot(c.leaf.Right)
	if err != nil {
		return err
	}
	items, err := p.Items(c.t.opts.AddInfo, c.t.opts.Strict)
	if err != nil {
		return err
	}
	c.leaf, c.items, c.pos = p, items, 0
	return nil
}

// stepLeft finds the leaf holding the items just below the boundary. The
// left sibling may have split or been deleted since the current leaf was
// read, so the position is derived again from the boundary.
func (c *Cursor) stepLeft() error {
	if c.boundary.IsMin() {
		c.done = true
		return nil
	}
	target := c.boundary.Prev()
	for {
		if err := c.ctx.Err(); err != nil {
			return err
		}
		b, _, err := c.t.bt.Descend(c.ctx, page.LocBound(target), buffer.LockShare)
		if err != nil {
			return c.t.checkDeleted(err)
		}
		p := b.Page()
		b.Done(buffer.LockShare)

		items, err := p.Items(c.t.opts.AddInfo, c.t.opts.Strict)
		if err != nil {
			return err
		}
		n := sort.Search(len(items), func(i int) bool { return !items[i].Locator.Less(c.boundary) })
		if n > 0 {
			c.leaf, c.items, c.pos = p, items[:n], n-1
			return nil
		}
		if p.Left == page.InvalidID {
			c.done = true
			return nil
		}
		lp, err := c.t.bt.Snapshot(p.Left)
		if err != nil {
			return err
		}
		if lp.High.Inf || !lp.High.Loc.Less(target) {
			c.done = true
			return nil
		}
		target = lp.High.Loc
	}
}

// SkipTo advances a forward cursor to the first item >= l. Items of the
// current leaf are searched in place; otherwise the cursor descends again.
func (c *Cursor) SkipTo(l model.Locator) error {
	if c.reverse || c.done {
		return nil
	}
	if c.pos < len(c.items) && !c.items[len(c.items)-1].Locator.Less(l) {
		rest := c.items[c.pos:]
		c.pos += sort.Search(len(rest), func(i int) bool { return !rest[i].Locator.Less(l) })
		return nil
	}
	if !c.leaf.High.Inf && !c.leaf.High.Loc.Less(l) {
		// l is within this leaf's range but past its items
		c.pos = len(c.items)
		return nil
	}
	return c.load(l)
}

// Leaf returns the snapshot of the current leaf.
func (c *Cursor) Leaf() *page.Page { return c.leaf }

// Contains reports whether the tree holds l, decoding only the leaf that
// covers it from the nearest landmark.
func (t *Tree) Contains(ctx context.Context, l model.Locator) (model.Item, bool, error) {
	b, _, err := t.bt.Descend(ctx, page.LocBound(l), buffer.LockShare)
	if err != nil {
		return model.Item{}, false, t.checkDeleted(err)
	}
	p := b.Page()
	b.Done(buffer.LockShare)

	d, err := posting.Seek(p.Data, p.NItems, p.Index, l, t.opts.AddInfo, t.opts.Strict)
	if err != nil {
		return model.Item{}, false, err
	}
	it, ok, err := d.Next()
	if err != nil || !ok || it.Locator != l {
		return model.Item{}, false, err
	}
	return it, true, nil
}
