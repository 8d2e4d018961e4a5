package entrytree

import (
	"context"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/model"
)

// Cursor iterates entries in key order from snapshots of the leaves. It
// holds no locks between calls; entries inserted behind it may be missed.
type Cursor struct {
	t       *Tree
	ctx     context.Context
	reverse bool

	leaf *page.Page
	pos  int
	// last is the key returned most recently
	last    model.Key
	started bool
	done    bool
}

// FirstKey sorts before every stored key of attr.
func FirstKey(attr uint16) model.Key {
	return model.Key{Attr: attr, Category: model.CategoryEmptyQuery}
}

// Seek returns a cursor positioned at the first entry >= from, or for a
// reverse cursor at the last entry <= from.
func (t *Tree) Seek(ctx context.Context, from model.Key, reverse bool) (*Cursor, error) {
	c := &Cursor{t: t, ctx: ctx, reverse: reverse}
	b, _, err := t.bt.Descend(ctx, page.KeyBound(from), buffer.LockShare)
	if err != nil {
		return nil, err
	}
	c.leaf = b.Page()
	b.Done(buffer.LockShare)

	i, found := t.search(c.leaf.Entries, from)
	c.pos = i
	if reverse && !found {
		c.pos = i - 1
	}
	return c, nil
}

// Next returns the next entry. The entry shares memory with the leaf
// snapshot and must not be modified.
func (c *Cursor) Next() (*page.Entry, bool, error) {
	for !c.done {
		if err := c.ctx.Err(); err != nil {
			return nil, false, err
		}
		if c.pos >= 0 && c.pos < len(c.leaf.Entries) {
			e := &c.leaf.Entries[c.pos]
			if c.reverse {
				c.pos--
			} else {
				c.pos++
			}
			c.last, c.started = e.Key, true
			return e, true, nil
		}
		var err error
		if c.reverse {
			err = c.stepLeft()
		} else {
			err = c.stepRight()
		}
		if err != nil {
			return nil, false, err
		}
	}
	return nil, false, nil
}

// Leaf returns the snapshot of the current leaf.
func (c *Cursor) Leaf() *page.Page { return c.leaf }

func (c *Cursor) stepRight() error {
	if c.leaf.Right == page.InvalidID {
		c.done = true
		return nil
	}
	p, err := c.t.bt.Snapshot(c.leaf.Right)
	if err != nil {
		return err
	}
	c.leaf, c.pos = p, 0
	if c.started {
		// skip what a concurrent split moved here from behind us
		c.pos, _ = c.t.search(p.Entries, c.last)
		if c.pos < len(p.Entries) && c.t.Compare(p.Entries[c.pos].Key, c.last) == 0 {
			c.pos++
		}
	}
	return nil
}

// stepLeft moves to the page left of the current one. The left link may
// be stale after a split of the left sibling, so the walk moves right from
// it to the last page still ending before the current one.
func (c *Cursor) stepLeft() error {
	cur := c.leaf
	if cur.Left == page.InvalidID {
		c.done = true
		return nil
	}
	p, err := c.t.bt.Snapshot(cur.Left)
	if err != nil {
		return err
	}
	for p.Right != cur.ID && p.Right != page.InvalidID {
		if !p.IsDeadOrDying() && !p.High.Inf && c.started && c.t.Compare(p.High.Key, c.last) >= 0 {
			break
		}
		np, err := c.t.bt.Snapshot(p.Right)
		if err != nil {
			return err
		}
		p = np
	}

	c.leaf = p
	c.pos = len(p.Entries) - 1
	if c.started {
		i, _ := c.t.search(p.Entries, c.last)
		c.pos = i - 1
	}
	return nil
}
