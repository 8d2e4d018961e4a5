package entrytree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/internal/postingtree"
	"github.com/hupe1980/rumgo/model"
)

// insertRetries bounds how often an insert restarts after losing a race
// with a promotion or a prune of the same key.
const insertRetries = 64

// outcome is the result of one pass of the inline insert.
type outcome int

const (
	placed outcome = iota
	hasTree
	promote
)

// CheckKey validates key for storage.
func (t *Tree) CheckKey(key model.Key) error {
	if !key.Category.Valid() {
		return fmt.Errorf("%w: category %s", ErrInvalidKey, key.Category)
	}
	if key.Category != model.CategoryNormal && len(key.Value) > 0 {
		return fmt.Errorf("%w: %s key carries a value", ErrInvalidKey, key.Category)
	}
	if size, limit := page.KeySize(key), page.MaxKeySize(t.m.PageSize()); size > limit {
		return &KeySizeError{Size: size, Limit: limit}
	}
	return nil
}

// Insert adds items to the entry for key, creating it if needed.
func (t *Tree) Insert(ctx context.Context, key model.Key, items []model.Item) error {
	if err := t.CheckKey(key); err != nil {
		return err
	}
	for _, it := range items {
		if !it.Locator.IsValid() {
			return fmt.Errorf("%w: %s", ErrInvalidLocator, it.Locator)
		}
	}
	items = posting.Normalize(items)
	if len(items) == 0 {
		return nil
	}

	for attempt := 0; attempt < insertRetries; attempt++ {
		done, err := t.insertIntoTree(ctx, key, items)
		if err != nil || done {
			return err
		}

		res, merged, before, err := t.insertInline(ctx, key, items)
		if err != nil {
			return err
		}
		switch res {
		case placed:
			return nil
		case hasTree:
			continue
		}

		ok, err := t.promote(ctx, key, merged, before)
		if err != nil || ok {
			return err
		}
	}
	return fmt.Errorf("%w: insert of %s", btree.ErrRetryExhausted, key)
}

// insertIntoTree merges items into the posting tree of key, if it has one.
// The entry leaf stays share locked until the tree insert is done.
func (t *Tree) insertIntoTree(ctx context.Context, key model.Key, items []model.Item) (bool, error) {
	b, _, err := t.bt.Descend(ctx, page.KeyBound(key), buffer.LockShare)
	if err != nil {
		return false, err
	}
	p := b.Page()
	i, ok := t.search(p.Entries, key)
	if !ok || !p.Entries[i].HasTree() {
		b.Done(buffer.LockShare)
		return false, nil
	}
	root := p.Entries[i].Root
	err = t.PostingTree(root).Insert(ctx, items)
	b.Done(buffer.LockShare)

	if errors.Is(err, postingtree.ErrDeleted) {
		// the tree was dropped but its entry survived a crash
		return false, t.detach(ctx, key, root)
	}
	return err == nil, err
}

// insertInline merges items into an inline entry or creates one. When the
// list outgrows the inline ceiling it returns promote with the merged items
// and the entry they were merged into.
func (t *Tree) insertInline(ctx context.Context, key model.Key, items []model.Item) (outcome, []model.Item, *page.Entry, error) {
	var (
		res    outcome
		merged []model.Item
		before *page.Entry
	)
	err := t.bt.Update(ctx, page.KeyBound(key), func(p *page.Page) (*page.Page, *page.Page, error) {
		res, merged, before = placed, nil, nil

		i, found := t.search(p.Entries, key)
		all := items
		if found {
			cur := &p.Entries[i]
			if cur.HasTree() {
				res = hasTree
				return nil, nil, nil
			}
			existing, err := t.Decode(cur)
			if err != nil {
				return nil, nil, err
			}
			all = posting.Merge(existing, items)
		}

		e, ok := t.inlineEntry(key, all)
		if !ok {
			res, merged = promote, all
			if found {
				c := p.Entries[i]
				c.Data = bytes.Clone(c.Data)
				before = &c
			}
			return nil, nil, nil
		}
		return t.place(p, i, found, e)
	})
	return res, merged, before, err
}

// promote moves items into a new posting tree and points the entry at it.
// It reports false when the entry changed meanwhile; the new tree is then
// dropped and the insert starts over.
func (t *Tree) promote(ctx context.Context, key model.Key, items []model.Item, before *page.Entry) (bool, error) {
	pt, err := postingtree.Create(ctx, t.m, items, t.postingOptions())
	if err != nil {
		return false, err
	}

	attached := false
	err = t.bt.Update(ctx, page.KeyBound(key), func(p *page.Page) (*page.Page, *page.Page, error) {
		attached = false
		i, found := t.search(p.Entries, key)
		if found != (before != nil) {
			return nil, nil, nil
		}
		if found && !sameEntry(&p.Entries[i], before) {
			return nil, nil, nil
		}
		attached = true
		return t.place(p, i, found, page.Entry{Key: key.Clone(), Root: pt.Root(), NItems: len(items)})
	})
	if err != nil {
		return false, err
	}
	if !attached {
		if err := pt.Drop(ctx); err != nil {
			return false, err
		}
		if t.opts.Btree.Logger != nil {
			t.opts.Btree.Logger.Debug("promotion raced", "key", key.String(), "tree", pt.Root())
		}
	}
	return attached, nil
}

// detach removes the entry of key if it still points at root.
func (t *Tree) detach(ctx context.Context, key model.Key, root uint32) error {
	return t.bt.Update(ctx, page.KeyBound(key), func(p *page.Page) (*page.Page, *page.Page, error) {
		i, found := t.search(p.Entries, key)
		if !found || p.Entries[i].Root != root {
			return nil, nil, nil
		}
		np := p.Clone()
		np.Entries = slices.Delete(np.Entries, i, i+1)
		return np, nil, nil
	})
}

func sameEntry(a, b *page.Entry) bool {
	return a.Root == b.Root && a.NItems == b.NItems && bytes.Equal(a.Data, b.Data)
}

// inlineEntry encodes items as an inline entry, reporting false when they
// exceed the inline ceiling.
func (t *Tree) inlineEntry(key model.Key, items []model.Item) (page.Entry, bool) {
	size := posting.EncodedSize(items, t.opts.AddInfo)
	if size > page.InlineCeiling(t.m.PageSize(), key) {
		return page.Entry{}, false
	}
	data, n := posting.Encode(nil, items, size, t.opts.AddInfo)
	return page.Entry{Key: key.Clone(), Root: page.InvalidID, NItems: n, Data: data}, true
}

// place puts e at position i of leaf p, replacing the entry there when
// replace is set, and splits the leaf when it overflows.
func (t *Tree) place(p *page.Page, i int, replace bool, e page.Entry) (*page.Page, *page.Page, error) {
	np := p.Clone()
	if replace {
		np.Entries[i] = e
	} else {
		np.Entries = slices.Insert(np.Entries, i, e)
	}
	if np.Fits(t.m.PageSize()) {
		return np, nil, nil
	}
	left, right := t.splitLeaf(np)
	return left, right, nil
}

// splitLeaf divides the entries of p into two halves of similar size.
func (t *Tree) splitLeaf(p *page.Page) (*page.Page, *page.Page) {
	total := 0
	for i := range p.Entries {
		total += page.EntrySize(&p.Entries[i])
	}
	cut, acc := len(p.Entries)-1, 0
	for i := range p.Entries {
		acc += page.EntrySize(&p.Entries[i])
		if acc >= total/2 {
			cut = i + 1
			break
		}
	}
	cut = max(1, min(cut, len(p.Entries)-1))

	left := p.Clone()
	left.Entries = slices.Clone(p.Entries[:cut])
	left.High = page.KeyBound(left.Entries[cut-1].Key.Clone())

	right := page.New(0, page.FlagLeaf, 0)
	right.Entries = slices.Clone(p.Entries[cut:])
	right.High = p.High
	return left, right
}
