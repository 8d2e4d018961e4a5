package entrytree

import (
	"context"
	"errors"
	"slices"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/internal/postingtree"
	"github.com/hupe1980/rumgo/model"
)

// TreeRef names the posting tree of one entry.
type TreeRef struct {
	Key  model.Key
	Root uint32
}

// LeafOptions configures VacuumLeaf.
type LeafOptions struct {
	// PruneEntries removes entries left without items when no one else has
	// the leaf pinned.
	PruneEntries bool
	// CycleID is the cycle of the running vacuum; a leaf tagged with it is
	// reset.
	CycleID uint16
}

// LeafResult reports the vacuum of one entry leaf.
type LeafResult struct {
	Entries      int
	Removed      int
	Remaining    int
	EmptyEntries int
	Pruned       int
	// Trees lists the posting trees found on the leaf.
	Trees   []TreeRef
	Changed bool
}

// VacuumLeaf removes the items for which dead returns true from the inline
// lists of the exclusively locked leaf b. Posting trees are only reported.
func (t *Tree) VacuumLeaf(b *buffer.Buffer, dead func(model.Locator) bool, opts LeafOptions) (LeafResult, error) {
	var res LeafResult
	p := b.Page()

	entries := make([]page.Entry, 0, len(p.Entries))
	changed, empties := false, false
	for _, e := range p.Entries {
		res.Entries++
		if e.HasTree() {
			res.Trees = append(res.Trees, TreeRef{Key: e.Key.Clone(), Root: e.Root})
			entries = append(entries, e)
			continue
		}
		items, err := t.Decode(&e)
		if err != nil {
			return res, err
		}
		keep := posting.Filter(items, func(l model.Locator) bool { return !dead(l) })
		if len(keep) != len(items) {
			e.Data, e.NItems = posting.Encode(nil, keep, posting.EncodedSize(keep, t.opts.AddInfo), t.opts.AddInfo)
			changed = true
		}
		res.Removed += len(items) - len(keep)
		res.Remaining += len(keep)
		if e.NItems == 0 {
			res.EmptyEntries++
			empties = true
		}
		entries = append(entries, e)
	}

	if opts.PruneEntries && empties && b.CleanupOK() {
		n := len(entries)
		entries = slices.DeleteFunc(entries, func(e page.Entry) bool { return !e.HasTree() && e.NItems == 0 })
		res.Pruned = n - len(entries)
		changed = true
	}

	reset := opts.CycleID != 0 && p.CycleID == opts.CycleID
	if !changed && !reset {
		return res, nil
	}
	u := t.m.Begin()
	np := u.Modify(b)
	np.Entries = entries
	if reset {
		np.CycleID = 0
	}
	if _, err := u.Finish(); err != nil {
		return res, err
	}
	res.Changed = true
	return res, nil
}

// PruneResult reports the prune of one entry leaf.
type PruneResult struct {
	EmptyEntries int
	Pruned       int
	PrunedTrees  int
	// Empty is set when the leaf holds no entries afterwards.
	Empty bool
}

// PruneLeaf removes the entries of the exclusively locked leaf b that hold
// no items, dropping their empty posting trees first. Nothing is removed
// while someone else has the leaf pinned.
func (t *Tree) PruneLeaf(ctx context.Context, b *buffer.Buffer) (PruneResult, error) {
	return t.prune(ctx, b, func(*page.Entry) bool { return true })
}

// PruneKey removes the entry of key if it holds no items.
func (t *Tree) PruneKey(ctx context.Context, key model.Key) (PruneResult, error) {
	b, _, err := t.bt.Descend(ctx, page.KeyBound(key), buffer.LockExclusive)
	if err != nil {
		return PruneResult{}, err
	}
	defer b.Done(buffer.LockExclusive)
	return t.prune(ctx, b, func(e *page.Entry) bool { return t.Compare(e.Key, key) == 0 })
}

func (t *Tree) prune(ctx context.Context, b *buffer.Buffer, match func(*page.Entry) bool) (PruneResult, error) {
	var res PruneResult
	p := b.Page()
	cleanup := b.CleanupOK()

	var drop []int
	for i := range p.Entries {
		e := &p.Entries[i]
		if !match(e) {
			continue
		}
		if !e.HasTree() {
			if e.NItems == 0 {
				res.EmptyEntries++
				drop = append(drop, i)
			}
			continue
		}
		empty, err := t.PostingTree(e.Root).Empty(ctx)
		if errors.Is(err, postingtree.ErrDeleted) {
			empty, err = true, nil
		}
		if err != nil {
			return res, err
		}
		if !empty {
			continue
		}
		res.EmptyEntries++
		if !cleanup {
			continue
		}
		if err := t.dropTree(ctx, e.Root); err != nil {
			return res, err
		}
		res.PrunedTrees++
		drop = append(drop, i)
	}

	if !cleanup || len(drop) == 0 {
		res.Empty = len(p.Entries) == 0
		return res, nil
	}
	u := t.m.Begin()
	np := u.Modify(b)
	for j := len(drop) - 1; j >= 0; j-- {
		np.Entries = slices.Delete(np.Entries, drop[j], drop[j]+1)
	}
	if _, err := u.Finish(); err != nil {
		return res, err
	}
	res.Pruned = len(drop)
	res.Empty = len(np.Entries) == 0
	return res, nil
}

// dropTree deletes the pages of a posting tree. Dropping again completes
// a drop interrupted by a crash.
func (t *Tree) dropTree(ctx context.Context, root uint32) error {
	return t.PostingTree(root).Drop(ctx)
}

// DeleteLeaf removes the empty entry leaf id from the tree in two units.
// It reports whether the leaf was removed.
func (t *Tree) DeleteLeaf(ctx context.Context, id uint32, retry bool) (bool, error) {
	return t.bt.DeleteLeaf(ctx, id, nil, btree.DeleteOptions{
		TwoPhase: true,
		Retry:    retry,
		Empty:    func(p *page.Page) bool { return len(p.Entries) == 0 },
	})
}
