package btree

import (
	"context"
	"errors"
	"sort"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
)

// ErrStop ends a Walk early without error.
var ErrStop = errors.New("btree: stop walk")

// Descend returns the leaf covering key locked in mode, together with the
// internal pages passed on the way. Exclusive descents complete the
// incomplete splits they meet when FixIncompleteSplit is set.
func (t *Tree) Descend(ctx context.Context, key page.Bound, mode buffer.LockMode) (*buffer.Buffer, Path, error) {
	fix := mode == buffer.LockExclusive && t.opts.FixIncompleteSplit
	r := t.retrier()

	var path Path
	id, lock := t.root, buffer.LockShare
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		b, err := t.m.Read(id, lock)
		if err != nil {
			return nil, nil, err
		}
		if b, err = t.moveRight(b, key, lock); err != nil {
			return nil, nil, err
		}
		p := b.Page()

		if fix && p.IsIncomplete() {
			b.Done(lock)
			if err := t.finishSplit(ctx, p.ID, path); err != nil {
				return nil, nil, err
			}
			if err := r.retry(retryIncompleteSplit); err != nil {
				return nil, nil, err
			}
			id = p.ID
			continue
		}

		if p.IsLeaf() {
			if lock != mode {
				// only a root leaf is read in the wrong mode
				b.Done(lock)
				if err := r.retry(retryRelock); err != nil {
					return nil, nil, err
				}
				id, lock = p.ID, mode
				continue
			}
			return b, path, nil
		}

		child, err := t.child(p, key)
		b.Done(lock)
		if err != nil {
			return nil, nil, err
		}
		path = append(path, Frame{ID: p.ID, Level: p.Level})
		id, lock = child, buffer.LockShare
		if p.Level == 1 {
			lock = mode
		}
	}
}

// moveRight follows right links while key lies beyond the page or the page
// is being deleted. b is released when the walk leaves it.
func (t *Tree) moveRight(b *buffer.Buffer, key page.Bound, lock buffer.LockMode) (*buffer.Buffer, error) {
	for {
		p := b.Page()
		if p.IsFree() || p.IsMeta() {
			b.Done(lock)
			return nil, corruptf("page %d reached from tree %d is not a tree page", p.ID, t.root)
		}
		dead := p.IsDeleted() || p.IsHalfDead()
		if !dead && !t.Beyond(p, key) {
			return b, nil
		}
		if p.Right == page.InvalidID {
			if dead {
				b.Done(lock)
				return nil, corruptf("deleted page %d has no right sibling", p.ID)
			}
			return b, nil
		}
		next, level := p.Right, p.Level
		b.Done(lock)

		nb, err := t.m.Read(next, lock)
		if err != nil {
			return nil, err
		}
		if np := nb.Page(); np.Level != level || np.IsData() != t.ops.Data() {
			nb.Done(lock)
			return nil, corruptf("right sibling %d of page %d differs in kind", next, p.ID)
		}
		b = nb
	}
}

// ChildIndex returns the downlink of internal page p to follow for key.
func (t *Tree) ChildIndex(p *page.Page, key page.Bound) int {
	n := len(p.Downlinks)
	i := sort.Search(n, func(i int) bool { return t.compare(key, p.Downlinks[i].High) <= 0 })
	if i == n {
		i = n - 1
	}
	return i
}

func (t *Tree) child(p *page.Page, key page.Bound) (uint32, error) {
	if len(p.Downlinks) == 0 {
		return 0, corruptf("internal page %d has no downlinks", p.ID)
	}
	return p.Downlinks[t.ChildIndex(p, key)].Child, nil
}

// Snapshot returns the current content of page id.
func (t *Tree) Snapshot(id uint32) (*page.Page, error) {
	b, err := t.m.Read(id, buffer.LockShare)
	if err != nil {
		return nil, err
	}
	p := b.Page()
	b.Done(buffer.LockShare)
	return p, nil
}

// Level returns the level of the root.
func (t *Tree) Level() (uint16, error) {
	p, err := t.Snapshot(t.root)
	if err != nil {
		return 0, err
	}
	return p.Level, nil
}

// Leftmost returns the leftmost page of level.
func (t *Tree) Leftmost(ctx context.Context, level uint16) (uint32, error) {
	id := t.root
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		p, err := t.Snapshot(id)
		if err != nil {
			return 0, err
		}
		if p.Level == level {
			return id, nil
		}
		if p.Level < level || p.IsLeaf() {
			return 0, corruptf("tree %d has no level %d", t.root, level)
		}
		if len(p.Downlinks) == 0 {
			return 0, corruptf("internal page %d has no downlinks", p.ID)
		}
		id = p.Downlinks[0].Child
	}
}

// Walk calls fn with a snapshot of every page of level, left to right.
// Returning ErrStop from fn ends the walk.
func (t *Tree) Walk(ctx context.Context, level uint16, fn func(p *page.Page) error) error {
	id, err := t.Leftmost(ctx, level)
	if err != nil {
		return err
	}
	for id != page.InvalidID {
		if err := ctx.Err(); err != nil {
			return err
		}
		p, err := t.Snapshot(id)
		if err != nil {
			return err
		}
		if err := fn(p); err != nil {
			if errors.Is(err, ErrStop) {
				return nil
			}
			return err
		}
		id = p.Right
	}
	return nil
}
