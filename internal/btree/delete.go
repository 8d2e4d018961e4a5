package btree

import (
	"context"
	"slices"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
)

// deleteRetries bounds the attempts of one page deletion.
const deleteRetries = 8

// DeleteOptions configures DeleteLeaf.
type DeleteOptions struct {
	// TwoPhase detaches the victim from its parent and marks it half-dead in
	// one unit, then unlinks it from its siblings in a second one. Otherwise
	// both happen in a single unit.
	TwoPhase bool
	// Retry allows further attempts when locks are busy or links moved.
	Retry bool
	// Empty reports whether the locked victim may be removed.
	Empty func(p *page.Page) bool
}

// DeleteLeaf removes the leaf victim from the tree. The victim must be
// neither leftmost nor rightmost, nor the last downlink of its parent. It
// keeps its own links and is marked deleted with a fresh xid, so scans
// positioned on it can still move right. It reports whether the page was
// deleted; a busy or changing neighbourhood is not an error.
func (t *Tree) DeleteLeaf(ctx context.Context, victim uint32, path Path, opts DeleteOptions) (bool, error) {
	attempts := 1
	if opts.Retry {
		attempts = deleteRetries
	}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		ok, reason, err := t.tryDelete(ctx, victim, path, opts)
		if err != nil || ok || reason == 0 {
			return ok, err
		}
		if t.opts.Logger != nil {
			t.opts.Logger.Debug("page deletion retry", "tree", t.root, "page", victim, "reason", reason.String())
		}
	}
	return false, nil
}

type lockSet struct {
	bufs  []*buffer.Buffer
	modes []buffer.LockMode
}

func (s *lockSet) add(b *buffer.Buffer, mode buffer.LockMode) {
	s.bufs = append(s.bufs, b)
	s.modes = append(s.modes, mode)
}

func (s *lockSet) release() {
	for i := len(s.bufs) - 1; i >= 0; i-- {
		s.bufs[i].Done(s.modes[i])
	}
}

func (t *Tree) tryDelete(ctx context.Context, victim uint32, path Path, opts DeleteOptions) (bool, retryReason, error) {
	vp, err := t.Snapshot(victim)
	if err != nil {
		return false, 0, err
	}
	if !vp.IsLeaf() || vp.IsDeleted() || vp.IsIncomplete() || vp.IsLeftmost() || vp.IsRightmost() {
		return false, 0, nil
	}
	halfDead := vp.IsHalfDead()
	if !halfDead && opts.Empty != nil && !opts.Empty(vp) {
		return false, 0, nil
	}

	var locks lockSet
	defer locks.release()

	lb, err := t.m.Read(vp.Left, buffer.LockExclusive)
	if err != nil {
		return false, 0, err
	}
	locks.add(lb, buffer.LockExclusive)
	if lb.Page().Right != victim {
		return false, retryLinksChanged, nil
	}

	var vb *buffer.Buffer
	lockVictim := func() (bool, error) {
		b, err := t.m.Read(victim, buffer.LockNone)
		if err != nil {
			return false, err
		}
		if !b.ConditionalCleanup() {
			b.Release()
			return false, nil
		}
		vb = b
		locks.add(b, buffer.LockExclusive)
		return true, nil
	}

	// posting pages take the victim before the right sibling, entry pages
	// after the parent
	if t.ops.Data() {
		if ok, err := lockVictim(); err != nil || !ok {
			return false, retryLockBusy, err
		}
	}

	rb, err := t.m.Read(vp.Right, buffer.LockExclusive)
	if err != nil {
		return false, 0, err
	}
	locks.add(rb, buffer.LockExclusive)
	if rb.Page().Left != victim {
		return false, retryLinksChanged, nil
	}

	var pb *buffer.Buffer
	idx := -1
	if !halfDead {
		pb, idx, err = t.lockParent(ctx, victim, vp.Level+1, path)
		if err != nil {
			return false, 0, err
		}
		if pb == nil {
			return false, retryParentMissing, nil
		}
		locks.add(pb, buffer.LockExclusive)
		pp := pb.Page()
		if idx == len(pp.Downlinks)-1 || pp.IsIncomplete() {
			return false, 0, nil
		}
	}

	if !t.ops.Data() {
		if ok, err := lockVictim(); err != nil || !ok {
			return false, retryLockBusy, err
		}
	}

	v := vb.Page()
	if v.Left != lb.ID() || v.Right != rb.ID() || v.IsDeleted() || v.IsIncomplete() {
		return false, retryLinksChanged, nil
	}
	if v.IsHalfDead() != halfDead {
		return false, retryLinksChanged, nil
	}
	if !halfDead && opts.Empty != nil && !opts.Empty(v) {
		return false, 0, nil
	}

	if !halfDead && opts.TwoPhase {
		u := t.m.Begin()
		np := u.Modify(pb)
		np.Downlinks = slices.Delete(np.Downlinks, idx, idx+1)
		u.Modify(vb).Set(page.FlagHalfDead)
		if _, err := u.Finish(); err != nil {
			return false, 0, err
		}
		pb = nil
	}

	u := t.m.Begin()
	if pb != nil {
		np := u.Modify(pb)
		np.Downlinks = slices.Delete(np.Downlinks, idx, idx+1)
	}
	u.Modify(lb).Right = rb.ID()
	u.Modify(rb).Left = lb.ID()
	dp := u.Modify(vb)
	dp.Clear(page.FlagHalfDead)
	dp.Set(page.FlagDeleted)
	dp.DeleteXID = t.m.NextXID()
	if _, err := u.Finish(); err != nil {
		return false, 0, err
	}
	return true, 0, nil
}

// DeleteRoot marks the pages of an empty tree deleted, one unit per page,
// starting with the root.
func (t *Tree) DeleteRoot(ctx context.Context) error {
	ids := []uint32{t.root}
	level, err := t.Level()
	if err != nil {
		return err
	}
	for l := int(level) - 1; l >= 0; l-- {
		if err := t.Walk(ctx, uint16(l), func(p *page.Page) error {
			if !p.IsDeleted() {
				ids = append(ids, p.ID)
			}
			return nil
		}); err != nil {
			return err
		}
	}

	for _, id := range ids {
		b, err := t.m.Read(id, buffer.LockExclusive)
		if err != nil {
			return err
		}
		u := t.m.Begin()
		p := u.Modify(b)
		p.Set(page.FlagDeleted)
		p.DeleteXID = t.m.NextXID()
		_, err = u.Finish()
		b.Done(buffer.LockExclusive)
		if err != nil {
			return err
		}
	}
	return nil
}
