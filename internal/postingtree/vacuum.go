package postingtree

import (
	"context"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/model"
)

// VacuumStats reports one vacuum of a posting tree.
type VacuumStats struct {
	Removed      int
	Remaining    int
	Leaves       int
	EmptyLeaves  int
	DeletedPages int
}

// VacuumOptions configures Vacuum.
type VacuumOptions struct {
	// CycleID is the cycle of the running vacuum; leaves tagged with it are
	// reset as they are processed.
	CycleID uint16
	// DeletePages removes emptied leaves from the tree.
	DeletePages bool
	// RetryDelete retries page deletions whose locks are busy.
	RetryDelete bool
}

// Vacuum removes the items for which dead returns true, leaf by leaf from
// left to right, each under an exclusive lock.
func (t *Tree) Vacuum(ctx context.Context, dead func(model.Locator) bool, opts VacuumOptions) (VacuumStats, error) {
	var (
		stats   VacuumStats
		victims []uint32
	)

	id, err := t.bt.Leftmost(ctx, 0)
	if err != nil {
		return stats, t.checkDeleted(err)
	}
	for id != page.InvalidID {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		b, err := t.m.Read(id, buffer.LockExclusive)
		if err != nil {
			return stats, err
		}
		p := b.Page()
		if p.IsDeleted() || p.IsHalfDead() {
			id = p.Right
			b.Done(buffer.LockExclusive)
			continue
		}

		items, err := p.Items(t.opts.AddInfo, t.opts.Strict)
		if err != nil {
			b.Done(buffer.LockExclusive)
			return stats, err
		}
		keep := posting.Filter(items, func(l model.Locator) bool { return !dead(l) })
		resetCycle := opts.CycleID != 0 && p.CycleID == opts.CycleID

		if len(keep) != len(items) || resetCycle {
			u := t.m.Begin()
			np := u.Modify(b)
			np.SetItems(keep, t.budget, t.opts.AddInfo)
			if resetCycle {
				np.CycleID = 0
			}
			if _, err := u.Finish(); err != nil {
				b.Done(buffer.LockExclusive)
				return stats, err
			}
		}

		stats.Leaves++
		stats.Removed += len(items) - len(keep)
		stats.Remaining += len(keep)
		if len(keep) == 0 {
			stats.EmptyLeaves++
			if !p.IsLeftmost() && !p.IsRightmost() {
				victims = append(victims, id)
			}
		}
		id = p.Right
		b.Done(buffer.LockExclusive)
	}

	if !opts.DeletePages {
		return stats, nil
	}
	for _, v := range victims {
		ok, err := t.bt.DeleteLeaf(ctx, v, nil, btree.DeleteOptions{
			Retry: opts.RetryDelete,
			Empty: func(p *page.Page) bool { return p.NItems == 0 },
		})
		if err != nil {
			return stats, err
		}
		if ok {
			stats.DeletedPages++
		}
	}
	return stats, nil
}
