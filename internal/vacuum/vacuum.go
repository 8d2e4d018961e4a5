package vacuum

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/cycle"
	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/postingtree"
	"github.com/hupe1980/rumgo/model"
)

// ErrNoPredicate is returned by BulkDelete without a dead-row predicate.
var ErrNoPredicate = errors.New("vacuum: no dead-row predicate")

// Options configures a bulk delete.
type Options struct {
	// Index identifies the index in the cycle registry.
	Index    string
	Registry *cycle.Registry
	// VacuumEntryItems filters inline posting lists; otherwise only posting
	// trees are vacuumed.
	VacuumEntryItems bool
	// PruneEmptyPages detaches entry leaves left without entries.
	PruneEmptyPages bool
	// SkipRetryOnDeletePage gives up a page deletion whose locks are busy
	// instead of retrying it.
	SkipRetryOnDeletePage bool
	// BlockOrder walks entry leaves in file order.
	BlockOrder bool
	Logger     *slog.Logger
}

// Stats reports one bulk delete.
type Stats struct {
	CycleID       uint16
	Leaves        int
	Entries       int
	Removed       int
	Remaining     int
	EmptyEntries  int
	PrunedEntries int
	PostingTrees  int
	PrunedTrees   int
	DataPages     int
	DeletedLeaves int
	Backtracks    int
}

type run struct {
	t     *entrytree.Tree
	m     *buffer.Manager
	dead  func(model.Locator) bool
	opts  Options
	cycle uint16
	stats Stats
	// empty holds entry leaves emptied by this run
	empty []uint32
}

// BulkDelete removes every item for which dead returns true.
func BulkDelete(ctx context.Context, t *entrytree.Tree, dead func(model.Locator) bool, opts Options) (Stats, error) {
	if dead == nil {
		return Stats{}, ErrNoPredicate
	}
	if opts.Registry == nil {
		opts.Registry = cycle.Default
	}
	id, err := opts.Registry.Start(opts.Index)
	if err != nil {
		return Stats{}, err
	}
	defer opts.Registry.End(opts.Index)

	r := &run{t: t, m: t.Manager(), dead: dead, opts: opts, cycle: id}
	r.stats.CycleID = id
	if opts.BlockOrder {
		err = r.blockOrder(ctx)
	} else {
		err = r.rightLinks(ctx)
	}
	if err == nil && opts.PruneEmptyPages {
		err = r.deleteLeaves(ctx)
	}
	if opts.Logger != nil {
		opts.Logger.Debug("bulk delete finished",
			"cycle", id, "leaves", r.stats.Leaves, "removed", r.stats.Removed,
			"pruned_entries", r.stats.PrunedEntries, "pruned_trees", r.stats.PrunedTrees,
			"deleted_leaves", r.stats.DeletedLeaves, "backtracks", r.stats.Backtracks)
	}
	return r.stats, err
}

func (r *run) rightLinks(ctx context.Context) error {
	id, err := r.t.Btree().Leftmost(ctx, 0)
	if err != nil {
		return err
	}
	for id != page.InvalidID {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := r.leaf(ctx, id)
		if err != nil {
			return err
		}
		id = next
	}
	return nil
}

func (r *run) blockOrder(ctx context.Context) error {
	n := r.m.NumPages()
	for id := page.EntryRootID; id < n; id++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		b, err := r.m.Read(id, buffer.LockShare)
		if err != nil {
			return err
		}
		p := b.Page()
		b.Done(buffer.LockShare)
		if !entryLeaf(p) {
			continue
		}
		right, err := r.leaf(ctx, id)
		if err != nil {
			return err
		}
		if err := r.backtrack(ctx, id, right); err != nil {
			return err
		}
	}
	return nil
}

// backtrack processes right siblings below the current position that were
// split off during this run, following their right links while they stay
// behind it.
func (r *run) backtrack(ctx context.Context, pos, right uint32) error {
	for right != page.InvalidID && right < pos {
		p, err := r.t.Btree().Snapshot(right)
		if err != nil {
			return err
		}
		if !entryLeaf(p) || p.CycleID != r.cycle {
			return nil
		}
		r.stats.Backtracks++
		if right, err = r.leaf(ctx, right); err != nil {
			return err
		}
	}
	return nil
}

func entryLeaf(p *page.Page) bool {
	return p.IsLeaf() && !p.IsData() && !p.IsMeta() && !p.IsFree() && !p.IsDeleted()
}

// leaf vacuums one entry leaf and the posting trees it references. It
// returns the right sibling.
func (r *run) leaf(ctx context.Context, id uint32) (uint32, error) {
	b, err := r.m.Read(id, buffer.LockExclusive)
	if err != nil {
		return 0, err
	}
	p := b.Page()
	right := p.Right
	if p.IsDeleted() {
		b.Done(buffer.LockExclusive)
		return right, nil
	}
	if p.IsHalfDead() {
		b.Done(buffer.LockExclusive)
		r.empty = append(r.empty, id)
		return right, nil
	}

	dead := r.dead
	if !r.opts.VacuumEntryItems {
		dead = func(model.Locator) bool { return false }
	}
	res, err := r.t.VacuumLeaf(b, dead, entrytree.LeafOptions{PruneEntries: true, CycleID: r.cycle})
	b.Done(buffer.LockExclusive)
	if err != nil {
		return 0, fmt.Errorf("vacuum leaf %d: %w", id, err)
	}
	r.stats.Leaves++
	r.stats.Entries += res.Entries
	r.stats.Removed += res.Removed
	r.stats.Remaining += res.Remaining
	r.stats.EmptyEntries += res.EmptyEntries
	r.stats.PrunedEntries += res.Pruned
	gone := res.Pruned

	for _, ref := range res.Trees {
		pruned, err := r.tree(ctx, ref)
		if err != nil {
			return 0, err
		}
		if pruned {
			gone++
		}
	}
	if gone == res.Entries && id != r.t.Btree().Root() {
		r.empty = append(r.empty, id)
	}
	return right, nil
}

// tree vacuums one posting tree and prunes its entry once it is empty. It
// reports whether the entry is gone.
func (r *run) tree(ctx context.Context, ref entrytree.TreeRef) (bool, error) {
	r.stats.PostingTrees++
	vs, err := r.t.PostingTree(ref.Root).Vacuum(ctx, r.dead, postingtree.VacuumOptions{
		CycleID:     r.cycle,
		DeletePages: true,
		RetryDelete: !r.opts.SkipRetryOnDeletePage,
	})
	if err != nil && !errors.Is(err, postingtree.ErrDeleted) {
		return false, fmt.Errorf("vacuum posting tree %d: %w", ref.Root, err)
	}
	r.stats.Removed += vs.Removed
	r.stats.Remaining += vs.Remaining
	r.stats.DataPages += vs.DeletedPages
	if err == nil && vs.Remaining > 0 {
		return false, nil
	}

	r.stats.EmptyEntries++
	pr, err := r.t.PruneKey(ctx, ref.Key)
	if err != nil {
		return false, err
	}
	r.stats.PrunedTrees += pr.PrunedTrees
	r.stats.PrunedEntries += pr.Pruned
	return pr.Pruned > 0, nil
}

// deleteLeaves detaches the entry leaves emptied by the run.
func (r *run) deleteLeaves(ctx context.Context) error {
	for _, id := range r.empty {
		ok, err := r.t.DeleteLeaf(ctx, id, !r.opts.SkipRetryOnDeletePage)
		if err != nil {
			return fmt.Errorf("delete leaf %d: %w", id, err)
		}
		if ok {
			r.stats.DeletedLeaves++
		}
	}
	return nil
}
