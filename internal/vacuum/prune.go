package vacuum

import (
	"context"
	"log/slog"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/page"
)

// PruneOptions configures PruneEmptyEntries.
type PruneOptions struct {
	// DeletePages detaches entry leaves left without entries.
	DeletePages bool
	// Retry retries page deletions whose locks are busy.
	Retry  bool
	Logger *slog.Logger
}

// PruneStats reports one prune pass.
type PruneStats struct {
	Leaves        int
	EmptyEntries  int
	Pruned        int
	PrunedTrees   int
	DeletedLeaves int
}

// PruneEmptyEntries removes every entry whose postings are all gone,
// without looking at row liveness.
func PruneEmptyEntries(ctx context.Context, t *entrytree.Tree, opts PruneOptions) (PruneStats, error) {
	var (
		stats PruneStats
		empty []uint32
	)
	id, err := t.Btree().Leftmost(ctx, 0)
	if err != nil {
		return stats, err
	}
	m := t.Manager()
	for id != page.InvalidID {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		b, err := m.Read(id, buffer.LockExclusive)
		if err != nil {
			return stats, err
		}
		p := b.Page()
		right := p.Right
		if p.IsDeadOrDying() {
			if p.IsHalfDead() {
				empty = append(empty, id)
			}
			b.Done(buffer.LockExclusive)
			id = right
			continue
		}
		res, err := t.PruneLeaf(ctx, b)
		b.Done(buffer.LockExclusive)
		if err != nil {
			return stats, err
		}
		stats.Leaves++
		stats.EmptyEntries += res.EmptyEntries
		stats.Pruned += res.Pruned
		stats.PrunedTrees += res.PrunedTrees
		if res.Empty && id != t.Btree().Root() {
			empty = append(empty, id)
		}
		id = right
	}

	if opts.DeletePages {
		for _, id := range empty {
			ok, err := t.DeleteLeaf(ctx, id, opts.Retry)
			if err != nil {
				return stats, err
			}
			if ok {
				stats.DeletedLeaves++
			}
		}
	}
	if opts.Logger != nil {
		opts.Logger.Debug("prune finished", "leaves", stats.Leaves, "pruned", stats.Pruned,
			"pruned_trees", stats.PrunedTrees, "deleted_leaves", stats.DeletedLeaves)
	}
	return stats, nil
}
