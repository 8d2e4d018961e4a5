package repair

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/entrytree"
)

// Options configures Repair.
type Options struct {
	// DryRun reports what would be repaired without writing.
	DryRun bool
	Logger *slog.Logger
}

// Stats reports a repair run.
type Stats struct {
	DryRun     bool `json:"dryRun"`
	Incomplete int  `json:"incomplete"`
	Finished   int  `json:"finished"`
	HalfDead   int  `json:"halfDead"`
	Unlinked   int  `json:"unlinked"`
	Dangling   int  `json:"dangling"`
	Pruned     int  `json:"pruned"`
}

// Repair checks t and completes the interrupted structural changes it
// finds: incomplete splits, half-dead pages and entries pointing at dropped
// posting trees. A tree with defects is not touched; the error wraps
// btree.ErrCorrupt. It expects no concurrent writers.
func Repair(ctx context.Context, t *entrytree.Tree, opts Options) (Stats, error) {
	s := Stats{DryRun: opts.DryRun}
	r, err := Check(ctx, t)
	if err != nil {
		return s, err
	}
	if err := r.Err(); err != nil {
		return s, err
	}
	s.Incomplete, s.HalfDead, s.Dangling = len(r.Incomplete), len(r.HalfDead), len(r.Dangling)
	if opts.DryRun {
		return s, nil
	}

	tree := func(root uint32) *btree.Tree {
		if root == t.Btree().Root() {
			return t.Btree()
		}
		return t.PostingTree(root).Btree()
	}

	// lower levels first; finishing a split may complete the ones above it
	incomplete := slices.Clone(r.Incomplete)
	slices.SortFunc(incomplete, func(a, b PageRef) int {
		return cmp.Or(cmp.Compare(a.Level, b.Level), cmp.Compare(a.Tree, b.Tree), cmp.Compare(a.Page, b.Page))
	})
	for _, ref := range incomplete {
		bt := tree(ref.Tree)
		p, err := bt.Snapshot(ref.Page)
		if err != nil {
			return s, err
		}
		if !p.IsIncomplete() {
			continue
		}
		if err := bt.FinishSplit(ctx, ref.Page); err != nil {
			return s, err
		}
		s.Finished++
		if opts.Logger != nil {
			opts.Logger.Debug("finished split", "tree", ref.Tree, "page", ref.Page, "level", ref.Level)
		}
	}

	for _, ref := range r.HalfDead {
		var ok bool
		if ref.Tree == t.Btree().Root() {
			ok, err = t.DeleteLeaf(ctx, ref.Page, true)
		} else {
			ok, err = tree(ref.Tree).DeleteLeaf(ctx, ref.Page, nil, btree.DeleteOptions{TwoPhase: true, Retry: true})
		}
		if err != nil {
			return s, err
		}
		if ok {
			s.Unlinked++
		}
	}

	for _, d := range r.Dangling {
		res, err := t.PruneKey(ctx, d.Key)
		if err != nil {
			return s, err
		}
		s.Pruned += res.Pruned
	}

	if opts.Logger != nil {
		opts.Logger.Info("repair done",
			"incomplete", s.Incomplete, "finished", s.Finished,
			"half_dead", s.HalfDead, "unlinked", s.Unlinked,
			"dangling", s.Dangling, "pruned", s.Pruned)
	}
	return s, nil
}

