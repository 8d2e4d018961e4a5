package rumgo

import (
	"context"
	"time"

	"github.com/hupe1980/rumgo/internal/vacuum"
	"github.com/hupe1980/rumgo/model"
)

// VacuumStats reports one bulk delete pass.
type VacuumStats = vacuum.Stats

// CleanupStats reports one cleanup pass.
type CleanupStats = vacuum.CleanupStats

// PruneStats reports one empty-entry prune pass.
type PruneStats = vacuum.PruneStats

// Vacuum removes every posting whose locator dead reports as gone. Entries
// left without postings are removed, and with PruneEmptyPages so are
// emptied entry leaves. Only one vacuum runs per index at a time; a second
// one fails with ErrBusy unless VacuumCycleIDOverride is set.
//
// Deleted pages are recycled by VacuumCleanup.
func (i *Index) Vacuum(ctx context.Context, dead func(model.Locator) bool) (VacuumStats, error) {
	start := time.Now()
	stats, err := i.vacuum(ctx, dead)
	i.metrics.RecordVacuum(int64(stats.Removed), time.Since(start), err)
	i.logger.LogVacuum(ctx, int64(stats.Removed), int64(stats.Remaining), err)
	return stats, err
}

func (i *Index) vacuum(ctx context.Context, dead func(model.Locator) bool) (VacuumStats, error) {
	if err := i.acquire(); err != nil {
		return VacuumStats{}, err
	}
	defer i.release()

	cfg := i.opts.config
	stats, err := vacuum.BulkDelete(ctx, i.tree, dead, vacuum.Options{
		Index:                 i.id,
		Registry:              i.registry,
		VacuumEntryItems:      cfg.VacuumEntryItems,
		PruneEmptyPages:       cfg.PruneEmptyPages,
		SkipRetryOnDeletePage: cfg.SkipRetryOnDeletePage,
		BlockOrder:            cfg.NewBulkDelete,
		Logger:                i.logger.Logger,
	})
	if err != nil {
		return stats, translateError(err)
	}
	return stats, translateError(i.durable())
}

// VacuumCleanup recycles deleted pages no snapshot can reach any more and
// recomputes the meta counters read by CostEstimate.
func (i *Index) VacuumCleanup(ctx context.Context) (CleanupStats, error) {
	if err := i.acquire(); err != nil {
		return CleanupStats{}, err
	}
	defer i.release()
	if err := i.rc.AcquireBackground(ctx); err != nil {
		return CleanupStats{}, err
	}
	defer i.rc.ReleaseBackground()

	stats, err := vacuum.Cleanup(ctx, i.tree, i.logger.Logger)
	if err != nil {
		return stats, translateError(err)
	}
	i.logger.InfoContext(ctx, "vacuum cleanup completed",
		"recycled", stats.Recycled,
		"free", stats.Free,
		"pending", stats.Pending,
	)
	return stats, translateError(i.durable())
}

// PruneEmptyEntries removes every entry whose postings are all gone,
// without consulting row liveness. With PruneEmptyPages it also deletes
// entry leaves left without entries.
func (i *Index) PruneEmptyEntries(ctx context.Context) (PruneStats, error) {
	if err := i.acquire(); err != nil {
		return PruneStats{}, err
	}
	defer i.release()

	cfg := i.opts.config
	stats, err := vacuum.PruneEmptyEntries(ctx, i.tree, vacuum.PruneOptions{
		DeletePages: cfg.PruneEmptyPages,
		Retry:       !cfg.SkipRetryOnDeletePage,
		Logger:      i.logger.Logger,
	})
	if err != nil {
		return stats, translateError(err)
	}
	i.logger.DebugContext(ctx, "prune completed", "pruned", stats.Pruned, "deleted_leaves", stats.DeletedLeaves)
	return stats, translateError(i.durable())
}
