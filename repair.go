package rumgo

import (
	"context"
	"path/filepath"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/repair"
)

// CheckReport is the result of a structural check.
type CheckReport = repair.Report

// RepairStats reports a repair run.
type RepairStats = repair.Stats

// Inspector renders meta, page statistics and page contents as JSON.
type Inspector = repair.Inspector

// acquireExclusive takes the operation lock exclusively. The caller must
// call releaseExclusive.
func (i *Index) acquireExclusive() error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return ErrClosed
	}
	return nil
}

func (i *Index) releaseExclusive() { i.mu.Unlock() }

// Check verifies every level of the entry tree and of every posting tree.
// Incomplete splits, half-dead pages and dangling entries are reported but
// are not defects; see CheckReport.OK. Writers are blocked while it runs.
func (i *Index) Check(ctx context.Context) (*CheckReport, error) {
	if err := i.acquireExclusive(); err != nil {
		return nil, err
	}
	defer i.releaseExclusive()
	r, err := repair.Check(ctx, i.tree)
	return r, translateError(err)
}

// Repair completes interrupted structural changes: incomplete splits,
// half-dead pages, and entries left pointing at dropped posting trees. A
// structure with defects is not touched and the error matches ErrCorrupt.
// With dryRun it only counts what it would repair.
func (i *Index) Repair(ctx context.Context, dryRun bool) (RepairStats, error) {
	if err := i.acquireExclusive(); err != nil {
		return RepairStats{}, err
	}
	defer i.releaseExclusive()

	stats, err := repair.Repair(ctx, i.tree, repair.Options{DryRun: dryRun, Logger: i.logger.Logger})
	if err == nil && !dryRun {
		err = i.durable()
	}
	err = translateError(err)
	i.logger.LogRepair(ctx, dryRun, stats.Finished, err)
	return stats, err
}

// Inspector returns an inspector over the live buffer pool.
func (i *Index) Inspector() (*Inspector, error) {
	if err := i.acquire(); err != nil {
		return nil, err
	}
	defer i.release()
	in, err := repair.NewInspector(repair.Live(i.m), i.opts.codec)
	return in, translateError(err)
}

// FileInspector is an Inspector over the page file of a closed index. It
// sees the pages as of the last checkpoint.
type FileInspector struct {
	*Inspector
	f *repair.File
}

// InspectFile maps the page file in dir read-only. Only WithCodec is
// honoured among the options.
func InspectFile(dir string, optFns ...Option) (*FileInspector, error) {
	o := applyOptions(optFns)
	f, err := repair.OpenFile(filepath.Join(dir, buffer.PageFile), 0)
	if err != nil {
		return nil, translateError(err)
	}
	in, err := repair.NewInspector(f, o.codec)
	if err != nil {
		f.Close()
		return nil, translateError(err)
	}
	return &FileInspector{Inspector: in, f: f}, nil
}

// Close unmaps the page file.
func (fi *FileInspector) Close() error { return fi.f.Close() }
