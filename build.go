package rumgo

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/build"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/vacuum"
)

// Table is the row source of Build.
type Table = build.Table

// BuildResult reports a bulk build.
type BuildResult = build.Result

// BuildOption tunes one Build call.
type BuildOption func(*build.Options)

// BuildFrom starts the table scan at container c, wrapping around.
func BuildFrom(c uint32) BuildOption {
	return func(o *build.Options) {
		o.StartContainer = c
	}
}

// BuildWorkers overrides the worker count of the index for one build.
func BuildWorkers(n int) BuildOption {
	return func(o *build.Options) {
		o.Workers = n
	}
}

// Build indexes every row of table into the empty index. Pages are written
// without logging and logged once at the end; the meta counters are
// refreshed afterwards. It expects no concurrent writers.
func (i *Index) Build(ctx context.Context, table Table, optFns ...BuildOption) (BuildResult, error) {
	start := time.Now()
	res, err := i.build(ctx, table, optFns)
	i.metrics.RecordBuild(res.Rows, res.Entries, time.Since(start), err)
	i.logger.LogBuild(ctx, res.Rows, res.Entries, time.Since(start), err)
	return res, err
}

func (i *Index) build(ctx context.Context, table Table, optFns []BuildOption) (BuildResult, error) {
	if err := i.acquire(); err != nil {
		return BuildResult{}, err
	}
	defer i.release()

	empty, err := i.empty()
	if err != nil {
		return BuildResult{}, translateError(err)
	}
	if !empty {
		return BuildResult{}, fmt.Errorf("%w: %s", ErrNotEmpty, i.dir)
	}

	if err := i.rc.AcquireBackground(ctx); err != nil {
		return BuildResult{}, err
	}
	defer i.rc.ReleaseBackground()

	tempDir := i.opts.tempDir
	if tempDir == "" {
		tempDir = i.dir
	}
	bopts := build.Options{
		Extractor:    i.opts.extractor,
		Workers:      i.opts.workers,
		MemoryBudget: i.opts.buildMemory,
		TempDir:      tempDir,
		FS:           i.opts.fs,
		Compression:  i.opts.spillCompression,
		AddInfo:      i.opts.addInfo,
		Controller:   i.rc,
		Logger:       i.logger.Logger,
	}
	for _, fn := range optFns {
		fn(&bopts)
	}

	res, err := build.Build(ctx, i.tree, table, bopts)
	if err != nil {
		return res, translateError(err)
	}
	if _, err := vacuum.Cleanup(ctx, i.tree, i.logger.Logger); err != nil {
		return res, translateError(err)
	}
	return res, translateError(i.markComplete())
}

// empty reports whether the entry tree holds no entries.
func (i *Index) empty() (bool, error) {
	b, err := i.m.Read(page.EntryRootID, buffer.LockShare)
	if err != nil {
		return false, err
	}
	defer b.Done(buffer.LockShare)
	p := b.Page()
	return p.IsLeaf() && len(p.Entries) == 0, nil
}

func (i *Index) markComplete() error {
	b, err := i.m.Read(page.MetaID, buffer.LockExclusive)
	if err != nil {
		return err
	}
	defer b.Done(buffer.LockExclusive)

	u := i.m.Begin()
	p := u.Modify(b)
	if p.Meta == nil {
		u.Abort()
		return &page.CorruptError{ID: page.MetaID, Reason: "not a meta page"}
	}
	p.Meta.Complete = true
	if _, err := u.Finish(); err != nil {
		return err
	}
	return i.durable()
}
