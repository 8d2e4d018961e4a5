package rumgo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/cycle"
	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/fs"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/resource"
	"github.com/hupe1980/rumgo/internal/vacuum"
	"github.com/hupe1980/rumgo/internal/wal"
)

// Index is an open inverted index stored in one directory.
//
// All methods are safe for concurrent use. Scans, inserts and a vacuum may
// run at the same time; Build and Repair expect no concurrent writers.
type Index struct {
	id   string
	dir  string
	opts options

	logger   *Logger
	metrics  MetricsCollector
	rc       *resource.Controller
	m        *buffer.Manager
	tree     *entrytree.Tree
	registry *cycle.Registry

	// mu is held shared by operations and exclusively by Close.
	mu     sync.RWMutex
	closed bool
}

// Create creates a new index in dir. It fails with ErrExists if dir already
// holds one.
func Create(dir string, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	ok, err := fs.Exists(o.fs, filepath.Join(dir, buffer.PageFile))
	if err != nil {
		return nil, err
	}
	if ok {
		if size, err := fileSize(o.fs, filepath.Join(dir, buffer.PageFile)); err != nil || size > 0 {
			return nil, fmt.Errorf("%w: %s", ErrExists, dir)
		}
	}

	idx, err := open(dir, o, o.pageSize)
	if err != nil {
		return nil, err
	}
	if err := idx.initialize(); err != nil {
		_ = idx.m.Close()
		return nil, translateError(err)
	}
	idx.logger.Info("index created", "page_size", o.pageSize, "add_info", o.addInfo)
	return idx, nil
}

// Open opens the index in dir, replaying the redo log of an unclean
// shutdown. It fails with ErrNotExist if dir holds no index.
func Open(dir string, optFns ...Option) (*Index, error) {
	o := applyOptions(optFns)
	path := filepath.Join(dir, buffer.PageFile)
	ok, err := fs.Exists(o.fs, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, dir)
	}
	pageSize, err := detectPageSize(o.fs, path)
	if err != nil {
		return nil, translateError(err)
	}

	idx, err := open(dir, o, pageSize)
	if err != nil {
		return nil, err
	}
	meta, err := vacuum.Meta(idx.m)
	if err != nil {
		_ = idx.m.Close()
		return nil, translateError(err)
	}
	if meta.Version != page.Version {
		_ = idx.m.Close()
		return nil, &CorruptionError{Page: page.MetaID, cause: fmt.Errorf("meta version %d", meta.Version)}
	}
	idx.opts.addInfo = meta.AddInfo
	idx.m.SetFree(meta.Free)
	idx.tree = entrytree.Open(idx.m, idx.treeOptions())

	rec := idx.m.Recovery()
	if rec.Records > 0 {
		idx.logger.LogRecovery(context.Background(), rec.Records, rec.Pages, nil)
	}
	idx.logger.Debug("index opened", "page_size", pageSize, "pages", idx.m.NumPages(), "complete", meta.Complete)
	return idx, nil
}

func open(dir string, o options, pageSize int) (*Index, error) {
	id := uuid.NewString()
	rc := resource.NewController(resource.Config{
		MemoryLimitBytes:     o.memoryLimit,
		MaxBackgroundWorkers: int64(o.maintenance),
		IOLimitBytesPerSec:   o.ioLimit,
	})
	logger := o.logger.WithIndex(id, dir)

	durability := wal.DurabilitySync
	if o.durability == DurabilityAsync {
		durability = wal.DurabilityAsync
	}
	bopts := buffer.DefaultOptions()
	bopts.FS = o.fs
	bopts.PageSize = pageSize
	if o.poolBytes > 0 {
		bopts.PoolBytes = o.poolBytes
	}
	bopts.Durability = durability
	bopts.DisableWALCompression = o.noWALCompression
	bopts.Resources = rc
	bopts.Logger = logger.Logger

	m, err := buffer.Open(dir, bopts)
	if err != nil {
		if errors.Is(err, page.ErrCorrupt) {
			logger.LogRecovery(context.Background(), 0, 0, err)
		}
		return nil, translateError(err)
	}

	registry := cycle.Default
	if o.config.VacuumCycleIDOverride != 0 {
		registry = cycle.NewRegistry(o.config.VacuumCycleIDOverride)
	}
	o.pageSize = pageSize
	return &Index{
		id:       id,
		dir:      dir,
		opts:     o,
		logger:   logger,
		metrics:  o.metricsCollector,
		rc:       rc,
		m:        m,
		registry: registry,
	}, nil
}

// initialize writes the meta page and the empty entry root, then
// checkpoints so that the page file is self-describing.
func (i *Index) initialize() error {
	u := i.m.Begin()
	b, err := u.Allocate(page.NewMeta(i.opts.addInfo))
	if err != nil {
		u.Abort()
		return err
	}
	_, err = u.Finish()
	b.Done(buffer.LockExclusive)
	if err != nil {
		return err
	}
	if i.tree, err = entrytree.Create(i.m, i.treeOptions()); err != nil {
		return err
	}
	return i.m.Checkpoint()
}

func (i *Index) treeOptions() entrytree.Options {
	bt := btree.Options{
		FixIncompleteSplit:    i.opts.config.FixIncompleteSplit,
		InjectSplitIncomplete: i.opts.config.InjectSplitIncomplete,
		CycleID:               func() uint16 { return i.registry.Current(i.id) },
		OnSplit:               i.metrics.RecordSplit,
		Logger:                i.logger.Logger,
	}
	return entrytree.Options{
		AddInfo: i.opts.addInfo,
		Strict:  i.opts.config.ThrowErrorOnInvalidDataPage,
		Classes: i.opts.classes,
		Btree:   bt,
		Posting: bt,
	}
}

// detectPageSize finds the page size whose first page decodes as a meta
// page.
func detectPageSize(fsys fs.FileSystem, path string) (int, error) {
	f, err := fsys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	buf := make([]byte, page.MaxSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, err
	}
	for size := page.MinSize; size <= page.MaxSize && size <= n; size *= 2 {
		if p, err := page.Decode(page.MetaID, buf[:size]); err == nil && p.IsMeta() {
			return size, nil
		}
	}
	return 0, &page.CorruptError{ID: page.MetaID, Reason: "no page size matches the meta page"}
}

func fileSize(fsys fs.FileSystem, path string) (int64, error) {
	info, err := fsys.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// ID returns the identifier of this open index. It is fresh per Open.
func (i *Index) ID() string { return i.id }

// Dir returns the index directory.
func (i *Index) Dir() string { return i.dir }

// Config returns the behaviour flags.
func (i *Index) Config() Config { return i.opts.config }

// PageSize returns the page size of the index.
func (i *Index) PageSize() int { return i.m.PageSize() }

// AddInfo reports whether the index stores attached values.
func (i *Index) AddInfo() bool { return i.opts.addInfo }

// acquire takes the shared operation lock. The caller must call release.
func (i *Index) acquire() error {
	i.mu.RLock()
	if i.closed {
		i.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

func (i *Index) release() { i.mu.RUnlock() }

// durable waits for the redo log to cover every finished unit when the
// index runs with DurabilitySync.
func (i *Index) durable() error {
	if i.opts.durability != DurabilitySync {
		return nil
	}
	return i.m.WaitDurable(i.m.LastLSN())
}

// Checkpoint writes every dirty page to the page file and truncates the
// redo log.
func (i *Index) Checkpoint() error {
	if err := i.acquire(); err != nil {
		return err
	}
	defer i.release()
	return translateError(i.m.Checkpoint())
}

// Close checkpoints and closes the index. Open scans fail afterwards.
func (i *Index) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return ErrClosed
	}
	i.closed = true
	err := i.m.Close()
	i.logger.Debug("index closed", "error", err)
	return translateError(err)
}

// Stats describes the index.
type Stats struct {
	PageSize     int
	Pages        uint32
	FreePages    int
	EntryPages   int
	Leaves       int
	Levels       int
	Entries      int
	InlineItems  int
	PostingTrees int
	Complete     bool

	// Buffer pool counters.
	Resident    int
	Hits        int64
	Misses      int64
	Reads       int64
	Writes      int64
	LoggedUnits int64

	// MemoryUsage is the memory held against the memory limit.
	MemoryUsage int64
}

// Stats walks the entry tree and returns exact counters.
func (i *Index) Stats(ctx context.Context) (Stats, error) {
	if err := i.acquire(); err != nil {
		return Stats{}, err
	}
	defer i.release()

	ts, err := i.tree.Stats(ctx)
	if err != nil {
		return Stats{}, translateError(err)
	}
	meta, err := vacuum.Meta(i.m)
	if err != nil {
		return Stats{}, translateError(err)
	}
	bs := i.m.Stats()
	return Stats{
		PageSize:     i.m.PageSize(),
		Pages:        bs.Pages,
		FreePages:    bs.FreePages,
		EntryPages:   ts.Pages,
		Leaves:       ts.Leaves,
		Levels:       ts.Levels,
		Entries:      ts.Entries,
		InlineItems:  ts.Inline,
		PostingTrees: ts.Trees,
		Complete:     meta.Complete,
		Resident:     bs.Resident,
		Hits:         bs.Hits,
		Misses:       bs.Misses,
		Reads:        bs.Reads,
		Writes:       bs.Writes,
		LoggedUnits:  bs.Units,
		MemoryUsage:  i.rc.MemoryUsage(),
	}, nil
}
