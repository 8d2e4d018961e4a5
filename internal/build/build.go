package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/rumgo/internal/build/extsort"
	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/fs"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/internal/resource"
	"github.com/hupe1980/rumgo/model"
	"github.com/hupe1980/rumgo/opclass"
)

var (
	// ErrNoExtractor is returned by Build without an extractor.
	ErrNoExtractor = errors.New("build: no extractor")
	// ErrForeignLocator is returned when an extractor emits a posting for
	// another row.
	ErrForeignLocator = errors.New("build: posting locator differs from row")
)

// DefaultMemoryBudget bounds the accumulator when Options.MemoryBudget is
// zero.
const DefaultMemoryBudget = 16 << 20

// logBatch is the number of pages per log record written by LogAll.
const logBatch = 64

// Table is the row source of a build. Rows are addressed by container and
// visited container by container.
type Table interface {
	Containers() uint32
	// ScanContainer calls fn for every row of container c in slot order.
	ScanContainer(ctx context.Context, c uint32, fn func(loc model.Locator, row any) error) error
}

// Options configures a build.
type Options struct {
	Extractor opclass.Extractor
	// Workers above one run the parallel build.
	Workers      int
	MemoryBudget int64
	// StartContainer is where the table scan begins; it wraps around.
	StartContainer uint32
	TempDir        string
	FS             fs.FileSystem
	Compression    extsort.Compression
	AddInfo        bool
	Controller     *resource.Controller
	Logger         *slog.Logger
}

// Result reports a build.
type Result struct {
	Rows     int64
	Postings int64
	Entries  int64
	Flushes  int64
	Spills   int
	Duration time.Duration
}

// Build indexes every row of table into t. Pages are written without
// logging and logged once at the end.
func Build(ctx context.Context, t *entrytree.Tree, table Table, opts Options) (Result, error) {
	if opts.Extractor == nil {
		return Result{}, ErrNoExtractor
	}
	if opts.MemoryBudget <= 0 {
		opts.MemoryBudget = DefaultMemoryBudget
	}
	start := time.Now()
	b := &builder{t: t, table: table, opts: opts}

	m := t.Manager()
	m.SetBulk(true)
	var err error
	if opts.Workers > 1 {
		err = b.parallel(ctx)
	} else {
		err = b.sequential(ctx)
	}
	if logErr := m.LogAll(ctx, logBatch); err == nil {
		err = logErr
	}

	res := Result{
		Rows:     b.rows.Load(),
		Postings: b.postings.Load(),
		Entries:  b.entries.Load(),
		Flushes:  b.flushes.Load(),
		Spills:   b.spills,
		Duration: time.Since(start),
	}
	if opts.Logger != nil {
		opts.Logger.Debug("build finished", "workers", max(opts.Workers, 1), "rows", res.Rows,
			"entries", res.Entries, "flushes", res.Flushes, "spills", res.Spills, "duration", res.Duration)
	}
	return res, err
}

type builder struct {
	t     *entrytree.Tree
	table Table
	opts  Options

	rows     atomic.Int64
	postings atomic.Int64
	entries  atomic.Int64
	flushes  atomic.Int64
	spills   int
}

// cursor hands out containers to scanners, starting at start and wrapping
// around once.
type cursor struct {
	n, start uint32
	next     atomic.Uint32
}

func (c *cursor) take() (uint32, bool) {
	i := c.next.Add(1) - 1
	if i >= c.n {
		return 0, false
	}
	return (c.start + i) % c.n, true
}

func (b *builder) cursor() *cursor {
	n := b.table.Containers()
	start := uint32(0)
	if n > 0 {
		start = b.opts.StartContainer % n
	}
	return &cursor{n: n, start: start}
}

// scan extracts the rows of one container into acc. flush is called
// whenever acc must be drained.
func (b *builder) scan(ctx context.Context, c uint32, acc *accumulator, budget int64, flush func() error) error {
	return b.table.ScanContainer(ctx, c, func(loc model.Locator, row any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.rows.Add(1)
		postings, err := b.opts.Extractor.Extract(loc, row)
		if err != nil {
			return err
		}
		for _, p := range postings {
			if p.Item.Locator != loc {
				return fmt.Errorf("%w: %s for row %s", ErrForeignLocator, p.Item.Locator, loc)
			}
			if err := b.t.CheckKey(p.Key); err != nil {
				return err
			}
			if !acc.add(p) {
				if err := flush(); err != nil {
					return err
				}
				acc.add(p)
			}
			b.postings.Add(1)
		}
		if acc.size >= budget {
			return flush()
		}
		return nil
	})
}

func (b *builder) sequential(ctx context.Context) error {
	acc := newAccumulator(b.t.Compare)
	flush := func() error {
		b.flushes.Add(1)
		for _, g := range acc.drain() {
			if err := b.t.Insert(ctx, g.key, g.items); err != nil {
				return err
			}
		}
		return nil
	}
	cur := b.cursor()
	for {
		c, ok := cur.take()
		if !ok {
			break
		}
		if err := b.scan(ctx, c, acc, b.opts.MemoryBudget, flush); err != nil {
			return err
		}
	}
	if acc.len() > 0 {
		if err := flush(); err != nil {
			return err
		}
	}
	st, err := b.t.Stats(ctx)
	if err != nil {
		return err
	}
	b.entries.Store(int64(st.Entries))
	return nil
}

func (b *builder) sorter(budget int64) *extsort.Sorter {
	return extsort.New(extsort.Options{
		Dir:          b.opts.TempDir,
		FS:           b.opts.FS,
		Compression:  b.opts.Compression,
		MemoryBudget: budget,
		AddInfo:      b.opts.AddInfo,
		Compare:      b.t.Compare,
		Controller:   b.opts.Controller,
	})
}

// parallel runs the workers, each spilling into its own sorter and
// merging its runs per key into the shared sorter. The caller then inserts
// every key once.
func (b *builder) parallel(ctx context.Context) error {
	workers := b.opts.Workers
	budget := b.opts.MemoryBudget / int64(workers)
	shared := b.sorter(b.opts.MemoryBudget)
	cur := b.cursor()

	var spillMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			local := b.sorter(budget)
			acc := newAccumulator(b.t.Compare)
			flush := func() error {
				b.flushes.Add(1)
				for _, grp := range acc.drain() {
					if err := local.Add(gctx, extsort.Record{Key: grp.key, Items: grp.items}); err != nil {
						return err
					}
				}
				return nil
			}
			for {
				c, ok := cur.take()
				if !ok {
					break
				}
				if err := b.scan(gctx, c, acc, budget, flush); err != nil {
					return err
				}
			}
			if acc.len() > 0 {
				if err := flush(); err != nil {
					return err
				}
			}
			spillMu.Lock()
			b.spills += local.Runs()
			spillMu.Unlock()
			return mergeInto(gctx, local, shared, b.t.Compare)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	b.spills += shared.Runs()
	it, err := shared.Sort(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	return groupKeys(it, b.t.Compare, func(k model.Key, items []model.Item) error {
		b.entries.Add(1)
		return b.t.Insert(ctx, k, items)
	})
}

// mergeInto combines the runs of local per key and adds them to shared.
func mergeInto(ctx context.Context, local, shared *extsort.Sorter, compare func(a, b model.Key) int) error {
	it, err := local.Sort(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = it.Close() }()
	return groupKeys(it, compare, func(k model.Key, items []model.Item) error {
		return shared.Add(ctx, extsort.Record{Key: k, Items: items})
	})
}

// groupKeys calls fn once per key with the merged items of all its
// consecutive records.
func groupKeys(it *extsort.Iterator, compare func(a, b model.Key) int, fn func(model.Key, []model.Item) error) error {
	var (
		key   model.Key
		items []model.Item
		open  bool
	)
	for {
		r, ok, err := it.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if open && compare(key, r.Key) == 0 {
			items = append(items, r.Items...)
			continue
		}
		if open {
			if err := fn(key, posting.Normalize(items)); err != nil {
				return err
			}
		}
		key, items, open = r.Key, append([]model.Item(nil), r.Items...), true
	}
	if open {
		return fn(key, posting.Normalize(items))
	}
	return nil
}
