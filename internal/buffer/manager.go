package buffer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/rumgo/internal/cache"
	"github.com/hupe1980/rumgo/internal/fs"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/resource"
	"github.com/hupe1980/rumgo/internal/wal"
)

const (
	// PageFile is the page file name inside an index directory.
	PageFile = "index.pages"
	// WALFile is the redo log name inside an index directory.
	WALFile = "index.wal"
)

var (
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("buffer: manager closed")
	// ErrPoolExhausted is returned when no buffer can be evicted and the
	// resource controller denies more memory.
	ErrPoolExhausted = errors.New("buffer: pool exhausted")
	// ErrNoPage is returned for page numbers beyond the end of the file.
	ErrNoPage = errors.New("buffer: page does not exist")
)

// Options configures a Manager.
type Options struct {
	FS         fs.FileSystem
	PageSize   int
	PoolBytes  int64
	Durability wal.Durability
	Resources  *resource.Controller
	Logger     *slog.Logger
	// DisableWALCompression stores logged page images uncompressed.
	DisableWALCompression bool
}

// DefaultOptions returns the defaults: 8 KiB pages, a 32 MiB pool and
// synchronous durability.
func DefaultOptions() Options {
	return Options{
		PageSize:   page.DefaultSize,
		PoolBytes:  32 << 20,
		Durability: wal.DurabilitySync,
	}
}

// Manager owns the page file, the redo log and the buffer pool.
type Manager struct {
	opts     Options
	fs       fs.FileSystem
	dir      string
	file     fs.File
	wal      *wal.WAL
	pageSize int
	logger   *slog.Logger

	mu     sync.Mutex // pool misses, eviction, nPages
	pool   *cache.LRU[uint32, *Buffer]
	nPages uint32
	closed bool

	// cpMu is held shared by finishing units and exclusively by checkpoints.
	cpMu sync.RWMutex

	freeMu sync.Mutex
	free   []uint32

	bulk    atomic.Bool
	lastLSN atomic.Uint64

	xid    atomic.Uint64
	snapMu sync.Mutex
	snaps  map[uint64]int

	reads       atomic.Int64
	writes      atomic.Int64
	unitsLogged atomic.Int64

	recovery Recovery
}

// Recovery describes the redo log replay performed by Open.
type Recovery struct {
	Records int
	Pages   int
}

// Open opens the page store in dir, creating the files if needed, and
// replays the redo log.
func Open(dir string, opts Options) (*Manager, error) {
	if opts.FS == nil {
		opts.FS = fs.Default
	}
	if opts.PageSize == 0 {
		opts.PageSize = page.DefaultSize
	}
	if opts.PageSize < page.MinSize || opts.PageSize > page.MaxSize {
		return nil, fmt.Errorf("buffer: page size %d out of range [%d, %d]", opts.PageSize, page.MinSize, page.MaxSize)
	}
	if opts.PoolBytes <= 0 {
		opts.PoolBytes = DefaultOptions().PoolBytes
	}
	if err := opts.FS.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	f, err := opts.FS.OpenFile(filepath.Join(dir, PageFile), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w, err := wal.Open(opts.FS, filepath.Join(dir, WALFile), wal.Options{Durability: opts.Durability, DisableCompression: opts.DisableWALCompression})
	if err != nil {
		f.Close()
		return nil, err
	}

	m := &Manager{
		opts:     opts,
		fs:       opts.FS,
		dir:      dir,
		file:     f,
		wal:      w,
		pageSize: opts.PageSize,
		logger:   opts.Logger,
		pool:     cache.NewLRU[uint32, *Buffer](opts.PoolBytes, opts.Resources),
		nPages:   uint32(info.Size() / int64(opts.PageSize)),
		snaps:    make(map[uint64]int),
	}
	m.xid.Store(uint64(time.Now().UnixNano()))
	m.lastLSN.Store(w.LastLSN())

	if err := m.recover(); err != nil {
		w.Close()
		f.Close()
		return nil, err
	}
	return m, nil
}

// recover applies logged page images newer than the file's pages.
func (m *Manager) recover() error {
	var applied, records int
	err := m.wal.Replay(func(rec *wal.Record) error {
		if rec.Type != wal.RecordTypePageImages {
			return nil
		}
		records++
		for _, img := range rec.Pages {
			if len(img.Data) != m.pageSize {
				return fmt.Errorf("%w: logged image of page %d has %d bytes", page.ErrCorrupt, img.ID, len(img.Data))
			}
			if img.ID < m.nPages {
				cur, err := m.readImage(img.ID)
				if err != nil {
					return err
				}
				if p, err := page.Decode(img.ID, cur); err == nil && p.LSN >= rec.LSN {
					continue
				}
			}
			if _, err := m.file.WriteAt(img.Data, int64(img.ID)*int64(m.pageSize)); err != nil {
				return err
			}
			applied++
			if img.ID >= m.nPages {
				m.nPages = img.ID + 1
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("buffer: recovery: %w", err)
	}
	m.recovery = Recovery{Records: records, Pages: applied}
	if records == 0 {
		return nil
	}
	if err := m.file.Sync(); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Info("recovered page store", "dir", m.dir, "records", records, "pages", applied)
	}
	return m.wal.Truncate()
}

// Recovery returns what Open replayed from the redo log.
func (m *Manager) Recovery() Recovery { return m.recovery }

func (m *Manager) readImage(id uint32) ([]byte, error) {
	buf := make([]byte, m.pageSize)
	if _, err := m.file.ReadAt(buf, int64(id)*int64(m.pageSize)); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	m.reads.Add(1)
	return buf, nil
}

// PageSize returns the page size.
func (m *Manager) PageSize() int { return m.pageSize }

// Dir returns the index directory.
func (m *Manager) Dir() string { return m.dir }

// FS returns the file system of the store.
func (m *Manager) FS() fs.FileSystem { return m.fs }

// NumPages returns the number of allocated page numbers.
func (m *Manager) NumPages() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nPages
}

// Read pins page id and locks it in mode.
func (m *Manager) Read(id uint32, mode LockMode) (*Buffer, error) {
	b, err := m.pin(id)
	if err != nil {
		return nil, err
	}
	b.Lock(mode)
	return b, nil
}

func (m *Manager) pin(id uint32) (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if b, ok := m.pool.Get(id); ok {
		b.pins.Add(1)
		return b, nil
	}
	if id >= m.nPages {
		return nil, fmt.Errorf("%w: %d", ErrNoPage, id)
	}

	img, err := m.readImage(id)
	if err != nil {
		return nil, err
	}
	p, err := page.Decode(id, img)
	switch {
	case errors.Is(err, page.ErrZero):
		p = page.New(id, page.FlagFree, 0)
	case err != nil:
		return nil, err
	}
	return m.install(id, p)
}

// extend pins a new page past the end of the file.
func (m *Manager) extend() (*Buffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	id := m.nPages
	b, err := m.install(id, page.New(id, page.FlagFree, 0))
	if err != nil {
		return nil, err
	}
	m.nPages++
	return b, nil
}

func (m *Manager) install(id uint32, p *page.Page) (*Buffer, error) {
	b := &Buffer{m: m, id: id}
	b.page.Store(p)
	b.pins.Store(1)
	if err := m.admit(b); err != nil {
		return nil, err
	}
	return b, nil
}

// admit adds b to the pool, evicting unpinned buffers to make room.
func (m *Manager) admit(b *Buffer) error {
	cost := int64(m.pageSize)
	for !m.pool.Fits(cost) {
		ok, err := m.evictOne()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	for !m.pool.Add(b.id, b, cost) {
		ok, err := m.evictOne()
		if err != nil {
			return err
		}
		if !ok {
			return ErrPoolExhausted
		}
	}
	return nil
}

func (m *Manager) evictOne() (bool, error) {
	_, victim, ok := m.pool.Evict(func(_ uint32, b *Buffer) bool { return b.pins.Load() == 0 })
	if !ok {
		return false, nil
	}
	if err := m.flush(victim); err != nil {
		// keep the page resident so its changes are not lost
		m.pool.Add(victim.id, victim, int64(m.pageSize))
		return false, err
	}
	return true, nil
}

// flush writes b if dirty, after the log covers its LSN.
func (m *Manager) flush(b *Buffer) error {
	if !b.dirty.Load() {
		return nil
	}
	p := b.Page()
	if !m.bulk.Load() && p.LSN > 0 {
		if err := m.wal.WaitFor(p.LSN); err != nil {
			return err
		}
	}
	img, err := page.Encode(p, m.pageSize)
	if err != nil {
		return err
	}
	if _, err := m.file.WriteAt(img, int64(b.id)*int64(m.pageSize)); err != nil {
		return err
	}
	m.writes.Add(1)
	b.dirty.Store(false)
	return nil
}

// Allocate returns a pinned, exclusively locked buffer for a new page and
// registers p on it in u. Free pages are reused before the file grows.
func (u *Unit) Allocate(p *page.Page) (*Buffer, error) {
	m := u.m
	for {
		id, ok := m.popFree()
		if !ok {
			break
		}
		b, err := m.pin(id)
		if err != nil {
			continue
		}
		if b.TryLock() {
			if b.CleanupOK() && b.Page().IsFree() {
				u.allocated = append(u.allocated, id)
				u.Put(b, p)
				return b, nil
			}
			b.Unlock(LockExclusive)
		}
		b.Release()
	}

	b, err := m.extend()
	if err != nil {
		return nil, err
	}
	b.Lock(LockExclusive)
	u.allocated = append(u.allocated, b.id)
	u.Put(b, p)
	return b, nil
}

func (m *Manager) popFree() (uint32, bool) {
	m.freeMu.Lock()
	defer m.freeMu.Unlock()
	n := len(m.free)
	if n == 0 {
		return 0, false
	}
	id := m.free[n-1]
	m.free = m.free[:n-1]
	return id, true
}

func (m *Manager) pushFree(id uint32) {
	m.freeMu.Lock()
	defer m.freeMu.Unlock()
	m.free = append(m.free, id)
}

// SetFree replaces the free page list.
func (m *Manager) SetFree(ids []uint32) {
	m.freeMu.Lock()
	defer m.freeMu.Unlock()
	m.free = append(m.free[:0], ids...)
}

// Free returns a copy of the free page list.
func (m *Manager) Free() []uint32 {
	m.freeMu.Lock()
	defer m.freeMu.Unlock()
	return append([]uint32(nil), m.free...)
}

// SetBulk switches bulk mode. Units finished in bulk mode are not logged
// until LogAll.
func (m *Manager) SetBulk(on bool) { m.bulk.Store(on) }

// Bulk reports whether bulk mode is on.
func (m *Manager) Bulk() bool { return m.bulk.Load() }

// LogAll leaves bulk mode and writes every page to the log once, batch
// pages per record, then syncs the log.
func (m *Manager) LogAll(ctx context.Context, batch int) error {
	if batch <= 0 {
		batch = 32
	}
	m.SetBulk(false)
	n := m.NumPages()
	for start := uint32(0); start < n; start += uint32(batch) {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+uint32(batch), n)
		u := m.Begin()
		u.forceLog = true
		var held []*Buffer
		for id := start; id < end; id++ {
			b, err := m.Read(id, LockExclusive)
			if err != nil {
				for _, h := range held {
					h.Done(LockExclusive)
				}
				u.Abort()
				return err
			}
			held = append(held, b)
			u.Modify(b)
		}
		_, err := u.Finish()
		for _, h := range held {
			h.Done(LockExclusive)
		}
		if err != nil {
			return err
		}
	}
	return m.wal.Sync()
}

// WaitDurable blocks until the log is durable up to lsn.
func (m *Manager) WaitDurable(lsn uint64) error {
	if lsn == 0 {
		return nil
	}
	return m.wal.WaitFor(lsn)
}

// LastLSN returns the LSN of the last logged unit.
func (m *Manager) LastLSN() uint64 { return m.lastLSN.Load() }

// Sync makes every finished unit durable.
func (m *Manager) Sync() error {
	return m.wal.Sync()
}

// Checkpoint writes all dirty pages, syncs the page file and truncates the
// log.
func (m *Manager) Checkpoint() error {
	m.cpMu.Lock()
	defer m.cpMu.Unlock()

	if err := m.wal.Sync(); err != nil {
		return err
	}

	var dirty []*Buffer
	m.mu.Lock()
	m.pool.Range(func(_ uint32, b *Buffer) bool {
		if b.dirty.Load() {
			dirty = append(dirty, b)
		}
		return true
	})
	m.mu.Unlock()

	for _, b := range dirty {
		if err := m.flush(b); err != nil {
			return err
		}
	}
	if err := m.file.Sync(); err != nil {
		return err
	}
	if m.logger != nil {
		m.logger.Debug("checkpoint", "dir", m.dir, "pages", len(dirty))
	}
	return m.wal.Truncate()
}

// Close checkpoints and closes the files.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.mu.Unlock()

	cpErr := m.Checkpoint()

	m.mu.Lock()
	m.closed = true
	m.pool.Purge()
	m.mu.Unlock()

	return errors.Join(cpErr, m.wal.Close(), m.file.Close())
}

// abandon closes the files without writing dirty pages, as a crash would.
func (m *Manager) abandon() error {
	m.mu.Lock()
	m.closed = true
	m.pool.Purge()
	m.mu.Unlock()
	return errors.Join(m.wal.Close(), m.file.Close())
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Pages     uint32
	Resident  int
	Hits      int64
	Misses    int64
	Reads     int64
	Writes    int64
	Units     int64
	LastLSN   uint64
	FreePages int
}

// Stats returns pool counters.
func (m *Manager) Stats() Stats {
	hits, misses := m.pool.Stats()
	m.freeMu.Lock()
	free := len(m.free)
	m.freeMu.Unlock()
	return Stats{
		Pages:     m.NumPages(),
		Resident:  m.pool.Len(),
		Hits:      hits,
		Misses:    misses,
		Reads:     m.reads.Load(),
		Writes:    m.writes.Load(),
		Units:     m.unitsLogged.Load(),
		LastLSN:   m.lastLSN.Load(),
		FreePages: free,
	}
}
