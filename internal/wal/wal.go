package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hupe1980/rumgo/internal/fs"
)

// Durability controls the durability guarantees of the WAL.
type Durability int

const (
	// DurabilityAsync relies on OS page cache. Fast but risky.
	DurabilityAsync Durability = iota
	// DurabilitySync calls fsync before Append returns. Slow but safe.
	DurabilitySync
)

const (
	walMagic      = "RUMGOWAL" // 8 bytes
	walVersion    = 1          // 4 bytes
	walHeaderSize = 12
)

var (
	ErrIncompatibleVersion = errors.New("incompatible WAL version")
	ErrInvalidHeader       = errors.New("invalid WAL header")
)

type Options struct {
	Durability Durability
	// DisableCompression writes every record payload uncompressed.
	DisableCompression bool
}

func DefaultOptions() Options {
	return Options{Durability: DurabilitySync}
}

// WAL manages the write-ahead log file.
type WAL struct {
	mu   sync.Mutex
	fs   fs.FileSystem
	file fs.File
	cw   *countingWriter
	path string
	opts Options

	lastLSN uint64

	// Group commit state
	syncedLSN uint64
	syncCond  *sync.Cond // Signals the syncer that there is data to sync
	doneCond  *sync.Cond // Signals waiters that a sync completed
	closed    bool
	lastErr   error // Terminal error encountered by background syncer
	wg        sync.WaitGroup
}

type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

func (cw *countingWriter) Flush() error {
	return cw.w.Flush()
}

// Open opens or creates a WAL at the given path. An existing log is scanned
// to find the last LSN; a torn tail is cut off.
func Open(fsys fs.FileSystem, path string, opts Options) (*WAL, error) {
	if fsys == nil {
		fsys = fs.Default
	}
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	w := &WAL{fs: fsys, file: f, path: path, opts: opts}
	if stat.Size() == 0 {
		if err := w.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		end, err := w.scan(stat.Size())
		if err != nil {
			f.Close()
			return nil, err
		}
		if end < stat.Size() {
			if err := f.Truncate(end); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.cw = &countingWriter{w: bufio.NewWriter(f), n: end}
	w.syncedLSN = w.lastLSN
	w.syncCond = sync.NewCond(&w.mu)
	w.doneCond = sync.NewCond(&w.mu)

	if opts.Durability == DurabilitySync {
		w.wg.Add(1)
		go w.runSyncer()
	}

	return w, nil
}

func (w *WAL) writeHeader() error {
	header := make([]byte, walHeaderSize)
	copy(header[0:8], walMagic)
	binary.LittleEndian.PutUint32(header[8:12], uint32(walVersion))
	if _, err := w.file.WriteAt(header, 0); err != nil {
		return err
	}
	return w.file.Sync()
}

// scan validates the header and returns the end of the last intact record.
func (w *WAL) scan(size int64) (int64, error) {
	if size < walHeaderSize {
		return 0, fmt.Errorf("%w: file too small (%d < %d)", ErrInvalidHeader, size, walHeaderSize)
	}
	header := make([]byte, walHeaderSize)
	if _, err := w.file.ReadAt(header, 0); err != nil {
		return 0, err
	}
	if string(header[0:8]) != walMagic {
		return 0, fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, header[0:8])
	}
	if ver := binary.LittleEndian.Uint32(header[8:12]); ver != walVersion {
		return 0, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, ver, walVersion)
	}

	r := bufio.NewReader(io.NewSectionReader(w.file, walHeaderSize, size-walHeaderSize))
	end := int64(walHeaderSize)
	for {
		rec, n, err := Decode(r)
		if err != nil {
			return end, nil
		}
		end += n
		if rec.LSN > w.lastLSN {
			w.lastLSN = rec.LSN
		}
	}
}

// Size returns the current size of the WAL in bytes.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cw.n
}

// LastLSN returns the LSN of the newest record.
func (w *WAL) LastLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLSN
}

func (w *WAL) runSyncer() {
	defer w.wg.Done()
	w.mu.Lock()
	defer w.mu.Unlock()

	for {
		for w.lastLSN <= w.syncedLSN && !w.closed {
			w.syncCond.Wait()
		}

		if w.closed && w.lastLSN <= w.syncedLSN {
			return
		}

		target := w.lastLSN

		w.mu.Unlock()
		err := w.file.Sync()
		w.mu.Lock()

		if err != nil {
			w.lastErr = fmt.Errorf("wal sync failed: %w", err)
			w.doneCond.Broadcast()
			return
		}

		if target > w.syncedLSN {
			w.syncedLSN = target
		}
		w.doneCond.Broadcast()
	}
}

// Append assigns the next LSN to rec, writes it and, in DurabilitySync
// mode, waits until it is durable.
func (w *WAL) Append(rec *Record) (uint64, error) {
	lsn, err := w.AppendAsync(rec)
	if err != nil {
		return 0, err
	}
	if w.opts.Durability == DurabilitySync {
		return lsn, w.WaitFor(lsn)
	}
	return lsn, nil
}

// AppendAsync writes a record to the WAL file but does not wait for sync.
// It returns the LSN assigned to the record.
func (w *WAL) AppendAsync(rec *Record) (uint64, error) {
	return w.AppendWith(func(lsn uint64) (*Record, error) {
		rec.LSN = lsn
		return rec, nil
	})
}

// AppendWith reserves the next LSN, lets build produce the record for it and
// writes the record without waiting for sync. build runs under the log lock
// so records reach the file in LSN order.
func (w *WAL) AppendWith(build func(lsn uint64) (*Record, error)) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, os.ErrClosed
	}
	if w.lastErr != nil {
		return 0, w.lastErr
	}

	lsn := w.lastLSN + 1
	rec, err := build(lsn)
	if err != nil {
		return 0, err
	}
	rec.LSN = lsn
	if _, err := rec.encode(w.cw, !w.opts.DisableCompression); err != nil {
		w.lastErr = err
		return 0, err
	}
	if err := w.cw.Flush(); err != nil {
		w.lastErr = err
		return 0, err
	}
	w.lastLSN = lsn

	if w.opts.Durability == DurabilitySync {
		w.syncCond.Signal()
	}
	return lsn, nil
}

// WaitFor waits until the WAL is durable up to lsn.
func (w *WAL) WaitFor(lsn uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.opts.Durability == DurabilityAsync {
		if w.syncedLSN >= lsn {
			return nil
		}
		return w.syncLocked()
	}

	for w.syncedLSN < lsn && !w.closed && w.lastErr == nil {
		w.syncCond.Signal()
		w.doneCond.Wait()
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if w.syncedLSN < lsn {
		return os.ErrClosed
	}
	return nil
}

// Sync ensures all buffered writes are committed to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.lastErr != nil {
		return w.lastErr
	}
	if w.opts.Durability == DurabilityAsync {
		return w.syncLocked()
	}

	target := w.lastLSN
	w.syncCond.Signal()
	for w.syncedLSN < target && w.lastErr == nil {
		w.doneCond.Wait()
	}
	return w.lastErr
}

func (w *WAL) syncLocked() error {
	if err := w.cw.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		w.lastErr = fmt.Errorf("wal sync failed: %w", err)
		return w.lastErr
	}
	w.syncedLSN = w.lastLSN
	return nil
}

// Truncate discards every record and starts the log with a Checkpoint
// record carrying the current LSN. The caller must have made all page
// images durable first.
func (w *WAL) Truncate() error {
	if err := w.Sync(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(walHeaderSize); err != nil {
		w.lastErr = err
		return err
	}
	if _, err := w.file.Seek(walHeaderSize, io.SeekStart); err != nil {
		w.lastErr = err
		return err
	}
	w.cw.w.Reset(w.file)
	w.cw.n = walHeaderSize

	rec := &Record{Type: RecordTypeCheckpoint, LSN: w.lastLSN}
	if _, err := rec.encode(w.cw, !w.opts.DisableCompression); err != nil {
		return err
	}
	if err := w.cw.Flush(); err != nil {
		w.lastErr = err
		return err
	}
	return w.file.Sync()
}

// Close closes the WAL file.
func (w *WAL) Close() error {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return os.ErrClosed
	}

	if err := w.cw.Flush(); err != nil {
		w.closed = true
		w.syncCond.Signal()
		w.mu.Unlock()
		w.wg.Wait()
		w.file.Close()
		return err
	}

	w.closed = true
	w.syncCond.Signal() // Wake up syncer to exit
	w.mu.Unlock()

	w.wg.Wait() // Wait for syncer to finish

	return w.file.Close()
}

// Replay calls fn for every intact record in log order.
func (w *WAL) Replay(fn func(*Record) error) error {
	r, err := w.Reader()
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		rec, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, ErrShortRead) || errors.Is(err, ErrInvalidCRC) {
				return nil
			}
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

// Reader returns a reader for replaying the WAL.
// The caller is responsible for closing the returned reader.
func (w *WAL) Reader() (*Reader, error) {
	w.mu.Lock()
	if err := w.cw.Flush(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.mu.Unlock()

	f, err := w.fs.OpenFile(w.path, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(walHeaderSize, io.SeekStart); err != nil {
		f.Close()
		return nil, err
	}
	return &Reader{f: f, r: bufio.NewReader(f), offset: walHeaderSize}, nil
}

// Reader iterates over WAL records.
type Reader struct {
	f      fs.File
	r      *bufio.Reader
	offset int64
}

// Next reads the next record. Returns io.EOF when done.
func (r *Reader) Next() (*Record, error) {
	rec, n, err := Decode(r.r)
	if err == nil {
		r.offset += n
	}
	return rec, err
}

// Offset returns the current valid offset in the WAL.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.f.Close()
}
