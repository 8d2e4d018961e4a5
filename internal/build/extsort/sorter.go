package extsort

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/hupe1980/rumgo/internal/fs"
	"github.com/hupe1980/rumgo/internal/queue"
	"github.com/hupe1980/rumgo/internal/resource"
	"github.com/hupe1980/rumgo/model"
)

const (
	blockSize = 64 << 10

	// DefaultMemoryBudget is used when Options.MemoryBudget is zero.
	DefaultMemoryBudget = 4 << 20
)

// ErrSorted is returned by Add after Sort.
var ErrSorted = errors.New("extsort: sorter already sorted")

// Options configures a Sorter.
type Options struct {
	// Dir holds the run files.
	Dir          string
	FS           fs.FileSystem
	Compression  Compression
	MemoryBudget int64
	AddInfo      bool
	// Compare orders keys; bytes.Compare on values is used when nil.
	Compare func(a, b model.Key) int
	// Controller throttles run writes.
	Controller *resource.Controller
}

// Sorter accumulates records and returns them in order. Add is safe for
// concurrent use.
type Sorter struct {
	opts Options

	mu     sync.Mutex
	buf    []Record
	size   int64
	runs   []string
	sorted bool
}

// New returns an empty sorter.
func New(opts Options) *Sorter {
	if opts.FS == nil {
		opts.FS = fs.LocalFS{}
	}
	if opts.Dir == "" {
		opts.Dir = os.TempDir()
	}
	if opts.MemoryBudget <= 0 {
		opts.MemoryBudget = DefaultMemoryBudget
	}
	if opts.Compare == nil {
		opts.Compare = defaultCompare
	}
	return &Sorter{opts: opts}
}

func defaultCompare(a, b model.Key) int {
	if a.Attr != b.Attr {
		return int(a.Attr) - int(b.Attr)
	}
	if a.Category != b.Category {
		return int(a.Category) - int(b.Category)
	}
	return slices.Compare(a.Value, b.Value)
}

func (s *Sorter) compare(a, b Record) int {
	if c := s.opts.Compare(a.Key, b.Key); c != 0 {
		return c
	}
	return a.First().Compare(b.First())
}

// Add buffers r, spilling a run once the memory budget is exceeded.
func (s *Sorter) Add(ctx context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sorted {
		return ErrSorted
	}
	s.buf = append(s.buf, r)
	s.size += r.size()
	if s.size < s.opts.MemoryBudget {
		return nil
	}
	return s.spill(ctx)
}

// Runs returns the number of spilled runs.
func (s *Sorter) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runs)
}

func (s *Sorter) spill(ctx context.Context) error {
	slices.SortStableFunc(s.buf, s.compare)
	name := filepath.Join(s.opts.Dir, "rumgo-"+uuid.NewString()+".run")
	f, err := s.opts.FS.OpenFile(name, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	s.runs = append(s.runs, name)

	var w io.Writer = f
	if s.opts.Controller != nil {
		w = resource.NewRateLimitedWriter(ctx, f, s.opts.Controller)
	}
	bw := bufio.NewWriter(w)
	var block []byte
	flush := func() error {
		if len(block) == 0 {
			return nil
		}
		b, err := compressBlock(block, s.opts.Compression)
		if err != nil {
			return err
		}
		block = block[:0]
		_, err = bw.Write(b)
		return err
	}
	for _, r := range s.buf {
		block = appendRecord(block, r, s.opts.AddInfo)
		if len(block) >= blockSize {
			if err := flush(); err != nil {
				_ = f.Close()
				return err
			}
		}
	}
	if err := flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	s.buf, s.size = nil, 0
	return f.Close()
}

// Sort ends the input and returns an iterator over all records in order.
func (s *Sorter) Sort(ctx context.Context) (*Iterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sorted {
		return nil, ErrSorted
	}
	s.sorted = true
	slices.SortStableFunc(s.buf, s.compare)

	it := &Iterator{fs: s.opts.FS, runs: s.runs}
	it.h = queue.New(len(s.runs)+1, func(a, b *source) bool {
		if c := s.compare(a.cur, b.cur); c != 0 {
			return c < 0
		}
		return a.order < b.order
	})
	sources := []*source{{mem: s.buf, order: len(s.runs)}}
	for i, name := range s.runs {
		f, err := s.opts.FS.OpenFile(name, os.O_RDONLY, 0)
		if err != nil {
			_ = it.Close()
			return nil, err
		}
		it.files = append(it.files, f)
		sources = append(sources, &source{r: bufio.NewReader(f), comp: s.opts.Compression, addInfo: s.opts.AddInfo, order: i})
	}
	for _, src := range sources {
		ok, err := src.next()
		if err != nil {
			_ = it.Close()
			return nil, err
		}
		if ok {
			it.h.Push(src)
		}
	}
	s.buf = nil
	return it, nil
}

// source yields the records of one run or of the in-memory buffer.
type source struct {
	mem []Record

	r       *bufio.Reader
	comp    Compression
	addInfo bool
	block   []byte

	cur   Record
	order int
}

func (s *source) next() (bool, error) {
	if s.r == nil {
		if len(s.mem) == 0 {
			return false, nil
		}
		s.cur, s.mem = s.mem[0], s.mem[1:]
		return true, nil
	}
	if len(s.block) == 0 {
		var h [blockHeaderSize]byte
		if _, err := io.ReadFull(s.r, h[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return false, nil
			}
			return false, fmt.Errorf("%w: %v", ErrBlock, err)
		}
		_, stored := blockSizes(h[:])
		body := make([]byte, stored)
		if _, err := io.ReadFull(s.r, body); err != nil {
			return false, fmt.Errorf("%w: %v", ErrBlock, err)
		}
		block, err := decompressBlock(h[:], body, s.comp)
		if err != nil {
			return false, err
		}
		s.block = block
	}
	r, rest, err := readRecord(s.block, s.addInfo)
	if err != nil {
		return false, err
	}
	s.cur, s.block = r, rest
	return true, nil
}

// Iterator merges the sorted runs.
type Iterator struct {
	fs    fs.FileSystem
	h     *queue.Heap[*source]
	files []fs.File
	runs  []string
}

// Next returns the next record.
func (it *Iterator) Next() (Record, bool, error) {
	top, ok := it.h.Top()
	if !ok {
		return Record{}, false, nil
	}
	r := top.cur
	more, err := top.next()
	if err != nil {
		return Record{}, false, err
	}
	if more {
		it.h.ReplaceTop(top)
	} else {
		it.h.Pop()
	}
	return r, true, nil
}

// Close closes and removes the run files.
func (it *Iterator) Close() error {
	var errs []error
	for _, f := range it.files {
		errs = append(errs, f.Close())
	}
	for _, name := range it.runs {
		errs = append(errs, it.fs.Remove(name))
	}
	it.files, it.runs = nil, nil
	return errors.Join(errs...)
}
