package buffer

import (
	"errors"
	"fmt"

	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/wal"
)

// ErrUnitFinished is returned when a unit is reused.
var ErrUnitFinished = errors.New("buffer: unit already finished")

// Unit is one atomic multi-page update. Every registered buffer must be
// locked exclusively by the caller until Finish or Abort returns.
type Unit struct {
	m         *Manager
	bufs      []*Buffer
	pages     []*page.Page
	allocated []uint32
	forceLog  bool
	done      bool
}

// Begin starts a unit.
func (m *Manager) Begin() *Unit {
	return &Unit{m: m}
}

func (u *Unit) find(b *Buffer) int {
	for i, r := range u.bufs {
		if r == b {
			return i
		}
	}
	return -1
}

// Modify registers b and returns a private copy of its page to edit.
// Repeated calls return the same copy.
func (u *Unit) Modify(b *Buffer) *page.Page {
	if i := u.find(b); i >= 0 {
		return u.pages[i]
	}
	p := b.Page().Clone()
	p.ID = b.id
	u.bufs = append(u.bufs, b)
	u.pages = append(u.pages, p)
	return p
}

// Put registers b with a page built from scratch.
func (u *Unit) Put(b *Buffer, p *page.Page) {
	p.ID = b.id
	if i := u.find(b); i >= 0 {
		u.pages[i] = p
		return
	}
	u.bufs = append(u.bufs, b)
	u.pages = append(u.pages, p)
}

// Len returns the number of registered pages.
func (u *Unit) Len() int { return len(u.bufs) }

// Finish logs and installs the registered pages. It returns the LSN of the
// unit, or zero in bulk mode.
func (u *Unit) Finish() (uint64, error) {
	if u.done {
		return 0, ErrUnitFinished
	}
	u.done = true
	m := u.m
	if len(u.bufs) == 0 {
		return 0, nil
	}

	for _, p := range u.pages {
		if !p.Fits(m.pageSize) {
			u.release()
			return 0, fmt.Errorf("%w: page %d needs %d bytes", page.ErrOverflow, p.ID, page.HeaderSize+p.Size())
		}
	}

	m.cpMu.RLock()
	defer m.cpMu.RUnlock()

	var lsn uint64
	if u.forceLog || !m.bulk.Load() {
		var err error
		lsn, err = m.wal.AppendWith(func(lsn uint64) (*wal.Record, error) {
			rec := &wal.Record{Type: wal.RecordTypePageImages, Pages: make([]wal.PageImage, len(u.pages))}
			for i, p := range u.pages {
				p.LSN = lsn
				img, err := page.Encode(p, m.pageSize)
				if err != nil {
					return nil, err
				}
				rec.Pages[i] = wal.PageImage{ID: p.ID, Data: img}
			}
			return rec, nil
		})
		if err != nil {
			u.release()
			return 0, fmt.Errorf("buffer: log unit: %w", err)
		}
		m.lastLSN.Store(lsn)
	}

	for i, b := range u.bufs {
		b.page.Store(u.pages[i])
		b.dirty.Store(true)
	}
	m.unitsLogged.Add(1)
	return lsn, nil
}

// Abort discards the unit. Pages allocated for it go back to the free list.
func (u *Unit) Abort() {
	if u.done {
		return
	}
	u.done = true
	u.release()
}

func (u *Unit) release() {
	for _, id := range u.allocated {
		u.m.pushFree(id)
	}
	u.allocated = nil
}
