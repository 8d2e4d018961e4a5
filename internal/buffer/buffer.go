package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/hupe1980/rumgo/internal/page"
)

// LockMode selects how Read locks a buffer.
type LockMode int

const (
	LockNone LockMode = iota
	LockShare
	LockExclusive
)

// Buffer holds one resident page.
type Buffer struct {
	m     *Manager
	id    uint32
	mu    sync.RWMutex
	pins  atomic.Int32
	page  atomic.Pointer[page.Page]
	dirty atomic.Bool
}

// ID returns the page number.
func (b *Buffer) ID() uint32 { return b.id }

// Page returns the installed page. The result must not be modified; it
// stays valid as a snapshot after the lock is released.
func (b *Buffer) Page() *page.Page { return b.page.Load() }

// Lock locks b in mode.
func (b *Buffer) Lock(mode LockMode) {
	switch mode {
	case LockShare:
		b.mu.RLock()
	case LockExclusive:
		b.mu.Lock()
	}
}

// Unlock releases a lock taken in mode.
func (b *Buffer) Unlock(mode LockMode) {
	switch mode {
	case LockShare:
		b.mu.RUnlock()
	case LockExclusive:
		b.mu.Unlock()
	}
}

// TryLock attempts an exclusive lock without blocking.
func (b *Buffer) TryLock() bool { return b.mu.TryLock() }

// Pins returns the current pin count.
func (b *Buffer) Pins() int { return int(b.pins.Load()) }

// Pin adds a pin to an already pinned buffer.
func (b *Buffer) Pin() { b.pins.Add(1) }

// Release drops one pin.
func (b *Buffer) Release() {
	if b.pins.Add(-1) < 0 {
		panic("buffer: release of unpinned buffer")
	}
}

// Done unlocks b from mode and releases its pin.
func (b *Buffer) Done(mode LockMode) {
	b.Unlock(mode)
	b.Release()
}

// CleanupOK reports whether the caller, holding b exclusively, owns the
// only pin.
func (b *Buffer) CleanupOK() bool { return b.pins.Load() == 1 }

// ConditionalCleanup takes a cleanup lock if it is available right away.
func (b *Buffer) ConditionalCleanup() bool {
	if !b.mu.TryLock() {
		return false
	}
	if b.pins.Load() != 1 {
		b.mu.Unlock()
		return false
	}
	return true
}
