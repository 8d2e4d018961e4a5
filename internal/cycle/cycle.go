// Package cycle hands out vacuum cycle ids.
//
// Every vacuum of an index runs under a fresh non-zero 16-bit id. Pages
// split while the vacuum runs are tagged with it, so the vacuum can
// recognize right siblings that moved behind its position. At most one
// vacuum runs per index at a time.
package cycle

import (
	"errors"
	"sync"
	"time"
)

// ErrActive is returned when a vacuum is already running for the index.
var ErrActive = errors.New("cycle: vacuum already active for index")

// Registry tracks active vacuums keyed by index id.
type Registry struct {
	mu       sync.RWMutex
	counter  uint16
	active   map[string]uint16
	override uint16
}

// NewRegistry returns an empty registry. A non-zero override makes every
// vacuum use that id, so several vacuums may share it.
func NewRegistry(override uint16) *Registry {
	return &Registry{
		counter:  uint16(time.Now().Unix()),
		active:   make(map[string]uint16),
		override: override,
	}
}

// Start assigns the next cycle id to a vacuum of index.
func (r *Registry) Start(index string) (uint16, error) {
	if r.override != 0 {
		return r.override, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.active[index]; ok {
		return 0, ErrActive
	}
	r.counter++
	if r.counter == 0 {
		r.counter = 1
	}
	r.active[index] = r.counter
	return r.counter, nil
}

// End removes the vacuum of index. It is a no-op if none is active.
func (r *Registry) End(index string) {
	r.mu.Lock()
	delete(r.active, index)
	r.mu.Unlock()
}

// Current returns the cycle id of the active vacuum of index, or zero.
func (r *Registry) Current(index string) uint16 {
	if r.override != 0 {
		return r.override
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active[index]
}

// Active returns the number of running vacuums.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

// Default is the process-wide registry shared by all open indexes.
var Default = NewRegistry(0)
