package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/rumgo/internal/resource"
)

// LRU is a cost-bounded least-recently-used map.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	items    map[K]*list.Element
	order    *list.List
	rc       *resource.Controller

	hits   atomic.Int64
	misses atomic.Int64
}

type entry[K comparable, V any] struct {
	key   K
	value V
	cost  int64
}

// NewLRU creates an LRU holding at most capacity bytes of cost.
// If rc is provided, it will be used to track memory usage.
func NewLRU[K comparable, V any](capacity int64, rc *resource.Controller) *LRU[K, V] {
	return &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*list.Element),
		order:    list.New(),
		rc:       rc,
	}
}

// Get returns the value for k and marks it most recently used.
func (c *LRU[K, V]) Get(k K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[k]; ok {
		c.hits.Add(1)
		c.order.MoveToFront(el)
		return el.Value.(*entry[K, V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Fits reports whether an entry of cost would stay within capacity.
func (c *LRU[K, V]) Fits(cost int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size+cost <= c.capacity
}

// Add inserts or replaces k. It fails only if the resource controller
// denies the memory; capacity is enforced by the caller through Evict.
func (c *LRU[K, V]) Add(k K, v V, cost int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[k]; ok {
		ent := el.Value.(*entry[K, V])
		if cost > ent.cost && !c.rc.TryAcquireMemory(cost-ent.cost) {
			return false
		}
		if cost < ent.cost {
			c.rc.ReleaseMemory(ent.cost - cost)
		}
		c.size += cost - ent.cost
		ent.value, ent.cost = v, cost
		c.order.MoveToFront(el)
		return true
	}

	if !c.rc.TryAcquireMemory(cost) {
		return false
	}
	c.items[k] = c.order.PushFront(&entry[K, V]{key: k, value: v, cost: cost})
	c.size += cost
	return true
}

// Remove deletes k.
func (c *LRU[K, V]) Remove(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[k]; ok {
		c.removeElement(el)
	}
}

// Evict removes the least recently used entry accepted by may.
func (c *LRU[K, V]) Evict(may func(K, V) bool) (K, V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Back(); el != nil; el = el.Prev() {
		ent := el.Value.(*entry[K, V])
		if may == nil || may(ent.key, ent.value) {
			c.removeElement(el)
			return ent.key, ent.value, true
		}
	}
	var (
		zk K
		zv V
	)
	return zk, zv, false
}

// Range calls fn for every entry from most to least recently used.
func (c *LRU[K, V]) Range(fn func(K, V) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; el = el.Next() {
		ent := el.Value.(*entry[K, V])
		if !fn(ent.key, ent.value) {
			return
		}
	}
}

// Purge removes every entry.
func (c *LRU[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for el := c.order.Front(); el != nil; {
		next := el.Next()
		c.removeElement(el)
		el = next
	}
}

func (c *LRU[K, V]) removeElement(el *list.Element) {
	c.order.Remove(el)
	ent := el.Value.(*entry[K, V])
	delete(c.items, ent.key)
	c.size -= ent.cost
	c.rc.ReleaseMemory(ent.cost)
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the total cost of the entries.
func (c *LRU[K, V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Capacity returns the configured capacity.
func (c *LRU[K, V]) Capacity() int64 {
	return c.capacity
}

// Stats returns hit and miss counts of Get.
func (c *LRU[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
