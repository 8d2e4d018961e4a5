// Package queue provides a value-based binary heap used for the k-way merge
// of build runs and for bounded top-N score ordering.
package queue

// Heap is a binary heap ordered by less. The top is the element for which
// less is true against every other element.
type Heap[T any] struct {
	less  func(a, b T) bool
	items []T
}

// New initializes an empty heap.
func New[T any](capacity int, less func(a, b T) bool) *Heap[T] {
	return &Heap[T]{less: less, items: make([]T, 0, capacity)}
}

// Len returns the number of elements in the heap.
func (h *Heap[T]) Len() int { return len(h.items) }

// Top returns the top element of the heap.
func (h *Heap[T]) Top() (T, bool) {
	if len(h.items) == 0 {
		var zero T
		return zero, false
	}
	return h.items[0], true
}

// Push inserts an item while maintaining the heap invariant.
func (h *Heap[T]) Push(item T) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

// Pop removes and returns the top element while maintaining the heap invariant.
func (h *Heap[T]) Pop() (T, bool) {
	var zero T
	n := len(h.items)
	if n == 0 {
		return zero, false
	}
	root := h.items[0]
	last := h.items[n-1]
	h.items[n-1] = zero
	h.items = h.items[:n-1]
	if n-1 > 0 {
		h.items[0] = last
		h.siftDown(0)
	}
	return root, true
}

// ReplaceTop overwrites the top element and restores the heap invariant.
// It is the merge step: pop the smallest run head and push its successor.
func (h *Heap[T]) ReplaceTop(item T) {
	if len(h.items) == 0 {
		h.Push(item)
		return
	}
	h.items[0] = item
	h.siftDown(0)
}

// Items returns the backing slice in heap order.
func (h *Heap[T]) Items() []T { return h.items }

// Reset clears the heap for reuse.
func (h *Heap[T]) Reset() {
	var zero T
	for i := range h.items {
		h.items[i] = zero
	}
	h.items = h.items[:0]
}

func (h *Heap[T]) siftUp(i int) {
	for i > 0 {
		p := (i - 1) / 2
		if !h.less(h.items[i], h.items[p]) {
			return
		}
		h.items[i], h.items[p] = h.items[p], h.items[i]
		i = p
	}
}

func (h *Heap[T]) siftDown(i int) {
	n := len(h.items)
	for {
		l := 2*i + 1
		if l >= n {
			return
		}
		best := l
		r := l + 1
		if r < n && h.less(h.items[r], h.items[l]) {
			best = r
		}
		if !h.less(h.items[best], h.items[i]) {
			return
		}
		h.items[i], h.items[best] = h.items[best], h.items[i]
		i = best
	}
}

// TopN keeps the n elements that sort first under less.
type TopN[T any] struct {
	n    int
	less func(a, b T) bool
	h    *Heap[T] // worst kept element on top
}

// NewTopN creates a bounded collector. n <= 0 keeps everything.
func NewTopN[T any](n int, less func(a, b T) bool) *TopN[T] {
	capacity := n
	if capacity <= 0 {
		capacity = 16
	}
	return &TopN[T]{
		n:    n,
		less: less,
		h:    New(capacity, func(a, b T) bool { return less(b, a) }),
	}
}

// Offer adds item if it sorts before the current worst kept element.
func (t *TopN[T]) Offer(item T) {
	if t.n <= 0 || t.h.Len() < t.n {
		t.h.Push(item)
		return
	}
	worst, _ := t.h.Top()
	if t.less(item, worst) {
		t.h.ReplaceTop(item)
	}
}

// Len returns the number of kept elements.
func (t *TopN[T]) Len() int { return t.h.Len() }

// Drain returns the kept elements in order and empties the collector.
func (t *TopN[T]) Drain() []T {
	out := make([]T, t.h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i], _ = t.h.Pop()
	}
	return out
}
