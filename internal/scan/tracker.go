package scan

import (
	"errors"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/rumgo/model"
)

// ErrLossyDuplicate is returned when an ordered scan would have to report a
// whole container next to individual rows of it.
var ErrLossyDuplicate = errors.New("scan: lossy locator overlaps tracked rows")

// Tracker remembers the locators an ordered scan has emitted.
type Tracker struct {
	seen  *roaring64.Bitmap
	lossy map[uint32]struct{}
	// containers holds every container with an exact locator
	containers map[uint32]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		seen:       roaring64.New(),
		lossy:      make(map[uint32]struct{}),
		containers: make(map[uint32]struct{}),
	}
}

// Add records l and reports whether it is new.
func (t *Tracker) Add(l model.Locator) (bool, error) {
	if l.IsLossy() {
		if _, ok := t.containers[l.Container]; ok {
			return false, ErrLossyDuplicate
		}
		if _, ok := t.lossy[l.Container]; ok {
			return false, nil
		}
		t.lossy[l.Container] = struct{}{}
		return true, nil
	}
	if _, ok := t.lossy[l.Container]; ok {
		return false, ErrLossyDuplicate
	}
	if !t.seen.CheckedAdd(l.Uint64()) {
		return false, nil
	}
	t.containers[l.Container] = struct{}{}
	return true, nil
}

// Len returns the number of distinct exact locators recorded.
func (t *Tracker) Len() int { return int(t.seen.GetCardinality()) }
