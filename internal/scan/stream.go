package scan

import (
	"context"
	"errors"
	"sort"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/rumgo/internal/postingtree"
	"github.com/hupe1980/rumgo/model"
)

// stream yields the items of one entry in locator order.
type stream interface {
	Next() (model.Item, bool, error)
	// SkipTo makes the next call to Next return the first item >= l.
	SkipTo(l model.Locator) error
}

type emptyStream struct{}

func (emptyStream) Next() (model.Item, bool, error) { return model.Item{}, false, nil }
func (emptyStream) SkipTo(model.Locator) error      { return nil }

// sliceStream iterates decoded inline items.
type sliceStream struct {
	items   []model.Item
	pos     int
	reverse bool
}

func newSliceStream(items []model.Item, reverse bool) *sliceStream {
	s := &sliceStream{items: items, reverse: reverse}
	if reverse {
		s.pos = len(items) - 1
	}
	return s
}

func (s *sliceStream) Next() (model.Item, bool, error) {
	if s.pos < 0 || s.pos >= len(s.items) {
		return model.Item{}, false, nil
	}
	it := s.items[s.pos]
	if s.reverse {
		s.pos--
	} else {
		s.pos++
	}
	return it, true, nil
}

func (s *sliceStream) SkipTo(l model.Locator) error {
	if s.reverse || s.pos >= len(s.items) {
		return nil
	}
	rest := s.items[s.pos:]
	s.pos += sort.Search(len(rest), func(i int) bool { return !rest[i].Locator.Less(l) })
	return nil
}

// treeStream iterates a posting tree through a snapshot cursor.
type treeStream struct {
	c *postingtree.Cursor
}

func newTreeStream(ctx context.Context, t *postingtree.Tree, reverse bool) (stream, error) {
	from := model.MinLocator
	if reverse {
		from = model.MaxLocator
	}
	c, err := t.Seek(ctx, from, reverse)
	if errors.Is(err, postingtree.ErrDeleted) {
		return emptyStream{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &treeStream{c: c}, nil
}

func (s *treeStream) Next() (model.Item, bool, error) {
	it, ok, err := s.c.Next()
	if errors.Is(err, postingtree.ErrDeleted) {
		return model.Item{}, false, nil
	}
	return it, ok, err
}

func (s *treeStream) SkipTo(l model.Locator) error {
	err := s.c.SkipTo(l)
	if errors.Is(err, postingtree.ErrDeleted) {
		return nil
	}
	return err
}

// bitmapStream iterates the union of several entries. Attached values are
// not kept.
type bitmapStream struct {
	it roaring64.IntPeekable64
}

func newBitmapStream(b *roaring64.Bitmap) *bitmapStream {
	return &bitmapStream{it: b.Iterator()}
}

func (s *bitmapStream) Next() (model.Item, bool, error) {
	if !s.it.HasNext() {
		return model.Item{}, false, nil
	}
	return model.Item{Locator: model.LocatorFromUint64(s.it.Next())}, true, nil
}

func (s *bitmapStream) SkipTo(l model.Locator) error {
	s.it.AdvanceIfNeeded(l.Uint64())
	return nil
}

// entry is the scan state of one query entry.
type entry struct {
	s        stream
	cur      model.Item
	started  bool
	finished bool
	// estimate predicts the number of items of the entry
	estimate int
	// pre is the assumed match of the entry during a fast scan pass
	pre bool
}

func newEntry(s stream, estimate int) *entry {
	return &entry{s: s, estimate: estimate}
}

func (e *entry) advance() error {
	if e.finished {
		return nil
	}
	it, ok, err := e.s.Next()
	if err != nil {
		return err
	}
	e.started = true
	if !ok {
		e.finished = true
		return nil
	}
	e.cur = it
	return nil
}

// find moves the entry to its first item >= l.
func (e *entry) find(l model.Locator) error {
	if e.finished || (e.started && !e.cur.Locator.Less(l)) {
		return nil
	}
	if err := e.s.SkipTo(l); err != nil {
		return err
	}
	return e.advance()
}

// at reports whether the entry is positioned on l.
func (e *entry) at(l model.Locator) bool {
	return e.started && !e.finished && e.cur.Locator == l
}

// compareEntries orders entries by current locator; finished entries sort
// last.
func compareEntries(a, b *entry) int {
	switch {
	case a.finished && b.finished:
		return 0
	case a.finished:
		return 1
	case b.finished:
		return -1
	}
	return a.cur.Locator.Compare(b.cur.Locator)
}

func next(l model.Locator) model.Locator {
	return model.LocatorFromUint64(l.Uint64() + 1)
}
