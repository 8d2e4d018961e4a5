package scan

import (
	"context"
	"math"

	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/model"
	"github.com/hupe1980/rumgo/opclass"
)

// ordered is the state of an ordered scan.
type ordered struct {
	attr    uint16
	cursor  *entrytree.Cursor
	tracker *Tracker
	// done marks query entries no later index key can match
	done [][]bool

	key     model.Key
	items   stream
	recheck bool
}

func (s *Scan) startOrdered(ctx context.Context) error {
	o := &ordered{attr: s.keys[0].sk.Attr, tracker: NewTracker()}
	for _, k := range s.keys {
		o.done = append(o.done, make([]bool, len(k.queries)))
	}
	from := s.orderedStart(o.attr)
	c, err := s.tree.Seek(ctx, from, s.opts.Reverse)
	if err != nil {
		return err
	}
	o.cursor = c
	s.ord = o
	s.stats.Entries = len(s.keys)
	return nil
}

// orderedStart returns the smallest key that can match every filter key:
// the largest over keys of each key's smallest query entry. A reverse scan
// starts after the last key of the attribute.
func (s *Scan) orderedStart(attr uint16) model.Key {
	if s.opts.Reverse {
		return model.Key{Attr: attr, Category: math.MaxInt8}
	}
	var start *model.Key
	for _, k := range s.keys {
		var lo *model.Key
		for _, q := range k.queries {
			qk := entrytree.FirstKey(attr)
			if q.Category != model.CategoryEmptyQuery {
				qk = model.Key{Attr: attr, Category: q.Category, Value: q.Key}
			}
			if lo == nil || s.tree.Compare(qk, *lo) < 0 {
				lo = &qk
			}
		}
		if start == nil || s.tree.Compare(*lo, *start) > 0 {
			start = lo
		}
	}
	return *start
}

func (s *Scan) nextOrdered(ctx context.Context) (Result, bool, error) {
	o := s.ord
	for {
		if o.items != nil {
			it, ok, err := o.items.Next()
			if err != nil {
				return Result{}, false, err
			}
			if ok {
				fresh, err := o.tracker.Add(it.Locator)
				if err != nil {
					return Result{}, false, err
				}
				if !fresh {
					continue
				}
				r := Result{Locator: it.Locator, Recheck: o.recheck}
				s.scoreOrdered(o.key, it, &r)
				return r, true, nil
			}
			o.items = nil
		}

		s.stats.Loops++
		e, ok, err := o.cursor.Next()
		if err != nil || !ok {
			return Result{}, false, err
		}
		if e.Key.Attr != o.attr {
			if (e.Key.Attr > o.attr) != s.opts.Reverse {
				return Result{}, false, nil
			}
			continue
		}
		match, finished, recheck := s.validate(e.Key)
		if finished {
			return Result{}, false, nil
		}
		if !match {
			continue
		}
		if err := s.openItems(ctx, e); err != nil {
			return Result{}, false, err
		}
		o.key, o.recheck = e.Key, recheck
	}
}

func (s *Scan) openItems(ctx context.Context, e *page.Entry) error {
	o := s.ord
	if e.HasTree() {
		st, err := newTreeStream(ctx, s.tree.PostingTree(e.Root), s.opts.Reverse)
		if err != nil {
			return err
		}
		o.items = st
		return nil
	}
	items, err := s.tree.Decode(e)
	if err != nil {
		return err
	}
	o.items = newSliceStream(items, s.opts.Reverse)
	return nil
}

// validate checks an index key against every filter key. finished is set
// once some key has no query entry left that a later index key could
// match.
func (s *Scan) validate(idx model.Key) (match, finished, recheck bool) {
	o := s.ord
	for ki, k := range s.keys {
		live := false
		for i, q := range k.queries {
			k.check[i] = false
			k.addInfo[i] = model.AddInfo{}
			if o.done[ki][i] {
				continue
			}
			r := s.comparePartial(k, q, idx)
			past := r == opclass.PartialAfter
			if s.opts.Reverse {
				past = r == opclass.PartialBefore || r == opclass.PartialSkip
			}
			if past {
				o.done[ki][i] = true
				continue
			}
			live = true
			k.check[i] = r == opclass.PartialMatch
		}
		if !live {
			return false, true, false
		}
		m, rc := k.consistent()
		if !m {
			return false, false, false
		}
		recheck = recheck || rc
	}
	return true, false, recheck
}

// scoreOrdered scores an item of the current index key. An order-by entry
// contributes when it matches the index key.
func (s *Scan) scoreOrdered(idx model.Key, it model.Item, r *Result) {
	if len(s.order) == 0 {
		return
	}
	r.Scores = make([]float64, len(s.order))
	for i, k := range s.order {
		for j, q := range k.queries {
			k.check[j] = s.comparePartialAny(k, q, idx)
			k.addInfo[j] = model.AddInfo{}
			if k.check[j] {
				k.addInfo[j] = it.AddInfo
			}
		}
		s.rate(k, i, r)
	}
}

func (s *Scan) comparePartialAny(k *key, q opclass.QueryEntry, idx model.Key) bool {
	if q.Partial && k.caps.Partial == nil {
		return false
	}
	return s.comparePartial(k, q, idx) == opclass.PartialMatch
}
