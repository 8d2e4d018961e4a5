package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/model"
	"github.com/hupe1980/rumgo/opclass"
)

var (
	// ErrUnsupported is returned for a scan the available capabilities
	// cannot run.
	ErrUnsupported = errors.New("scan: unsupported")
	// ErrNoKeys is returned for a scan without filter keys.
	ErrNoKeys = errors.New("scan: no filter keys")
	// ErrClosed is returned by Next after Close.
	ErrClosed = errors.New("scan: closed")
)

// Mode is the strategy of a scan.
type Mode int

const (
	ModeUnknown Mode = iota
	ModeRegular
	ModeFast
	ModeFull
	ModeOrdered
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeRegular:
		return "regular"
	case ModeFast:
		return "fast"
	case ModeFull:
		return "full"
	case ModeOrdered:
		return "ordered"
	default:
		return "unknown"
	}
}

// State is the lifecycle state of a scan.
type State int

const (
	StateUninitialized State = iota
	StateStarted
	StateExhausted
	StateClosed
)

// Options configures a scan.
type Options struct {
	DisableFastScan   bool
	ForceOrderedScan  bool
	PreferOrderedScan bool
	// IndexOrder asks for results in key order of the scanned attribute.
	IndexOrder bool
	// Reverse walks the ordered strategy from the largest key.
	Reverse bool
	// Limit bounds the results of a scan with order-by keys; they are then
	// delivered by ascending score.
	Limit  int
	Logger *slog.Logger
}

// Result is one matching row.
type Result struct {
	Locator model.Locator
	// Recheck asks the caller to re-verify the row against the query.
	Recheck bool
	// RecheckOrder asks the caller to recompute the order-by scores.
	RecheckOrder bool
	Scores       []float64
}

// Stats counts the work done by a scan.
type Stats struct {
	Entries int
	Loops   int
	Results int
}

// key is the scan state of one search key.
type key struct {
	sk      *opclass.ScanKey
	caps    opclass.Capabilities
	queries []opclass.QueryEntry
	entries []*entry
	check   []bool
	addInfo []model.AddInfo
}

func (k *key) consistent() (bool, bool) {
	if k.caps.Consistent == nil {
		for _, c := range k.check {
			if c {
				return true, false
			}
		}
		return false, false
	}
	return k.caps.Consistent.Consistent(k.sk, k.check, k.addInfo)
}

// fill marks the entries positioned on l.
func (k *key) fill(l model.Locator) {
	for i, e := range k.entries {
		k.check[i] = e.at(l)
		k.addInfo[i] = model.AddInfo{}
		if k.check[i] {
			k.addInfo[i] = e.cur.AddInfo
		}
	}
}

// Scan is a running index scan. A Scan is not safe for concurrent use.
type Scan struct {
	tree   *entrytree.Tree
	opts   Options
	logger *slog.Logger

	keys  []*key
	order []*key
	mode  Mode
	state State
	stats Stats

	// regular and full
	target model.Locator
	// fast
	sorted []*entry
	incr   int
	// full
	carrier *entry
	// ordered
	ord *ordered
	// top-N
	ranked []Result
}

// New prepares a scan over t. Filter keys restrict the results; order-by
// keys only score them.
func New(t *entrytree.Tree, keys, orderKeys []*opclass.ScanKey, opts Options) (*Scan, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	s := &Scan{tree: t, opts: opts, logger: opts.Logger, incr: -1}
	for _, sk := range keys {
		if sk.OrderBy {
			s.order = append(s.order, s.newKey(sk))
			continue
		}
		s.keys = append(s.keys, s.newKey(sk))
	}
	for _, sk := range orderKeys {
		s.order = append(s.order, s.newKey(sk))
	}
	if len(s.keys) == 0 {
		return nil, ErrNoKeys
	}
	for _, k := range s.keys {
		for _, q := range k.sk.Entries {
			if q.Partial && k.caps.Partial == nil {
				return nil, fmt.Errorf("%w: partial match on attribute %d", ErrUnsupported, k.sk.Attr)
			}
		}
	}
	mode, err := s.chooseMode()
	if err != nil {
		return nil, err
	}
	s.mode = mode
	return s, nil
}

func (s *Scan) newKey(sk *opclass.ScanKey) *key {
	c := sk.Class
	if c == nil {
		c = s.tree.Class(sk.Attr)
	}
	k := &key{sk: sk, caps: opclass.Resolve(c), queries: append([]opclass.QueryEntry(nil), sk.Entries...)}
	if sk.Mode == opclass.SearchIncludeEmpty {
		k.queries = append(k.queries, opclass.QueryEntry{Category: model.CategoryEmptyItem})
	}
	if sk.Mode == opclass.SearchEverything {
		k.queries = append(k.queries, opclass.QueryEntry{Category: model.CategoryEmptyQuery})
	}
	k.check = make([]bool, len(k.queries))
	k.addInfo = make([]model.AddInfo, len(k.queries))
	return k
}

func (s *Scan) chooseMode() (Mode, error) {
	ordered := s.orderedCapable()
	if s.opts.ForceOrderedScan {
		if !ordered {
			return ModeUnknown, fmt.Errorf("%w: ordered scan needs one disjunctive key with partial comparison", ErrUnsupported)
		}
		return ModeOrdered, nil
	}
	if s.opts.IndexOrder && s.opts.PreferOrderedScan && ordered && (len(s.keys[0].queries) == 1 || s.opts.Reverse) {
		return ModeOrdered, nil
	}
	if s.opts.Reverse {
		return ModeUnknown, fmt.Errorf("%w: reverse scan needs the ordered strategy", ErrUnsupported)
	}
	if s.fullCapable() {
		return ModeFull, nil
	}
	if !s.opts.DisableFastScan && s.fastCapable() {
		return ModeFast, nil
	}
	return ModeRegular, nil
}

// orderedCapable reports whether the ordered strategy can run the scan. It
// validates one index key at a time, so it needs a single filter key that
// any one of its query entries satisfies.
func (s *Scan) orderedCapable() bool {
	if len(s.keys) != 1 {
		return false
	}
	k := s.keys[0]
	return k.caps.Partial != nil && len(k.queries) > 0 && disjunctive(k)
}

// disjunctive reports whether every query entry of k matches on its own.
func disjunctive(k *key) bool {
	defer clear(k.check)
	for i := range k.queries {
		clear(k.check)
		k.check[i] = true
		if m, _ := k.consistent(); !m {
			return false
		}
	}
	return true
}

func matchesAll(k *key) bool {
	return len(k.queries) == 1 && k.queries[0].Category == model.CategoryEmptyQuery
}

func (s *Scan) fullCapable() bool {
	return len(s.keys) == 1 && matchesAll(s.keys[0])
}

func (s *Scan) fastCapable() bool {
	n := 0
	for _, k := range s.keys {
		if k.caps.PreConsistent == nil {
			return false
		}
		n += len(k.queries)
	}
	return n > 1
}

// Mode returns the strategy chosen for the scan.
func (s *Scan) Mode() Mode { return s.mode }

// State returns the lifecycle state.
func (s *Scan) State() State { return s.state }

// Stats returns the work counters.
func (s *Scan) Stats() Stats { return s.stats }

// Close releases the scan. Next fails afterwards.
func (s *Scan) Close() {
	s.state = StateClosed
	s.sorted, s.ord, s.ranked, s.carrier = nil, nil, nil, nil
	for _, k := range slices.Concat(s.keys, s.order) {
		k.entries = nil
	}
}

// Next returns the next matching row; ok is false once the scan is
// exhausted.
func (s *Scan) Next(ctx context.Context) (Result, bool, error) {
	switch s.state {
	case StateClosed:
		return Result{}, false, ErrClosed
	case StateExhausted:
		return Result{}, false, nil
	case StateUninitialized:
		if err := s.start(ctx); err != nil {
			return Result{}, false, err
		}
		s.state = StateStarted
		if s.ranking() {
			if err := s.rank(ctx); err != nil {
				return Result{}, false, err
			}
		}
	}

	var (
		r   Result
		ok  bool
		err error
	)
	if s.ranking() {
		r, ok = s.popRanked()
	} else {
		r, ok, err = s.step(ctx)
	}
	if err != nil {
		return Result{}, false, err
	}
	if !ok {
		s.state = StateExhausted
		s.logger.Debug("scan exhausted", "mode", s.mode.String(), "results", s.stats.Results, "loops", s.stats.Loops)
		return Result{}, false, nil
	}
	s.stats.Results++
	return r, true, nil
}

func (s *Scan) ranking() bool {
	return s.opts.Limit > 0 && len(s.order) > 0 && s.mode != ModeOrdered
}

// step produces the next result of the chosen strategy.
func (s *Scan) step(ctx context.Context) (Result, bool, error) {
	if s.mode == ModeOrdered {
		return s.nextOrdered(ctx)
	}
	var (
		l       model.Locator
		recheck bool
		ok      bool
		err     error
	)
	switch s.mode {
	case ModeFast:
		l, recheck, ok, err = s.nextFast(ctx)
	case ModeFull:
		l, ok, err = s.nextFull(ctx)
	default:
		l, recheck, ok, err = s.nextRegular(ctx)
	}
	if err != nil || !ok {
		return Result{}, false, err
	}
	r := Result{Locator: l, Recheck: recheck}
	if len(s.order) > 0 {
		if err := s.score(l, &r); err != nil {
			return Result{}, false, err
		}
	}
	return r, true, nil
}

func (s *Scan) start(ctx context.Context) error {
	if s.mode == ModeOrdered {
		return s.startOrdered(ctx)
	}
	for _, k := range slices.Concat(s.keys, s.order) {
		k.entries = make([]*entry, len(k.queries))
		for i, q := range k.queries {
			e, err := s.openEntry(ctx, k, q)
			if err != nil {
				return err
			}
			k.entries[i] = e
			s.stats.Entries++
		}
	}
	switch s.mode {
	case ModeFull:
		s.carrier = s.keys[0].entries[0]
	case ModeFast:
		for _, k := range s.keys {
			s.sorted = append(s.sorted, k.entries...)
		}
	}
	return nil
}

// openEntry opens the posting stream of one query entry.
func (s *Scan) openEntry(ctx context.Context, k *key, q opclass.QueryEntry) (*entry, error) {
	if q.Category == model.CategoryEmptyQuery || q.Partial {
		b, err := s.collect(ctx, k, q)
		if err != nil {
			return nil, err
		}
		return newEntry(newBitmapStream(b), int(b.GetCardinality())), nil
	}
	pe, found, err := s.tree.Find(ctx, model.Key{Attr: k.sk.Attr, Category: q.Category, Value: q.Key})
	if err != nil {
		return nil, err
	}
	if !found {
		e := newEntry(emptyStream{}, 0)
		e.started, e.finished = true, true
		return e, nil
	}
	if pe.HasTree() {
		st, err := newTreeStream(ctx, s.tree.PostingTree(pe.Root), false)
		if err != nil {
			return nil, err
		}
		return newEntry(st, int(pe.NItems)), nil
	}
	items, err := s.tree.Decode(&pe)
	if err != nil {
		return nil, err
	}
	return newEntry(newSliceStream(items, false), len(items)), nil
}

// collect unions the postings of every index key q matches.
func (s *Scan) collect(ctx context.Context, k *key, q opclass.QueryEntry) (*roaring64.Bitmap, error) {
	attr := k.sk.Attr
	from := entrytree.FirstKey(attr)
	if q.Category != model.CategoryEmptyQuery {
		from = model.Key{Attr: attr, Category: q.Category, Value: q.Key}
	}
	c, err := s.tree.Seek(ctx, from, false)
	if err != nil {
		return nil, err
	}
	b := roaring64.New()
	for {
		e, ok, err := c.Next()
		if err != nil {
			return nil, err
		}
		if !ok || e.Key.Attr != attr {
			return b, nil
		}
		switch s.comparePartial(k, q, e.Key) {
		case opclass.PartialAfter:
			return b, nil
		case opclass.PartialMatch:
			items, err := s.tree.Items(ctx, e)
			if err != nil {
				return nil, err
			}
			for _, it := range items {
				b.Add(it.Locator.Uint64())
			}
		}
	}
}

// comparePartial compares an index key with a query entry in walk order.
func (s *Scan) comparePartial(k *key, q opclass.QueryEntry, idx model.Key) opclass.PartialResult {
	if idx.Attr != k.sk.Attr {
		if idx.Attr < k.sk.Attr {
			return opclass.PartialBefore
		}
		return opclass.PartialAfter
	}
	if q.Category == model.CategoryEmptyQuery {
		return opclass.PartialMatch
	}
	if !q.Partial || q.Category != model.CategoryNormal || idx.Category != q.Category {
		c := s.tree.Compare(idx, model.Key{Attr: k.sk.Attr, Category: q.Category, Value: q.Key})
		switch {
		case c < 0:
			return opclass.PartialBefore
		case c > 0:
			return opclass.PartialAfter
		}
		return opclass.PartialMatch
	}
	strategy := q.Strategy
	if strategy == 0 {
		strategy = k.sk.Strategy
	}
	return k.caps.Partial.ComparePartial(q.Key, idx.Value, strategy, q.Extra)
}
