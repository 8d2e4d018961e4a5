package btree

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
)

var (
	// ErrCorrupt reports a structural inconsistency between pages.
	ErrCorrupt = errors.New("btree: corrupt structure")
	// ErrRetryExhausted is returned when concurrent changes kept an operation
	// from making progress.
	ErrRetryExhausted = errors.New("btree: retry budget exhausted")
)

// Ops orders search keys against page bounds.
type Ops interface {
	// Data reports whether the tree holds posting pages.
	Data() bool
	// Compare orders key against a finite bound.
	Compare(key, bound page.Bound) int
}

// Options configures a Tree.
type Options struct {
	// FixIncompleteSplit makes writers complete the splits they pass on the
	// way down, not only those of pages they are about to split.
	FixIncompleteSplit bool
	// InjectSplitIncomplete stops leaf splits after the first unit.
	InjectSplitIncomplete bool
	// MaxRetries bounds how often one operation restarts.
	MaxRetries int
	// CycleID returns the cycle id of the running vacuum, or zero.
	CycleID func() uint16
	// OnSplit is called after each split.
	OnSplit func(level uint16, root bool)
	Logger  *slog.Logger
}

// DefaultMaxRetries is used when Options.MaxRetries is zero.
const DefaultMaxRetries = 1000

// Tree is one B-tree rooted at a fixed page.
type Tree struct {
	m    *buffer.Manager
	root uint32
	ops  Ops
	opts Options
}

// New returns a handle on the tree rooted at root.
func New(m *buffer.Manager, root uint32, ops Ops, opts Options) *Tree {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	return &Tree{m: m, root: root, ops: ops, opts: opts}
}

// Root returns the root page number.
func (t *Tree) Root() uint32 { return t.root }

// Manager returns the buffer manager of the tree.
func (t *Tree) Manager() *buffer.Manager { return t.m }

// Options returns the options of the tree.
func (t *Tree) Options() Options { return t.opts }

// Frame records an internal page passed during a descent.
type Frame struct {
	ID    uint32
	Level uint16
}

// Path is the list of internal pages from the root down to a leaf's parent.
// Entries are hints: pages may have split since they were read.
type Path []Frame

func (p Path) at(level uint16) (Frame, bool) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Level == level {
			return p[i], true
		}
	}
	return Frame{}, false
}

func (p Path) above(level uint16) Path {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i].Level > level {
			return p[:i+1]
		}
	}
	return nil
}

// retryReason says why an operation restarted.
type retryReason int

const (
	retryMoveRight retryReason = iota + 1
	retryIncompleteSplit
	retryParentMissing
	retryLinksChanged
	retryLockBusy
	retryRelock
)

func (r retryReason) String() string {
	switch r {
	case retryMoveRight:
		return "move right"
	case retryIncompleteSplit:
		return "incomplete split"
	case retryParentMissing:
		return "parent downlink missing"
	case retryLinksChanged:
		return "sibling links changed"
	case retryLockBusy:
		return "lock busy"
	case retryRelock:
		return "relock"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

type retrier struct {
	max  int
	n    int
	last retryReason
}

func (t *Tree) retrier() *retrier { return &retrier{max: t.opts.MaxRetries} }

func (r *retrier) retry(reason retryReason) error {
	r.n++
	r.last = reason
	if r.n > r.max {
		return fmt.Errorf("%w: %s after %d attempts", ErrRetryExhausted, reason, r.n)
	}
	return nil
}

func (t *Tree) cycleID() uint16 {
	if t.opts.CycleID == nil {
		return 0
	}
	return t.opts.CycleID()
}

// compare orders key against b; infinite bounds sort after every key.
func (t *Tree) compare(key, b page.Bound) int {
	if b.Inf {
		return -1
	}
	return t.ops.Compare(key, b)
}

// Beyond reports whether key lies past the high bound of p.
func (t *Tree) Beyond(p *page.Page, key page.Bound) bool {
	return t.compare(key, p.High) > 0
}

func (t *Tree) flags(leaf bool) page.Flags {
	var f page.Flags
	if t.ops.Data() {
		f |= page.FlagData
	}
	if leaf {
		f |= page.FlagLeaf
	}
	return f
}

// NewLeaf returns an empty leaf of the tree's kind.
func (t *Tree) NewLeaf() *page.Page {
	return page.New(0, t.flags(true), 0)
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorrupt}, args...)...)
}
