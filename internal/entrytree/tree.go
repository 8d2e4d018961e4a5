package entrytree

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/internal/postingtree"
	"github.com/hupe1980/rumgo/model"
	"github.com/hupe1980/rumgo/opclass"
)

var (
	// ErrKeyTooLarge is returned for keys beyond the maximum key size.
	ErrKeyTooLarge = errors.New("entrytree: key too large")
	// ErrInvalidKey is returned for keys with a category that cannot be stored.
	ErrInvalidKey = errors.New("entrytree: invalid key")
	// ErrInvalidLocator is returned for items with an invalid locator.
	ErrInvalidLocator = errors.New("entrytree: invalid locator")
)

// KeySizeError reports a key beyond the storable size. It matches
// ErrKeyTooLarge.
type KeySizeError struct {
	Size  int
	Limit int
}

func (e *KeySizeError) Error() string {
	return fmt.Sprintf("%v: %d bytes, limit %d", ErrKeyTooLarge, e.Size, e.Limit)
}

// Is reports whether target is ErrKeyTooLarge.
func (e *KeySizeError) Is(target error) bool { return target == ErrKeyTooLarge }

// Options configures a Tree.
type Options struct {
	AddInfo bool
	// Strict rejects posting data holding invalid locators.
	Strict bool
	// Classes holds the comparator of each attribute. Attributes without one
	// compare their keys as bytes.
	Classes []opclass.Comparator
	Btree   btree.Options
	// Posting configures the B-tree of every posting tree.
	Posting btree.Options
}

// Tree is a handle on the entry tree of an index.
type Tree struct {
	bt   *btree.Tree
	m    *buffer.Manager
	opts Options
}

type ops struct{ t *Tree }

func (ops) Data() bool { return false }

func (o ops) Compare(key, b page.Bound) int { return o.t.Compare(key.Key, b.Key) }

// Open returns a handle on the entry tree of m.
func Open(m *buffer.Manager, opts Options) *Tree {
	t := &Tree{m: m, opts: opts}
	t.bt = btree.New(m, page.EntryRootID, ops{t}, opts.Btree)
	return t
}

// Create writes the empty root leaf of a new index. The meta page must
// already exist so that the root lands on page 1.
func Create(m *buffer.Manager, opts Options) (*Tree, error) {
	u := m.Begin()
	b, err := u.Allocate(page.New(0, page.FlagLeaf, 0))
	if err != nil {
		u.Abort()
		return nil, err
	}
	if b.ID() != page.EntryRootID {
		u.Abort()
		b.Done(buffer.LockExclusive)
		return nil, fmt.Errorf("%w: entry root allocated at page %d", btree.ErrCorrupt, b.ID())
	}
	_, err = u.Finish()
	b.Done(buffer.LockExclusive)
	if err != nil {
		return nil, err
	}
	return Open(m, opts), nil
}

// Btree returns the underlying B-tree.
func (t *Tree) Btree() *btree.Tree { return t.bt }

// Manager returns the buffer manager of the tree.
func (t *Tree) Manager() *buffer.Manager { return t.m }

// Options returns the options the tree was opened with.
func (t *Tree) Options() Options { return t.opts }

// Class returns the comparator of attr.
func (t *Tree) Class(attr uint16) opclass.Comparator {
	if int(attr) < len(t.opts.Classes) && t.opts.Classes[attr] != nil {
		return t.opts.Classes[attr]
	}
	return opclass.Bytes{}
}

// Compare orders keys by attribute, then category, then value.
func (t *Tree) Compare(a, b model.Key) int {
	if c := cmp.Compare(a.Attr, b.Attr); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Category, b.Category); c != 0 {
		return c
	}
	if a.Category != model.CategoryNormal {
		return 0
	}
	return t.Class(a.Attr).Compare(a.Value, b.Value)
}

// search returns the position of key in entries and whether it is there.
func (t *Tree) search(entries []page.Entry, key model.Key) (int, bool) {
	i := sort.Search(len(entries), func(i int) bool { return t.Compare(entries[i].Key, key) >= 0 })
	return i, i < len(entries) && t.Compare(entries[i].Key, key) == 0
}

// Search returns the position of key on the entry leaf p and whether p
// holds it.
func (t *Tree) Search(p *page.Page, key model.Key) (int, bool) {
	return t.search(p.Entries, key)
}

// PostingTree returns a handle on the posting tree rooted at root.
func (t *Tree) PostingTree(root uint32) *postingtree.Tree {
	return postingtree.Open(t.m, root, t.postingOptions())
}

func (t *Tree) postingOptions() postingtree.Options {
	return postingtree.Options{AddInfo: t.opts.AddInfo, Strict: t.opts.Strict, Btree: t.opts.Posting}
}

// Decode returns the inline items of e.
func (t *Tree) Decode(e *page.Entry) ([]model.Item, error) {
	items, err := posting.Decode(e.Data, e.NItems, t.opts.AddInfo, t.opts.Strict)
	if err != nil {
		return nil, fmt.Errorf("%w: entry %s: %v", page.ErrCorrupt, e.Key, err)
	}
	return items, nil
}

// Find returns a copy of the entry for key.
func (t *Tree) Find(ctx context.Context, key model.Key) (page.Entry, bool, error) {
	b, _, err := t.bt.Descend(ctx, page.KeyBound(key), buffer.LockShare)
	if err != nil {
		return page.Entry{}, false, err
	}
	defer b.Done(buffer.LockShare)

	p := b.Page()
	i, ok := t.search(p.Entries, key)
	if !ok {
		return page.Entry{}, false, nil
	}
	e := p.Entries[i]
	e.Key = e.Key.Clone()
	e.Data = bytes.Clone(e.Data)
	return e, true, nil
}

// Items returns every item stored for e. A posting tree removed by a
// concurrent prune reads as empty.
func (t *Tree) Items(ctx context.Context, e *page.Entry) ([]model.Item, error) {
	if !e.HasTree() {
		return t.Decode(e)
	}
	items, err := t.PostingTree(e.Root).Items(ctx)
	if errors.Is(err, postingtree.ErrDeleted) {
		return nil, nil
	}
	return items, err
}

// Lookup returns the items stored for key.
func (t *Tree) Lookup(ctx context.Context, key model.Key) ([]model.Item, error) {
	e, ok, err := t.Find(ctx, key)
	if err != nil || !ok {
		return nil, err
	}
	return t.Items(ctx, &e)
}

// Stats describes the shape of the entry tree.
type Stats struct {
	Levels  int
	Pages   int
	Leaves  int
	Entries int
	// Inline counts the items of inline lists; Trees the posting trees.
	Inline int
	Trees  int
	Roots  []uint32
}

// Stats walks every level of the tree.
func (t *Tree) Stats(ctx context.Context) (Stats, error) {
	level, err := t.bt.Level()
	if err != nil {
		return Stats{}, err
	}
	s := Stats{Levels: int(level) + 1}
	for l := int(level); l >= 0; l-- {
		err := t.bt.Walk(ctx, uint16(l), func(p *page.Page) error {
			if p.IsDeleted() {
				return nil
			}
			s.Pages++
			if !p.IsLeaf() {
				return nil
			}
			s.Leaves++
			for i := range p.Entries {
				e := &p.Entries[i]
				s.Entries++
				if e.HasTree() {
					s.Trees++
					s.Roots = append(s.Roots, e.Root)
				} else {
					s.Inline += e.NItems
				}
			}
			return nil
		})
		if err != nil {
			return s, err
		}
	}
	return s, nil
}
