package repair

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/postingtree"
	"github.com/hupe1980/rumgo/model"
)

// PageRef names one page of one tree. Tree is the root page of the tree.
type PageRef struct {
	Tree  uint32 `json:"tree"`
	Page  uint32 `json:"page"`
	Level uint16 `json:"level"`
}

// Issue is one structural defect.
type Issue struct {
	PageRef
	Problem string `json:"problem"`
}

func (i Issue) String() string {
	return fmt.Sprintf("tree %d page %d level %d: %s", i.Tree, i.Page, i.Level, i.Problem)
}

// Dangling is an entry whose posting tree was dropped but which was not
// removed from its leaf.
type Dangling struct {
	Key  model.Key `json:"-"`
	Name string    `json:"key"`
	Root uint32    `json:"root"`
}

// Report is the outcome of Check.
type Report struct {
	EntryPages   int        `json:"entryPages"`
	DataPages    int        `json:"dataPages"`
	Entries      int        `json:"entries"`
	Items        int        `json:"items"`
	PostingTrees int        `json:"postingTrees"`
	Incomplete   []PageRef  `json:"incomplete,omitempty"`
	HalfDead     []PageRef  `json:"halfDead,omitempty"`
	Dangling     []Dangling `json:"dangling,omitempty"`
	Issues       []Issue    `json:"issues,omitempty"`
}

// OK reports whether no defect was found. Incomplete splits, half-dead
// pages and dangling entries are recoverable states, not defects.
func (r *Report) OK() bool { return len(r.Issues) == 0 }

// Err returns an error wrapping btree.ErrCorrupt for the first defect.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("%w: %s (%d issues)", btree.ErrCorrupt, r.Issues[0], len(r.Issues))
}

// Check verifies the structure of t and of every posting tree it
// references. It expects no concurrent writers.
func Check(ctx context.Context, t *entrytree.Tree) (*Report, error) {
	c := &checker{t: t, r: &Report{}}
	var roots []page.Entry
	err := c.tree(ctx, t.Btree(), false, func(p *page.Page) error {
		for i := range p.Entries {
			e := &p.Entries[i]
			c.r.Entries++
			if e.HasTree() {
				roots = append(roots, *e)
				continue
			}
			items, err := t.Decode(e)
			if err != nil {
				c.issue(t.Btree().Root(), p, "%s", err)
				continue
			}
			c.items(t.Btree().Root(), p, items, e.Key.String())
		}
		return nil
	})
	if err != nil {
		return c.r, err
	}

	for _, e := range roots {
		if err := ctx.Err(); err != nil {
			return c.r, err
		}
		pt := t.PostingTree(e.Root)
		root, err := pt.Btree().Snapshot(e.Root)
		if err != nil {
			return c.r, err
		}
		if root.IsDeleted() {
			c.r.Dangling = append(c.r.Dangling, Dangling{Key: e.Key.Clone(), Name: e.Key.String(), Root: e.Root})
			continue
		}
		c.r.PostingTrees++
		err = c.tree(ctx, pt.Btree(), true, func(p *page.Page) error {
			items, err := p.Items(t.Options().AddInfo, true)
			if err != nil {
				c.issue(e.Root, p, "%s", err)
				return nil
			}
			c.r.Items += len(items)
			c.sorted(e.Root, p, items)
			return nil
		})
		if errors.Is(err, postingtree.ErrDeleted) {
			continue
		}
		if err != nil {
			return c.r, err
		}
	}
	return c.r, nil
}

type checker struct {
	t *entrytree.Tree
	r *Report
}

func (c *checker) issue(tree uint32, p *page.Page, format string, args ...any) {
	c.r.Issues = append(c.r.Issues, Issue{
		PageRef: PageRef{Tree: tree, Page: p.ID, Level: p.Level},
		Problem: fmt.Sprintf(format, args...),
	})
}

// compare orders two bounds of one tree; infinite bounds sort last.
func (c *checker) compare(data bool, a, b page.Bound) int {
	switch {
	case a.Inf && b.Inf:
		return 0
	case a.Inf:
		return 1
	case b.Inf:
		return -1
	case data:
		return a.Loc.Compare(b.Loc)
	default:
		return c.t.Compare(a.Key, b.Key)
	}
}

// tree checks bt level by level from the root down and calls leaf with
// every live leaf.
func (c *checker) tree(ctx context.Context, bt *btree.Tree, data bool, leaf func(p *page.Page) error) error {
	top, err := bt.Level()
	if err != nil {
		return err
	}
	root := bt.Root()
	expect := map[uint32]bool{root: true}

	for level := int(top); level >= 0; level-- {
		var (
			prev *page.Page
			seen = make(map[uint32]bool)
			next = make(map[uint32]bool)
		)
		err := bt.Walk(ctx, uint16(level), func(p *page.Page) error {
			seen[p.ID] = true
			if data {
				c.r.DataPages++
			} else {
				c.r.EntryPages++
			}
			c.page(root, p, prev, expect, uint16(level), data)
			if p.IsIncomplete() {
				c.r.Incomplete = append(c.r.Incomplete, PageRef{Tree: root, Page: p.ID, Level: p.Level})
			}
			if p.IsHalfDead() {
				c.r.HalfDead = append(c.r.HalfDead, PageRef{Tree: root, Page: p.ID, Level: p.Level})
			}
			prev = p
			if p.IsDeleted() {
				return nil
			}
			if !p.IsLeaf() {
				for _, d := range p.Downlinks {
					if next[d.Child] {
						c.issue(root, p, "duplicate downlink to page %d", d.Child)
					}
					next[d.Child] = true
				}
				return nil
			}
			if level == 0 {
				return leaf(p)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for id := range expect {
			if !seen[id] {
				c.r.Issues = append(c.r.Issues, Issue{
					PageRef: PageRef{Tree: root, Page: id, Level: uint16(level)},
					Problem: "downlink target not reachable by sibling links",
				})
			}
		}
		expect = next
	}
	return nil
}

func (c *checker) page(root uint32, p, prev *page.Page, expect map[uint32]bool, level uint16, data bool) {
	if p.Level != level {
		c.issue(root, p, "level %d, want %d", p.Level, level)
	}
	if p.IsLeaf() != (level == 0) {
		c.issue(root, p, "leaf flag does not match level")
	}
	if p.IsData() != data {
		c.issue(root, p, "data flag does not match tree kind")
	}
	if p.IsMeta() || p.IsFree() {
		c.issue(root, p, "meta or free page linked into tree")
	}
	if p.IsDeleted() {
		c.issue(root, p, "deleted page reachable by sibling links")
	}

	prevID := page.InvalidID
	if prev != nil {
		prevID = prev.ID
	}
	if p.Left != prevID {
		c.issue(root, p, "left link %d, want %d", p.Left, prevID)
	}
	if !expect[p.ID] && !p.IsHalfDead() && (prev == nil || !prev.IsIncomplete() || prev.Right != p.ID) {
		c.issue(root, p, "no downlink in parent level")
	}
	if p.IsRightmost() != p.High.Inf {
		c.issue(root, p, "rightmost page must have an infinite high bound")
	}
	if prev != nil && c.compare(data, prev.High, p.High) >= 0 {
		c.issue(root, p, "high bound not above left sibling's")
	}

	if !p.IsLeaf() {
		if len(p.Downlinks) == 0 {
			c.issue(root, p, "internal page without downlinks")
			return
		}
		for i := 1; i < len(p.Downlinks); i++ {
			if c.compare(data, p.Downlinks[i-1].High, p.Downlinks[i].High) >= 0 {
				c.issue(root, p, "downlinks %d and %d out of order", i-1, i)
			}
		}
		if c.compare(data, p.Downlinks[len(p.Downlinks)-1].High, p.High) != 0 {
			c.issue(root, p, "last downlink bound differs from page bound")
		}
		return
	}
	if data {
		return
	}
	for i := range p.Entries {
		e := &p.Entries[i]
		if !e.Key.Category.Valid() {
			c.issue(root, p, "entry %d has category %s", i, e.Key.Category)
		}
		b := page.KeyBound(e.Key)
		if i > 0 && c.compare(false, page.KeyBound(p.Entries[i-1].Key), b) >= 0 {
			c.issue(root, p, "entries %d and %d out of order", i-1, i)
		}
		if c.compare(false, b, p.High) > 0 {
			c.issue(root, p, "entry %s above high bound", e.Key)
		}
		if prev != nil && !prev.IsDeleted() && c.compare(false, b, prev.High) <= 0 {
			c.issue(root, p, "entry %s not above left sibling's bound", e.Key)
		}
	}
}

// items checks the inline items of one entry.
func (c *checker) items(root uint32, p *page.Page, items []model.Item, key string) {
	c.r.Items += len(items)
	for i, it := range items {
		if !it.Locator.IsValid() {
			c.issue(root, p, "entry %s holds invalid locator %s", key, it.Locator)
		}
		if i > 0 && !items[i-1].Locator.Less(it.Locator) {
			c.issue(root, p, "entry %s locators out of order at %d", key, i)
		}
	}
}

// sorted checks the items of a posting leaf against its bounds.
func (c *checker) sorted(root uint32, p *page.Page, items []model.Item) {
	if len(items) != p.NItems {
		c.issue(root, p, "decoded %d items, header says %d", len(items), p.NItems)
	}
	for i, it := range items {
		if i > 0 && !items[i-1].Locator.Less(it.Locator) {
			c.issue(root, p, "locators out of order at %d", i)
		}
		if !p.High.Inf && p.High.Loc.Less(it.Locator) {
			c.issue(root, p, "locator %s above high bound %s", it.Locator, p.High.Loc)
		}
	}
}
