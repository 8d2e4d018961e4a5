package rumgo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/rumgo/internal/build"
	"github.com/hupe1980/rumgo/model"
)

// Insert extracts the postings of one row and adds them to the index.
// Keys are written in index order, one at a time; a failure leaves the
// keys written before it in place.
func (i *Index) Insert(ctx context.Context, loc model.Locator, row any) error {
	start := time.Now()
	n, err := i.insertRow(ctx, loc, row)
	i.metrics.RecordInsert(n, time.Since(start), err)
	return err
}

func (i *Index) insertRow(ctx context.Context, loc model.Locator, row any) (int, error) {
	if i.opts.extractor == nil {
		return 0, translateError(build.ErrNoExtractor)
	}
	postings, err := i.opts.extractor.Extract(loc, row)
	if err != nil {
		return 0, err
	}
	for _, p := range postings {
		if p.Item.Locator != loc {
			return 0, translateError(fmt.Errorf("%w: %s for row %s", build.ErrForeignLocator, p.Item.Locator, loc))
		}
	}

	if err := i.acquire(); err != nil {
		return 0, err
	}
	defer i.release()

	groups := i.group(postings)
	written := 0
	for _, g := range groups {
		if err := i.tree.Insert(ctx, g.key, g.items); err != nil {
			return written, translateError(err)
		}
		written += len(g.items)
	}
	return written, translateError(i.durable())
}

// InsertKey adds items to the entry of key.
func (i *Index) InsertKey(ctx context.Context, key model.Key, items ...model.Item) error {
	start := time.Now()
	err := i.insertKey(ctx, key, items)
	i.metrics.RecordInsert(len(items), time.Since(start), err)
	return err
}

func (i *Index) insertKey(ctx context.Context, key model.Key, items []model.Item) error {
	if err := i.acquire(); err != nil {
		return err
	}
	defer i.release()
	if err := i.tree.Insert(ctx, key, items); err != nil {
		return translateError(err)
	}
	return translateError(i.durable())
}

type keyGroup struct {
	key   model.Key
	items []model.Item
}

// group collects the items of each distinct key, ordered by key.
func (i *Index) group(postings []model.Posting) []keyGroup {
	var groups []keyGroup
	for _, p := range postings {
		j, found := slices.BinarySearchFunc(groups, p.Key, func(g keyGroup, k model.Key) int {
			return i.tree.Compare(g.key, k)
		})
		if found {
			groups[j].items = append(groups[j].items, p.Item)
			continue
		}
		groups = slices.Insert(groups, j, keyGroup{key: p.Key, items: []model.Item{p.Item}})
	}
	return groups
}

// Lookup returns the items stored for key in locator order.
func (i *Index) Lookup(ctx context.Context, key model.Key) ([]model.Item, error) {
	if err := i.acquire(); err != nil {
		return nil, err
	}
	defer i.release()
	items, err := i.tree.Lookup(ctx, key)
	return items, translateError(err)
}
