package vacuum

import (
	"context"
	"log/slog"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/page"
)

// CleanupStats reports one cleanup pass. The page and entry counters are
// also written to the meta page.
type CleanupStats struct {
	TotalPages   uint32
	EntryPages   uint32
	DataPages    uint32
	Entries      uint64
	PostingTrees uint32
	Recycled     int
	Free         int
	// Pending counts deleted pages some snapshot may still reach.
	Pending int
	// Deferred is set when an entry still references a dropped posting
	// tree; no posting page is recycled then.
	Deferred bool
}

// Cleanup recycles deleted pages and recomputes the meta counters.
func Cleanup(ctx context.Context, t *entrytree.Tree, logger *slog.Logger) (CleanupStats, error) {
	m := t.Manager()
	n := m.NumPages()
	stats := CleanupStats{TotalPages: n}

	snaps := make([]*page.Page, n)
	for id := uint32(0); id < n; id++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		b, err := m.Read(id, buffer.LockShare)
		if err != nil {
			return stats, err
		}
		snaps[id] = b.Page()
		b.Done(buffer.LockShare)
	}

	for _, p := range snaps {
		if !entryLeaf(p) {
			continue
		}
		for i := range p.Entries {
			e := &p.Entries[i]
			if !e.HasTree() {
				continue
			}
			if e.Root < n && snaps[e.Root].IsDeleted() {
				stats.Deferred = true
			}
		}
	}

	var free []uint32
	for _, p := range snaps {
		switch {
		case p.IsMeta():
		case p.IsFree():
			free = append(free, p.ID)
		case p.IsDeleted():
			if (p.IsData() && stats.Deferred) || !m.Recyclable(p.DeleteXID) {
				stats.Pending++
				continue
			}
			ok, err := recycle(m, p.ID)
			if err != nil {
				return stats, err
			}
			if !ok {
				stats.Pending++
				continue
			}
			stats.Recycled++
			free = append(free, p.ID)
		case p.IsData():
			stats.DataPages++
		default:
			stats.EntryPages++
			if !p.IsLeaf() || p.IsHalfDead() {
				continue
			}
			stats.Entries += uint64(len(p.Entries))
			for i := range p.Entries {
				if p.Entries[i].HasTree() {
					stats.PostingTrees++
				}
			}
		}
	}
	stats.Free = len(free)

	if err := writeMeta(m, stats, free); err != nil {
		return stats, err
	}
	m.SetFree(free)
	if logger != nil {
		logger.Debug("cleanup finished", "pages", n, "recycled", stats.Recycled,
			"free", stats.Free, "pending", stats.Pending, "deferred", stats.Deferred)
	}
	return stats, nil
}

// recycle turns the deleted page id into a free page if nobody else has
// it pinned.
func recycle(m *buffer.Manager, id uint32) (bool, error) {
	b, err := m.Read(id, buffer.LockNone)
	if err != nil {
		return false, err
	}
	if !b.ConditionalCleanup() {
		b.Release()
		return false, nil
	}
	defer b.Done(buffer.LockExclusive)
	if !b.Page().IsDeleted() {
		return false, nil
	}
	u := m.Begin()
	u.Put(b, page.New(id, page.FlagFree, 0))
	if _, err := u.Finish(); err != nil {
		return false, err
	}
	return true, nil
}

func writeMeta(m *buffer.Manager, s CleanupStats, free []uint32) error {
	b, err := m.Read(page.MetaID, buffer.LockExclusive)
	if err != nil {
		return err
	}
	defer b.Done(buffer.LockExclusive)

	u := m.Begin()
	p := u.Modify(b)
	if p.Meta == nil {
		u.Abort()
		return page.ErrCorrupt
	}
	p.Meta.TotalPages = s.TotalPages
	p.Meta.EntryPages = s.EntryPages
	p.Meta.DataPages = s.DataPages
	p.Meta.Entries = s.Entries
	p.Meta.PostingTrees = s.PostingTrees
	p.Meta.Free = free
	_, err = u.Finish()
	return err
}

// Meta returns a copy of the meta page counters.
func Meta(m *buffer.Manager) (page.Meta, error) {
	b, err := m.Read(page.MetaID, buffer.LockShare)
	if err != nil {
		return page.Meta{}, err
	}
	defer b.Done(buffer.LockShare)
	p := b.Page()
	if p.Meta == nil {
		return page.Meta{}, page.ErrCorrupt
	}
	return *p.Clone().Meta, nil
}
