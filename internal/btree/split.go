package btree

import (
	"context"
	"slices"

	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/page"
)

// Edit computes the new content of the leaf p. A nil left leaves the leaf
// unchanged. A non-nil right splits it: left keeps the leaf's page and
// right goes to a new page; both must carry their high bounds. Edit may be
// called again after a restart and must not retain p.
type Edit func(p *page.Page) (left, right *page.Page, err error)

// Update applies edit to the leaf covering key.
func (t *Tree) Update(ctx context.Context, key page.Bound, edit Edit) error {
	r := t.retrier()
	for {
		b, path, err := t.Descend(ctx, key, buffer.LockExclusive)
		if err != nil {
			return err
		}
		p := b.Page()
		left, right, err := edit(p)
		if err != nil || left == nil {
			b.Done(buffer.LockExclusive)
			return err
		}
		if right != nil && p.IsIncomplete() {
			// a page is split again only after its pending split is done
			b.Done(buffer.LockExclusive)
			if err := t.finishSplit(ctx, p.ID, path); err != nil {
				return err
			}
			if err := r.retry(retryIncompleteSplit); err != nil {
				return err
			}
			continue
		}
		return t.apply(ctx, b, path, left, right)
	}
}

func (t *Tree) apply(ctx context.Context, b *buffer.Buffer, path Path, left, right *page.Page) error {
	if right == nil {
		u := t.m.Begin()
		u.Put(b, left)
		_, err := u.Finish()
		b.Done(buffer.LockExclusive)
		return err
	}

	id := b.ID()
	root, err := t.split(b, left, right, nil)
	if err != nil || root {
		return err
	}
	if t.opts.InjectSplitIncomplete {
		if t.opts.Logger != nil {
			t.opts.Logger.Debug("split left incomplete", "tree", t.root, "page", id)
		}
		return nil
	}
	return t.finishSplit(ctx, id, path)
}

// split writes the first unit of a split of the exclusively locked page b
// and releases b. When child is set its incomplete flag is cleared in the
// same unit. It reports whether b was the root, whose split is complete.
func (t *Tree) split(b *buffer.Buffer, left, right *page.Page, child *buffer.Buffer) (bool, error) {
	old := b.Page()
	cid := t.cycleID()
	left.Level, right.Level = old.Level, old.Level
	left.CycleID, right.CycleID = cid, cid
	right.Clear(page.FlagIncompleteSplit)

	u := t.m.Begin()
	var held []*buffer.Buffer
	defer func() {
		for _, h := range held {
			h.Done(buffer.LockExclusive)
		}
		b.Done(buffer.LockExclusive)
	}()

	if child != nil {
		u.Modify(child).Clear(page.FlagIncompleteSplit)
	}

	if b.ID() == t.root {
		lb, err := u.Allocate(left)
		if err != nil {
			u.Abort()
			return true, err
		}
		held = append(held, lb)
		rb, err := u.Allocate(right)
		if err != nil {
			u.Abort()
			return true, err
		}
		held = append(held, rb)

		left.Clear(page.FlagIncompleteSplit)
		left.Left, left.Right = page.InvalidID, rb.ID()
		right.Left, right.Right = lb.ID(), page.InvalidID
		right.High = page.InfBound

		root := page.New(t.root, t.flags(false), old.Level+1)
		root.Downlinks = []page.Downlink{
			{High: left.High, Child: lb.ID()},
			{High: page.InfBound, Child: rb.ID()},
		}
		u.Put(b, root)
		if _, err := u.Finish(); err != nil {
			return true, err
		}
		t.splitDone(old.Level, true)
		return true, nil
	}

	rb, err := u.Allocate(right)
	if err != nil {
		u.Abort()
		return false, err
	}
	held = append(held, rb)

	right.Left, right.Right = b.ID(), old.Right
	left.Left, left.Right = old.Left, rb.ID()
	left.Set(page.FlagIncompleteSplit)
	if old.Right != page.InvalidID {
		nb, err := t.m.Read(old.Right, buffer.LockExclusive)
		if err != nil {
			u.Abort()
			return false, err
		}
		held = append(held, nb)
		u.Modify(nb).Left = rb.ID()
	}
	u.Put(b, left)
	if _, err := u.Finish(); err != nil {
		return false, err
	}
	t.splitDone(old.Level, false)
	return false, nil
}

func (t *Tree) splitDone(level uint16, root bool) {
	if t.opts.OnSplit != nil {
		t.opts.OnSplit(level, root)
	}
}

// FinishSplit completes a pending split of page id, if any.
func (t *Tree) FinishSplit(ctx context.Context, id uint32) error {
	return t.finishSplit(ctx, id, nil)
}

// finishSplit inserts the missing downlink for the right half of the split
// of leftID, splitting parents upwards as needed.
func (t *Tree) finishSplit(ctx context.Context, leftID uint32, path Path) error {
	r := t.retrier()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		lb, err := t.m.Read(leftID, buffer.LockExclusive)
		if err != nil {
			return err
		}
		lp := lb.Page()
		if !lp.IsIncomplete() {
			lb.Done(buffer.LockExclusive)
			return nil
		}
		if leftID == t.root {
			lb.Done(buffer.LockExclusive)
			return corruptf("root %d is flagged incomplete", leftID)
		}

		pb, idx, err := t.lockParent(ctx, leftID, lp.Level+1, path)
		if err != nil {
			lb.Done(buffer.LockExclusive)
			return err
		}
		if pb == nil {
			lb.Done(buffer.LockExclusive)
			// leftID may still be the unlinked right half of its neighbour
			if err := t.finishLeftNeighbour(ctx, lp, path); err != nil {
				return err
			}
			if err := r.retry(retryParentMissing); err != nil {
				return err
			}
			continue
		}

		pp := pb.Page()
		np := pp.Clone()
		high := np.Downlinks[idx].High
		np.Downlinks[idx] = page.Downlink{High: high, Child: lp.Right}
		np.Downlinks = slices.Insert(np.Downlinks, idx, page.Downlink{High: lp.High, Child: leftID})

		if np.Fits(t.m.PageSize()) {
			u := t.m.Begin()
			u.Put(pb, np)
			u.Modify(lb).Clear(page.FlagIncompleteSplit)
			_, err := u.Finish()
			pb.Done(buffer.LockExclusive)
			lb.Done(buffer.LockExclusive)
			return err
		}

		if pp.IsIncomplete() {
			pb.Done(buffer.LockExclusive)
			lb.Done(buffer.LockExclusive)
			if err := t.finishSplit(ctx, pp.ID, path); err != nil {
				return err
			}
			if err := r.retry(retryIncompleteSplit); err != nil {
				return err
			}
			continue
		}

		left, right := t.splitInternal(np)
		root, err := t.split(pb, left, right, lb)
		lb.Done(buffer.LockExclusive)
		if err != nil || root {
			return err
		}
		leftID = pp.ID
	}
}

func (t *Tree) finishLeftNeighbour(ctx context.Context, p *page.Page, path Path) error {
	if p.Left == page.InvalidID {
		return corruptf("no downlink for page %d at level %d", p.ID, p.Level+1)
	}
	lp, err := t.Snapshot(p.Left)
	if err != nil {
		return err
	}
	if !lp.IsIncomplete() || lp.Right != p.ID {
		return corruptf("no downlink for page %d at level %d", p.ID, p.Level+1)
	}
	return t.finishSplit(ctx, lp.ID, path)
}

// lockParent finds and exclusively locks the page at level holding the
// downlink to child, starting from the path hint and falling back to a
// walk of the whole level. It returns a nil buffer if no page has it.
func (t *Tree) lockParent(ctx context.Context, child uint32, level uint16, path Path) (*buffer.Buffer, int, error) {
	start := page.InvalidID
	if f, ok := path.at(level); ok {
		start = f.ID
	}
	for attempt := 0; attempt < 2; attempt++ {
		if start == page.InvalidID {
			id, err := t.Leftmost(ctx, level)
			if err != nil {
				return nil, -1, err
			}
			start = id
		}
		b, idx, err := t.findDownlink(ctx, start, level, child)
		if err != nil || b != nil {
			return b, idx, err
		}
		start = page.InvalidID
	}
	return nil, -1, nil
}

func (t *Tree) findDownlink(ctx context.Context, id uint32, level uint16, child uint32) (*buffer.Buffer, int, error) {
	for id != page.InvalidID {
		if err := ctx.Err(); err != nil {
			return nil, -1, err
		}
		b, err := t.m.Read(id, buffer.LockExclusive)
		if err != nil {
			return nil, -1, err
		}
		p := b.Page()
		if p.IsLeaf() || p.Level != level {
			b.Done(buffer.LockExclusive)
			return nil, -1, corruptf("page %d is not at level %d", id, level)
		}
		for i, d := range p.Downlinks {
			if d.Child == child {
				return b, i, nil
			}
		}
		id = p.Right
		b.Done(buffer.LockExclusive)
	}
	return nil, -1, nil
}

// splitInternal divides the downlinks of p into two halves of similar size.
func (t *Tree) splitInternal(p *page.Page) (left, right *page.Page) {
	data := t.ops.Data()
	total := 0
	for _, d := range p.Downlinks {
		total += page.DownlinkSize(d, data)
	}

	cut, acc := len(p.Downlinks)-1, 0
	for i, d := range p.Downlinks {
		acc += page.DownlinkSize(d, data)
		if acc >= total/2 {
			cut = i + 1
			break
		}
	}
	cut = max(1, min(cut, len(p.Downlinks)-1))

	left = page.New(p.ID, t.flags(false), p.Level)
	left.Downlinks = slices.Clone(p.Downlinks[:cut])
	left.High = left.Downlinks[cut-1].High

	right = page.New(0, t.flags(false), p.Level)
	right.Downlinks = slices.Clone(p.Downlinks[cut:])
	right.High = p.High
	return left, right
}
