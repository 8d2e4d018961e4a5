package scan

import (
	"context"

	"github.com/hupe1980/rumgo/model"
)

// nextRegular returns the smallest locator >= s.target accepted by every
// key. A key that answers with a larger locator moves the target there and
// the round restarts.
func (s *Scan) nextRegular(ctx context.Context) (model.Locator, bool, bool, error) {
	target := s.target
	for {
		s.stats.Loops++
		restart := false
		recheck := false
		for _, k := range s.keys {
			l, rc, ok, err := s.first(ctx, k, target)
			if err != nil || !ok {
				return model.Locator{}, false, false, err
			}
			if l != target {
				target, restart = l, true
				break
			}
			recheck = recheck || rc
		}
		if !restart {
			s.target = next(target)
			return target, recheck, true, nil
		}
	}
}

// first returns the smallest locator >= target for which k is consistent.
func (s *Scan) first(ctx context.Context, k *key, target model.Locator) (model.Locator, bool, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return model.Locator{}, false, false, err
		}
		minLoc, live := model.MaxLocator, false
		for _, e := range k.entries {
			if err := e.find(target); err != nil {
				return model.Locator{}, false, false, err
			}
			if !e.finished && e.cur.Locator.Less(minLoc) {
				minLoc = e.cur.Locator
			}
			live = live || !e.finished
		}
		if !live {
			return model.Locator{}, false, false, nil
		}
		k.fill(minLoc)
		if match, recheck := k.consistent(); match {
			return minLoc, recheck, true, nil
		}
		target = next(minLoc)
	}
}
