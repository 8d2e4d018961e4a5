package scan

import (
	"context"

	"github.com/hupe1980/rumgo/internal/queue"
	"github.com/hupe1980/rumgo/model"
)

// score fills the order-by scores of l. Order-by entries only move forward,
// so l must not decrease between calls.
func (s *Scan) score(l model.Locator, r *Result) error {
	r.Scores = make([]float64, len(s.order))
	for i, k := range s.order {
		for _, e := range k.entries {
			if err := e.find(l); err != nil {
				return err
			}
		}
		k.fill(l)
		s.rate(k, i, r)
	}
	return nil
}

func (s *Scan) rate(k *key, i int, r *Result) {
	if k.caps.Ordering == nil {
		r.RecheckOrder = true
		r.Recheck = true
		return
	}
	sc, recheck := k.caps.Ordering.OrderingScore(k.sk, k.check, k.addInfo)
	r.Scores[i] = sc
	if recheck {
		r.RecheckOrder = true
		r.Recheck = true
	}
}

func lessResult(a, b Result) bool {
	for i := range a.Scores {
		if a.Scores[i] != b.Scores[i] {
			return a.Scores[i] < b.Scores[i]
		}
	}
	return a.Locator.Less(b.Locator)
}

// rank drains the strategy into a bounded collector.
func (s *Scan) rank(ctx context.Context) error {
	top := queue.NewTopN(s.opts.Limit, lessResult)
	for {
		r, ok, err := s.step(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		top.Offer(r)
	}
	s.ranked = top.Drain()
	return nil
}

func (s *Scan) popRanked() (Result, bool) {
	if len(s.ranked) == 0 {
		return Result{}, false
	}
	r := s.ranked[0]
	s.ranked = s.ranked[1:]
	return r, true
}
