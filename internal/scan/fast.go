package scan

import (
	"context"
	"slices"

	"github.com/hupe1980/rumgo/model"
)

// nextFast runs one round of the fast strategy. s.sorted holds every filter
// entry ordered by descending current locator with finished entries first,
// so the smallest candidate is at the end.
func (s *Scan) nextFast(ctx context.Context) (model.Locator, bool, bool, error) {
	n := len(s.sorted)
	if s.incr < 0 {
		for _, e := range s.sorted {
			if err := e.advance(); err != nil {
				return model.Locator{}, false, false, err
			}
		}
		slices.SortStableFunc(s.sorted, func(a, b *entry) int { return compareEntries(b, a) })
		s.incr = n
	}
	for k := s.incr; k < n; k++ {
		if err := s.shift(k, false); err != nil {
			return model.Locator{}, false, false, err
		}
	}
	s.incr = n

	for {
		if err := ctx.Err(); err != nil {
			return model.Locator{}, false, false, err
		}
		s.stats.Loops++
		for _, e := range s.sorted {
			e.pre = true
		}
		pre := true
		i, j, k := 1, 0, 0
		for ; i < n; i++ {
			if compareEntries(s.sorted[i], s.sorted[i-1]) < 0 {
				k = i
				for ; j < i; j++ {
					s.sorted[j].pre = false
				}
				if pre = s.preConsistent(); !pre {
					break
				}
			}
		}
		if s.sorted[i-1].finished {
			return model.Locator{}, false, false, nil
		}
		if !pre {
			if err := s.shift(i, true); err != nil {
				return model.Locator{}, false, false, err
			}
			continue
		}

		cand := s.sorted[n-1].cur.Locator
		match, recheck := true, false
		for _, key := range s.keys {
			key.fill(cand)
			m, rc := key.consistent()
			if !m {
				match = false
				break
			}
			recheck = recheck || rc
		}
		if !match {
			for x := k; x < n; x++ {
				if err := s.shift(x, false); err != nil {
					return model.Locator{}, false, false, err
				}
			}
			continue
		}
		s.incr = k
		return cand, recheck, true, nil
	}
}

// preConsistent asks every key whether a row could match if only the
// entries still marked pre contained it.
func (s *Scan) preConsistent() bool {
	for _, k := range s.keys {
		if k.caps.PreConsistent == nil {
			continue
		}
		all := true
		for i, e := range k.entries {
			k.check[i] = e.pre
			all = all && e.pre
		}
		if all {
			continue
		}
		if !k.caps.PreConsistent.PreConsistent(k.sk, k.check) {
			return false
		}
	}
	return true
}

// shift moves the entry with the smallest estimate among s.sorted[i:]
// forward and restores the order. With find the entry jumps to the current
// locator of s.sorted[i-1]; otherwise it steps once.
func (s *Scan) shift(i int, find bool) error {
	m := i
	for x := i + 1; x < len(s.sorted); x++ {
		if s.sorted[x].estimate < s.sorted[m].estimate {
			m = x
		}
	}
	e := s.sorted[m]
	var err error
	if find {
		err = e.find(s.sorted[i-1].cur.Locator)
	} else {
		err = e.advance()
	}
	if err != nil {
		return err
	}
	for ; m > 0 && compareEntries(s.sorted[m], s.sorted[m-1]) > 0; m-- {
		s.sorted[m], s.sorted[m-1] = s.sorted[m-1], s.sorted[m]
	}
	return nil
}
