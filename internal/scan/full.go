package scan

import (
	"context"

	"github.com/hupe1980/rumgo/model"
)

// nextFull returns the next row of the carrier entry, which holds every
// row of the attribute.
func (s *Scan) nextFull(ctx context.Context) (model.Locator, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Locator{}, false, err
	}
	s.stats.Loops++
	if err := s.carrier.advance(); err != nil || s.carrier.finished {
		return model.Locator{}, false, err
	}
	return s.carrier.cur.Locator, true, nil
}
