package rumgo

import (
	"math"

	"github.com/hupe1980/rumgo/internal/vacuum"
	"github.com/hupe1980/rumgo/model"
	"github.com/hupe1980/rumgo/opclass"
)

// partialFraction is the share of the index a partial-match entry is
// assumed to cover.
const partialFraction = 0.01

// Cost is the estimated page reads of a scan.
type Cost struct {
	EntryPages float64
	DataPages  float64
	// Searches is the number of entry tree descents.
	Searches int
	// Stale is set when the meta counters were never computed and the
	// estimate falls back to the page count.
	Stale bool
}

// Pages returns the total estimated page reads.
func (c Cost) Pages() float64 { return c.EntryPages + c.DataPages }

// CostEstimate estimates the page reads of a scan over keys from the meta
// counters written by Build and VacuumCleanup. The counters may be stale.
func (i *Index) CostEstimate(keys []*opclass.ScanKey) (Cost, error) {
	if err := i.acquire(); err != nil {
		return Cost{}, err
	}
	defer i.release()

	meta, err := vacuum.Meta(i.m)
	if err != nil {
		return Cost{}, translateError(err)
	}
	var c Cost
	entryPages := float64(meta.EntryPages)
	dataPages := float64(meta.DataPages)
	entries := float64(meta.Entries)
	if entryPages == 0 {
		c.Stale = true
		entryPages = float64(max(i.m.NumPages(), 2) - 1)
		entries = 100 * entryPages
	}
	descent := math.Ceil(math.Pow(entryPages, 0.15))
	perEntry := math.Ceil(dataPages / math.Max(entries, 1))

	for _, k := range keys {
		if k.OrderBy {
			continue
		}
		queries := k.Entries
		if k.Mode == opclass.SearchIncludeEmpty {
			queries = append(queries[:len(queries):len(queries)], opclass.QueryEntry{Category: model.CategoryEmptyItem})
		}
		if k.Mode == opclass.SearchEverything {
			queries = append(queries[:len(queries):len(queries)], opclass.QueryEntry{Category: model.CategoryEmptyQuery})
		}
		for _, q := range queries {
			c.Searches++
			switch {
			case q.Category == model.CategoryEmptyQuery:
				c.EntryPages += entryPages
				c.DataPages += dataPages
			case q.Partial:
				c.EntryPages += descent + math.Ceil(partialFraction*entryPages)
				c.DataPages += math.Ceil(partialFraction * dataPages)
			default:
				c.EntryPages += descent
				c.DataPages += perEntry
			}
		}
	}
	c.EntryPages = math.Min(c.EntryPages, entryPages)
	c.DataPages = math.Min(c.DataPages, dataPages)
	return c, nil
}
