package posting

import (
	"slices"

	"github.com/hupe1980/rumgo/model"
)

// Merge returns the sorted union of a and b. On equal locators the item
// from b wins, so b's attached value replaces a's.
func Merge(a, b []model.Item) []model.Item {
	switch {
	case len(a) == 0:
		return slices.Clone(b)
	case len(b) == 0:
		return slices.Clone(a)
	case a[len(a)-1].Locator.Less(b[0].Locator):
		return append(slices.Clip(slices.Clone(a)), b...)
	case b[len(b)-1].Locator.Less(a[0].Locator):
		return append(slices.Clip(slices.Clone(b)), a...)
	}

	out := make([]model.Item, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch a[i].Locator.Compare(b[j].Locator) {
		case -1:
			out = append(out, a[i])
			i++
		case 1:
			out = append(out, b[j])
			j++
		default:
			out = append(out, b[j])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// Normalize sorts items and collapses duplicate locators, keeping the last
// occurrence.
func Normalize(items []model.Item) []model.Item {
	sorted := slices.IsSortedFunc(items, func(x, y model.Item) int { return x.Locator.Compare(y.Locator) })
	if !sorted {
		items = slices.Clone(items)
		slices.SortStableFunc(items, func(x, y model.Item) int { return x.Locator.Compare(y.Locator) })
	}
	out := items[:0:0]
	for _, it := range items {
		if n := len(out); n > 0 && out[n-1].Locator == it.Locator {
			out[n-1] = it
			continue
		}
		out = append(out, it)
	}
	return out
}

// Filter returns the items for which keep is true.
func Filter(items []model.Item, keep func(model.Locator) bool) []model.Item {
	out := items[:0:0]
	for _, it := range items {
		if keep(it.Locator) {
			out = append(out, it)
		}
	}
	return out
}
