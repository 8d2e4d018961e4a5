package opclass

import (
	"bytes"

	"github.com/hupe1980/rumgo/model"
)

// Strategies understood by Bytes.
const (
	// StrategyAny matches rows containing any of the key's entries.
	StrategyAny Strategy = 1
	// StrategyAll matches rows containing all of the key's entries.
	StrategyAll Strategy = 2
	// StrategyPrefix is the partial-match strategy: index keys starting
	// with the query key match.
	StrategyPrefix Strategy = 3
	// StrategyRange matches index keys in [Key, Extra.([]byte)).
	StrategyRange Strategy = 4
)

// Bytes is the default operator class over raw byte-string keys.
//
// Ordering scores are the first valid attached value among matching
// entries, so order-by keys rank rows by their attached value.
type Bytes struct{}

// Compare implements Comparator.
func (Bytes) Compare(a, b []byte) int { return bytes.Compare(a, b) }

// ComparePartial implements PartialComparator.
func (Bytes) ComparePartial(query, candidate []byte, strategy Strategy, extra any) PartialResult {
	switch strategy {
	case StrategyRange:
		if bytes.Compare(candidate, query) < 0 {
			return PartialBefore
		}
		if upper, ok := extra.([]byte); ok && bytes.Compare(candidate, upper) >= 0 {
			return PartialAfter
		}
		return PartialMatch
	default:
		if bytes.HasPrefix(candidate, query) {
			return PartialMatch
		}
		if bytes.Compare(candidate, query) < 0 {
			return PartialBefore
		}
		return PartialAfter
	}
}

// Consistent implements Consistent.
func (Bytes) Consistent(key *ScanKey, check []bool, _ []model.AddInfo) (bool, bool) {
	if key.Strategy == StrategyAll {
		for _, c := range check[:userEntries(key, check)] {
			if !c {
				return false, false
			}
		}
		return true, false
	}
	for _, c := range check {
		if c {
			return true, false
		}
	}
	return false, false
}

// PreConsistent implements PreConsistent.
func (b Bytes) PreConsistent(key *ScanKey, check []bool) bool {
	ok, _ := b.Consistent(key, check, nil)
	return ok
}

// OrderingScore implements Ordering.
func (Bytes) OrderingScore(_ *ScanKey, check []bool, addInfo []model.AddInfo) (float64, bool) {
	for i, c := range check {
		if c && i < len(addInfo) && addInfo[i].Valid {
			return float64(addInfo[i].Value), false
		}
	}
	return 0, true
}

// userEntries returns how many leading check slots belong to the key's own
// entries; hidden entries appended by the scan engine follow them.
func userEntries(key *ScanKey, check []bool) int {
	if n := len(key.Entries); n <= len(check) {
		return n
	}
	return len(check)
}
