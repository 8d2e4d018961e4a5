// Package opclass defines the per-attribute capability interfaces the index
// calls back into: key extraction, ordering, partial matching, consistency
// predicates and ranking.
//
// Only Comparator is mandatory. The other capabilities are discovered with
// type assertions once per scan or build and decide which scan strategy can
// run:
//
//   - PartialComparator enables partial-match entries and ordered scans
//   - Consistent combines per-entry results into a per-key verdict
//   - PreConsistent enables the fast scan strategy
//   - Ordering produces scores for order-by keys
package opclass

import (
	"github.com/hupe1980/rumgo/model"
)

// Strategy is an operator-specific strategy number.
type Strategy uint16

// SearchMode tells the scan engine which hidden entries a key needs.
type SearchMode uint8

const (
	// SearchDefault matches only the key's own entries.
	SearchDefault SearchMode = iota
	// SearchIncludeEmpty also matches rows that produced no keys.
	SearchIncludeEmpty
	// SearchEverything matches every entry of the attribute.
	SearchEverything
)

// PartialResult is the outcome of comparing a query entry with an index key
// during a partial-match walk in key order.
type PartialResult int

const (
	// PartialBefore means the candidate does not match but later keys may.
	PartialBefore PartialResult = -1
	// PartialMatch means the candidate matches.
	PartialMatch PartialResult = 0
	// PartialAfter means no later key can match; the walk stops.
	PartialAfter PartialResult = 1
	// PartialSkip is PartialBefore with a hint that the walk may jump ahead.
	PartialSkip PartialResult = -2
)

// QueryEntry is one key looked up by a scan key.
type QueryEntry struct {
	Key      []byte
	Category model.Category
	// Partial entries match every key for which ComparePartial returns
	// PartialMatch, walking forward from Key.
	Partial  bool
	Strategy Strategy
	Extra    any
}

// ScanKey is one search condition.
type ScanKey struct {
	Attr     uint16
	Strategy Strategy
	Query    any
	Entries  []QueryEntry
	Mode     SearchMode
	// OrderBy keys only rank results; they never filter.
	OrderBy bool
	Class   Comparator
}

// Comparator orders the key values of one attribute.
type Comparator interface {
	Compare(a, b []byte) int
}

// PartialComparator compares a query key with an index key.
type PartialComparator interface {
	ComparePartial(query, candidate []byte, strategy Strategy, extra any) PartialResult
}

// Consistent decides whether a row matches a key, given which of the key's
// entries contain the row. recheck asks the caller to re-verify the row.
type Consistent interface {
	Consistent(key *ScanKey, check []bool, addInfo []model.AddInfo) (match, recheck bool)
}

// PreConsistent is a cheap necessary condition for Consistent. It may return
// true for rows that do not match but must never return false for a row
// that does.
type PreConsistent interface {
	PreConsistent(key *ScanKey, check []bool) bool
}

// Ordering scores a row for an order-by key.
type Ordering interface {
	OrderingScore(key *ScanKey, check []bool, addInfo []model.AddInfo) (score float64, recheck bool)
}

// Extractor turns one base-table row into postings. Every returned posting
// must carry loc.
type Extractor interface {
	Extract(loc model.Locator, row any) ([]model.Posting, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(loc model.Locator, row any) ([]model.Posting, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(loc model.Locator, row any) ([]model.Posting, error) {
	return f(loc, row)
}

// Capabilities is the resolved capability set of one attribute.
type Capabilities struct {
	Comparator    Comparator
	Partial       PartialComparator
	Consistent    Consistent
	PreConsistent PreConsistent
	Ordering      Ordering
}

// Resolve discovers the optional capabilities of c.
func Resolve(c Comparator) Capabilities {
	if c == nil {
		c = Bytes{}
	}
	caps := Capabilities{Comparator: c}
	caps.Partial, _ = c.(PartialComparator)
	caps.Consistent, _ = c.(Consistent)
	caps.PreConsistent, _ = c.(PreConsistent)
	caps.Ordering, _ = c.(Ordering)
	return caps
}
