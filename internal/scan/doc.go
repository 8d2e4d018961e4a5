// Package scan turns a set of search keys into a stream of matching row
// locators.
//
// A Scan picks one of four strategies when it starts and keeps it until it
// is exhausted:
//
//   - Regular intersects the keys, asking each key's consistency predicate
//     for the smallest locator it accepts and skipping every key ahead to
//     the largest of those answers.
//   - Fast keeps all entries ordered by their current locator and uses the
//     cheap pre-consistency predicate to skip ranges that cannot match,
//     moving the entry with the smallest posting set first.
//   - Full drives the scan from one entry that covers every row of an
//     attribute; other entries only feed order-by scores.
//   - Ordered walks the entry tree in key order from the smallest query
//     key, validating every index key with partial comparison, and emits
//     the postings of each accepted entry. It is the only strategy that
//     runs in reverse.
//
// Results of order-by keys with a limit are delivered by score through a
// bounded top-N collector.
package scan
