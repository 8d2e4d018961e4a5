// Package vacuum removes dead rows from an index and reclaims the pages it
// empties.
//
// BulkDelete visits every entry leaf, filters the inline posting lists
// under an exclusive leaf lock and then vacuums each posting tree the leaf
// references. Posting trees left without items are dropped together with
// their entries, and empty entry leaves are detached in two steps. The
// classic walk follows right links from the leftmost leaf; the block-order
// walk reads pages in file order and backtracks to right siblings that a
// concurrent split moved behind it, recognized by the cycle id the split
// tagged them with.
//
// Cleanup runs afterwards: it returns deleted pages no snapshot can still
// reach to the free list and recomputes the meta page counters.
package vacuum
