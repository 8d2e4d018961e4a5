// Package cache provides the LRU used by the buffer pool to pick eviction
// victims.
//
// Entries carry a byte cost that is charged to an optional
// resource.Controller. Add never evicts on its own: the pool decides which
// entries may leave (unpinned pages only) and calls Evict with that
// predicate until the new entry fits.
package cache
