// Package buffer is the page store of an index: a pool of page buffers
// over one page file, with a redo log for atomic multi-page updates.
//
// A Buffer is addressed by page number. Callers pin it (Read), lock it in
// shared or exclusive mode and release it when done. Pinned buffers are
// never evicted. Installed pages are immutable; a writer registers every
// buffer it changes in a Unit, edits the clones returned by Modify and
// calls Finish, which logs the full images of all pages in one WAL record
// and then installs them. After a crash Open replays those records, so a
// unit is applied entirely or not at all.
//
// Bulk mode skips per-unit logging for builds; LogAll then writes every
// page to the log once.
//
// Lock order: a page's left sibling before the page, a child before its
// parent. Cleanup locks (exclusive plus the only pin) are taken with
// ConditionalCleanup and never block.
package buffer
