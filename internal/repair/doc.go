// Package repair verifies, repairs and inspects the page structure of an
// index.
//
// Check walks every level of the entry tree and of every posting tree it
// references. Repair finishes the incomplete splits and removes the
// entries left pointing at dropped posting trees by an interrupted prune.
// The Inspector renders meta, page statistics and page contents, either
// from a live buffer pool or from a page file mapped offline.
package repair
