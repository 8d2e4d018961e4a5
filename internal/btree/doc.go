// Package btree implements the page discipline shared by the entry tree and
// the posting trees: descent with move-right, splits with a durable
// incomplete-split state, parent re-derivation and leaf deletion.
//
// Every page carries an inclusive high bound and left/right sibling links.
// Internal pages hold (child high, child) downlinks ordered by bound; the
// last downlink of a page has the page's own high bound. Leaves are level
// zero and the root page number never changes: a root split moves the old
// content into two new children.
//
// A split of a non-root page X is two atomic units:
//
//  1. X keeps the left half, a new page R takes the right half, X.Right and
//     the old right neighbour's Left point at R, and X is flagged
//     INCOMPLETE_SPLIT.
//  2. The parent's downlink for X is repointed at R, (X.High, X) is
//     inserted before it and the flag on X is cleared.
//
// Between the two units a descent reaches R by moving right from X. Any
// writer that meets a flagged page completes the split before going on, so
// the structure converges after a crash without a separate recovery pass.
//
// Locks are taken child before parent and left before right. Descents hold
// at most one lock at a time.
package btree
