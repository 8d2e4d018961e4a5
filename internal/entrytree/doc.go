// Package entrytree is the key directory of an index: a B-tree over
// (attribute, category, key) whose leaf tuples hold either an inline
// compressed posting list or the root of a posting tree.
//
// The tree is rooted at page 1 and uses the split and deletion protocol of
// package btree. Inline lists are promoted to a posting tree once they
// outgrow the inline ceiling of the page size.
//
// Inserts into an existing posting tree run under a share lock on the entry
// leaf. Removing an empty entry and dropping its tree needs the leaf
// exclusively, so a tree is never dropped under a running insert.
package entrytree
