// Package postingtree stores the locators of one key when they no longer
// fit inline in the entry tree.
//
// A posting tree is a B-tree keyed by locator. Leaves hold one compressed
// run with its jump index; internal pages hold (high locator, child)
// downlinks. Inserts decode only the leaf they touch, merge and re-encode
// it, splitting when the merged run overflows.
package postingtree
