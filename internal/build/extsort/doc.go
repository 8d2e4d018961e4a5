// Package extsort sorts posting runs that may not fit in memory.
//
// Records are buffered until the memory budget is reached, then sorted and
// spilled to a run file of compressed blocks. Sort merges the spilled runs
// with the records still in memory through a heap. Records order by key,
// then by their first locator.
package extsort
