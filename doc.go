// Package rumgo provides an embeddable inverted index for Go.
//
// An index maps keys to ordered lists of row locators. Rows live outside
// the index; an Extractor turns each row into (key, locator) postings and
// operator classes decide how keys compare and how queries match.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, _ := rumgo.Create("./index", rumgo.WithExtractor(extractor))
//	defer idx.Close()
//
//	res, _ := idx.Build(ctx, table)               // bulk build from a row source
//	_ = idx.Insert(ctx, loc, row)                  // incremental insert
//
//	results, _ := idx.Query(key).Execute(ctx)     // one-shot query
//	for r, err := range idx.Query(key).Stream(ctx) {
//	    if err != nil { break }
//	    process(r.Locator, r.Recheck)
//	}
//
// # Storage
//
// The index is a directory holding a page file and a redo log. Page 0 is
// the meta page and page 1 the root of the entry tree, a B-tree of keys.
// Small posting lists are stored inline in entry leaves; larger ones move
// to a posting tree, a B-tree keyed by locator. Every structural change is
// one redo unit; Open replays the log of an unclean shutdown, and
// Checkpoint and Close write the dirty pages back and truncate it.
//
// # Scans
//
// BeginScan picks one of four strategies and keeps it until the scan is
// exhausted:
//
//   - Regular intersects the keys with each key's consistency predicate
//   - Fast skips ranges with the cheap pre-consistency predicate
//   - Full drives the scan from a match-everything entry
//   - Ordered walks keys in index order, forward or in reverse
//
// Scans with order-by keys and a limit deliver the best-scored rows first.
//
// # Maintenance
//
// Vacuum removes the postings of dead rows and the entries left empty;
// VacuumCleanup recycles deleted pages once no scan can reach them and
// refreshes the counters read by CostEstimate. Check and Repair verify and
// finish interrupted structural changes. Backup copies a checkpointed page
// file to any blobstore.BlobStore; Restore brings it back.
package rumgo
