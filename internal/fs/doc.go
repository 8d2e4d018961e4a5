// Package fs provides the file system abstraction used for the page file,
// the redo log and build spill runs.
//
//   - [File]: an open file with positional reads and writes and Sync
//   - [FileSystem]: open, remove, rename, stat and directory operations
//
// [LocalFS] is the production implementation. [FaultyFS] wraps another
// file system and injects write, sync and close failures so tests can cut
// the durable state at an exact byte and reopen the index as after a crash:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("index.wal", fs.Fault{FailAfterBytes: 4096})
//	// open the index on ffs, write until the fault fires, reopen on fs.Default
package fs
