// Package mmap maps index page files read-only into memory.
//
// It backs offline inspection: a page file can be examined without opening
// the buffer pool or replaying the redo log, and without copying pages
// through kernel buffers.
//
//	m, err := mmap.Open(path)
//	if err != nil { ... }
//	defer m.Close()
//
//	img, err := m.Page(1, 8192)
//
// Unix systems use mmap(2) and madvise(2); Windows uses
// CreateFileMapping/MapViewOfFile and ignores access hints.
//
// Mapping and Region are safe for concurrent reads. Close is idempotent,
// but slices obtained from Bytes must not be used after it returns.
package mmap
