package mmap

import "errors"

// AccessPattern is a hint about how mapped pages will be read.
type AccessPattern int

const (
	// AccessDefault gives no advice.
	AccessDefault AccessPattern = iota
	// AccessSequential expects pages to be read in file order.
	AccessSequential
	// AccessRandom expects pages to be read in no particular order.
	AccessRandom
	// AccessWillNeed expects the pages to be read soon.
	AccessWillNeed
	// AccessDontNeed expects the pages not to be read soon.
	AccessDontNeed
)

var (
	// ErrClosed is returned when using a closed mapping.
	ErrClosed = errors.New("mmap: mapping is closed")
	// ErrInvalidSize is returned for files whose size cannot be mapped.
	ErrInvalidSize = errors.New("mmap: invalid file size")
	// ErrOutOfBounds is returned for ranges outside the mapping.
	ErrOutOfBounds = errors.New("mmap: out of bounds")
	// ErrInvalidOffset is returned for negative offsets.
	ErrInvalidOffset = errors.New("mmap: invalid offset")
	// ErrPageSize is returned when the file is not a whole number of pages.
	ErrPageSize = errors.New("mmap: file size is not a multiple of the page size")
)
