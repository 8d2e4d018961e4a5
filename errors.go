package rumgo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/rumgo/internal/btree"
	"github.com/hupe1980/rumgo/internal/buffer"
	"github.com/hupe1980/rumgo/internal/build"
	"github.com/hupe1980/rumgo/internal/cycle"
	"github.com/hupe1980/rumgo/internal/entrytree"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/internal/posting"
	"github.com/hupe1980/rumgo/internal/repair"
	"github.com/hupe1980/rumgo/internal/resource"
	"github.com/hupe1980/rumgo/internal/scan"
	"github.com/hupe1980/rumgo/internal/vacuum"
)

var (
	// ErrCorrupt reports structural corruption: a malformed page, a bad
	// checksum or an invalid locator in posting data.
	ErrCorrupt = errors.New("rumgo: index corrupt")
	// ErrResourceExceeded reports a key or tuple beyond the storable size,
	// or an exhausted memory budget.
	ErrResourceExceeded = errors.New("rumgo: resource exceeded")
	// ErrRetryExhausted is returned when a concurrent structure change kept
	// an operation from completing within its retry budget.
	ErrRetryExhausted = errors.New("rumgo: retry budget exhausted")
	// ErrUnsupported is returned for scans the operator classes cannot run.
	ErrUnsupported = errors.New("rumgo: unsupported")
	// ErrInvalidArgument is returned for malformed keys, locators or options.
	ErrInvalidArgument = errors.New("rumgo: invalid argument")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("rumgo: index closed")
	// ErrExists is returned by Create for a directory holding an index.
	ErrExists = errors.New("rumgo: index already exists")
	// ErrNotExist is returned by Open for a directory without an index.
	ErrNotExist = errors.New("rumgo: index does not exist")
	// ErrNotEmpty is returned by Build on an index that already has entries.
	ErrNotEmpty = errors.New("rumgo: index not empty")
	// ErrBusy is returned when a vacuum is already running on the index.
	ErrBusy = errors.New("rumgo: vacuum already running")
	// ErrNoBackup is returned by Restore when the store holds no backup.
	ErrNoBackup = errors.New("rumgo: no backup")
)

// CorruptionError is a corrupt page. It matches ErrCorrupt.
//
// The original underlying error can be accessed via errors.Unwrap.
type CorruptionError struct {
	// Page is the page number, page.InvalidID when unknown.
	Page  uint32
	cause error
}

func (e *CorruptionError) Error() string {
	if e.Page == page.InvalidID {
		return fmt.Sprintf("%v: %v", ErrCorrupt, e.cause)
	}
	return fmt.Sprintf("%v: page %d: %v", ErrCorrupt, e.Page, e.cause)
}

func (e *CorruptionError) Unwrap() error { return e.cause }

// Is reports whether target is ErrCorrupt.
func (e *CorruptionError) Is(target error) bool { return target == ErrCorrupt }

// ResourceError is a value beyond a storage limit. It matches
// ErrResourceExceeded.
//
// The original underlying error can be accessed via errors.Unwrap.
type ResourceError struct {
	Size  int64
	Limit int64
	cause error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("%v: %d bytes, limit %d", ErrResourceExceeded, e.Size, e.Limit)
}

func (e *ResourceError) Unwrap() error { return e.cause }

// Is reports whether target is ErrResourceExceeded.
func (e *ResourceError) Is(target error) bool { return target == ErrResourceExceeded }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var ce *page.CorruptError
	if errors.As(err, &ce) {
		return &CorruptionError{Page: ce.ID, cause: err}
	}
	if errors.Is(err, repair.ErrNoMeta) {
		return &CorruptionError{Page: page.MetaID, cause: err}
	}
	if errors.Is(err, page.ErrCorrupt) || errors.Is(err, btree.ErrCorrupt) || errors.Is(err, posting.ErrCorrupt) {
		return &CorruptionError{Page: page.InvalidID, cause: err}
	}

	var ke *entrytree.KeySizeError
	if errors.As(err, &ke) {
		return &ResourceError{Size: int64(ke.Size), Limit: int64(ke.Limit), cause: err}
	}
	if errors.Is(err, resource.ErrMemoryLimitExceeded) || errors.Is(err, buffer.ErrPoolExhausted) || errors.Is(err, page.ErrOverflow) {
		return fmt.Errorf("%w: %w", ErrResourceExceeded, err)
	}

	switch {
	case errors.Is(err, btree.ErrRetryExhausted):
		return fmt.Errorf("%w: %w", ErrRetryExhausted, err)
	case errors.Is(err, scan.ErrUnsupported), errors.Is(err, scan.ErrLossyDuplicate):
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	case errors.Is(err, scan.ErrClosed), errors.Is(err, buffer.ErrClosed):
		return fmt.Errorf("%w: %w", ErrClosed, err)
	case errors.Is(err, cycle.ErrActive):
		return fmt.Errorf("%w: %w", ErrBusy, err)
	case errors.Is(err, entrytree.ErrInvalidKey),
		errors.Is(err, entrytree.ErrInvalidLocator),
		errors.Is(err, build.ErrNoExtractor),
		errors.Is(err, build.ErrForeignLocator),
		errors.Is(err, scan.ErrNoKeys),
		errors.Is(err, vacuum.ErrNoPredicate):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}
