// Package resource governs the memory, concurrency and IO budgets shared by
// an index.
//
//   - Memory: the buffer pool and the build accumulator charge every byte
//     they hold. AcquireMemory fails fast with ErrMemoryLimitExceeded so the
//     caller can evict or spill instead of blocking.
//   - Concurrency: build workers and vacuum runs take a background slot.
//   - IO: vacuum and spill writes are throttled by a token bucket.
//
// Example:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes:     64 << 20,
//	    MaxBackgroundWorkers: 4,
//	    IOLimitBytesPerSec:   32 << 20,
//	})
//	if err := rc.AcquireMemory(pageSize); err != nil {
//	    // evict a page and retry
//	}
//	defer rc.ReleaseMemory(pageSize)
//
// All methods are safe for concurrent use, and every method of a nil
// *Controller is a no-op that always succeeds.
package resource
