package rumgo

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Methods are called synchronously on the operation's goroutine and must be
// safe for concurrent use.
type MetricsCollector interface {
	// RecordInsert is called after each Insert or InsertKey call.
	// postings is the number of (key, locator) pairs written.
	RecordInsert(postings int, duration time.Duration, err error)

	// RecordBuild is called after a bulk build.
	RecordBuild(rows, entries int64, duration time.Duration, err error)

	// RecordScan is called when a scan is closed.
	// mode is the strategy the scan ran with.
	RecordScan(mode string, results int64, duration time.Duration, err error)

	// RecordVacuum is called after each bulk delete pass.
	RecordVacuum(removed int64, duration time.Duration, err error)

	// RecordSplit is called for every page split. root reports a root split.
	RecordSplit(level uint16, root bool)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordInsert(int, time.Duration, error)         {}
func (NoopMetricsCollector) RecordBuild(int64, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordScan(string, int64, time.Duration, error) {}
func (NoopMetricsCollector) RecordVacuum(int64, time.Duration, error)       {}
func (NoopMetricsCollector) RecordSplit(uint16, bool)                       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	InsertCount      atomic.Int64
	InsertErrors     atomic.Int64
	InsertPostings   atomic.Int64
	InsertTotalNanos atomic.Int64
	BuildCount       atomic.Int64
	BuildErrors      atomic.Int64
	BuildRows        atomic.Int64
	BuildEntries     atomic.Int64
	ScanCount        atomic.Int64
	ScanErrors       atomic.Int64
	ScanResults      atomic.Int64
	ScanTotalNanos   atomic.Int64
	VacuumCount      atomic.Int64
	VacuumErrors     atomic.Int64
	VacuumRemoved    atomic.Int64
	SplitCount       atomic.Int64
	RootSplitCount   atomic.Int64
}

// RecordInsert implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInsert(postings int, duration time.Duration, err error) {
	b.InsertCount.Add(1)
	b.InsertTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InsertErrors.Add(1)
		return
	}
	b.InsertPostings.Add(int64(postings))
}

// RecordBuild implements MetricsCollector.
func (b *BasicMetricsCollector) RecordBuild(rows, entries int64, _ time.Duration, err error) {
	b.BuildCount.Add(1)
	if err != nil {
		b.BuildErrors.Add(1)
		return
	}
	b.BuildRows.Add(rows)
	b.BuildEntries.Add(entries)
}

// RecordScan implements MetricsCollector.
func (b *BasicMetricsCollector) RecordScan(_ string, results int64, duration time.Duration, err error) {
	b.ScanCount.Add(1)
	b.ScanTotalNanos.Add(duration.Nanoseconds())
	b.ScanResults.Add(results)
	if err != nil {
		b.ScanErrors.Add(1)
	}
}

// RecordVacuum implements MetricsCollector.
func (b *BasicMetricsCollector) RecordVacuum(removed int64, _ time.Duration, err error) {
	b.VacuumCount.Add(1)
	if err != nil {
		b.VacuumErrors.Add(1)
		return
	}
	b.VacuumRemoved.Add(removed)
}

// RecordSplit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSplit(_ uint16, root bool) {
	b.SplitCount.Add(1)
	if root {
		b.RootSplitCount.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		InsertCount:    b.InsertCount.Load(),
		InsertErrors:   b.InsertErrors.Load(),
		InsertPostings: b.InsertPostings.Load(),
		InsertAvgNanos: avg(b.InsertTotalNanos.Load(), b.InsertCount.Load()),
		BuildCount:     b.BuildCount.Load(),
		BuildErrors:    b.BuildErrors.Load(),
		BuildRows:      b.BuildRows.Load(),
		BuildEntries:   b.BuildEntries.Load(),
		ScanCount:      b.ScanCount.Load(),
		ScanErrors:     b.ScanErrors.Load(),
		ScanResults:    b.ScanResults.Load(),
		ScanAvgNanos:   avg(b.ScanTotalNanos.Load(), b.ScanCount.Load()),
		VacuumCount:    b.VacuumCount.Load(),
		VacuumErrors:   b.VacuumErrors.Load(),
		VacuumRemoved:  b.VacuumRemoved.Load(),
		SplitCount:     b.SplitCount.Load(),
		RootSplitCount: b.RootSplitCount.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	InsertCount    int64
	InsertErrors   int64
	InsertPostings int64
	InsertAvgNanos int64
	BuildCount     int64
	BuildErrors    int64
	BuildRows      int64
	BuildEntries   int64
	ScanCount      int64
	ScanErrors     int64
	ScanResults    int64
	ScanAvgNanos   int64
	VacuumCount    int64
	VacuumErrors   int64
	VacuumRemoved  int64
	SplitCount     int64
	RootSplitCount int64
}
