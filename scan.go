package rumgo

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/rumgo/internal/scan"
	"github.com/hupe1980/rumgo/opclass"
)

// ScanResult is one matching row.
type ScanResult = scan.Result

// ScanMode is the strategy a scan runs with.
type ScanMode = scan.Mode

const (
	ModeRegular = scan.ModeRegular
	ModeFast    = scan.ModeFast
	ModeFull    = scan.ModeFull
	ModeOrdered = scan.ModeOrdered
)

// ScanOptions tunes one scan. Strategy choice also follows the index Config.
type ScanOptions struct {
	// IndexOrder asks for results in key order of the scanned attribute.
	IndexOrder bool
	// Reverse walks from the largest key. Only the ordered strategy runs
	// in reverse; other scans fail with ErrUnsupported.
	Reverse bool
	// Limit bounds the results of a scan with order-by keys, which are then
	// delivered by ascending score. Zero is unlimited.
	Limit int
}

// Scan is an open index scan. It pins a snapshot horizon so that pages it
// may still reach are not recycled; Close releases it.
//
// A Scan is not safe for concurrent use.
type Scan struct {
	idx     *Index
	s       *scan.Scan
	release func()
	start   time.Time
	err     error
	once    sync.Once
}

// BeginScan prepares a scan. Filter keys restrict the results; order-by
// keys, given either in orderKeys or flagged with OrderBy, only score them.
func (i *Index) BeginScan(keys, orderKeys []*opclass.ScanKey, opts ScanOptions) (*Scan, error) {
	if err := i.acquire(); err != nil {
		return nil, err
	}
	defer i.release()

	cfg := i.opts.config
	s, err := scan.New(i.tree, keys, orderKeys, scan.Options{
		DisableFastScan:   cfg.DisableFastScan,
		ForceOrderedScan:  cfg.ForceOrderedScan,
		PreferOrderedScan: cfg.PreferOrderedScan,
		IndexOrder:        opts.IndexOrder,
		Reverse:           opts.Reverse,
		Limit:             opts.Limit,
		Logger:            i.logger.Logger,
	})
	if err != nil {
		return nil, translateError(err)
	}
	_, release := i.m.Snapshot()
	return &Scan{idx: i, s: s, release: release, start: time.Now()}, nil
}

// Mode returns the strategy chosen for the scan.
func (s *Scan) Mode() ScanMode { return s.s.Mode() }

// Next returns the next matching row; ok is false once the scan is
// exhausted.
func (s *Scan) Next(ctx context.Context) (ScanResult, bool, error) {
	r, ok, err := s.s.Next(ctx)
	if err != nil {
		err = translateError(err)
		s.err = err
		return ScanResult{}, false, err
	}
	return r, ok, nil
}

// Close ends the scan and releases its snapshot. It is idempotent.
func (s *Scan) Close() error {
	s.once.Do(func() {
		s.s.Close()
		s.release()
		results := int64(s.s.Stats().Results)
		mode := s.s.Mode().String()
		s.idx.metrics.RecordScan(mode, results, time.Since(s.start), s.err)
		s.idx.logger.LogScan(context.Background(), mode, results, s.err)
	})
	return nil
}
