package rumgo

import (
	"log/slog"

	"github.com/hupe1980/rumgo/codec"
	"github.com/hupe1980/rumgo/internal/build"
	"github.com/hupe1980/rumgo/internal/build/extsort"
	"github.com/hupe1980/rumgo/internal/fs"
	"github.com/hupe1980/rumgo/internal/page"
	"github.com/hupe1980/rumgo/opclass"
)

// Config holds the behaviour flags of an index.
type Config struct {
	// DisableFastScan never picks the fast strategy.
	DisableFastScan bool
	// ForceOrderedScan runs every scan with the ordered strategy and fails
	// scans that cannot use it.
	ForceOrderedScan bool
	// PreferOrderedScan picks the ordered strategy for scans asking for
	// index order when it applies.
	PreferOrderedScan bool
	// VacuumEntryItems also filters inline posting lists during vacuum.
	VacuumEntryItems bool
	// PruneEmptyPages deletes entry leaves left without entries.
	PruneEmptyPages bool
	// ThrowErrorOnInvalidDataPage rejects posting data with invalid
	// locators instead of skipping them.
	ThrowErrorOnInvalidDataPage bool
	// NewBulkDelete walks entry leaves in file order during vacuum.
	NewBulkDelete bool
	// SkipRetryOnDeletePage gives up page deletions whose locks are busy.
	SkipRetryOnDeletePage bool
	// FixIncompleteSplit completes interrupted splits met by inserts.
	FixIncompleteSplit bool
	// InjectSplitIncomplete leaves every split without its parent
	// downlink. For tests only.
	InjectSplitIncomplete bool
	// VacuumCycleIDOverride pins the vacuum cycle id to a fixed value.
	// Zero hands out fresh ids.
	VacuumCycleIDOverride uint16
}

// DefaultConfig returns the default behaviour flags.
func DefaultConfig() Config {
	return Config{
		PreferOrderedScan:     true,
		VacuumEntryItems:      true,
		SkipRetryOnDeletePage: true,
		FixIncompleteSplit:    true,
	}
}

// Durability selects when inserts become durable.
type Durability int

const (
	// DurabilitySync waits for the redo log to reach disk before a write
	// returns.
	DurabilitySync Durability = iota
	// DurabilityAsync leaves flushing the redo log to the OS.
	DurabilityAsync
)

// Compression selects the block codec of build spill files.
type Compression = extsort.Compression

const (
	CompressionNone   = extsort.CompressionNone
	CompressionLZ4    = extsort.CompressionLZ4
	CompressionZstd   = extsort.CompressionZstd
	CompressionSnappy = extsort.CompressionSnappy
)

type options struct {
	config           Config
	pageSize         int
	poolBytes        int64
	memoryLimit      int64
	workers          int
	maintenance      int
	buildMemory      int64
	ioLimit          int64
	durability       Durability
	noWALCompression bool
	spillCompression Compression
	tempDir          string
	addInfo          bool
	extractor        opclass.Extractor
	classes          []opclass.Comparator
	fs               fs.FileSystem
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
}

// Option configures Create and Open.
type Option func(*options)

// WithConfig replaces the behaviour flags.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.config = cfg
	}
}

// WithPageSize sets the page size of a new index. Open ignores it and uses
// the size the index was created with.
func WithPageSize(size int) Option {
	return func(o *options) {
		o.pageSize = size
	}
}

// WithBufferPool bounds the bytes of resident pages.
func WithBufferPool(bytes int64) Option {
	return func(o *options) {
		o.poolBytes = bytes
	}
}

// WithMemoryLimit bounds the memory shared by the buffer pool and build
// accumulators. Zero is unlimited.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.memoryLimit = bytes
	}
}

// WithBuildWorkers sets the number of parallel build workers.
func WithBuildWorkers(n int) Option {
	return func(o *options) {
		o.workers = n
	}
}

// WithBuildMemory bounds the accumulator of each build worker.
func WithBuildMemory(bytes int64) Option {
	return func(o *options) {
		o.buildMemory = bytes
	}
}

// WithMaintenanceWorkers bounds how many build workers and maintenance
// passes may hold a background slot at once.
func WithMaintenanceWorkers(n int) Option {
	return func(o *options) {
		o.maintenance = n
	}
}

// WithIORateLimit throttles backup and spill writes. Zero is unlimited.
func WithIORateLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.ioLimit = bytesPerSec
	}
}

// WithDurability sets the durability mode of the redo log.
func WithDurability(d Durability) Option {
	return func(o *options) {
		o.durability = d
	}
}

// WithWALCompression toggles zstd compression of logged page images.
// It is on by default.
func WithWALCompression(on bool) Option {
	return func(o *options) {
		o.noWALCompression = !on
	}
}

// WithSpillCompression sets the codec of build spill files.
func WithSpillCompression(c Compression) Option {
	return func(o *options) {
		o.spillCompression = c
	}
}

// WithTempDir sets the directory of build spill files. It defaults to the
// index directory.
func WithTempDir(dir string) Option {
	return func(o *options) {
		o.tempDir = dir
	}
}

// WithAddInfo stores an attached value next to every locator. Only Create
// honours it; an existing index keeps its layout.
func WithAddInfo(on bool) Option {
	return func(o *options) {
		o.addInfo = on
	}
}

// WithExtractor sets the key extractor used by Insert and Build.
func WithExtractor(e opclass.Extractor) Option {
	return func(o *options) {
		o.extractor = e
	}
}

// WithClass sets the operator class of attr. Attributes without one compare
// their keys as bytes.
func WithClass(attr uint16, c opclass.Comparator) Option {
	return func(o *options) {
		for len(o.classes) <= int(attr) {
			o.classes = append(o.classes, nil)
		}
		o.classes[attr] = c
	}
}

// WithFileSystem replaces the file system of the index directory.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithCodec configures the codec used for inspection output and backup
// manifests.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector configures a metrics collector for monitoring operations.
// Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &rumgo.BasicMetricsCollector{}
//	idx, _ := rumgo.Create(dir, rumgo.WithMetricsCollector(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
//	fmt.Printf("Inserts: %d, Splits: %d\n", stats.InsertCount, stats.SplitCount)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metricsCollector = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := rumgo.NewJSONLogger(slog.LevelInfo)
//	idx, _ := rumgo.Open(dir, rumgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		config:           DefaultConfig(),
		pageSize:         page.DefaultSize,
		buildMemory:      build.DefaultMemoryBudget,
		workers:          1,
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.metricsCollector == nil {
		o.metricsCollector = NoopMetricsCollector{}
	}
	if o.logger == nil {
		o.logger = NoopLogger()
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	if o.codec == nil {
		o.codec = codec.Default
	}
	return o
}
