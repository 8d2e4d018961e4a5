package rumgo

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"
)

// Logger wraps slog.Logger with rumgo-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
			Level: slog.Level(1000),
		})),
	}
}

// WithIndex adds the index id and directory to the logger.
func (l *Logger) WithIndex(id, dir string) *Logger {
	return &Logger{
		Logger: l.Logger.With("index", id, "dir", dir),
	}
}

// WithCount adds a count field to the logger.
func (l *Logger) WithCount(count int) *Logger {
	return &Logger{
		Logger: l.Logger.With("count", count),
	}
}

// LogBuild logs a bulk build.
func (l *Logger) LogBuild(ctx context.Context, rows, entries int64, d time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "build failed",
			"rows", rows,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "build completed",
		"rows", rows,
		"entries", entries,
		"duration", d,
	)
}

// LogVacuum logs a bulk delete pass.
func (l *Logger) LogVacuum(ctx context.Context, removed, remaining int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "vacuum failed",
			"removed", removed,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "vacuum completed",
		"removed", removed,
		"remaining", remaining,
	)
}

// LogRepair logs a structural check or repair.
func (l *Logger) LogRepair(ctx context.Context, dryRun bool, finished int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "repair failed",
			"dry_run", dryRun,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "repair completed",
		"dry_run", dryRun,
		"finished_splits", finished,
	)
}

// LogRecovery logs a redo log recovery.
func (l *Logger) LogRecovery(ctx context.Context, recordsReplayed, pagesApplied int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "WAL recovery failed",
			"records_replayed", recordsReplayed,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "WAL recovery completed",
		"records_replayed", recordsReplayed,
		"pages_applied", pagesApplied,
	)
}

// LogScan logs the end of a scan.
func (l *Logger) LogScan(ctx context.Context, mode string, results int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "scan failed",
			"mode", mode,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "scan completed",
		"mode", mode,
		"results", results,
	)
}
