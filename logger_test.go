package rumgo_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rumgo"
	"github.com/hupe1980/rumgo/model"
	"github.com/hupe1980/rumgo/opclass"
)

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := rumgo.NewLogger(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx := context.Background()

	idx := newIndex(t, rumgo.WithLogger(logger))
	require.NoError(t, idx.InsertKey(ctx, word("a"), model.NewItems(locs(1, 2)...)...))
	_, err := idx.Query(exact(opclass.StrategyAny, "a")).Execute(ctx)
	require.NoError(t, err)
	_, err = idx.Vacuum(ctx, func(model.Locator) bool { return false })
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"msg":"index created"`)
	assert.Contains(t, out, `"msg":"scan completed"`)
	assert.Contains(t, out, `"mode":"regular"`)
	assert.Contains(t, out, `"msg":"vacuum completed"`)
	assert.Contains(t, out, `"index":"`+idx.ID()+`"`)
}

func TestLoggerHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := rumgo.NewLogger(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})).WithCount(3)
	ctx := context.Background()

	logger.LogBuild(ctx, 10, 4, time.Second, nil)
	logger.LogRepair(ctx, true, 0, nil)
	logger.LogRecovery(ctx, 5, 2, nil)
	logger.LogVacuum(ctx, 1, 2, errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, "build completed")
	assert.Contains(t, out, "count=3")
	assert.Contains(t, out, "dry_run=true")
	assert.Contains(t, out, "records_replayed=5")
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, "error=boom")

	buf.Reset()
	rumgo.NoopLogger().Error("dropped")
	assert.Empty(t, buf.String())
}

func TestMetricsErrors(t *testing.T) {
	ctx := context.Background()
	mc := &rumgo.BasicMetricsCollector{}
	idx := newIndex(t, rumgo.WithMetricsCollector(mc))

	assert.Error(t, idx.InsertKey(ctx, model.Key{Category: model.CategoryEmptyQuery}, model.NewItems(loc(1))...))
	require.NoError(t, idx.InsertKey(ctx, word("a"), model.NewItems(locs(1, 2, 3)...)...))
	_, err := idx.Vacuum(ctx, nil)
	assert.Error(t, err)

	stats := mc.GetStats()
	assert.Equal(t, int64(2), stats.InsertCount)
	assert.Equal(t, int64(1), stats.InsertErrors)
	assert.Equal(t, int64(3), stats.InsertPostings)
	assert.Equal(t, int64(1), stats.VacuumCount)
	assert.Equal(t, int64(1), stats.VacuumErrors)
}
