package extsort

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rumgo/internal/resource"
	"github.com/hupe1980/rumgo/model"
)

func record(k, first, n int) Record {
	r := Record{Key: model.Key{Value: []byte(fmt.Sprintf("key%04d", k))}}
	for i := 0; i < n; i++ {
		r.Items = append(r.Items, model.Item{
			Locator: model.Locator{Container: uint32(first + i), Slot: 1},
			AddInfo: model.Some(int64(k)),
		})
	}
	return r
}

func TestSortSpillsAndMerges(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd, CompressionSnappy} {
		t.Run(c.String(), func(t *testing.T) {
			dir := t.TempDir()
			s := New(Options{Dir: dir, Compression: c, MemoryBudget: 8 << 10, AddInfo: true})
			ctx := context.Background()

			var in []Record
			for k := 0; k < 200; k++ {
				for part := 0; part < 5; part++ {
					in = append(in, record(k, part*10, 10))
				}
			}
			rand.New(rand.NewSource(1)).Shuffle(len(in), func(i, j int) { in[i], in[j] = in[j], in[i] })
			for _, r := range in {
				require.NoError(t, s.Add(ctx, r))
			}
			assert.Greater(t, s.Runs(), 1)

			it, err := s.Sort(ctx)
			require.NoError(t, err)
			var out []Record
			for {
				r, ok, err := it.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
				out = append(out, r)
			}
			require.NoError(t, it.Close())

			require.Len(t, out, len(in))
			for i, r := range out {
				k, part := i/5, i%5
				assert.Equal(t, record(k, part*10, 10), r)
			}

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			assert.Empty(t, entries)

			assert.ErrorIs(t, s.Add(ctx, record(0, 0, 1)), ErrSorted)
		})
	}
}

func TestSortInMemory(t *testing.T) {
	s := New(Options{Dir: t.TempDir(), Controller: resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})})
	ctx := context.Background()
	require.NoError(t, s.Add(ctx, record(2, 0, 1)))
	require.NoError(t, s.Add(ctx, record(1, 5, 1)))
	require.NoError(t, s.Add(ctx, record(1, 0, 1)))
	assert.Zero(t, s.Runs())

	it, err := s.Sort(ctx)
	require.NoError(t, err)
	defer func() { _ = it.Close() }()
	var got []Record
	for {
		r, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, r)
	}
	assert.Equal(t, []Record{record(1, 0, 1), record(1, 5, 1), record(2, 0, 1)}, got)
}

func TestBlockRoundTrip(t *testing.T) {
	data := []byte("posting posting posting posting posting posting posting posting")
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZstd, CompressionSnappy} {
		b, err := compressBlock(data, c)
		require.NoError(t, err)
		_, stored := blockSizes(b)
		require.Equal(t, len(b)-blockHeaderSize, stored)
		got, err := decompressBlock(b[:blockHeaderSize], b[blockHeaderSize:], c)
		require.NoError(t, err)
		assert.Equal(t, data, got, c.String())
	}
}
