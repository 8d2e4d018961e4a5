package wal

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/rumgo/internal/fs"
)

func pageRecord(ids ...uint32) *Record {
	rec := &Record{Type: RecordTypePageImages}
	for _, id := range ids {
		rec.Pages = append(rec.Pages, PageImage{ID: id, Data: bytes.Repeat([]byte{byte(id)}, 64)})
	}
	return rec
}

func readAll(t *testing.T, w *WAL) []*Record {
	t.Helper()
	var out []*Record
	require.NoError(t, w.Replay(func(r *Record) error {
		out = append(out, r)
		return nil
	}))
	return out
}

func TestWAL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.wal")

	w, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)

	for i := uint32(1); i <= 3; i++ {
		lsn, err := w.Append(pageRecord(i, i+10))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), lsn)
	}
	require.NoError(t, w.Close())

	w2, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, uint64(3), w2.LastLSN())

	recs := readAll(t, w2)
	require.Len(t, recs, 3)
	for i, r := range recs {
		assert.Equal(t, RecordTypePageImages, r.Type)
		assert.Equal(t, uint64(i+1), r.LSN)
		require.Len(t, r.Pages, 2)
		assert.Equal(t, uint32(i+1), r.Pages[0].ID)
		assert.Equal(t, bytes.Repeat([]byte{byte(i + 1)}, 64), r.Pages[0].Data)
	}
}

func TestRecordCompression(t *testing.T) {
	rec := &Record{Type: RecordTypePageImages, LSN: 7, Pages: []PageImage{
		{ID: 1, Data: make([]byte, 8192)},
	}}

	var buf bytes.Buffer
	n, err := rec.Encode(&buf)
	require.NoError(t, err)
	assert.Less(t, n, int64(8192))

	got, consumed, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, n, consumed)
	assert.Equal(t, rec.LSN, got.LSN)
	assert.Equal(t, rec.Pages, got.Pages)
}

func TestRecordChecksum(t *testing.T) {
	var buf bytes.Buffer
	_, err := pageRecord(1).Encode(&buf)
	require.NoError(t, err)

	data := buf.Bytes()
	data[len(data)-1] ^= 0xFF
	_, _, err = Decode(bytes.NewReader(data))
	assert.ErrorIs(t, err, ErrInvalidCRC)

	_, _, err = Decode(bytes.NewReader(data[:10]))
	assert.ErrorIs(t, err, ErrShortRead)
}

func TestWAL_TornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torn.wal")

	w, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	_, err = w.Append(pageRecord(1))
	require.NoError(t, err)
	_, err = w.Append(pageRecord(2))
	require.NoError(t, err)
	size := w.Size()
	require.NoError(t, w.Close())

	// Cut the second record in half.
	require.NoError(t, os.Truncate(path, size-20))

	w2, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()

	recs := readAll(t, w2)
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), w2.LastLSN())

	lsn, err := w2.Append(pageRecord(3))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), lsn)
	assert.Len(t, readAll(t, w2), 2)
}

func TestWAL_Truncate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trunc.wal")

	w, err := Open(nil, path, Options{Durability: DurabilityAsync})
	require.NoError(t, err)
	for i := uint32(1); i <= 5; i++ {
		_, err := w.Append(pageRecord(i))
		require.NoError(t, err)
	}
	require.NoError(t, w.Truncate())

	recs := readAll(t, w)
	require.Len(t, recs, 1)
	assert.Equal(t, RecordTypeCheckpoint, recs[0].Type)
	assert.Equal(t, uint64(5), recs[0].LSN)

	lsn, err := w.Append(pageRecord(9))
	require.NoError(t, err)
	assert.Equal(t, uint64(6), lsn)
	require.NoError(t, w.Close())

	w2, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, uint64(6), w2.LastLSN())
}

func TestWAL_GroupCommit_Concurrency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wal.log")

	w, err := Open(nil, path, Options{Durability: DurabilitySync})
	require.NoError(t, err)

	concurrency := 20
	perWriter := 50

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(id int) {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_, err := w.Append(pageRecord(uint32(id*perWriter + j)))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, w.Close())

	w2, err := Open(nil, path, DefaultOptions())
	require.NoError(t, err)
	defer w2.Close()

	seen := make(map[uint32]bool)
	for _, r := range readAll(t, w2) {
		seen[r.Pages[0].ID] = true
	}
	assert.Len(t, seen, concurrency*perWriter)
	assert.Equal(t, uint64(concurrency*perWriter), w2.LastLSN())
}

func TestWAL_SyncFailure(t *testing.T) {
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("bad.wal", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	path := filepath.Join(t.TempDir(), "bad.wal")
	_, err := Open(ffs, path, DefaultOptions())
	assert.ErrorIs(t, err, fs.ErrInjected)
}

func TestWAL_InvalidHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wal")
	require.NoError(t, os.WriteFile(path, []byte("NOTAWALFILE!"), 0644))

	_, err := Open(nil, path, DefaultOptions())
	assert.ErrorIs(t, err, ErrInvalidHeader)
}
