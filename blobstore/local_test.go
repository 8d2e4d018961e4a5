package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hupe1980/rumgo/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStoreNestedNames(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "b1/pages/000001", []byte("one")))
	require.NoError(t, store.Put(ctx, "b1/pages/000002", []byte("two")))
	require.NoError(t, store.Put(ctx, "b2/manifest.json", []byte("{}")))

	_, err := os.Stat(filepath.Join(dir, "b1", "pages", "000001"))
	require.NoError(t, err)

	names, err := store.List(ctx, "b1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1/pages/000001", "b1/pages/000002"}, names)

	names, err = store.List(ctx, "b")
	require.NoError(t, err)
	assert.Len(t, names, 3)
}

func TestLocalStoreRejectsEscapingNames(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "../outside", []byte("x")))
	names, err := store.List(ctx, "")
	require.NoError(t, err)
	// Cleaned into the root.
	assert.Equal(t, []string{"outside"}, names)

	assert.Error(t, store.Put(ctx, "", []byte("x")))
	assert.Error(t, store.Put(ctx, `a\b`, []byte("x")))
}

func TestLocalStoreAbortLeavesNothing(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	ctx := context.Background()

	w, err := store.Create(ctx, "partial")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, w.(Aborter).Abort())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
	_, err = store.Open(ctx, "partial")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStoreFailedWriteIsNotVisible(t *testing.T) {
	faulty := fs.NewFaultyFS(fs.Default)
	store := NewLocalStore(t.TempDir(), WithFileSystem(faulty))
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "ok", []byte("fine")))

	faulty.SetLimit(faulty.Written() + 2)
	err := store.Put(ctx, "broken", []byte("too long for the limit"))
	require.Error(t, err)

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"ok"}, names)

	// Reads go through the injected file system when it is not the local one.
	data, err := ReadAll(ctx, store, "ok")
	require.NoError(t, err)
	assert.Equal(t, "fine", string(data))
}
