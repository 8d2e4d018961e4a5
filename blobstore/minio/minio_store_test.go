package minio

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/hupe1980/rumgo/blobstore"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyMapping(t *testing.T) {
	s := NewStore(nil, "bucket", "/indexes/orders/")
	assert.Equal(t, "indexes/orders/pages/1", s.key("pages/1"))
	assert.Equal(t, "pages/1", s.name("indexes/orders/pages/1"))

	bare := NewStore(nil, "bucket", "")
	assert.Equal(t, "pages/1", bare.key("pages/1"))
	assert.Equal(t, "pages/1", bare.name("pages/1"))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NotFound"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("boom")))
}

// TestStoreIntegration needs a MinIO server; set RUMGO_MINIO_ENDPOINT to run it.
func TestStoreIntegration(t *testing.T) {
	endpoint := os.Getenv("RUMGO_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("RUMGO_MINIO_ENDPOINT not set")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
		Secure: false,
	})
	require.NoError(t, err)

	ctx := context.Background()
	bucket := "rumgo-test"
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		t.Skipf("MinIO not available: %v", err)
	}
	if !exists {
		require.NoError(t, client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))
	}

	store := NewStore(client, bucket, uuid.NewString())

	data := []byte("hello minio world")
	require.NoError(t, store.Put(ctx, "a.bin", data))

	b, err := store.Open(ctx, "a.bin")
	require.NoError(t, err)
	require.Equal(t, int64(len(data)), b.Size())

	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "minio", string(buf[:n]))

	rc, err := b.ReadRange(ctx, 12, 100)
	require.NoError(t, err)
	tail, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "world", string(tail))
	require.NoError(t, b.Close())

	w, err := store.Create(ctx, "b.bin")
	require.NoError(t, err)
	_, err = w.Write([]byte("streamed"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.bin", "b.bin"}, names)

	require.NoError(t, store.Delete(ctx, "a.bin"))
	require.NoError(t, store.Delete(ctx, "b.bin"))
	_, err = store.Open(ctx, "a.bin")
	assert.True(t, errors.Is(err, blobstore.ErrNotFound))
}
