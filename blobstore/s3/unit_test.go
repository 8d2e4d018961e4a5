package s3

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/hupe1980/rumgo/blobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestComputeCRC32C(t *testing.T) {
	assert.Equal(t, "4waSgw==", computeCRC32C([]byte("123456789")))
}

func body(s string) io.ReadCloser { return io.NopCloser(strings.NewReader(s)) }

func TestStoreOpen(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "prefix")

	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Key) == "prefix/missing"
	})).Return(nil, &types.NotFound{}).Once()
	client.On("HeadObject", mock.Anything, mock.MatchedBy(func(in *s3.HeadObjectInput) bool {
		return aws.ToString(in.Bucket) == "bucket" && aws.ToString(in.Key) == "prefix/page"
	})).Return(&s3.HeadObjectOutput{ContentLength: aws.Int64(16)}, nil).Once()

	_, err := store.Open(context.Background(), "missing")
	assert.True(t, errors.Is(err, blobstore.ErrNotFound))

	b, err := store.Open(context.Background(), "page")
	require.NoError(t, err)
	assert.Equal(t, int64(16), b.Size())
	require.NoError(t, b.Close())
	client.AssertExpectations(t)
}

func TestBlobReads(t *testing.T) {
	client := new(MockS3Client)
	b := &blob{client: client, bucket: "bucket", key: "k", size: 11}
	ctx := context.Background()

	tail := mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return aws.ToString(in.Range) == "bytes=6-10"
	})
	client.On("GetObject", mock.Anything, tail).Return(&s3.GetObjectOutput{Body: body("world")}, nil).Once()
	client.On("GetObject", mock.Anything, tail).Return(&s3.GetObjectOutput{Body: body("world")}, nil).Once()

	buf := make([]byte, 5)
	n, err := b.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, "world", string(buf[:n]))

	// Reads past the end are clipped and report EOF.
	long := make([]byte, 8)
	n, err = b.ReadAt(ctx, long, 6)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "world", string(long[:n]))

	_, err = b.ReadAt(ctx, buf, 11)
	assert.ErrorIs(t, err, io.EOF)

	rc, err := b.ReadRange(ctx, 20, 4)
	require.NoError(t, err)
	got, _ := io.ReadAll(rc)
	assert.Empty(t, got)
	client.AssertExpectations(t)
}

func TestStoreDelete(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "prefix/")

	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "prefix/gone"
	})).Return(nil, &types.NoSuchKey{}).Once()
	client.On("DeleteObject", mock.Anything, mock.MatchedBy(func(in *s3.DeleteObjectInput) bool {
		return aws.ToString(in.Key) == "prefix/denied"
	})).Return(nil, errors.New("access denied")).Once()

	assert.NoError(t, store.Delete(context.Background(), "gone"))
	assert.Error(t, store.Delete(context.Background(), "denied"))
}

func TestStoreListPagination(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "prefix/")

	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.Prefix) == "prefix/b1/" && in.ContinuationToken == nil
	})).Return(&s3.ListObjectsV2Output{
		Contents:              []types.Object{{Key: aws.String("prefix/b1/pages/2")}},
		IsTruncated:           aws.Bool(true),
		NextContinuationToken: aws.String("next"),
	}, nil).Once()
	client.On("ListObjectsV2", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return aws.ToString(in.ContinuationToken) == "next"
	})).Return(&s3.ListObjectsV2Output{
		Contents:    []types.Object{{Key: aws.String("prefix/b1/pages/1")}, {Key: aws.String("prefix/b1/manifest.json")}},
		IsTruncated: aws.Bool(false),
	}, nil).Once()

	names, err := store.List(context.Background(), "b1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"b1/manifest.json", "b1/pages/1", "b1/pages/2"}, names)
	client.AssertExpectations(t)
}

func TestStorePutSendsChecksum(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "")
	data := []byte("123456789")

	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "CURRENT" &&
			aws.ToString(in.ChecksumCRC32C) == "4waSgw==" &&
			aws.ToInt64(in.ContentLength) == int64(len(data))
	})).Return(&s3.PutObjectOutput{}, nil).Once()

	require.NoError(t, store.Put(context.Background(), "CURRENT", data))
	client.AssertExpectations(t)
}

func TestStoreStreamingCreate(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "prefix")

	var uploaded []byte
	client.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Key) == "prefix/pages/000001" && in.ChecksumAlgorithm == types.ChecksumAlgorithmCrc32c
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*s3.PutObjectInput)
		uploaded, _ = io.ReadAll(in.Body)
	}).Return(&s3.PutObjectOutput{}, nil).Once()

	w, err := store.Create(context.Background(), "pages/000001")
	require.NoError(t, err)
	_, err = w.Write([]byte("page "))
	require.NoError(t, err)
	_, err = w.Write([]byte("bytes"))
	require.NoError(t, err)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	assert.Equal(t, "page bytes", string(uploaded))
	client.AssertExpectations(t)
}

func TestStreamingAbort(t *testing.T) {
	client := new(MockS3Client)
	store := NewStore(client, "bucket", "")

	w, err := store.Create(context.Background(), "partial")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, w.(blobstore.Aborter).Abort())
	assert.ErrorIs(t, w.Close(), errAborted)
	client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything)
}
