// Package blobstore is the storage abstraction used by index backups.
//
// A backup writes every page of a checkpointed index into a BlobStore under
// a fresh prefix, followed by a manifest and finally the CURRENT pointer.
// Restore reads CURRENT, the manifest it names and then the pages.
//
// # Implementations
//
//   - LocalStore: a directory on a local file system, reads via mmap
//   - MemoryStore: in-process, for tests
//   - minio.Store: MinIO and other S3-compatible services
//   - s3.Store: Amazon S3 with multipart uploads
//   - s3.DDBCommitStore: S3 plus a DynamoDB table for atomic CURRENT updates
package blobstore
