// Package s3 stores index backups in Amazon S3.
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("indexes/orders/"),
//	    s3.WithRegion("us-east-1"),
//	)
//	manifest, err := idx.Backup(ctx, store)
//
// Pages stream through multipart uploads with CRC32C checksums. Wrap the
// store in a DDBCommitStore when several writers may back up to the same
// prefix: the CURRENT pointer then moves with DynamoDB conditional writes.
package s3
