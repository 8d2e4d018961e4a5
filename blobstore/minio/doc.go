// Package minio stores index backups in MinIO or any S3-compatible service
// through the MinIO Go client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	store := minioblob.NewStore(client, "backups", "orders/")
//	manifest, err := idx.Backup(ctx, store)
package minio
