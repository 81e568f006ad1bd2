// Package minio provides a BlobStore implementation using the MinIO client.
//
// It serves as the optional remote mirror of persisted search indexes, so a
// fresh server node can reuse indexes built elsewhere instead of rebuilding
// them on first open. Any S3-compatible service works (MinIO, Ceph, Garage).
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	remote := minioblob.NewStore(client, "scope", "indexes/")
//	store := blobstore.NewMirrorStore(blobstore.NewLocalStore(root), remote, logger)
package minio
