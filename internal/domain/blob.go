package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to durable blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves and enumerates stored objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}
