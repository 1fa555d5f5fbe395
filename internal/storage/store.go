package storage

import (
	"context"
	"io"
	"time"
)

// ObjectStore is the object storage boundary used by upload handling, the
// worker orchestrator and the transcoding engine. Keys follow the layout in
// keys.go.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Download(ctx context.Context, key, destPath string) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}
