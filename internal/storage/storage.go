package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/quill-blog/apiserver/config"
)

// ErrObjectNotFound is returned by backends that can tell a missing object
// apart from other failures.
var ErrObjectNotFound = errors.New("object not found")

// ObjectStorage defines common object operations across backends.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// URL returns the address under which a stored key is served.
	URL(key string) string
	Bucket() string
}

// New builds the backend selected by cfg.Backend.
func New(ctx context.Context, cfg config.MediaConfig) (ObjectStorage, error) {
	switch cfg.Backend {
	case config.MediaBackendMinio:
		return NewMinioClient(cfg.Minio)
	case config.MediaBackendGCS:
		return NewGCSClient(ctx, cfg.GCS)
	case config.MediaBackendS3:
		return NewS3Client(ctx, cfg.S3)
	case config.MediaBackendMemory:
		return NewMemoryStorage(cfg.Folder), nil
	default:
		return nil, fmt.Errorf("unknown media backend %q", cfg.Backend)
	}
}
