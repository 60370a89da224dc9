// Package storage is the object-store gateway. The core only depends on the
// ObjectStorage interface; the S3 implementation covers Cloudflare R2 and any
// S3-compatible backend (MinIO in development).
package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/vectaconvert/api/internal/apperr"
)

// ObjectStorage is the capability surface consumed by the orchestrator,
// worker and reaper.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	DownloadStream(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	Exists(ctx context.Context, key string) (bool, error)
	PresignUpload(ctx context.Context, key, contentType string) (string, error)
	PresignDownload(ctx context.Context, key string) (string, error)
	Ping(ctx context.Context) error
}

// wrapErr folds any backend failure into the single storage error kind,
// keeping the failed operation and key.
func wrapErr(op, key string, err error) error {
	return &apperr.Error{
		Kind:    apperr.KindStorage,
		Message: fmt.Sprintf("failed to %s %q", op, key),
		Err:     err,
	}
}

// URLCache is what the S3 client uses to memoize presigned download URLs.
// Satisfied by cache.Cache.
type URLCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Store(ctx context.Context, key, value string, ttl time.Duration) error
}
