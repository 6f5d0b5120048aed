// Package storage provides durable blob stores for generated assets.
package storage

import (
	"context"
	"fmt"
	"strings"

	"afterwon/internal/config"
)

// BlobStore accepts bytes under a destination key and returns a durable URL.
// Writing the same key twice overwrites.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

const (
	DriverMinio      = "minio"
	DriverS3         = "s3"
	DriverFilesystem = "filesystem"
)

// New builds the blob store selected by cfg.Driver.
func New(ctx context.Context, cfg config.StorageConfig) (BlobStore, error) {
	switch cfg.Driver {
	case DriverMinio, "":
		store, err := NewObjectStore(cfg)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBuckets(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case DriverS3:
		return NewS3Store(ctx, cfg)
	case DriverFilesystem:
		return NewFileStore(cfg.BasePath, cfg.PublicBaseURL)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// PublicURL builds the address under which key is served.
func PublicURL(cfg config.StorageConfig, key string) string {
	if cfg.PublicBaseURL != "" {
		return strings.TrimSuffix(cfg.PublicBaseURL, "/") + "/" + key
	}
	base := strings.TrimSuffix(cfg.Endpoint, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		scheme := "http://"
		if cfg.UseSSL {
			scheme = "https://"
		}
		base = scheme + base
	}
	return fmt.Sprintf("%s/%s/%s", base, cfg.Bucket, key)
}
