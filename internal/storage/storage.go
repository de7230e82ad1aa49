package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"rentbridge.com/app/internal/config"
)

var ErrBadKey = errors.New("storage: invalid object key")

type PutInput struct {
	// Key is the object path, e.g. "2026/03/<payment-id>.txt". Writing the
	// same key twice replaces the object.
	Key         string
	ContentType string
	Size        int64
}

type PutResult struct {
	Key string
	URL string
}

type Storage interface {
	Put(ctx context.Context, r io.Reader, in PutInput) (PutResult, error)
	Delete(ctx context.Context, key string) error
}

// New builds the configured backend. Driver "none" returns a nil Storage.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "local":
		return NewLocal(cfg.LocalDir, cfg.LocalURLPrefix), nil
	case "s3":
		s, err := NewS3(ctx, S3Config{
			Region:        cfg.S3Region,
			Bucket:        cfg.S3Bucket,
			Prefix:        cfg.S3Prefix,
			PublicBaseURL: cfg.S3PublicBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER: %s", cfg.Driver)
	}
}

// cleanKey normalises a key to a relative slash path without "." or ".." parts.
func cleanKey(key string) (string, error) {
	k := strings.TrimLeft(path.Clean("/"+strings.ReplaceAll(key, "\\", "/")), "/")
	if k == "" || k == "." || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrBadKey, key)
	}
	return k, nil
}
