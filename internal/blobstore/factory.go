package blobstore

import (
	"context"
	"fmt"

	"av-go/internal/av"
	"av-go/internal/config"
)

// NewBlobStoreFromConfig creates a BlobStore implementation based on the
// blob store config type.
func NewBlobStoreFromConfig(ctx context.Context, cfg config.BlobStoreConfig) (av.BlobStore, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "filesystem":
		if cfg.Root == "" {
			return nil, fmt.Errorf("filesystem blob store requires root to be set")
		}
		return NewFileSystemStore(cfg.Root)
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("s3 blob store requires bucket to be set")
		}
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown blob store type: %s", cfg.Type)
	}
}
