package snapstore

import (
	"context"
	"fmt"

	"adsync/internal/config"
)

// NewStoreFromConfig creates a Store implementation based on the snapshots
// config type.
func NewStoreFromConfig(ctx context.Context, cfg config.SnapshotsConfig) (Store, error) {
	switch cfg.Type {
	case "filesystem", "":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("filesystem snapshot store requires dir to be set")
		}
		return NewFileSystemStore(cfg.Dir)
	case "s3":
		return NewS3Store(ctx, S3Options{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot store type: %s", cfg.Type)
	}
}
