package storage

import (
	"context"
	"fmt"
)

// NewBackend builds the backend selected by config.Type.
func NewBackend(ctx context.Context, config *Config) (Backend, error) {
	switch config.Type {
	case "local":
		if config.Local == nil {
			return nil, fmt.Errorf("local configuration is required")
		}
		return NewLocalStorage(config.Local)

	case "gcs":
		if config.GCS == nil {
			return nil, fmt.Errorf("GCS configuration is required")
		}
		return NewGCSStorage(ctx, config.GCS)

	case "s3":
		if config.S3 == nil {
			return nil, fmt.Errorf("S3 configuration is required")
		}
		return NewS3Storage(ctx, config.S3)

	default:
		return nil, fmt.Errorf("unsupported storage type: %s", config.Type)
	}
}
