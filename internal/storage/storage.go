// Package storage holds the off-site replication backends. A finished
// backup directory is bundled into a single tar.gz and stored together with
// a JSON metadata object; local disk, Google Cloud Storage and S3 are
// supported.
package storage

import (
	"context"
	"io"
	"time"
)

// Bundle is one replicated backup: the gzipped tar of a backup directory
// plus its metadata.
type Bundle struct {
	ID         string
	Metadata   BundleMetadata
	DataReader io.Reader
}

// BundleMetadata describes a stored bundle.
type BundleMetadata struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Stamp     string    `json:"stamp"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Encrypted bool      `json:"encrypted,omitempty"`
	Host      string    `json:"host,omitempty"`
}

// Backend stores and retrieves backup bundles.
type Backend interface {
	Store(ctx context.Context, bundle *Bundle) error
	Retrieve(ctx context.Context, id string) (*Bundle, error)
	List(ctx context.Context) ([]BundleMetadata, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// Config selects and configures a backend.
type Config struct {
	Type  string
	Local *LocalConfig
	GCS   *GCSConfig
	S3    *S3Config
}

type LocalConfig struct {
	BasePath string
}

type GCSConfig struct {
	Bucket      string
	ProjectID   string
	Credentials string
}

type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
}
