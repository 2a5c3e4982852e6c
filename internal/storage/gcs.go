package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSStorage stores bundles as objects in one Google Cloud Storage bucket.
type GCSStorage struct {
	client *storage.Client
	bucket string
}

func NewGCSStorage(ctx context.Context, config *GCSConfig) (*GCSStorage, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required for GCS storage")
	}

	var opts []option.ClientOption
	if config.Credentials != "" {
		opts = append(opts, option.WithCredentialsFile(config.Credentials))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{client: client, bucket: config.Bucket}, nil
}

func (g *GCSStorage) Store(ctx context.Context, bundle *Bundle) error {
	bucket := g.client.Bucket(g.bucket)

	w := bucket.Object(bundle.ID + ".tar.gz").NewWriter(ctx)
	if _, err := io.Copy(w, bundle.DataReader); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write bundle data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close bundle writer: %w", err)
	}

	metaWriter := bucket.Object(bundle.ID + ".json").NewWriter(ctx)
	if err := json.NewEncoder(metaWriter).Encode(bundle.Metadata); err != nil {
		_ = metaWriter.Close()
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	if err := metaWriter.Close(); err != nil {
		return fmt.Errorf("failed to close metadata writer: %w", err)
	}

	return nil
}

func (g *GCSStorage) Retrieve(ctx context.Context, id string) (*Bundle, error) {
	bucket := g.client.Bucket(g.bucket)

	metaReader, err := bucket.Object(id + ".json").NewReader(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return nil, fmt.Errorf("bundle not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	defer func() {
		if err := metaReader.Close(); err != nil {
			fmt.Printf("Warning: failed to close metadata reader: %v\n", err)
		}
	}()

	var metadata BundleMetadata
	if err := json.NewDecoder(metaReader).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	dataReader, err := bucket.Object(id + ".tar.gz").NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle data: %w", err)
	}

	return &Bundle{
		ID:         id,
		Metadata:   metadata,
		DataReader: dataReader,
	}, nil
}

func (g *GCSStorage) List(ctx context.Context) ([]BundleMetadata, error) {
	bucket := g.client.Bucket(g.bucket)

	var bundles []BundleMetadata
	it := bucket.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		if !strings.HasSuffix(attrs.Name, ".json") {
			continue
		}

		reader, err := bucket.Object(attrs.Name).NewReader(ctx)
		if err != nil {
			continue
		}
		var metadata BundleMetadata
		err = json.NewDecoder(reader).Decode(&metadata)
		if closeErr := reader.Close(); closeErr != nil {
			fmt.Printf("Warning: failed to close metadata reader: %v\n", closeErr)
		}
		if err != nil {
			continue
		}
		bundles = append(bundles, metadata)
	}

	return bundles, nil
}

func (g *GCSStorage) Delete(ctx context.Context, id string) error {
	bucket := g.client.Bucket(g.bucket)

	if err := bucket.Object(id + ".tar.gz").Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("failed to delete bundle data: %w", err)
	}
	if err := bucket.Object(id + ".json").Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
		return fmt.Errorf("failed to delete metadata: %w", err)
	}
	return nil
}

func (g *GCSStorage) Exists(ctx context.Context, id string) (bool, error) {
	_, err := g.client.Bucket(g.bucket).Object(id + ".json").Attrs(ctx)
	if err != nil {
		if err == storage.ErrObjectNotExist {
			return false, nil
		}
		return false, fmt.Errorf("failed to check bundle existence: %w", err)
	}
	return true, nil
}

func (g *GCSStorage) Close() error {
	return g.client.Close()
}
