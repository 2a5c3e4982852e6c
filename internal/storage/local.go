package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStorage keeps bundles as <id>.tar.gz plus <id>.json pairs in a flat
// directory.
type LocalStorage struct {
	basePath string
}

func NewLocalStorage(config *LocalConfig) (*LocalStorage, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("base path is required for local storage")
	}

	if err := os.MkdirAll(config.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{basePath: config.BasePath}, nil
}

func (l *LocalStorage) Store(ctx context.Context, bundle *Bundle) error {
	dataPath := filepath.Join(l.basePath, bundle.ID+".tar.gz")
	metaPath := filepath.Join(l.basePath, bundle.ID+".json")

	dataFile, err := os.Create(dataPath) // #nosec G304 - controlled storage path
	if err != nil {
		return fmt.Errorf("failed to create bundle file: %w", err)
	}

	if _, err := io.Copy(dataFile, bundle.DataReader); err != nil {
		_ = dataFile.Close()
		_ = os.Remove(dataPath)
		return fmt.Errorf("failed to write bundle data: %w", err)
	}
	if err := dataFile.Close(); err != nil {
		_ = os.Remove(dataPath)
		return fmt.Errorf("failed to close bundle file: %w", err)
	}

	metaBytes, err := json.Marshal(bundle.Metadata)
	if err != nil {
		_ = os.Remove(dataPath)
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaBytes, 0600); err != nil {
		_ = os.Remove(dataPath)
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	return nil
}

func (l *LocalStorage) Retrieve(ctx context.Context, id string) (*Bundle, error) {
	metaBytes, err := os.ReadFile(filepath.Join(l.basePath, id+".json")) // #nosec G304 - controlled storage path
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("bundle not found: %s", id)
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata BundleMetadata
	if err := json.Unmarshal(metaBytes, &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	dataFile, err := os.Open(filepath.Join(l.basePath, id+".tar.gz")) // #nosec G304 - controlled storage path
	if err != nil {
		return nil, fmt.Errorf("failed to open bundle file: %w", err)
	}

	return &Bundle{
		ID:         id,
		Metadata:   metadata,
		DataReader: dataFile,
	}, nil
}

func (l *LocalStorage) List(ctx context.Context) ([]BundleMetadata, error) {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var bundles []BundleMetadata
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		metaBytes, err := os.ReadFile(filepath.Join(l.basePath, entry.Name())) // #nosec G304 - controlled storage path
		if err != nil {
			continue
		}
		var metadata BundleMetadata
		if err := json.Unmarshal(metaBytes, &metadata); err != nil {
			continue
		}
		bundles = append(bundles, metadata)
	}

	return bundles, nil
}

func (l *LocalStorage) Delete(ctx context.Context, id string) error {
	if err := os.Remove(filepath.Join(l.basePath, id+".tar.gz")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove bundle file: %w", err)
	}
	if err := os.Remove(filepath.Join(l.basePath, id+".json")); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove metadata: %w", err)
	}
	return nil
}

func (l *LocalStorage) Exists(ctx context.Context, id string) (bool, error) {
	if _, err := os.Stat(filepath.Join(l.basePath, id+".json")); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check bundle existence: %w", err)
	}
	return true, nil
}
