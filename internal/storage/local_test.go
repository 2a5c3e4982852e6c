package storage

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"
)

func newTestLocal(t *testing.T) *LocalStorage {
	t.Helper()
	backend, err := NewLocalStorage(&LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocalStorage failed: %v", err)
	}
	return backend
}

func testBundle(id string, data []byte) *Bundle {
	return &Bundle{
		ID: id,
		Metadata: BundleMetadata{
			ID:        id,
			Name:      "stack_backup",
			Stamp:     "20250601-120000",
			Size:      int64(len(data)),
			CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Host:      "testhost",
		},
		DataReader: bytes.NewReader(data),
	}
}

func TestLocalStoreRetrieve(t *testing.T) {
	backend := newTestLocal(t)
	ctx := context.Background()
	payload := []byte("gzipped backup payload")

	if err := backend.Store(ctx, testBundle("stack_backup_20250601-120000", payload)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	bundle, err := backend.Retrieve(ctx, "stack_backup_20250601-120000")
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	data, err := io.ReadAll(bundle.DataReader)
	if err != nil {
		t.Fatalf("failed to read bundle data: %v", err)
	}
	if closer, ok := bundle.DataReader.(io.Closer); ok {
		_ = closer.Close()
	}
	if !bytes.Equal(data, payload) {
		t.Errorf("payload mismatch: %q", data)
	}
	if bundle.Metadata.Name != "stack_backup" || bundle.Metadata.Host != "testhost" {
		t.Errorf("metadata did not round trip: %+v", bundle.Metadata)
	}
}

func TestLocalRetrieveMissing(t *testing.T) {
	backend := newTestLocal(t)
	if _, err := backend.Retrieve(context.Background(), "nope"); err == nil {
		t.Fatal("expected error for missing bundle")
	}
}

func TestLocalList(t *testing.T) {
	backend := newTestLocal(t)
	ctx := context.Background()

	ids := []string{"stack_backup_20250601-120000", "stack_backup_20250602-120000"}
	for _, id := range ids {
		if err := backend.Store(ctx, testBundle(id, []byte("x"))); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}

	bundles, err := backend.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(bundles) != 2 {
		t.Fatalf("expected 2 bundles, got %d", len(bundles))
	}
	seen := make(map[string]bool)
	for _, b := range bundles {
		seen[b.ID] = true
	}
	for _, id := range ids {
		if !seen[id] {
			t.Errorf("bundle %s missing from listing", id)
		}
	}
}

func TestLocalDeleteAndExists(t *testing.T) {
	backend := newTestLocal(t)
	ctx := context.Background()
	id := "stack_backup_20250601-120000"

	if err := backend.Store(ctx, testBundle(id, []byte("x"))); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	exists, err := backend.Exists(ctx, id)
	if err != nil || !exists {
		t.Fatalf("expected bundle to exist: %v", err)
	}

	if err := backend.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	exists, err = backend.Exists(ctx, id)
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists {
		t.Error("bundle still exists after delete")
	}

	// Deleting a missing bundle is not an error.
	if err := backend.Delete(ctx, id); err != nil {
		t.Errorf("Delete of missing bundle failed: %v", err)
	}
}

func TestNewBackendSelection(t *testing.T) {
	backend, err := NewBackend(context.Background(), &Config{
		Type:  "local",
		Local: &LocalConfig{BasePath: t.TempDir()},
	})
	if err != nil {
		t.Fatalf("NewBackend failed: %v", err)
	}
	if _, ok := backend.(*LocalStorage); !ok {
		t.Errorf("expected local backend, got %T", backend)
	}

	if _, err := NewBackend(context.Background(), &Config{Type: "ftp"}); err == nil {
		t.Error("expected unsupported type to fail")
	}
}
