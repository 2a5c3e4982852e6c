package restore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackport/stackport/internal/archive"
	"github.com/stackport/stackport/internal/config"
	"github.com/stackport/stackport/internal/docker"
)

func testStack() config.Stack {
	return config.Stack{
		Containers: []string{"postgres"},
		Images:     []string{"postgres:15-alpine"},
		Volumes: []config.VolumeMapping{
			{Source: "docker/volumes/postgresql", Archive: "postgres_data"},
			{Source: "docker/volumes/neo4j", Archive: "neo4j_data"},
		},
		ConfigFiles: []string{".env", "docker-compose.yml"},
		OutputDir:   "backups",
		BackupName:  "stack_backup",
		Retain:      3,
	}
}

// makeBackup assembles a backup directory by hand: one image tar, one
// zipped volume, one plain-copied volume, one unknown entry and a config
// file.
func makeBackup(t *testing.T) string {
	t.Helper()
	backupDir := filepath.Join(t.TempDir(), "stack_backup_20250601-120000")
	for _, sub := range []string{"images", "volumes", "config"} {
		if err := os.MkdirAll(filepath.Join(backupDir, sub), 0750); err != nil {
			t.Fatalf("failed to create backup tree: %v", err)
		}
	}

	if err := os.WriteFile(filepath.Join(backupDir, "images", "postgres_15-alpine.tar"), []byte("image bytes"), 0600); err != nil {
		t.Fatalf("failed to write image tar: %v", err)
	}

	// Zipped volume: the archive nests its content under the source dir
	// name, exactly as the exporter produces it.
	staging := filepath.Join(t.TempDir(), "postgresql")
	if err := os.MkdirAll(filepath.Join(staging, "base"), 0750); err != nil {
		t.Fatalf("failed to create staging: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "base", "0001.dat"), []byte("pg data"), 0600); err != nil {
		t.Fatalf("failed to write staging file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(staging, "PG_VERSION"), []byte("15"), 0600); err != nil {
		t.Fatalf("failed to write staging file: %v", err)
	}
	if err := archive.ZipDir(staging, filepath.Join(backupDir, "volumes", "postgres_data.zip")); err != nil {
		t.Fatalf("failed to zip staging: %v", err)
	}

	// Plain-copied volume (the compression-fallback form).
	neoDir := filepath.Join(backupDir, "volumes", "neo4j_data")
	if err := os.MkdirAll(neoDir, 0750); err != nil {
		t.Fatalf("failed to create copied volume: %v", err)
	}
	if err := os.WriteFile(filepath.Join(neoDir, "neostore"), []byte("graph data"), 0600); err != nil {
		t.Fatalf("failed to write copied volume file: %v", err)
	}

	// An entry no mapping knows about.
	if err := os.WriteFile(filepath.Join(backupDir, "volumes", "mystery.zip"), []byte("junk"), 0600); err != nil {
		t.Fatalf("failed to write unknown entry: %v", err)
	}

	if err := os.WriteFile(filepath.Join(backupDir, "config", ".env"), []byte("KEY=new"), 0600); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	return backupDir
}

func TestRunRestoresBackup(t *testing.T) {
	fake := docker.NewFake()
	root := t.TempDir()
	backupDir := makeBackup(t)

	// Pre-existing state that must be replaced.
	oldPg := filepath.Join(root, "docker", "volumes", "postgresql")
	if err := os.MkdirAll(oldPg, 0750); err != nil {
		t.Fatalf("failed to create old volume: %v", err)
	}
	if err := os.WriteFile(filepath.Join(oldPg, "stale.dat"), []byte("stale"), 0600); err != nil {
		t.Fatalf("failed to write old volume file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, ".env"), []byte("KEY=old"), 0600); err != nil {
		t.Fatalf("failed to write old config: %v", err)
	}

	engine := NewEngine(fake, zerolog.Nop(), root, testStack())
	if err := engine.Run(context.Background(), backupDir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Image tar was loaded.
	if len(fake.Loaded) != 1 || string(fake.Loaded[0]) != "image bytes" {
		t.Errorf("expected one loaded image, got %d", len(fake.Loaded))
	}

	// Zipped volume: extracted, nesting stripped, old content gone.
	pgData, err := os.ReadFile(filepath.Join(oldPg, "base", "0001.dat"))
	if err != nil {
		t.Fatalf("expected restored postgres data: %v", err)
	}
	if string(pgData) != "pg data" {
		t.Errorf("unexpected restored content: %q", pgData)
	}
	if _, err := os.ReadFile(filepath.Join(oldPg, "PG_VERSION")); err != nil {
		t.Errorf("expected restored PG_VERSION: %v", err)
	}
	if _, err := os.Stat(filepath.Join(oldPg, "stale.dat")); !os.IsNotExist(err) {
		t.Error("stale volume content was not removed")
	}
	if _, err := os.Stat(filepath.Join(oldPg, "postgresql")); !os.IsNotExist(err) {
		t.Error("nesting folder was not stripped")
	}
	if _, err := os.Stat(oldPg + ".restore-tmp"); !os.IsNotExist(err) {
		t.Error("scratch directory was left behind")
	}

	// Plain-copied volume restored.
	neoData, err := os.ReadFile(filepath.Join(root, "docker", "volumes", "neo4j", "neostore"))
	if err != nil {
		t.Fatalf("expected restored neo4j data: %v", err)
	}
	if string(neoData) != "graph data" {
		t.Errorf("unexpected restored content: %q", neoData)
	}

	// The unknown entry was ignored.
	if _, err := os.Stat(filepath.Join(root, "mystery")); !os.IsNotExist(err) {
		t.Error("unknown volume entry was restored")
	}

	// Config overwritten.
	env, err := os.ReadFile(filepath.Join(root, ".env"))
	if err != nil {
		t.Fatalf("expected restored .env: %v", err)
	}
	if string(env) != "KEY=new" {
		t.Errorf("config file not overwritten: %q", env)
	}

	// Stack brought up in the project root.
	found := false
	for _, call := range fake.Calls {
		if call == "compose-up "+root {
			found = true
		}
	}
	if !found {
		t.Errorf("expected compose-up call, got %v", fake.Calls)
	}
}

func TestRunSkipCompose(t *testing.T) {
	fake := docker.NewFake()
	root := t.TempDir()
	backupDir := makeBackup(t)

	engine := NewEngine(fake, zerolog.Nop(), root, testStack())
	engine.SkipCompose = true
	if err := engine.Run(context.Background(), backupDir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, call := range fake.Calls {
		if call == "compose-up "+root {
			t.Fatal("compose-up must not run with SkipCompose")
		}
	}
}

func TestRunMissingBackupDir(t *testing.T) {
	engine := NewEngine(docker.NewFake(), zerolog.Nop(), t.TempDir(), testStack())
	if err := engine.Run(context.Background(), filepath.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error for missing backup directory")
	}
}

func TestRunToleratesPartialBackupTree(t *testing.T) {
	// A backup with only config is still restorable.
	backupDir := filepath.Join(t.TempDir(), "stack_backup_20250601-120000")
	if err := os.MkdirAll(filepath.Join(backupDir, "config"), 0750); err != nil {
		t.Fatalf("failed to create backup tree: %v", err)
	}
	if err := os.WriteFile(filepath.Join(backupDir, "config", ".env"), []byte("KEY=only"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	fake := docker.NewFake()
	root := t.TempDir()
	engine := NewEngine(fake, zerolog.Nop(), root, testStack())
	engine.SkipCompose = true
	if err := engine.Run(context.Background(), backupDir); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, ".env")); err != nil {
		t.Errorf("expected config restored: %v", err)
	}
}
