// Package config holds the stack description that drives an export run:
// which containers to stop, which images and volumes to capture, and where
// the backup tree is written. The built-in defaults describe the full
// application stack; a stackport.yaml at the project root can override any
// part of them.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RootMarker is the file that identifies the project root directory.
const RootMarker = "docker-compose.yml"

// OverrideFile is the optional per-project configuration file.
const OverrideFile = "stackport.yaml"

// VolumeMapping pairs a bind-mounted directory (relative to the project
// root) with the archive name it is stored under in the backup.
type VolumeMapping struct {
	Source  string `yaml:"source"`
	Archive string `yaml:"archive"`
}

// Stack is the immutable description of one application stack. It is built
// once at startup and passed by value into every stage; nothing mutates it
// after load.
type Stack struct {
	// Containers are stopped (in order) before volume export and the
	// previously-running subset is restarted afterwards.
	Containers []string `yaml:"containers"`

	// Images are saved to images/<sanitized>.tar.
	Images []string `yaml:"images"`

	// Volumes maps bind-mount directories to archive names.
	Volumes []VolumeMapping `yaml:"volumes"`

	// ConfigFiles are copied verbatim into config/.
	ConfigFiles []string `yaml:"config_files"`

	// OutputDir is where backup directories are created, relative to the
	// project root unless absolute.
	OutputDir string `yaml:"output_dir"`

	// BackupName is the directory name prefix; the timestamp is appended.
	BackupName string `yaml:"backup_name"`

	// Retain is how many backup directories to keep after a run.
	Retain int `yaml:"retain"`
}

// Default returns the built-in stack description: the graph database, the
// vector database with its etcd and minio dependencies, the relational
// database, and the two application images.
func Default() Stack {
	return Stack{
		Containers: []string{
			"neo4j",
			"milvus-standalone",
			"milvus-etcd",
			"milvus-minio",
			"postgres",
		},
		Images: []string{
			"neo4j:5.15.0",
			"milvusdb/milvus:v2.3.12",
			"quay.io/coreos/etcd:v3.5.5",
			"minio/minio:RELEASE.2023-03-20T20-16-18Z",
			"postgres:15-alpine",
			"app-backend:latest",
			"app-frontend:latest",
		},
		Volumes: []VolumeMapping{
			{Source: "docker/volumes/neo4j", Archive: "neo4j_data"},
			{Source: "docker/volumes/milvus", Archive: "milvus_data"},
			{Source: "docker/volumes/etcd", Archive: "etcd_data"},
			{Source: "docker/volumes/minio", Archive: "minio_data"},
			{Source: "docker/volumes/postgresql", Archive: "postgres_data"},
		},
		ConfigFiles: []string{
			".env",
			"docker-compose.yml",
		},
		OutputDir:  "backups",
		BackupName: "stack_backup",
		Retain:     3,
	}
}

// Load returns the stack description for the project at root. When a
// stackport.yaml exists it overrides the defaults wholesale per field: a
// non-empty list in the file replaces the built-in list.
func Load(root string) (Stack, error) {
	stack := Default()

	path := filepath.Join(root, OverrideFile)
	data, err := os.ReadFile(path) // #nosec G304 - path is rooted at the located project root
	if err != nil {
		if os.IsNotExist(err) {
			return stack, nil
		}
		return stack, fmt.Errorf("failed to read %s: %w", OverrideFile, err)
	}

	var override Stack
	if err := yaml.Unmarshal(data, &override); err != nil {
		return stack, fmt.Errorf("failed to parse %s: %w", OverrideFile, err)
	}

	if len(override.Containers) > 0 {
		stack.Containers = override.Containers
	}
	if len(override.Images) > 0 {
		stack.Images = override.Images
	}
	if len(override.Volumes) > 0 {
		stack.Volumes = override.Volumes
	}
	if len(override.ConfigFiles) > 0 {
		stack.ConfigFiles = override.ConfigFiles
	}
	if override.OutputDir != "" {
		stack.OutputDir = override.OutputDir
	}
	if override.BackupName != "" {
		stack.BackupName = override.BackupName
	}
	if override.Retain > 0 {
		stack.Retain = override.Retain
	}

	return stack, nil
}

// VolumeTargets returns the archive-name to source-directory lookup table.
// This single table drives the export stage, the native restore and both
// generated import scripts.
func (s Stack) VolumeTargets() map[string]string {
	targets := make(map[string]string, len(s.Volumes))
	for _, v := range s.Volumes {
		targets[v.Archive] = v.Source
	}
	return targets
}

// FindRoot walks upward from start until it finds a directory containing the
// root marker file and returns that directory.
func FindRoot(start string) (string, error) {
	dir, err := filepath.Abs(start)
	if err != nil {
		return "", fmt.Errorf("failed to resolve start directory: %w", err)
	}

	for {
		marker := filepath.Join(dir, RootMarker)
		if info, err := os.Stat(marker); err == nil && !info.IsDir() {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no %s found in %s or any parent directory", RootMarker, start)
		}
		dir = parent
	}
}

// RequireProjectRoot verifies that dir itself is the project root, not just
// a descendant of one. Export runs must start from the root so that the
// relative volume and config paths resolve.
func RequireProjectRoot(dir string) error {
	marker := filepath.Join(dir, RootMarker)
	info, err := os.Stat(marker)
	if err != nil || info.IsDir() {
		return fmt.Errorf("%s not found in %s: run stackport from the project root", RootMarker, dir)
	}
	return nil
}
