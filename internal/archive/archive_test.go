package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"
)

// makeTree creates a small directory tree resembling a database volume.
func makeTree(t *testing.T, root string) {
	t.Helper()
	files := map[string]string{
		"base/0001.dat":   "alpha",
		"base/0002.dat":   "beta",
		"pg_wal/wal.seg":  "gamma",
		"PG_VERSION":      "15",
		"nested/deep/x.y": "delta",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatalf("failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0600); err != nil {
			t.Fatalf("failed to write file: %v", err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	got := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path) // #nosec G304 - test tree
		if err != nil {
			return err
		}
		got[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("failed to read tree: %v", err)
	}
	return got
}

func TestZipRoundTrip(t *testing.T) {
	src := filepath.Join(t.TempDir(), "postgresql")
	if err := os.MkdirAll(src, 0750); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	makeTree(t, src)

	zipPath := filepath.Join(t.TempDir(), "postgres_data.zip")
	if err := ZipDir(src, zipPath); err != nil {
		t.Fatalf("ZipDir failed: %v", err)
	}

	dest := t.TempDir()
	if err := Unzip(zipPath, dest); err != nil {
		t.Fatalf("Unzip failed: %v", err)
	}

	// The archive nests everything under the source directory name.
	entries, err := os.ReadDir(dest)
	if err != nil {
		t.Fatalf("failed to read dest: %v", err)
	}
	if len(entries) != 1 || !entries[0].IsDir() || entries[0].Name() != "postgresql" {
		t.Fatalf("expected single postgresql root entry, got %v", entries)
	}

	if err := StripSingleRoot(dest); err != nil {
		t.Fatalf("StripSingleRoot failed: %v", err)
	}

	want := readTree(t, src)
	got := readTree(t, dest)
	if len(got) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(got))
	}
	for rel, content := range want {
		if got[rel] != content {
			t.Errorf("file %s: expected %q, got %q", rel, content, got[rel])
		}
	}
}

func TestStripSingleRootLeavesFlatTreesAlone(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0750); err != nil {
		t.Fatalf("failed to create dir: %v", err)
	}

	if err := StripSingleRoot(dir); err != nil {
		t.Fatalf("StripSingleRoot failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "a.txt")); err != nil {
		t.Errorf("flat tree was modified: %v", err)
	}
}

func TestUnzipRejectsEscapingEntries(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	f, err := os.Create(zipPath)
	if err != nil {
		t.Fatalf("failed to create zip: %v", err)
	}
	w := zip.NewWriter(f)
	entry, err := w.Create("../escape.txt")
	if err != nil {
		t.Fatalf("failed to add entry: %v", err)
	}
	if _, err := entry.Write([]byte("bad")); err != nil {
		t.Fatalf("failed to write entry: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close zip writer: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("failed to close zip: %v", err)
	}

	if err := Unzip(zipPath, t.TempDir()); err == nil {
		t.Fatal("expected escaping entry to be rejected")
	}
}

func TestCopyDir(t *testing.T) {
	src := filepath.Join(t.TempDir(), "minio")
	if err := os.MkdirAll(src, 0750); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	makeTree(t, src)

	dst := filepath.Join(t.TempDir(), "copy")
	if err := CopyDir(src, dst); err != nil {
		t.Fatalf("CopyDir failed: %v", err)
	}

	want := readTree(t, src)
	got := readTree(t, dst)
	if len(got) != len(want) {
		t.Fatalf("expected %d files, got %d", len(want), len(got))
	}
	for rel, content := range want {
		if got[rel] != content {
			t.Errorf("file %s: expected %q, got %q", rel, content, got[rel])
		}
	}
}

func TestCopyFileOverwrites(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.env")
	dst := filepath.Join(dir, "dst.env")
	if err := os.WriteFile(src, []byte("NEW=1"), 0600); err != nil {
		t.Fatalf("failed to write source: %v", err)
	}
	if err := os.WriteFile(dst, []byte("OLD=1"), 0600); err != nil {
		t.Fatalf("failed to write dest: %v", err)
	}

	if err := CopyFile(src, dst, 0600); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("failed to read dest: %v", err)
	}
	if string(data) != "NEW=1" {
		t.Errorf("expected overwrite, got %q", data)
	}
}

func TestDirSize(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a"), make([]byte, 100), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b"), make([]byte, 50), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	size, err := DirSize(dir)
	if err != nil {
		t.Fatalf("DirSize failed: %v", err)
	}
	if size != 150 {
		t.Errorf("expected size 150, got %d", size)
	}
}

func TestIsEmptyDir(t *testing.T) {
	dir := t.TempDir()
	empty, err := IsEmptyDir(dir)
	if err != nil {
		t.Fatalf("IsEmptyDir failed: %v", err)
	}
	if !empty {
		t.Error("expected empty")
	}

	if err := os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	empty, err = IsEmptyDir(dir)
	if err != nil {
		t.Fatalf("IsEmptyDir failed: %v", err)
	}
	if empty {
		t.Error("expected non-empty")
	}
}

func TestTarGzDir(t *testing.T) {
	src := filepath.Join(t.TempDir(), "bundle")
	if err := os.MkdirAll(src, 0750); err != nil {
		t.Fatalf("failed to create source: %v", err)
	}
	makeTree(t, src)

	var buf bytes.Buffer
	if err := TarGzDir(src, &buf); err != nil {
		t.Fatalf("TarGzDir failed: %v", err)
	}

	gz, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("failed to open gzip stream: %v", err)
	}
	tr := tar.NewReader(gz)

	got := make(map[string]string)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("failed to read tar: %v", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("failed to read tar entry: %v", err)
		}
		got[hdr.Name] = string(data)
	}

	want := readTree(t, src)
	if len(got) != len(want) {
		t.Fatalf("expected %d entries, got %d: %v", len(want), len(got), got)
	}
	for rel, content := range want {
		if got[rel] != content {
			t.Errorf("entry %s: expected %q, got %q", rel, content, got[rel])
		}
	}
}
