// Package archive implements the compression and file-copy primitives used
// by the export and restore engines. Archives always contain a single top
// level folder (the source directory name), matching what command line
// zippers produce, so extractors strip exactly one nesting level.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// CompressDir compresses the contents of srcDir into the zip archive at
// zipPath. It prefers the external zip binary when one is on PATH (better
// ratio on large database files) and falls back to the built-in archiver.
func CompressDir(srcDir, zipPath string) error {
	if zipBin, err := exec.LookPath("zip"); err == nil {
		if err := externalZip(zipBin, srcDir, zipPath); err == nil {
			return nil
		}
		// External tool failed; clean up and retry with the built-in
		// archiver before giving up.
		_ = os.Remove(zipPath)
	}
	return ZipDir(srcDir, zipPath)
}

// externalZip runs the zip binary from the parent of srcDir so the archive
// gains the directory itself as its single top-level entry.
func externalZip(zipBin, srcDir, zipPath string) error {
	absZip, err := filepath.Abs(zipPath)
	if err != nil {
		return err
	}
	cmd := exec.Command(zipBin, "-r", "-q", absZip, filepath.Base(srcDir)) // #nosec G204 - fixed binary, controlled args
	cmd.Dir = filepath.Dir(srcDir)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("zip command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// ZipDir writes a zip archive of srcDir using the built-in archiver. All
// entries are placed under a top-level folder named after srcDir.
func ZipDir(srcDir, zipPath string) error {
	zipFile, err := os.Create(zipPath) // #nosec G304 - controlled backup output path
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if err := zipFile.Close(); err != nil {
			fmt.Printf("Warning: failed to close zip file: %v\n", err)
		}
	}()

	writer := zip.NewWriter(zipFile)
	root := filepath.Base(srcDir)

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		name := root
		if rel != "." {
			name = root + "/" + filepath.ToSlash(rel)
		}

		if info.IsDir() {
			if _, err := writer.Create(name + "/"); err != nil {
				return fmt.Errorf("failed to add directory entry: %w", err)
			}
			return nil
		}

		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = name
		header.Method = zip.Deflate

		entry, err := writer.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to add archive entry: %w", err)
		}

		file, err := os.Open(path) // #nosec G304 - path comes from the walked source tree
		if err != nil {
			return err
		}
		defer func() {
			if err := file.Close(); err != nil {
				fmt.Printf("Warning: failed to close file: %v\n", err)
			}
		}()

		if _, err := io.Copy(entry, file); err != nil {
			return fmt.Errorf("failed to write archive entry: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}

	return writer.Close()
}

// Unzip extracts the archive at zipPath into destDir.
func Unzip(zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			fmt.Printf("Warning: failed to close zip reader: %v\n", err)
		}
	}()

	for _, file := range reader.File {
		if err := extractEntry(file, destDir); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(file *zip.File, destDir string) error {
	target := filepath.Join(destDir, filepath.FromSlash(file.Name)) // #nosec G305 - checked below
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("archive entry escapes destination: %s", file.Name)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0750)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return err
	}

	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry: %w", err)
	}
	defer func() {
		if err := rc.Close(); err != nil {
			fmt.Printf("Warning: failed to close archive entry: %v\n", err)
		}
	}()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode()) // #nosec G304 - target validated above
	if err != nil {
		return err
	}
	defer func() {
		if err := out.Close(); err != nil {
			fmt.Printf("Warning: failed to close extracted file: %v\n", err)
		}
	}()

	if _, err := io.Copy(out, rc); err != nil { // #nosec G110 - backup archives are operator-produced
		return fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	return nil
}

// StripSingleRoot flattens dir when it contains exactly one entry and that
// entry is a directory: the nesting folder archivers introduce.
func StripSingleRoot(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}

	nested := filepath.Join(dir, entries[0].Name())
	children, err := os.ReadDir(nested)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := os.Rename(filepath.Join(nested, child.Name()), filepath.Join(dir, child.Name())); err != nil {
			return fmt.Errorf("failed to flatten archive root: %w", err)
		}
	}
	return os.Remove(nested)
}

// CopyDir recursively copies the contents of src into dst, creating dst.
func CopyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}

		return CopyFile(path, target, info.Mode().Perm())
	})
}

// CopyFile copies a single file, creating parent directories as needed.
func CopyFile(src, dst string, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}

	in, err := os.Open(src) // #nosec G304 - controlled source path
	if err != nil {
		return err
	}
	defer func() {
		if err := in.Close(); err != nil {
			fmt.Printf("Warning: failed to close source file: %v\n", err)
		}
	}()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm) // #nosec G304 - controlled destination path
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// DirSize returns the recursive sum of file sizes under path.
func DirSize(path string) (int64, error) {
	var total int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

// IsEmptyDir reports whether path is a directory with no entries.
func IsEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}
