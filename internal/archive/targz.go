package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TarGzDir writes a gzipped tar of srcDir's contents to w. Entry names are
// relative to srcDir, so extraction recreates the directory contents in
// place.
func TarGzDir(srcDir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	err := filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(header); err != nil {
			return fmt.Errorf("failed to write tar header: %w", err)
		}
		if info.IsDir() {
			return nil
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

		if _, err := io.Copy(tw, file); err != nil {
			return fmt.Errorf("failed to write tar entry: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to bundle %s: %w", srcDir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to finish tar stream: %w", err)
	}
	return gz.Close()
}
