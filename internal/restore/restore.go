// Package restore brings a backup tree back onto a host: it loads the saved
// images, puts volume data back into place, copies configuration and starts
// the stack. The same volume mapping table that drove the export also
// drives restores, both here and in the generated import scripts.
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stackport/stackport/internal/archive"
	"github.com/stackport/stackport/internal/config"
	"github.com/stackport/stackport/internal/docker"
)

// Engine restores one backup directory into one target project root.
type Engine struct {
	docker docker.API
	log    zerolog.Logger
	root   string
	stack  config.Stack

	// SkipCompose leaves the stack down after restoring data.
	SkipCompose bool
}

// NewEngine creates a restore engine for the project at root.
func NewEngine(api docker.API, log zerolog.Logger, root string, stack config.Stack) *Engine {
	return &Engine{
		docker: api,
		log:    log,
		root:   root,
		stack:  stack,
	}
}

// Run restores the backup at backupDir. Unlike export, restore is
// fail-fast: an inconsistent half-restored stack is worse than a clean
// abort, so the first hard failure stops the run.
func (e *Engine) Run(ctx context.Context, backupDir string) error {
	info, err := os.Stat(backupDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("backup directory not found: %s", backupDir)
	}

	if err := e.loadImages(ctx, filepath.Join(backupDir, "images")); err != nil {
		return err
	}
	if err := e.restoreVolumes(filepath.Join(backupDir, "volumes")); err != nil {
		return err
	}
	if err := e.restoreConfigFiles(filepath.Join(backupDir, "config")); err != nil {
		return err
	}

	if e.SkipCompose {
		e.log.Info().Msg("restore complete, stack left down")
		return nil
	}

	e.log.Info().Msg("starting stack")
	if err := e.docker.ComposeUp(ctx, e.root); err != nil {
		return err
	}
	e.log.Info().Msg("restore complete")
	return nil
}

// loadImages loads every image tar found in the backup's images folder.
func (e *Engine) loadImages(ctx context.Context, imagesDir string) error {
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Warn().Msg("backup has no images folder")
			return nil
		}
		return fmt.Errorf("failed to read images folder: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".tar") {
			continue
		}
		path := filepath.Join(imagesDir, entry.Name())
		e.log.Info().Str("image", entry.Name()).Msg("loading image")

		file, err := os.Open(path) // #nosec G304 - path comes from the backup tree
		if err != nil {
			return fmt.Errorf("failed to open image tar: %w", err)
		}
		err = e.docker.LoadImage(ctx, file)
		if closeErr := file.Close(); closeErr != nil {
			e.log.Warn().Err(closeErr).Msg("failed to close image tar")
		}
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// restoreVolumes puts every known volume entry back into its mapped target
// directory. Entries whose names are not in the mapping table are ignored.
func (e *Engine) restoreVolumes(volumesDir string) error {
	entries, err := os.ReadDir(volumesDir)
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Warn().Msg("backup has no volumes folder")
			return nil
		}
		return fmt.Errorf("failed to read volumes folder: %w", err)
	}

	targets := e.stack.VolumeTargets()

	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".zip")
		target, known := targets[name]
		if !known {
			continue
		}

		dest := filepath.Join(e.root, filepath.FromSlash(target))
		src := filepath.Join(volumesDir, entry.Name())

		e.log.Info().Str("volume", name).Str("target", target).Msg("restoring volume")

		if entry.IsDir() {
			if err := replaceDirWithCopy(src, dest); err != nil {
				return fmt.Errorf("failed to restore volume %s: %w", name, err)
			}
			continue
		}

		if err := replaceDirFromZip(src, dest); err != nil {
			return fmt.Errorf("failed to restore volume %s: %w", name, err)
		}
	}
	return nil
}

// replaceDirFromZip extracts the archive into a scratch directory next to
// the destination, strips the nesting folder the archiver introduced, then
// swaps it into place.
func replaceDirFromZip(zipPath, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0750); err != nil {
		return err
	}

	// Scratch lives beside dest so the final rename stays on one filesystem.
	scratch := dest + ".restore-tmp"
	if err := os.RemoveAll(scratch); err != nil {
		return err
	}
	defer func() {
		_ = os.RemoveAll(scratch)
	}()

	if err := archive.Unzip(zipPath, scratch); err != nil {
		return err
	}
	if err := archive.StripSingleRoot(scratch); err != nil {
		return err
	}

	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return os.Rename(scratch, dest)
}

func replaceDirWithCopy(src, dest string) error {
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	return archive.CopyDir(src, dest)
}

// restoreConfigFiles copies every file from the backup's config folder to
// the project root, overwriting.
func (e *Engine) restoreConfigFiles(configDir string) error {
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			e.log.Warn().Msg("backup has no config folder")
			return nil
		}
		return fmt.Errorf("failed to read config folder: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		src := filepath.Join(configDir, entry.Name())
		dst := filepath.Join(e.root, entry.Name())
		if err := archive.CopyFile(src, dst, 0600); err != nil {
			return fmt.Errorf("failed to restore config file %s: %w", entry.Name(), err)
		}
		e.log.Info().Str("file", entry.Name()).Msg("config file restored")
	}
	return nil
}
