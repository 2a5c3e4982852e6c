// Package export implements the backup pipeline: stop the stack, save
// images, archive volumes, copy configuration, generate restore scripts,
// apply retention and report. Stages run strictly in order; per-item
// failures are recorded and the run continues.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackport/stackport/internal/archive"
	"github.com/stackport/stackport/internal/config"
	"github.com/stackport/stackport/internal/docker"
	"github.com/stackport/stackport/internal/restore"
)

// settleDelay is the pause after each container stop so the service can
// finish flushing its files before the volume copy starts.
const settleDelay = 2 * time.Second

// Engine runs export pipelines against one project root.
type Engine struct {
	docker docker.API
	log    zerolog.Logger
	root   string
	stack  config.Stack

	// SkipStop leaves containers running during volume export. The
	// resulting copies may be internally inconsistent.
	SkipStop bool

	// Quiet suppresses the progress spinner.
	Quiet bool

	// hooks overridable in tests
	settle   time.Duration
	compress func(srcDir, zipPath string) error
	now      func() time.Time
}

// NewEngine creates an export engine for the project at root.
func NewEngine(api docker.API, log zerolog.Logger, root string, stack config.Stack) *Engine {
	return &Engine{
		docker:   api,
		log:      log,
		root:     root,
		stack:    stack,
		settle:   settleDelay,
		compress: archive.CompressDir,
		now:      time.Now,
	}
}

// Run executes the full export pipeline and returns the run report. The
// only fatal errors are failures to create the backup directory itself;
// everything per-item lands in the report.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	started := e.now()
	backupDir := filepath.Join(e.root, e.stack.OutputDir,
		fmt.Sprintf("%s_%s", e.stack.BackupName, started.Format("20060102-150405")))

	report := &Report{
		BackupDir: backupDir,
		StartedAt: started,
	}

	for _, sub := range []string{"images", "volumes", "config"} {
		if err := os.MkdirAll(filepath.Join(backupDir, sub), 0750); err != nil {
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
	}
	e.log.Info().Str("dir", backupDir).Msg("backup directory created")

	if e.SkipStop {
		e.log.Warn().Msg("container stop skipped: volume copies may be inconsistent")
	} else {
		e.stopContainers(ctx, report)
	}

	e.exportImages(ctx, backupDir, report)
	e.exportVolumes(backupDir, report)
	e.exportConfigFiles(backupDir, report)
	e.generateScripts(backupDir, report)

	e.restartContainers(ctx, report)

	report.PrunedBackups = e.prune(backupDir)

	if size, err := archive.DirSize(backupDir); err != nil {
		e.log.Warn().Err(err).Msg("failed to compute backup size")
	} else {
		report.TotalSize = size
	}
	report.Duration = e.now().Sub(started)

	e.log.Info().
		Str("dir", backupDir).
		Str("size", FormatSize(report.TotalSize)).
		Int("failed", len(report.Failed())).
		Msg("backup complete")

	return report, nil
}

// stopContainers stops every configured container that is currently
// running and records the stopped subset in order.
func (e *Engine) stopContainers(ctx context.Context, report *Report) {
	e.log.Info().Int("count", len(e.stack.Containers)).Msg("stopping containers")

	for _, name := range e.stack.Containers {
		id, found, err := e.docker.FindContainer(ctx, name)
		if err != nil {
			e.log.Error().Err(err).Str("container", name).Msg("container lookup failed")
			report.add("stop", name, StatusFailed, err.Error(), 0)
			continue
		}
		if !found {
			e.log.Warn().Str("container", name).Msg("container not found, skipping")
			report.add("stop", name, StatusSkipped, "not found", 0)
			continue
		}

		wasRunning, err := e.docker.StopContainer(ctx, id)
		if err != nil {
			e.log.Error().Err(err).Str("container", name).Msg("failed to stop container")
			report.add("stop", name, StatusFailed, err.Error(), 0)
			continue
		}
		if !wasRunning {
			e.log.Info().Str("container", name).Msg("container already stopped")
			report.add("stop", name, StatusSkipped, "not running", 0)
			continue
		}

		report.Stopped = append(report.Stopped, name)
		report.add("stop", name, StatusOK, "", 0)
		e.log.Info().Str("container", name).Msg("container stopped")

		// Let the service finish flushing before the next stop.
		time.Sleep(e.settle)
	}
}

// restartContainers restarts exactly the containers this run stopped, in
// original order.
func (e *Engine) restartContainers(ctx context.Context, report *Report) {
	if len(report.Stopped) == 0 {
		return
	}
	e.log.Info().Int("count", len(report.Stopped)).Msg("restarting containers")

	for _, name := range report.Stopped {
		id, found, err := e.docker.FindContainer(ctx, name)
		if err != nil || !found {
			e.log.Error().Str("container", name).Msg("stopped container disappeared before restart")
			report.add("restart", name, StatusFailed, "container not found", 0)
			continue
		}
		if err := e.docker.StartContainer(ctx, id); err != nil {
			e.log.Error().Err(err).Str("container", name).Msg("failed to restart container")
			report.add("restart", name, StatusFailed, err.Error(), 0)
			continue
		}
		report.Restarted = append(report.Restarted, name)
		report.add("restart", name, StatusOK, "", 0)
		e.log.Info().Str("container", name).Msg("container restarted")
	}
}

// SanitizeImageRef maps an image reference to a filesystem-safe base name:
// path and tag separators become underscores.
func SanitizeImageRef(ref string) string {
	ref = strings.ReplaceAll(ref, "/", "_")
	ref = strings.ReplaceAll(ref, ":", "_")
	return ref
}

// exportImages saves every locally present image to images/<sanitized>.tar.
func (e *Engine) exportImages(ctx context.Context, backupDir string, report *Report) {
	e.log.Info().Int("count", len(e.stack.Images)).Msg("exporting images")

	for _, ref := range e.stack.Images {
		exists, err := e.docker.ImageExists(ctx, ref)
		if err != nil {
			e.log.Error().Err(err).Str("image", ref).Msg("image lookup failed")
			report.add("images", ref, StatusFailed, err.Error(), 0)
			continue
		}
		if !exists {
			e.log.Warn().Str("image", ref).Msg("image not present locally, skipping")
			report.add("images", ref, StatusSkipped, "not present locally", 0)
			continue
		}

		tarPath := filepath.Join(backupDir, "images", SanitizeImageRef(ref)+".tar")
		if err := e.saveImage(ctx, ref, tarPath); err != nil {
			e.log.Error().Err(err).Str("image", ref).Msg("image export failed")
			report.add("images", ref, StatusFailed, err.Error(), 0)
			// A partial tar is worse than none.
			_ = os.Remove(tarPath)
			continue
		}

		size := int64(0)
		if stat, err := os.Stat(tarPath); err == nil {
			size = stat.Size()
		}
		report.add("images", ref, StatusOK, "", size)
		e.log.Info().Str("image", ref).Str("size", FormatSize(size)).Msg("image exported")
	}
}

func (e *Engine) saveImage(ctx context.Context, ref, tarPath string) error {
	var spinner *Meter
	if !e.Quiet {
		spinner = NewSpinner(fmt.Sprintf("saving %s", ref))
		defer spinner.Stop()
	}

	out, err := os.Create(tarPath) // #nosec G304 - controlled backup output path
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}

	if err := e.docker.SaveImage(ctx, ref, out); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// exportVolumes archives each mapped directory. Preference order: zip the
// directory; on any compression failure fall back to an uncompressed copy
// so no data is lost. Exactly one of <name>.zip or <name>/ exists per
// volume afterwards.
func (e *Engine) exportVolumes(backupDir string, report *Report) {
	e.log.Info().Int("count", len(e.stack.Volumes)).Msg("exporting volumes")

	for _, vol := range e.stack.Volumes {
		src := filepath.Join(e.root, filepath.FromSlash(vol.Source))

		info, err := os.Stat(src)
		if err != nil || !info.IsDir() {
			e.log.Warn().Str("volume", vol.Archive).Str("dir", vol.Source).Msg("volume directory missing, skipping")
			report.add("volumes", vol.Archive, StatusSkipped, "directory missing", 0)
			continue
		}
		if empty, err := archive.IsEmptyDir(src); err == nil && empty {
			e.log.Warn().Str("volume", vol.Archive).Str("dir", vol.Source).Msg("volume directory empty, skipping")
			report.add("volumes", vol.Archive, StatusSkipped, "directory empty", 0)
			continue
		}

		zipPath := filepath.Join(backupDir, "volumes", vol.Archive+".zip")

		var spinner *Meter
		if !e.Quiet {
			spinner = NewSpinner(fmt.Sprintf("archiving %s", vol.Archive))
		}
		err = e.compress(src, zipPath)
		if spinner != nil {
			spinner.Stop()
		}

		if err == nil {
			size := int64(0)
			if stat, statErr := os.Stat(zipPath); statErr == nil {
				size = stat.Size()
			}
			report.add("volumes", vol.Archive, StatusOK, "zip", size)
			e.log.Info().Str("volume", vol.Archive).Str("size", FormatSize(size)).Msg("volume archived")
			continue
		}

		// Compression failed: keep the data as a plain copy instead.
		e.log.Warn().Err(err).Str("volume", vol.Archive).Msg("compression failed, falling back to plain copy")
		_ = os.Remove(zipPath)

		copyDir := filepath.Join(backupDir, "volumes", vol.Archive)
		if copyErr := archive.CopyDir(src, copyDir); copyErr != nil {
			_ = os.RemoveAll(copyDir)
			e.log.Error().Err(copyErr).Str("volume", vol.Archive).Msg("volume export failed")
			report.add("volumes", vol.Archive, StatusFailed, copyErr.Error(), 0)
			continue
		}

		size, _ := archive.DirSize(copyDir)
		report.add("volumes", vol.Archive, StatusOK, "copy", size)
		e.log.Info().Str("volume", vol.Archive).Str("size", FormatSize(size)).Msg("volume copied uncompressed")
	}
}

// exportConfigFiles copies each configured file into config/.
func (e *Engine) exportConfigFiles(backupDir string, report *Report) {
	e.log.Info().Int("count", len(e.stack.ConfigFiles)).Msg("exporting config files")

	for _, rel := range e.stack.ConfigFiles {
		src := filepath.Join(e.root, filepath.FromSlash(rel))
		info, err := os.Stat(src)
		if err != nil || info.IsDir() {
			e.log.Warn().Str("file", rel).Msg("config file missing, skipping")
			report.add("config", rel, StatusSkipped, "file missing", 0)
			continue
		}

		dst := filepath.Join(backupDir, "config", filepath.Base(rel))
		if err := archive.CopyFile(src, dst, 0600); err != nil {
			e.log.Error().Err(err).Str("file", rel).Msg("config export failed")
			report.add("config", rel, StatusFailed, err.Error(), 0)
			continue
		}
		report.add("config", rel, StatusOK, "", info.Size())
		e.log.Info().Str("file", rel).Msg("config file exported")
	}
}

// generateScripts writes the two self-contained import scripts into the
// backup directory, both driven by the stack's volume mapping table.
func (e *Engine) generateScripts(backupDir string, report *Report) {
	if err := restore.WriteScripts(backupDir, e.stack); err != nil {
		e.log.Error().Err(err).Msg("failed to generate import scripts")
		report.add("scripts", "import scripts", StatusFailed, err.Error(), 0)
		return
	}
	report.add("scripts", "import_windows.ps1", StatusOK, "", 0)
	report.add("scripts", "import_linux.sh", StatusOK, "", 0)
	e.log.Info().Msg("import scripts generated")
}

// prune deletes all but the most recent retained backup directories and
// returns the removed paths. Deletion is best-effort per entry.
func (e *Engine) prune(currentBackup string) []string {
	removed, err := Prune(e.log, filepath.Join(e.root, e.stack.OutputDir), e.stack.BackupName, e.stack.Retain, currentBackup)
	if err != nil {
		e.log.Warn().Err(err).Msg("retention pass failed")
	}
	return removed
}
