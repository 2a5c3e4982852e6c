package export

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Prune removes backup directories under baseDir whose names share the
// backup name prefix, keeping the `keep` most recently modified ones.
// Individual deletion failures are logged and skipped; the run never aborts
// over a stale backup that would not delete.
func Prune(log zerolog.Logger, baseDir, prefix string, keep int, current string) ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	type backup struct {
		path    string
		modTime time.Time
	}

	var backups []backup
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix+"_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backup{
			path:    filepath.Join(baseDir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	var removed []string
	for i, b := range backups {
		if i < keep || b.path == current {
			continue
		}
		if err := os.RemoveAll(b.path); err != nil {
			log.Warn().Err(err).Str("backup", b.path).Msg("failed to delete old backup")
			continue
		}
		log.Info().Str("backup", b.path).Msg("old backup deleted")
		removed = append(removed, b.path)
	}

	return removed, nil
}
