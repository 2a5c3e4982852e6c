package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/stackport/stackport/internal/archive"
	"github.com/stackport/stackport/internal/crypto"
	"github.com/stackport/stackport/internal/storage"
)

// ReplicateOptions controls off-site replication of a finished backup.
type ReplicateOptions struct {
	Encrypt  bool
	Password string
	Quiet    bool
}

// Replicate bundles the backup directory into a single tar.gz and stores it
// in the backend, optionally encrypted. The bundle ID is the backup
// directory name, so retention by name prefix works off-site too.
func Replicate(ctx context.Context, log zerolog.Logger, backend storage.Backend, backupDir string, opts ReplicateOptions) error {
	id := filepath.Base(backupDir)

	tempFile, err := os.CreateTemp("", "stackport-bundle-*.tar.gz")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err := os.Remove(tempFile.Name()); err != nil {
			log.Warn().Err(err).Msg("failed to remove temp bundle")
		}
	}()
	defer func() {
		if err := tempFile.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close temp bundle")
		}
	}()

	log.Info().Str("backup", id).Msg("bundling backup for replication")
	if err := archive.TarGzDir(backupDir, tempFile); err != nil {
		return err
	}

	if _, err := tempFile.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind bundle: %w", err)
	}
	stat, err := tempFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat bundle: %w", err)
	}

	var reader io.Reader = tempFile
	size := stat.Size()

	if opts.Encrypt {
		encReader, header, err := crypto.NewEncryptReader(tempFile, opts.Password)
		if err != nil {
			return fmt.Errorf("failed to set up encryption: %w", err)
		}

		var headerBuf bytes.Buffer
		if err := crypto.WriteHeader(&headerBuf, header); err != nil {
			return fmt.Errorf("failed to write encryption header: %w", err)
		}

		reader = io.MultiReader(&headerBuf, encReader)
		size = crypto.EncryptedSize(stat.Size())
		log.Info().Msg("bundle encryption enabled")
	}

	var meter *Meter
	if !opts.Quiet && size > 0 {
		meter = NewMeter(reader, size, fmt.Sprintf("uploading %s", id))
		reader = meter
	}

	name := id
	stamp := stampFromID(id)
	if stamp != "" {
		name = strings.TrimSuffix(id, "_"+stamp)
	}

	host, _ := os.Hostname()
	bundle := &storage.Bundle{
		ID: id,
		Metadata: storage.BundleMetadata{
			ID:        id,
			Name:      name,
			Stamp:     stamp,
			Size:      size,
			CreatedAt: time.Now(),
			Encrypted: opts.Encrypt,
			Host:      host,
		},
		DataReader: reader,
	}

	if err := backend.Store(ctx, bundle); err != nil {
		return fmt.Errorf("failed to store bundle: %w", err)
	}
	if meter != nil {
		meter.Stop()
	}

	log.Info().Str("bundle", id).Str("size", FormatSize(size)).Msg("backup replicated off-site")
	return nil
}

// PruneBundles applies the retention count to replicated bundles sharing
// the backup name prefix, newest first by creation time.
func PruneBundles(ctx context.Context, log zerolog.Logger, backend storage.Backend, prefix string, keep int) ([]string, error) {
	bundles, err := backend.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}

	var matching []storage.BundleMetadata
	for _, b := range bundles {
		if strings.HasPrefix(b.ID, prefix+"_") {
			matching = append(matching, b)
		}
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].CreatedAt.After(matching[j].CreatedAt)
	})

	var removed []string
	for i, b := range matching {
		if i < keep {
			continue
		}
		if err := backend.Delete(ctx, b.ID); err != nil {
			log.Warn().Err(err).Str("bundle", b.ID).Msg("failed to delete old bundle")
			continue
		}
		log.Info().Str("bundle", b.ID).Msg("old bundle deleted")
		removed = append(removed, b.ID)
	}

	return removed, nil
}

// stampFromID extracts the trailing timestamp from a backup directory name
// like stack_backup_20240101-120000.
func stampFromID(id string) string {
	idx := strings.LastIndex(id, "_")
	if idx < 0 || idx == len(id)-1 {
		return ""
	}
	return id[idx+1:]
}
