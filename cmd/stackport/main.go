package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/stackport/stackport/internal/archive"
	"github.com/stackport/stackport/internal/config"
	"github.com/stackport/stackport/internal/docker"
	"github.com/stackport/stackport/internal/export"
	"github.com/stackport/stackport/internal/restore"
	"github.com/stackport/stackport/internal/storage"
	"github.com/stackport/stackport/pkg/version"
)

// Global variables for CLI flags
var (
	verbose bool
	quiet   bool

	// export flags
	skipStop bool
	encrypt  bool
	password string

	// restore flags
	skipCompose bool
	force       bool

	// storage flags
	storageType  string
	gcsBucket    string
	gcsProject   string
	gcsCredsFile string
	s3Bucket     string
	s3Region     string
	s3Endpoint   string
	s3AccessKey  string
	s3SecretKey  string
)

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if quiet {
		level = zerolog.WarnLevel
	}

	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// locateProject finds the project root and verifies the command was started
// from it; both failures are fatal by design.
func locateProject() (string, config.Stack, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", config.Stack{}, fmt.Errorf("failed to determine working directory: %w", err)
	}

	root, err := config.FindRoot(cwd)
	if err != nil {
		return "", config.Stack{}, err
	}
	if err := config.RequireProjectRoot(cwd); err != nil {
		return "", config.Stack{}, err
	}

	stack, err := config.Load(root)
	if err != nil {
		return "", config.Stack{}, err
	}
	return root, stack, nil
}

func buildStorageConfig() (*storage.Config, error) {
	cfg := &storage.Config{Type: storageType}

	switch storageType {
	case "":
		return nil, nil
	case "local":
		cfg.Local = &storage.LocalConfig{BasePath: "./offsite"}
	case "gcs":
		if gcsBucket == "" {
			return nil, fmt.Errorf("GCS bucket is required when using GCS storage")
		}
		cfg.GCS = &storage.GCSConfig{
			Bucket:      gcsBucket,
			ProjectID:   gcsProject,
			Credentials: gcsCredsFile,
		}
	case "s3":
		if s3Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required when using S3 storage")
		}
		cfg.S3 = &storage.S3Config{
			Bucket:    s3Bucket,
			Region:    s3Region,
			Endpoint:  s3Endpoint,
			AccessKey: s3AccessKey,
			SecretKey: s3SecretKey,
		}
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}

	return cfg, nil
}

func main() {
	var rootCmd = &cobra.Command{
		Use:     "stackport",
		Short:   "Export and import the application stack between machines",
		Long:    "stackport exports the stack's Docker images, bind-mounted volumes and configuration into a timestamped backup folder, generates self-contained restore scripts, and can restore a backup natively on any OS",
		Version: version.Version,
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Quiet output")

	rootCmd.PersistentFlags().StringVar(&storageType, "storage", "", "Off-site storage backend (local, gcs, s3); empty disables replication")
	rootCmd.PersistentFlags().StringVar(&gcsBucket, "gcs-bucket", "", "GCS bucket name")
	rootCmd.PersistentFlags().StringVar(&gcsProject, "gcs-project", "", "GCS project ID")
	rootCmd.PersistentFlags().StringVar(&gcsCredsFile, "gcs-creds", "", "Path to GCS credentials file")
	rootCmd.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().StringVar(&s3Region, "s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().StringVar(&s3Endpoint, "s3-endpoint", "", "S3 endpoint (for S3-compatible services)")
	rootCmd.PersistentFlags().StringVar(&s3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&s3SecretKey, "s3-secret-key", "", "S3 secret key")

	rootCmd.AddCommand(createExportCommand())
	rootCmd.AddCommand(createRestoreCommand())
	rootCmd.AddCommand(createListCommand())
	rootCmd.AddCommand(createPruneCommand())
	rootCmd.AddCommand(createVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func createExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the stack into a timestamped backup folder",
		Long:  "Stop the stack's containers, save images, archive volumes, copy configuration and generate restore scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			log := newLogger()

			root, stack, err := locateProject()
			if err != nil {
				return err
			}

			api, err := docker.NewClient(ctx)
			if err != nil {
				return err
			}

			engine := export.NewEngine(api, log, root, stack)
			engine.SkipStop = skipStop
			engine.Quiet = quiet

			report, err := engine.Run(ctx)
			if err != nil {
				return err
			}
			printReport(report)

			storageConfig, err := buildStorageConfig()
			if err != nil {
				return err
			}
			if storageConfig == nil {
				return nil
			}

			backend, err := storage.NewBackend(ctx, storageConfig)
			if err != nil {
				return err
			}

			opts := export.ReplicateOptions{Encrypt: encrypt, Password: password, Quiet: quiet}
			if opts.Encrypt && opts.Password == "" {
				opts.Password = promptPassword("Enter encryption password: ", true)
				if opts.Password == "" {
					return fmt.Errorf("encryption password is required")
				}
			}
			if err := export.Replicate(ctx, log, backend, report.BackupDir, opts); err != nil {
				return err
			}

			_, err = export.PruneBundles(ctx, log, backend, stack.BackupName, stack.Retain)
			return err
		},
	}

	cmd.Flags().BoolVar(&skipStop, "skip-stop", false, "Don't stop containers before volume export (exported data may be inconsistent)")
	cmd.Flags().BoolVar(&encrypt, "encrypt", false, "Encrypt the off-site bundle with AES-256")
	cmd.Flags().StringVar(&password, "password", "", "Password for encryption (will prompt if not provided)")

	return cmd
}

func createRestoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <backup-dir>",
		Short: "Restore a backup folder into the current project",
		Long:  "Load the backup's images, restore volume data into place, copy configuration and bring the stack up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			log := newLogger()

			root, stack, err := locateProject()
			if err != nil {
				return err
			}

			backupDir := args[0]
			if !filepath.IsAbs(backupDir) {
				backupDir = filepath.Join(root, backupDir)
			}

			if !force {
				fmt.Printf("This will overwrite volume data and configuration in %s. Continue? (y/N): ", root)
				var response string
				if _, err := fmt.Scanln(&response); err != nil {
					response = "N"
				}
				if strings.ToLower(response) != "y" {
					fmt.Println("Restore cancelled")
					return nil
				}
			}

			api, err := docker.NewClient(ctx)
			if err != nil {
				return err
			}

			engine := restore.NewEngine(api, log, root, stack)
			engine.SkipCompose = skipCompose
			return engine.Run(ctx, backupDir)
		},
	}

	cmd.Flags().BoolVar(&skipCompose, "skip-compose", false, "Don't bring the stack up after restoring")
	cmd.Flags().BoolVar(&force, "force", false, "Skip confirmation prompt")

	return cmd
}

func createListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available backups",
		Long:  "List backup folders in the project's output directory, or off-site bundles when a storage backend is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			storageConfig, err := buildStorageConfig()
			if err != nil {
				return err
			}
			if storageConfig != nil {
				backend, err := storage.NewBackend(ctx, storageConfig)
				if err != nil {
					return err
				}
				return listBundles(ctx, backend)
			}

			root, stack, err := locateProject()
			if err != nil {
				return err
			}
			return listLocalBackups(root, stack)
		},
	}
}

func createPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete old backups beyond the retention count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			log := newLogger()

			root, stack, err := locateProject()
			if err != nil {
				return err
			}

			removed, err := export.Prune(log, filepath.Join(root, stack.OutputDir), stack.BackupName, stack.Retain, "")
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d local backup(s)\n", len(removed))

			storageConfig, err := buildStorageConfig()
			if err != nil {
				return err
			}
			if storageConfig == nil {
				return nil
			}
			backend, err := storage.NewBackend(ctx, storageConfig)
			if err != nil {
				return err
			}
			removedBundles, err := export.PruneBundles(ctx, log, backend, stack.BackupName, stack.Retain)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d off-site bundle(s)\n", len(removedBundles))
			return nil
		},
	}
}

func createVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Info())
		},
	}
}

func listLocalBackups(root string, stack config.Stack) error {
	baseDir := filepath.Join(root, stack.OutputDir)
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No backups found in %s\n", baseDir)
			return nil
		}
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	type backupEntry struct {
		name    string
		modTime time.Time
		size    int64
	}

	var backups []backupEntry
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), stack.BackupName+"_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		size, _ := archive.DirSize(filepath.Join(baseDir, entry.Name()))
		backups = append(backups, backupEntry{entry.Name(), info.ModTime(), size})
	}

	if len(backups) == 0 {
		fmt.Printf("No backups found in %s\n", baseDir)
		return nil
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].modTime.After(backups[j].modTime)
	})

	fmt.Printf("%-40s %-20s %s\n", "BACKUP", "CREATED", "SIZE")
	fmt.Printf("%-40s %-20s %s\n", strings.Repeat("-", 40), strings.Repeat("-", 20), strings.Repeat("-", 10))
	for _, b := range backups {
		fmt.Printf("%-40s %-20s %s\n", b.name, b.modTime.Format("2006-01-02 15:04:05"), export.FormatSize(b.size))
	}
	return nil
}

func listBundles(ctx context.Context, backend storage.Backend) error {
	bundles, err := backend.List(ctx)
	if err != nil {
		return err
	}
	if len(bundles) == 0 {
		fmt.Println("No off-site bundles found")
		return nil
	}

	sort.Slice(bundles, func(i, j int) bool {
		return bundles[i].CreatedAt.After(bundles[j].CreatedAt)
	})

	fmt.Printf("%-40s %-20s %-10s %s\n", "BUNDLE", "CREATED", "SIZE", "ENCRYPTED")
	fmt.Printf("%-40s %-20s %-10s %s\n", strings.Repeat("-", 40), strings.Repeat("-", 20), strings.Repeat("-", 10), strings.Repeat("-", 9))
	for _, b := range bundles {
		encrypted := "no"
		if b.Encrypted {
			encrypted = "yes"
		}
		fmt.Printf("%-40s %-20s %-10s %s\n", b.ID, b.CreatedAt.Format("2006-01-02 15:04:05"), export.FormatSize(b.Size), encrypted)
	}
	return nil
}

// printReport prints the per-item outcome summary after an export run.
func printReport(report *export.Report) {
	fmt.Printf("\nBackup: %s\n", report.BackupDir)
	fmt.Printf("Total size: %s\n", export.FormatSize(report.TotalSize))
	if len(report.Stopped) > 0 {
		fmt.Printf("Stopped and restarted: %s\n", strings.Join(report.Restarted, ", "))
	}
	if len(report.PrunedBackups) > 0 {
		fmt.Printf("Pruned old backups: %d\n", len(report.PrunedBackups))
	}

	skipped := report.Skipped()
	failed := report.Failed()
	if len(skipped) == 0 && len(failed) == 0 {
		fmt.Println("All items exported")
		return
	}

	for _, o := range skipped {
		fmt.Printf("SKIP  %s/%s: %s\n", o.Stage, o.Item, o.Detail)
	}
	for _, o := range failed {
		fmt.Printf("FAIL  %s/%s: %s\n", o.Stage, o.Item, o.Detail)
	}
}

// promptPassword prompts the user for a password without echoing.
func promptPassword(prompt string, confirm bool) string {
	fmt.Print(prompt)
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return ""
	}

	pass := string(bytePassword)
	if confirm {
		fmt.Print("Confirm password: ")
		byteConfirm, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return ""
		}
		if pass != string(byteConfirm) {
			fmt.Println("Passwords do not match")
			return ""
		}
	}
	return pass
}
