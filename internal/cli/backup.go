package cli

import (
	"bytes"
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/convoetl/internal/store"
)

// backupTimeLayout names backups so that lexical order is time order.
const backupTimeLayout = "20060102T150405"

// BackupResult reports an uploaded snapshot.
type BackupResult struct {
	Object string       `json:"object"`
	Bytes  int          `json:"bytes"`
	Counts store.Counts `json:"counts"`
}

func (r BackupResult) String() string {
	return fmt.Sprintf("Uploaded %s (%d bytes): %d sessions, %d events, %d event_parents",
		r.Object, r.Bytes, r.Counts.Sessions, r.Counts.Events, r.Counts.EventParents)
}

// BackupOptions holds flags for the backup command.
type BackupOptions struct {
	*RootOptions
	Name string
}

// NewBackupCommand creates the backup command.
func NewBackupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BackupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export the store and upload it as a snapshot",
		Long: `Export all three tables as a snapshot document and upload it to the
container as <prefix><YYYYmmddTHHMMSS>.json, where run will find it.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := backupStore(cmd.Context(), opts.RootOptions, opts.Name)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(res)
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "object name (default <prefix><timestamp>.json)")

	return cmd
}

func backupStore(ctx context.Context, opts *RootOptions, name string) (BackupResult, error) {
	cfg := opts.Config
	if name == "" {
		name = cfg.Storage.Prefix + opts.Now().UTC().Format(backupTimeLayout) + ".json"
	}

	s, err := store.OpenExisting(cfg.Database.Path)
	if err != nil {
		return BackupResult{}, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer s.Close()

	var buf bytes.Buffer
	counts, err := s.Export(ctx, &buf)
	if err != nil {
		return BackupResult{}, WrapExitError(ExitCommandError, "failed to export store", err)
	}
	size := buf.Len()

	container, err := connectContainer(opts)
	if err != nil {
		return BackupResult{}, err
	}
	if err := container.Upload(ctx, name, &buf); err != nil {
		return BackupResult{}, WrapExitError(ExitFailure, "failed to upload backup", err)
	}

	opts.Logger().Info("backup uploaded", zap.String("object", name), zap.Int("bytes", size))
	return BackupResult{Object: name, Bytes: size, Counts: counts}, nil
}

// SetupOptions holds flags for the setup command.
type SetupOptions struct {
	*RootOptions
	Count int
}

// SetupResult reports a prepared demo environment.
type SetupResult struct {
	Backup BackupResult `json:"backup"`
	Path   string       `json:"path"`
}

func (r SetupResult) String() string {
	return fmt.Sprintf("%s\nStore %s reset and empty; run `convoetl run` to ingest it", r.Backup, r.Path)
}

// NewSetupCommand creates the setup command.
func NewSetupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SetupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Prepare a demo environment",
		Long: `Prepare a demo environment: destroy the store, initialize it, seed mock
sessions, upload a backup of them and truncate the store again.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 10, "number of mock sessions")

	return cmd
}

func runSetup(ctx context.Context, opts *SetupOptions, cmd *cobra.Command) error {
	path := opts.Config.Database.Path
	logger := opts.Logger()

	if _, err := store.Destroy(path); err != nil {
		return WrapExitError(ExitCommandError, "failed to destroy store", err)
	}
	logger.Info("store destroyed", zap.String("path", path))

	// seedStore initializes before seeding.
	if _, err := seedStore(opts.RootOptions, cmd, opts.Count); err != nil {
		return err
	}

	backup, err := backupStore(ctx, opts.RootOptions, "")
	if err != nil {
		return err
	}

	if err := store.Truncate(ctx, path); err != nil {
		return WrapExitError(ExitCommandError, "failed to truncate store", err)
	}
	logger.Info("setup complete", zap.String("backup", backup.Object))

	return opts.formatter(cmd).Success(SetupResult{Backup: backup, Path: path})
}
