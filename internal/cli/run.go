package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/convoetl/internal/blobstore"
	"github.com/roach88/convoetl/internal/ingest"
	"github.com/roach88/convoetl/internal/metrics"
	"github.com/roach88/convoetl/internal/snapshot"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Replace bool
}

// RunSummary is the output of a successful run.
type RunSummary struct {
	Snapshot      string `json:"snapshot"`
	Sessions      int64  `json:"sessions"`
	Events        int64  `json:"events"`
	EventParents  int64  `json:"event_parents"`
	FetchAttempts int    `json:"fetch_attempts"`
	DurationMS    int64  `json:"duration_ms"`
}

func (s RunSummary) String() string {
	return fmt.Sprintf("Loaded %s: %d sessions, %d events, %d event_parents",
		s.Snapshot, s.Sessions, s.Events, s.EventParents)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest the newest snapshot once",
		Long: `Ingest the newest snapshot once.

Locates the newest object under storage.prefix, downloads it to a staging
file, validates it and loads it into the store in one transaction. Any stage
failure aborts the run and leaves the store unchanged.

Example:
  convoetl run
  convoetl run --replace --db ./chat.db`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Replace, "replace", false, "clear existing rows inside the load transaction")

	return cmd
}

func runIngest(ctx context.Context, opts *RunOptions, cmd *cobra.Command) error {
	rec := metrics.NewRecorder()
	pipeline, err := newPipeline(opts.RootOptions, rec, opts.Replace)
	if err != nil {
		return err
	}

	res, runErr := pipeline.Run(ctx)
	writeTextfile(opts.RootOptions, rec)
	if runErr != nil {
		return WrapExitError(ExitFailure, "ingestion failed", runErr)
	}

	return opts.formatter(cmd).Success(summarize(res))
}

// newPipeline wires a pipeline from configuration.
func newPipeline(opts *RootOptions, rec *metrics.Recorder, replace bool) (*ingest.Pipeline, error) {
	cfg := opts.Config
	container, err := connectContainer(opts)
	if err != nil {
		return nil, err
	}
	contract, err := snapshot.LoadContract(cfg.Ingest.Contract)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load contract", err)
	}

	return ingest.New(ingest.Options{
		Container:     container,
		Prefix:        cfg.Storage.Prefix,
		DBPath:        cfg.Database.Path,
		Contract:      contract,
		StagingDir:    cfg.Ingest.StagingDir,
		Replace:       replace || cfg.Ingest.Replace,
		FetchAttempts: cfg.Ingest.FetchAttempts,
		Logger:        opts.Logger(),
		StageLevels:   cfg.Log.Stages,
		Metrics:       rec,
		Now:           opts.Now,
	}), nil
}

// connectContainer resolves credentials and connects to the container.
func connectContainer(opts *RootOptions) (blobstore.Container, error) {
	storage := opts.Config.Storage
	raw, err := storage.ResolveContainerURL(opts.Lookup)
	if err != nil {
		return nil, err
	}
	ref, err := blobstore.ParseContainerURL(raw)
	if err != nil {
		return nil, err
	}
	c, err := blobstore.Connect(ref, storage.ResolveSASToken(opts.Lookup))
	if err != nil {
		return nil, err
	}
	opts.Logger().Debug("container connected", zap.String("container", ref.String()))
	return c, nil
}

func writeTextfile(opts *RootOptions, rec *metrics.Recorder) {
	path := opts.Config.Metrics.Textfile
	if path == "" {
		return
	}
	if err := rec.WriteTextfile(path); err != nil {
		opts.Logger().Warn("failed to write metrics textfile", zap.String("path", path), zap.Error(err))
	}
}

func summarize(res *ingest.Result) RunSummary {
	return RunSummary{
		Snapshot:      res.Snapshot.Name,
		Sessions:      res.Loaded.SessionsInserted,
		Events:        res.Loaded.EventsInserted,
		EventParents:  res.Loaded.EdgesInserted,
		FetchAttempts: res.FetchAttempts,
		DurationMS:    res.Duration.Milliseconds(),
	}
}
