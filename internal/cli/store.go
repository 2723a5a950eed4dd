package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/convoetl/internal/store"
)

// noArgs rejects positional arguments as a command error.
func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return WrapExitError(ExitCommandError, "invalid arguments", err)
	}
	return nil
}

// exactArgs requires n positional arguments.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return WrapExitError(ExitCommandError, "invalid arguments", err)
		}
		return nil
	}
}

// StoreResult reports a maintenance action on the store.
type StoreResult struct {
	Path   string       `json:"path"`
	Action string       `json:"action"`
	Counts *store.Counts `json:"counts,omitempty"`
}

func (r StoreResult) String() string {
	if r.Counts != nil {
		return fmt.Sprintf("%s %s: %d sessions, %d events, %d event_parents",
			r.Action, r.Path, r.Counts.Sessions, r.Counts.Events, r.Counts.EventParents)
	}
	return fmt.Sprintf("%s %s", r.Action, r.Path)
}

// NewInitCommand creates the init command.
func NewInitCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the store schema (idempotent)",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Config.Database.Path
			if err := store.Initialize(cmd.Context(), path); err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize store", err)
			}
			opts.Logger().Info("store initialized", zap.String("path", path))
			return opts.formatter(cmd).Success(StoreResult{Path: path, Action: "Initialized"})
		},
	}
}

// NewTruncateCommand creates the truncate command.
func NewTruncateCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "truncate",
		Short: "Delete all rows, keeping schema and indices",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Config.Database.Path
			if err := store.Truncate(cmd.Context(), path); err != nil {
				return WrapExitError(ExitCommandError, "failed to truncate store", err)
			}
			opts.Logger().Info("store truncated", zap.String("path", path))
			return opts.formatter(cmd).Success(StoreResult{Path: path, Action: "Truncated"})
		},
	}
}

// NewDestroyCommand creates the destroy command.
func NewDestroyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Remove the store file entirely",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Config.Database.Path
			removed, err := store.Destroy(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to destroy store", err)
			}
			action := "Destroyed"
			if !removed {
				action = "Nothing to destroy at"
			}
			opts.Logger().Info("store destroyed", zap.String("path", path), zap.Bool("existed", removed))
			return opts.formatter(cmd).Success(StoreResult{Path: path, Action: action})
		},
	}
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts per table",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := opts.Config.Database.Path
			s, err := store.OpenExisting(path)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open store", err)
			}
			defer s.Close()

			counts, err := s.Counts(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to count rows", err)
			}
			return opts.formatter(cmd).Success(StoreResult{Path: path, Action: "Store", Counts: &counts})
		},
	}
}

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
	Count int
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert mock sessions for demos and tests",
		Long: `Insert mock sessions for demos and tests.

Each session gets a user_prompt event, an assistant_out event and one lineage
edge from the reply to the prompt. The store is initialized first.`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := seedStore(opts.RootOptions, cmd, opts.Count)
			if err != nil {
				return err
			}
			return opts.formatter(cmd).Success(StoreResult{Path: opts.Config.Database.Path, Action: "Seeded", Counts: &counts})
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 10, "number of sessions to insert")

	return cmd
}

func seedStore(opts *RootOptions, cmd *cobra.Command, n int) (store.Counts, error) {
	if n < 1 {
		return store.Counts{}, NewExitError(ExitCommandError, fmt.Sprintf("count must be at least 1, got %d", n))
	}
	ctx := cmd.Context()
	s, err := store.Open(opts.Config.Database.Path)
	if err != nil {
		return store.Counts{}, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer s.Close()

	if err := s.Initialize(ctx); err != nil {
		return store.Counts{}, WrapExitError(ExitCommandError, "failed to initialize store", err)
	}
	res, err := s.Seed(ctx, n, opts.Now())
	if err != nil {
		var loadErr *store.LoadError
		if errors.As(err, &loadErr) {
			return store.Counts{}, WrapExitError(ExitFailure, "failed to seed store", err)
		}
		return store.Counts{}, WrapExitError(ExitCommandError, "failed to seed store", err)
	}
	opts.Logger().Info("store seeded",
		zap.Int64("sessions", res.SessionsInserted),
		zap.Int64("events", res.EventsInserted),
		zap.Int64("event_parents", res.EdgesInserted),
	)
	return s.Counts(ctx)
}
