package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/convoetl/internal/config"
	"github.com/roach88/convoetl/internal/logging"
)

// RootOptions holds global flags and the state prepared for every command.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string // overrides database.path when set

	// Populated before any subcommand runs.
	Config  *config.Config
	Logging *logging.Logging

	// Lookup reads the environment. Defaults to os.LookupEnv.
	Lookup config.LookupFunc
	// Now defaults to time.Now.
	Now func() time.Time
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Logger returns the process logger, or a no-op before initialization.
func (o *RootOptions) Logger() *zap.Logger {
	if o.Logging == nil || o.Logging.Logger == nil {
		return zap.NewNop()
	}
	return o.Logging.Logger
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// NewRootCommand creates the root command for the convoetl CLI.
func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logging == nil {
		opts.Logging = logging.Nop()
	}

	cmd := &cobra.Command{
		Use:   "convoetl",
		Short: "Conversation telemetry ingestion",
		Long: `convoetl moves conversation-telemetry snapshots from object storage
into a local SQLite store.

A run locates the newest snapshot under the configured prefix, downloads it,
validates it against the snapshot contract and loads all three tables in a
single transaction.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.prepare(cmd)
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", config.DefaultPath, "configuration file")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (overrides database.path)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewTruncateCommand(opts))
	cmd.AddCommand(NewDestroyCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewSetupCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))

	return cmd
}

// prepare loads configuration and starts logging.
func (o *RootOptions) prepare(cmd *cobra.Command) error {
	required := cmd.Flags().Changed("config")
	cfg, err := config.Load(o.ConfigPath, required)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.Database != "" {
		cfg.Database.Path = o.Database
	}
	o.Config = cfg

	logCfg := logging.FromConfig(cfg.Log)
	if o.Verbose {
		logCfg.Level = "debug"
	}
	logCfg.Console = cmd.ErrOrStderr()
	l, err := logging.Init(logCfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize logging", err)
	}
	o.Logging = l
	l.Logger.Debug("configuration loaded",
		zap.String("source", cfg.Source),
		zap.String("database", cfg.Database.Path),
	)
	return nil
}

// Main runs the CLI with args and returns the process exit code. Errors are
// reported through the output formatter; logging is flushed on every path.
func Main(ctx context.Context, args []string, stdout, stderr io.Writer, lookup config.LookupFunc) int {
	opts := &RootOptions{Lookup: lookup}
	cmd := NewRootCommand(opts)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		payload, _ := describe(err)
		if opts.Format == "" || !isValidFormat(opts.Format) {
			opts.Format = "text"
		}
		_ = opts.formatter(cmd).Error(payload)
	}
	if cerr := opts.Logging.Close(); cerr != nil {
		fmt.Fprintf(stderr, "failed to flush logs: %v\n", cerr)
	}

	if err == nil {
		return ExitSuccess
	}
	_, code := describe(err)
	return code
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
