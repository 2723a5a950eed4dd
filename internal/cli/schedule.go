package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/convoetl/internal/config"
	"github.com/roach88/convoetl/internal/metrics"
	"github.com/roach88/convoetl/internal/schedule"
)

// ScheduleOptions holds flags shared by the schedule subcommands.
type ScheduleOptions struct {
	*RootOptions
	Every   string
	Start   string
	Crontab string
}

// ScheduleResult reports a registration change.
type ScheduleResult struct {
	Name    string `json:"name"`
	Action  string `json:"action"`
	Every   string `json:"every,omitempty"`
	Crontab string `json:"crontab,omitempty"`
}

func (r ScheduleResult) String() string {
	if r.Every != "" {
		return fmt.Sprintf("%s %s every %s in %s", r.Action, r.Name, r.Every, r.Crontab)
	}
	return fmt.Sprintf("%s %s in %s", r.Action, r.Name, r.Crontab)
}

// NewScheduleCommand creates the schedule command group.
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScheduleOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run ingestion periodically",
		Long: `Run ingestion periodically.

register and deregister manage a tagged line in a crontab file for an
external cron daemon. serve runs ingestion in-process on a timer until
interrupted.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Every, "every", "", "interval such as '5 minutes' (overrides schedule.every)")
	cmd.PersistentFlags().StringVar(&opts.Start, "start", "", "first run time, RFC 3339 (default: 5 minutes from now)")
	cmd.PersistentFlags().StringVar(&opts.Crontab, "crontab", "", "crontab file (overrides schedule.crontab)")

	cmd.AddCommand(&cobra.Command{
		Use:   "register",
		Short: "Add or update the crontab entry",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleRegister(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "deregister",
		Short: "Remove the crontab entry",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleDeregister(opts, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run ingestion on an in-process timer",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleServe(opts, cmd)
		},
	})

	return cmd
}

func (o *ScheduleOptions) interval() (time.Duration, string, error) {
	every := o.Every
	if every == "" {
		every = o.Config.Schedule.Every
	}
	d, err := schedule.ParseInterval(every)
	if err != nil {
		return 0, "", &config.ConfigError{Field: "schedule.every", Message: err.Error()}
	}
	return d, every, nil
}

func (o *ScheduleOptions) start() (time.Time, error) {
	if o.Start == "" {
		return o.Now().Add(5 * time.Minute), nil
	}
	t, err := time.Parse(time.RFC3339, o.Start)
	if err != nil {
		return time.Time{}, WrapExitError(ExitCommandError, "invalid --start", err)
	}
	return t, nil
}

func (o *ScheduleOptions) crontab() (*schedule.CronTab, string, error) {
	path := o.Crontab
	if path == "" {
		path = o.Config.Schedule.Crontab
	}
	if path == "" {
		return nil, "", &config.ConfigError{Field: "schedule.crontab", Message: "no crontab file configured"}
	}
	command, err := o.runCommandLine()
	if err != nil {
		return nil, "", err
	}
	return schedule.NewCronTab(path, command), path, nil
}

// runCommandLine is the command cron executes: this binary running once
// with the same configuration.
func (o *ScheduleOptions) runCommandLine() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	parts := []string{exe, "run"}
	if o.Config.Source != "" {
		abs, err := filepath.Abs(o.Config.Source)
		if err != nil {
			return "", err
		}
		parts = append(parts, "--config", abs)
	}
	if o.Database != "" {
		abs, err := filepath.Abs(o.Database)
		if err != nil {
			return "", err
		}
		parts = append(parts, "--db", abs)
	}
	return strings.Join(parts, " "), nil
}

func runScheduleRegister(opts *ScheduleOptions, cmd *cobra.Command) error {
	every, everyText, err := opts.interval()
	if err != nil {
		return err
	}
	start, err := opts.start()
	if err != nil {
		return err
	}
	tab, path, err := opts.crontab()
	if err != nil {
		return err
	}

	name := opts.Config.Schedule.Name
	if err := tab.RegisterPeriodic(name, every, start); err != nil {
		return WrapExitError(ExitCommandError, "failed to register job", &schedule.JobError{Op: "register", Name: name, Err: err})
	}
	opts.Logger().Info("job registered", zap.String("job", name), zap.String("crontab", path), zap.Duration("every", every))
	return opts.formatter(cmd).Success(ScheduleResult{Name: name, Action: "Registered", Every: everyText, Crontab: path})
}

func runScheduleDeregister(opts *ScheduleOptions, cmd *cobra.Command) error {
	tab, path, err := opts.crontab()
	if err != nil {
		return err
	}

	name := opts.Config.Schedule.Name
	if err := tab.Deregister(name); err != nil {
		return WrapExitError(ExitCommandError, "failed to deregister job", &schedule.JobError{Op: "deregister", Name: name, Err: err})
	}
	opts.Logger().Info("job deregistered", zap.String("job", name), zap.String("crontab", path))
	return opts.formatter(cmd).Success(ScheduleResult{Name: name, Action: "Deregistered", Crontab: path})
}

func runScheduleServe(opts *ScheduleOptions, cmd *cobra.Command) error {
	every, _, err := opts.interval()
	if err != nil {
		return err
	}
	start := opts.Now()
	if opts.Start != "" {
		if start, err = opts.start(); err != nil {
			return err
		}
	}

	rec := metrics.NewRecorder().WithProcessCollectors()
	pipeline, err := newPipeline(opts.RootOptions, rec, false)
	if err != nil {
		return err
	}
	logger := opts.Logger()

	// Setup signal handling for graceful shutdown
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched := schedule.NewTimerScheduler(func(ctx context.Context, name string) {
		// Failures are logged by the pipeline; the next trigger retries.
		if _, err := pipeline.Run(ctx); err != nil {
			logger.Warn("scheduled run failed", zap.String("job", name), zap.Error(err))
		}
		writeTextfile(opts.RootOptions, rec)
	}, logger)

	name := opts.Config.Schedule.Name
	if err := sched.RegisterPeriodic(name, every, start); err != nil {
		sched.Close()
		return WrapExitError(ExitCommandError, "failed to register job", &schedule.JobError{Op: "register", Name: name, Err: err})
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "Running %s every %s. Press Ctrl-C to stop.\n", name, every)
	<-ctx.Done()

	logger.Info("shutting down scheduler")
	return sched.Close()
}
