package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"conclave/internal/cli"
	"conclave/internal/config"
	"conclave/internal/observability"
	"conclave/internal/report"
	"conclave/internal/watch"
	"conclave/internal/worker"
	"conclave/pkg/feedback"
	"conclave/pkg/logging"
	"conclave/pkg/process"
	"conclave/pkg/scheduler"

	"github.com/spf13/cobra"
)

type runOptions struct {
	flags       cli.CommandFlags
	timeout     time.Duration
	concurrency int
	parallelism int
	reportsDir  string
	formats     []string
	watch       bool
}

func newRunCmd() *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run feature files",
		Long: `Run parses the given feature files, directories, or globs (default: the
features configured in conclave.yaml, or ./features) and runs every scenario.

Setup tasks run first, then main tasks, then teardown tasks. Teardown always
runs, also after a failed setup or an interrupt. Reports are written to the
reports directory once the run is complete.

The exit code is 1 when any scenario failed.

Examples:
  conclave run
  conclave run features/checkout.feature --tags smoke
  conclave run "features/**/*.feature" --parallelism 4 --format console,junit
  conclave run --watch`,
		RunE: o.run,
	}

	cli.RegisterCommonFlags(cmd, &o.flags)
	cmd.Flags().DurationVar(&o.timeout, "timeout", scheduler.DefaultTimeout, "Per-phase timeout (0 disables it)")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 0, "Number of tasks run on goroutines at once")
	cmd.Flags().IntVar(&o.parallelism, "parallelism", 0, "Number of worker processes (default: one per CPU)")
	cmd.Flags().StringVar(&o.reportsDir, "reports", "", "Report directory")
	cmd.Flags().StringSliceVar(&o.formats, "format", nil, "Report formats ("+formatNames()+")")
	cmd.Flags().BoolVarP(&o.watch, "watch", "w", false, "Re-run when feature files change")
	return cmd
}

func formatNames() string {
	names := make([]string, len(report.AllFormats))
	for i, f := range report.AllFormats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func (o *runOptions) run(cmd *cobra.Command, args []string) error {
	overrides := config.Overrides{
		Concurrency: o.concurrency,
		Parallelism: o.parallelism,
		Formats:     o.formats,
		ReportsDir:  o.reportsDir,
	}
	if cmd.Flags().Changed("timeout") {
		overrides.Timeout = &o.timeout
	}
	cfg, err := loadConfig(cmd, &o.flags, args, overrides)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if o.watch {
		return o.watchLoop(ctx, cmd, cfg)
	}

	success, err := o.execute(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg)
	if err != nil {
		return err
	}
	if !success {
		return &cli.ExitError{Code: ExitCodeError}
	}
	return nil
}

// execute performs one complete run and writes its reports.
func (o *runOptions) execute(ctx context.Context, out, errOut io.Writer, cfg config.ConclaveConfig) (bool, error) {
	features, err := loadFeatures(ctx, cfg)
	if err != nil {
		return false, err
	}
	formats, err := cfg.ReportFormats()
	if err != nil {
		return false, err
	}
	reportsDir := cfg.ReportsDir("")

	opts := cfg.ToOptions()
	opts.Debug = o.flags.Debug

	pipeline := feedback.NewPipeline(feedback.LogAdapter{})

	var progress *cli.ProgressAdapter
	if !o.flags.Quiet {
		progress = cli.NewProgressAdapter(errOut)
		pipeline.Register(progress)
	}

	var metrics *observability.MetricsAdapter
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetricsAdapter()
		pipeline.Register(metrics)
	}

	var (
		tracing    *observability.TracingAdapter
		traceFile  *os.File
		tracesPath = filepath.Join(reportsDir, observability.TracesFile)
	)
	if cfg.Tracing.Enabled {
		if err := os.MkdirAll(reportsDir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create report directory: %w", err)
		}
		traceFile, err = os.Create(tracesPath)
		if err != nil {
			return false, fmt.Errorf("failed to create traces file: %w", err)
		}
		defer traceFile.Close()
		tracing, err = observability.NewStdoutTracingAdapter(traceFile)
		if err != nil {
			return false, err
		}
		pipeline.Register(tracing)
	}

	monitor := process.NewMonitor()
	pool, err := worker.NewPool(worker.Config{
		Size: opts.Parallelism,
		Args: []string{"worker", "--log-level", strings.ToLower(activeLevel.String())},
	}, pipeline, monitor)
	if err != nil {
		return false, err
	}

	sched := scheduler.New(registry, opts,
		scheduler.WithNotifier(pipeline),
		scheduler.WithMonitor(monitor),
		scheduler.WithParallelRunner(pool),
	)

	pipeline.Start()
	if progress != nil {
		progress.Start()
	}

	res, runErr := sched.Run(ctx, features)

	if err := pipeline.Stop(feedback.DefaultStopTimeout); err != nil {
		logging.Warn("Feedback", "Feedback pipeline did not drain: %v", err)
	}
	if progress != nil {
		progress.Stop()
	}

	// Reports are written even when the run was interrupted.
	writeCtx := context.WithoutCancel(ctx)
	if tracing != nil {
		if err := tracing.Shutdown(writeCtx); err != nil {
			logging.Warn("Report", "Failed to flush traces to %s: %v", tracesPath, err)
		}
	}
	if metrics != nil {
		path := filepath.Join(reportsDir, observability.MetricsFile)
		if err := os.MkdirAll(reportsDir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create report directory: %w", err)
		}
		if err := metrics.WriteFile(path); err != nil {
			return false, fmt.Errorf("failed to write metrics: %w", err)
		}
	}

	w := &report.Writer{Dir: reportsDir, Console: out, Formats: formats}
	if err := w.Write(writeCtx, report.NewData(sched, res)); err != nil {
		return false, err
	}

	if runErr != nil {
		return false, fmt.Errorf("run interrupted: %w", runErr)
	}
	return res.Success, nil
}

// watchLoop runs once and then again after every change to a feature file.
func (o *runOptions) watchLoop(ctx context.Context, cmd *cobra.Command, cfg config.ConclaveConfig) error {
	detector := watch.NewDetector(cfg.Features, watch.DefaultDebounce)
	changes := make(chan watch.Change, 1)
	if err := detector.Start(ctx, changes); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer detector.Stop()

	for {
		success, err := o.execute(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatError(err))
		case !success:
			fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatWarning("Run failed"))
		default:
			fmt.Fprintln(cmd.ErrOrStderr(), cli.FormatSuccess("Run succeeded"))
		}
		fmt.Fprintln(cmd.ErrOrStderr(), "Watching for changes, press Ctrl+C to stop...")

		select {
		case <-ctx.Done():
			return nil
		case change := <-changes:
			logging.Info("Watch", "Change detected in %s", strings.Join(change.Paths, ", "))
		}
	}
}
