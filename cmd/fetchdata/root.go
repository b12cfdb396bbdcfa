package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kyleparry1/givenergy-data-downloader/internal/config"
	"github.com/kyleparry1/givenergy-data-downloader/internal/daterange"
	"github.com/kyleparry1/givenergy-data-downloader/internal/downloader"
	fetchhttp "github.com/kyleparry1/givenergy-data-downloader/internal/http"
	"github.com/kyleparry1/givenergy-data-downloader/internal/journal"
	"github.com/kyleparry1/givenergy-data-downloader/internal/logging"
	"github.com/kyleparry1/givenergy-data-downloader/internal/progress"
	"github.com/kyleparry1/givenergy-data-downloader/internal/storage"
)

// cliFlags holds flag values. Unset flags keep their zero value and are
// ignored by config.Merge.
type cliFlags struct {
	configPath string
	overrides  config.Config
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:   "fetchdata [flags] <start_date> [end_date]",
		Short: "Download daily CSV reports for a date range.",
		Long: `fetchdata downloads one CSV report per day from the configured export
endpoint and stores it as system_data_<YYYY-MM-DD>.csv in the data directory.

Dates are inclusive and use the YYYY-MM-DD format. When end_date is omitted
only start_date is fetched. Each date is attempted up to max_attempts times;
dates that still fail are listed at the end and the command exits 0.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.RangeArgs(1, 2)(cmd, args); err != nil {
				fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
				return withCode(ExitInvalidArgs, err)
			}
			return nil
		},
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, flags, args)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		fmt.Fprint(c.ErrOrStderr(), c.UsageString())
		return withCode(ExitInvalidArgs, err)
	})

	o := &flags.overrides
	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", config.DefaultPath, "Configuration file (JSON or YAML)")
	pf.StringVar(&o.Journal, "journal", "", "DuckDB journal file recording every attempt (disabled when empty)")

	f := cmd.Flags()
	f.StringVarP(&o.DataDir, "data-dir", "d", "", "Output directory or bucket URL (default data)")
	f.IntVarP(&o.Workers, "workers", "w", 0, "Number of parallel downloads (default 5)")
	f.IntVar(&o.MaxAttempts, "max-attempts", 0, "Attempts per date (default 3)")
	f.DurationVar(&o.Timeout, "timeout", 0, "Per-request timeout (default 30s)")
	f.DurationVar(&o.Retry.Backoff, "retry-backoff", 0, "Initial wait between attempts, 0 retries immediately")
	f.DurationVar(&o.Retry.MaxBackoff, "retry-max-backoff", 0, "Max wait between attempts (default 30s)")
	f.Float64Var(&o.RateLimit, "rate-limit", 0, "Max requests per second across workers, 0 is unlimited")
	f.BoolVar(&o.Progress, "progress", false, "Show progress output")
	f.StringVar(&o.Log.File, "log-file", "", "Log destination: file path, stderr or stdout (default data_fetch.log)")
	f.StringVar(&o.Log.Level, "log-level", "", "Log level: debug, info, warn, error (default info)")
	f.StringVar(&o.Log.Format, "log-format", "", "Log format: text or json (default text)")

	cmd.AddCommand(newHistoryCmd(&flags))
	return cmd
}

// loadConfig resolves file, environment and flag settings, in increasing
// order of precedence.
func loadConfig(flags cliFlags) (config.Config, error) {
	cfg, err := config.LoadFromFile(flags.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	cfg = cfg.Merge(flags.overrides)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func parseDates(args []string) (daterange.DateKey, daterange.DateKey, error) {
	start, err := daterange.Parse(args[0])
	if err != nil {
		return daterange.DateKey{}, daterange.DateKey{}, err
	}
	end := start
	if len(args) == 2 {
		if end, err = daterange.Parse(args[1]); err != nil {
			return daterange.DateKey{}, daterange.DateKey{}, err
		}
	}
	// Reject a reversed range before any setup side effects.
	if _, err := daterange.Range(start, end); err != nil {
		return daterange.DateKey{}, daterange.DateKey{}, err
	}
	return start, end, nil
}

func runFetch(cmd *cobra.Command, flags cliFlags, args []string) error {
	ctx := cmd.Context()
	stdout := cmd.OutOrStdout()

	start, end, err := parseDates(args)
	if err != nil {
		return withCode(ExitInvalidArgs, err)
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		return withCode(ExitConfigError, err)
	}

	logger, logCloser, err := logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.File,
	})
	if err != nil {
		return withCode(ExitConfigError, err)
	}
	defer logCloser.Close()

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))
	logger.Debug("Configuration loaded.", slog.String("config", cfg.String()))

	sink, err := storage.Open(ctx, cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open data directory.", "error", err)
		return withCode(ExitStorageError, err)
	}
	defer sink.Close()

	var recorder downloader.Recorder
	if cfg.Journal != "" {
		j, err := journal.Open(ctx, cfg.Journal)
		if err != nil {
			logger.Error("Failed to open journal.", "error", err)
			return withCode(ExitStorageError, err)
		}
		defer j.Close()
		recorder = j
	}

	client := fetchhttp.NewClient(fetchhttp.Options{
		MaxIdleConnsPerHost: cfg.Workers * 2,
		Timeout:             cfg.Timeout,
		RateLimit:           cfg.RateLimit,
		RateBurst:           cfg.RateBurst,
		MaxResponseSize:     cfg.MaxResponseSize,
	})

	var reporter *progress.Reporter
	if cfg.Progress {
		reporter = progress.NewReporter(progress.Options{
			TotalTasks:     daterange.Days(start, end),
			Workers:        cfg.Workers,
			Output:         stdout,
			UpdateInterval: 5 * time.Second,
			SourceURL:      cfg.BaseURL,
			DateRange:      start.String() + ".." + end.String(),
		})
		reporter.Start()
		defer reporter.Stop()
	}

	task := downloader.NewTask(client, sink, downloader.TaskOptions{
		RetryBackoff:    cfg.Retry.Backoff,
		RetryMaxBackoff: cfg.Retry.MaxBackoff,
		Progress:        reporter,
		Recorder:        recorder,
		RunID:           runID,
		Logger:          logger,
	})

	console := progress.NewConsole(stdout)
	batch := downloader.NewBatch(downloader.NewPool(task, cfg.Workers, logger), downloader.BatchOptions{
		URL:         cfg.BaseURL,
		Headers:     cfg.Headers,
		Cookies:     cfg.Cookies,
		MaxAttempts: cfg.MaxAttempts,
		RunID:       runID,
		Recorder:    recorder,
		OnFailure: func(o downloader.Outcome) {
			console.Failed(o.Key.String(), o.Err)
		},
		Logger: logger,
	})

	summary, err := batch.RunRange(ctx, start, end)
	if err != nil {
		return withCode(ExitInvalidArgs, err)
	}
	if reporter != nil {
		reporter.Stop()
	}

	console.Summary(progress.SummaryView{
		Total:     summary.Total,
		Succeeded: summary.Succeeded,
		Failed:    summary.FailedStrings(),
		Duration:  summary.Duration,
		Location:  sink.Location(),
	})
	return nil
}
