package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/kyleparry1/givenergy-data-downloader/internal/config"
	"github.com/kyleparry1/givenergy-data-downloader/internal/daterange"
	"github.com/kyleparry1/givenergy-data-downloader/internal/journal"
)

func newHistoryCmd(flags *cliFlags) *cobra.Command {
	var filter journal.Filter

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded download attempts from the journal",
		Long: `Queries the DuckDB journal and prints the most recent events, newest first.
The journal is taken from --journal, or from the journal setting of the
configuration file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if filter.Date != "" {
				if _, err := daterange.Parse(filter.Date); err != nil {
					return withCode(ExitInvalidArgs, err)
				}
			}

			path, err := journalPath(*flags)
			if err != nil {
				return withCode(ExitConfigError, err)
			}

			j, err := journal.Open(cmd.Context(), path)
			if err != nil {
				return withCode(ExitStorageError, err)
			}
			defer j.Close()

			events, err := j.History(cmd.Context(), filter)
			if err != nil {
				return err
			}
			journal.Display(cmd.OutOrStdout(), events)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Date, "date", "", "Only show events for this date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&filter.Event, "event", "e", "", "Filter by event (run_start, attempt_failed, saved, exhausted, run_end)")
	cmd.Flags().StringVar(&filter.RunID, "run", "", "Filter by run ID")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 50, "Limit the number of events displayed")
	return cmd
}

// journalPath prefers the flag and falls back to the config file and
// environment. The rest of the configuration is not validated.
func journalPath(flags cliFlags) (string, error) {
	if flags.overrides.Journal != "" {
		return flags.overrides.Journal, nil
	}
	cfg, err := config.LoadFromFile(flags.configPath)
	if err != nil {
		return "", err
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return "", err
	}
	if cfg.Journal == "" {
		return "", &config.Error{Field: "journal", Reason: "is not configured", Err: errors.New("pass --journal or set journal in the config file")}
	}
	return cfg.Journal, nil
}
