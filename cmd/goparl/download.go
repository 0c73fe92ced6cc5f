package main

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/goparl/internal/download"
	"github.com/IshaanNene/goparl/internal/fetcher"
	"github.com/IshaanNene/goparl/internal/rules"
)

// downloadCmd creates the "download" command group.
func downloadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download documents without the database",
	}
	cmd.AddCommand(downloadSessionsCmd())
	return cmd
}

func downloadSessionsCmd() *cobra.Command {
	var (
		ruleFlag string
		backfill bool
		refresh  bool
		dateFlag string
		retry    int
		sleep    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "sessions DIRECTORY",
		Short: "Download session documents into a directory",
		Long: `Fetch the selected rules' documents for one date straight to disk,
organized as DIRECTORY/<rulename>/<date><ext>. --backfill walks the
calendar backwards to the newest date not yet covered and records
completed dates in the directory's ledger; --refresh expands the date
into a thinning look-back grid to pick up late corrections.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			dir := args[0]

			registry := rules.NewRegistry()
			rulenames, err := splitRuleNames(ruleFlag, registry)
			if err != nil {
				return err
			}

			date := time.Now().UTC().Truncate(24 * time.Hour)
			if dateFlag != "" {
				date, err = time.Parse(rules.DateFormat, dateFlag)
				if err != nil {
					return fmt.Errorf("invalid date %q: %w", dateFlag, err)
				}
			} else {
				logger.Info("no date provided, using today", "date", date.Format(rules.DateFormat))
			}

			if backfill {
				unviewed, ok, err := download.UnviewedDate(dir, date)
				if err != nil {
					return err
				}
				if !ok {
					logger.Info("no date for backfilling found, aborting")
					return nil
				}
				date = unviewed
				logger.Info("using backfilling date", "date", date.Format(rules.DateFormat))
			}

			dates := []time.Time{date}
			if refresh {
				dates = download.SpacedOutDates(date)
			}
			logger.Info("crawling dates", "count", len(dates), "rules", rulenames)

			client := fetcher.New(sleep, cfg.General.UserAgent, logger)
			defer client.Close()
			scraper := download.NewScraper(dir, client, registry, retry, sleep, logger)

			ctx, cancel := signalContext(logger)
			defer cancel()

			for _, d := range dates {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := scraper.DownloadDay(ctx, d, rulenames); err != nil {
					logger.Error("downloading date failed", "date", d.Format(rules.DateFormat), "error", err)
					continue
				}
				if backfill {
					if err := download.RecordBackfilled(dir, d); err != nil {
						logger.Error("recording backfilled date failed", "error", err)
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&ruleFlag, "rule", "r", "", "rules to download, comma or space separated")
	cmd.Flags().BoolVar(&backfill, "backfill", false, "download the newest date not yet backfilled")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "re-download older documents on a thinning grid")
	cmd.Flags().StringVarP(&dateFlag, "date", "d", "", "date to download documents for (yyyy-mm-dd)")
	cmd.Flags().IntVar(&retry, "retry", 3, "attempts per document")
	cmd.Flags().DurationVar(&sleep, "sleep", 3*time.Second, "wait between document downloads, doubles as the request timeout")
	return cmd
}

// splitRuleNames parses the comma or space separated rule selection and
// rejects unknown names before any network traffic.
func splitRuleNames(flag string, registry *rules.Registry) ([]string, error) {
	names := strings.FieldsFunc(flag, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	if len(names) == 0 {
		return nil, fmt.Errorf("no rules selected, use --rule")
	}
	for _, name := range names {
		if _, err := registry.Get(name); err != nil {
			return nil, err
		}
	}
	return names, nil
}
