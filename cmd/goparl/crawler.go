package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/goparl/internal/crawler"
)

// crawlerCmd creates the "crawler" command group.
func crawlerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawler",
		Short: "Run the crawl pipeline",
	}
	cmd.AddCommand(crawlerStartCmd())
	return cmd
}

func crawlerStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Discover sitting days and download their documents",
		Long: `Start the crawl pipeline: the session-day checker probes the calendar
for plenary sittings, the URL generator mints document URLs for every
active rule, and the downloaders fetch and store them. All requests pace
themselves on the adaptive token bucket.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			fmt.Println("Starting crawler")

			ctx, cancel := signalContext(logger)
			defer cancel()
			return crawler.NewJob(cfg, logger).Run(ctx)
		},
	}
}
