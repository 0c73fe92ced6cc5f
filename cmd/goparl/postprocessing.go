package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/postprocess"
)

// postprocessingCmd creates the "postprocessing" command group.
func postprocessingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "postprocessing",
		Short: "Extract text and metadata from downloaded documents",
	}
	cmd.AddCommand(postprocessingStartCmd())
	cmd.AddCommand(postprocessingResetCmd())
	return cmd
}

func postprocessingStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the postprocessing workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			fmt.Println("Starting postprocessing")

			ctx, cancel := signalContext(logger)
			defer cancel()
			return postprocess.NewJob(cfg, logger).Run(ctx)
		},
	}
}

func postprocessingResetCmd() *cobra.Command {
	var (
		ruleNames []string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Reset extraction results",
		Long: `Clear extracted data so documents run through postprocessing again.
With --rule only that rule's documents are reset; resetting everything
needs --force. Stale copies are deleted from the search index right away
and the unindex flag is cleared for every confirmed deletion; --force
clears the flags unconditionally.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			database, err := db.Connect(ctx, cfg.General, "goparl-cli", logger)
			if err != nil {
				return err
			}
			defer database.Close()
			if err := database.Migrate(); err != nil {
				return err
			}

			fmt.Println("Resetting postprocessing results")
			docs := db.NewDocuments(database)

			if len(ruleNames) > 0 {
				for _, name := range ruleNames {
					n, err := docs.ResetPostprocessingByRule(ctx, name)
					if err != nil {
						fmt.Println(err)
						continue
					}
					fmt.Printf("Reset %d documents of rule %s\n", n, name)
				}
			} else if force {
				fmt.Println("Resetting all postprocessing results")
				if _, err := docs.ResetAllPostprocessing(ctx); err != nil {
					return err
				}
			} else {
				fmt.Println("Force (-f) to reset all postprocessing results")
			}

			return unindexStale(ctx, cfg, logger, docs, force)
		},
	}
	cmd.Flags().StringArrayVarP(&ruleNames, "rule", "r", nil, "reset only documents of these rules")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "reset everything and clear unindex flags unconditionally")
	return cmd
}
