package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/rules"
)

// rulesCmd creates the "rules" command: toggle rule state and print the
// rule table.
func rulesCmd() *cobra.Command {
	var (
		ruleNames  []string
		activate   bool
		deactivate bool
	)
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Activate or deactivate crawling rules",
		Long: `Toggle the active state of the selected rules and print the rule
table. Only active rules take part in URL minting; the session-day probe
rule is always active.`,
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

			ruleStore := db.NewRules(database)
			// Registration is idempotent and keeps existing active flags,
			// so the table works on a fresh database without a crawl run.
			if _, err := ruleStore.RegisterAll(ctx, rules.NewRegistry()); err != nil {
				return fmt.Errorf("registering rules: %w", err)
			}

			for _, name := range ruleNames {
				if err := ruleStore.SetActive(ctx, name, activate); err != nil {
					fmt.Println(err)
				}
			}

			rows, err := ruleStore.List(ctx)
			if err != nil {
				return err
			}

			fmt.Println("Europarl crawler rules:")
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tLANGUAGE\tFORMAT\tACTIVE")
			for _, r := range rows {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%v\n", r.ID, r.Name, r.Language, r.Filetype, r.Active)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringArrayVarP(&ruleNames, "rule", "r", nil, "rule to change")
	cmd.Flags().BoolVar(&activate, "activate", false, "activate the selected rules")
	cmd.Flags().BoolVar(&deactivate, "deactivate", false, "deactivate the selected rules")
	cmd.MarkFlagsMutuallyExclusive("activate", "deactivate")
	return cmd
}
