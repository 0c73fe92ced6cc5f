package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/IshaanNene/goparl/internal/config"
	"github.com/IshaanNene/goparl/internal/db"
	"github.com/IshaanNene/goparl/internal/indexer"
)

// indexingCmd creates the "indexing" command group.
func indexingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "indexing",
		Short: "Manage the search index",
	}
	cmd.AddCommand(indexingStartCmd())
	cmd.AddCommand(indexingUnindexCmd())
	cmd.AddCommand(indexingReindexCmd())
	return cmd
}

func indexingStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Ship extracted documents to Elasticsearch",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			fmt.Println("Starting indexing")

			ctx, cancel := signalContext(logger)
			defer cancel()
			return indexer.NewJob(cfg, logger).Run(ctx)
		},
	}
}

func indexingUnindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unindex",
		Short: "Delete documents marked for unindexing from the live index",
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

			fmt.Println("Unindexing stale documents")
			return unindexStale(ctx, cfg, logger, db.NewDocuments(database), false)
		},
	}
}

func indexingReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex MAPPING",
		Short: "Create a new index from a mapping file and copy every document over",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(logger)
			defer cancel()

			fmt.Println("Reindexing")
			mapping, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading mapping: %w", err)
			}

			es, err := indexer.NewClient(cfg.Indexer, logger)
			if err != nil {
				return err
			}
			current, err := es.CurrentIndex(ctx)
			if err != nil {
				return fmt.Errorf("resolving current index: %w", err)
			}
			next, err := es.CreateIndex(ctx, string(mapping))
			if err != nil {
				return fmt.Errorf("creating index: %w", err)
			}
			if err := es.Reindex(ctx, current, next); err != nil {
				return fmt.Errorf("starting reindex: %w", err)
			}

			logger.Info("reindex started", "source", current, "destination", next)
			fmt.Println(next)
			return nil
		},
	}
}

// unindexStale deletes every document flagged unindex from the live
// index and clears the flag for confirmed deletions. force clears all
// flags regardless of the outcome.
func unindexStale(ctx context.Context, cfg *config.Config, logger *slog.Logger, docs *db.Documents, force bool) error {
	ids, err := docs.ToUnindex(ctx)
	if err != nil {
		return fmt.Errorf("collecting documents to unindex: %w", err)
	}

	es, err := indexer.NewClient(cfg.Indexer, logger)
	if err != nil {
		return err
	}

	var deleted []int64
	if len(ids) > 0 {
		deleted, err = es.BulkDelete(ctx, ids)
		switch {
		case errors.Is(err, indexer.ErrNoIndex):
			// Without an index nothing was ever shipped; the flags stay
			// until one exists, unless forced below.
			deleted = nil
		case err != nil:
			return fmt.Errorf("deleting stale documents: %w", err)
		}
	}
	fmt.Printf("Unindexed successfully %d documents out of %d\n", len(deleted), len(ids))

	if force {
		fmt.Println("Force resetting all unindex flags")
		return docs.ResetUnindex(ctx, ids)
	}
	return docs.ResetUnindex(ctx, deleted)
}
