package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rexlx/marconilink/kv"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the key-value table and the attachment bucket",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := kv.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, kv.Options{MaxConns: cfg.Store.MaxConns})
		if err != nil {
			return fmt.Errorf("could not open store: %w", err)
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("could not migrate store: %w", err)
		}
		logger.Info("store migrated", zap.String("driver", cfg.Store.Driver))

		created, err := newBucket().Ensure(ctx)
		if err != nil {
			return fmt.Errorf("could not create bucket: %w", err)
		}
		logger.Info("bucket ready", zap.String("bucket", cfg.Storage.Bucket), zap.Bool("created", created))
		return nil
	},
}
