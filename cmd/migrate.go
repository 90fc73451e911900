package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migratePurgeCache bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		repo, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer repo.Close() //nolint:errcheck

		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		zap.L().Info("schema up to date", zap.String("driver", cfg.Store.Driver), zap.Int("supervisors", n))

		if migratePurgeCache {
			ttl := time.Duration(cfg.Fetch.CacheTTLHours) * time.Hour
			purged, err := repo.PurgeCache(ctx, ttl)
			if err != nil {
				return err
			}
			fmt.Printf("purged %d cached pages older than %s\n", purged, ttl)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migratePurgeCache, "purge-cache", false, "also delete cached pages older than the cache TTL")
	rootCmd.AddCommand(migrateCmd)
}
