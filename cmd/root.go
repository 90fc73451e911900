package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "supervisor-finder",
	Short: "Academic supervisor discovery pipeline",
	Long:  "Crawls university websites, classifies directory and profile pages, extracts verified supervisor records, deduplicates them and selects a diverse, relevance-ranked shortlist.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
