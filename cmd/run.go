package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/monitoring"
	"github.com/sells-group/supervisor-finder/internal/pipeline"
	"github.com/sells-group/supervisor-finder/internal/search"
	"github.com/sells-group/supervisor-finder/internal/store"
)

var (
	runSeedsPath   string
	runProfilePath string
	runNoCache     bool
	runSkipSelect  bool
)

// runOutput is what the run command prints.
type runOutput struct {
	Stats     *model.RunStats         `json:"stats"`
	Selection []model.CanonicalRecord `json:"selection,omitempty"`
	Alerts    []monitoring.Alert      `json:"alerts,omitempty"`
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Crawl the seed universities and print run statistics and the selection",
	RunE: func(cmd *cobra.Command, args []string) error {
		if runSeedsPath != "" {
			cfg.SeedsPath = runSeedsPath
		}
		if err := cfg.Validate("run"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		seeds, err := search.LoadSeeds(cfg.SeedsPath)
		if err != nil {
			return err
		}
		profile, err := loadProfile(runProfilePath)
		if err != nil {
			return err
		}

		repo, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer repo.Close() //nolint:errcheck

		out, err := runPipeline(ctx, repo, seeds, *profile)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// runPipeline crawls seeds and, unless disabled, selects from the
// repository afterwards. The selection runs even when the crawl was
// interrupted, since saved records stay valid.
func runPipeline(ctx context.Context, repo store.Repository, seeds []model.Seed, profile model.ResearchProfile) (*runOutput, error) {
	p := pipeline.New(
		pipeline.OptionsFromConfig(cfg.Pipeline),
		cfg.Thresholds,
		initFetcher(repo, !runNoCache),
		search.NewStaticSource(),
		repo,
		initSummarizer(),
	)

	stats, err := p.Run(ctx, seeds, profile)
	if err != nil {
		return nil, eris.Wrap(err, "run pipeline")
	}

	// Post-run work uses a fresh context so an interrupted crawl still
	// reports what it saved.
	post := context.WithoutCancel(ctx)
	out := &runOutput{Stats: stats, Alerts: reportRunAlerts(post, stats)}
	if runSkipSelect {
		return out, nil
	}

	sel, err := newSelector(repo, false).Select(post, profile, store.Filter{})
	if err != nil {
		zap.L().Warn("selection failed", zap.Error(err))
		return out, nil
	}
	out.Selection = sel
	return out, nil
}

func init() {
	runCmd.Flags().StringVar(&runSeedsPath, "seeds", "", "seeds YAML file (default from config)")
	runCmd.Flags().StringVar(&runProfilePath, "profile", "", "research profile YAML file (default from config)")
	runCmd.Flags().BoolVar(&runNoCache, "no-cache", false, "bypass the page cache")
	runCmd.Flags().BoolVar(&runSkipSelect, "no-select", false, "skip selection after the crawl")
	rootCmd.AddCommand(runCmd)
}
