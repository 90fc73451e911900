package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/fetcher"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/monitoring"
	"github.com/sells-group/supervisor-finder/internal/pipeline"
	"github.com/sells-group/supervisor-finder/internal/relevance"
	"github.com/sells-group/supervisor-finder/internal/scorer"
	"github.com/sells-group/supervisor-finder/internal/store"
	anthropicpkg "github.com/sells-group/supervisor-finder/pkg/anthropic"
)

// initStore opens and migrates the configured repository. Callers should
// defer Close on the result.
func initStore(ctx context.Context) (store.Repository, error) {
	sc := cfg.Store
	if sc.Driver == "sqlite" && sc.DatabaseURL == "" {
		sc.DatabaseURL = "supervisors.db"
	}
	repo, err := store.Open(ctx, sc)
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}
	if err := repo.Migrate(ctx); err != nil {
		_ = repo.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return repo, nil
}

// initSummarizer returns the Anthropic summarizer when an API key is
// configured and the deterministic keyword summarizer otherwise.
func initSummarizer() relevance.Summarizer {
	if cfg.Anthropic.Key == "" {
		zap.L().Info("SUPERVISOR_ANTHROPIC_KEY not set, using keyword summarizer")
		return relevance.NewKeywordSummarizer(cfg.Thresholds)
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	zap.L().Info("anthropic summarizer enabled", zap.String("model", cfg.Anthropic.Model))
	return relevance.NewAnthropicSummarizer(client, cfg.Anthropic)
}

// initFetcher builds the fetcher. With persistent caching the repository
// doubles as the page cache.
func initFetcher(repo store.Repository, useCache bool) *fetcher.Fetcher {
	fc := cfg.Fetch
	var cache fetcher.Cache
	switch {
	case !useCache:
	case fc.PersistentCache && repo != nil:
		cache = repo
	default:
		cache = fetcher.NewMemoryCache()
	}
	return fetcher.New(fetcher.Options{
		UserAgent:    fc.UserAgent,
		Timeout:      time.Duration(fc.TimeoutSecs) * time.Second,
		MaxRetries:   fc.MaxRetries,
		MaxInFlight:  fc.MaxInFlight,
		MaxBodyBytes: fc.MaxBodyBytes,
		CacheTTL:     time.Duration(fc.CacheTTLHours) * time.Hour,
	}, cache, fetcher.NewDomainLimiter(fc.RatePerDomain, fc.Burst))
}

// loadProfile reads the research profile at path, or the configured one
// when path is empty.
func loadProfile(path string) (*model.ResearchProfile, error) {
	if path == "" {
		path = cfg.ProfilePath
	}
	p, err := config.LoadResearchProfile(path)
	if err != nil {
		return nil, eris.Wrap(err, "load research profile")
	}
	return p, nil
}

// newSelector builds a selector over repo. refresh lets the summarizer
// fill in keywords for records stored without any.
func newSelector(repo store.Repository, refresh bool) *pipeline.Selector {
	sc := scorer.New(cfg.Thresholds)
	if refresh {
		sc = sc.WithSummarizer(initSummarizer())
	}
	return pipeline.NewSelector(repo, sc, cfg.Select, refresh)
}

// reportRunAlerts evaluates a finished run against the monitoring
// thresholds and posts any alerts.
func reportRunAlerts(ctx context.Context, stats *model.RunStats) []monitoring.Alert {
	if !cfg.Monitoring.Enabled {
		return nil
	}
	alerter := monitoring.NewAlerter(cfg.Monitoring)
	alerts := alerter.Evaluate(monitoring.CollectRun(stats))
	for _, a := range alerts {
		zap.L().Warn("run alert", zap.String("type", string(a.Type)), zap.String("message", a.Message))
	}
	alerter.SendAlerts(ctx, alerts)
	return alerts
}
