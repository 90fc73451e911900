// Package pipeline orchestrates a crawl run: it expands seed directories,
// extracts supervisors from profile pages, and scores, validates and
// persists them while recording an outcome for every candidate URL.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/supervisor-finder/internal/classify"
	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/extract"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/relevance"
	"github.com/sells-group/supervisor-finder/internal/scorer"
	"github.com/sells-group/supervisor-finder/internal/search"
	"github.com/sells-group/supervisor-finder/internal/store"
	"github.com/sells-group/supervisor-finder/internal/validate"
)

// Fetcher fetches a page. *fetcher.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*model.FetchResult, error)
}

// Options bounds the orchestration.
type Options struct {
	MaxConcurrentDomains int
	MaxProfilesPerDomain int
	ProfileWorkers       int
	DirectoryTimeout     time.Duration
	PersistMaxAttempts   int
}

// DefaultOptions returns the standard limits.
func DefaultOptions() Options {
	return Options{
		MaxConcurrentDomains: 5,
		MaxProfilesPerDomain: 30,
		ProfileWorkers:       5,
		DirectoryTimeout:     2 * time.Minute,
		PersistMaxAttempts:   3,
	}
}

// OptionsFromConfig converts the pipeline config section, keeping
// defaults for unset values.
func OptionsFromConfig(cfg config.PipelineConfig) Options {
	o := DefaultOptions()
	if cfg.MaxConcurrentDomains > 0 {
		o.MaxConcurrentDomains = cfg.MaxConcurrentDomains
	}
	if cfg.MaxProfilesPerDomain > 0 {
		o.MaxProfilesPerDomain = cfg.MaxProfilesPerDomain
	}
	if cfg.ProfileWorkers > 0 {
		o.ProfileWorkers = cfg.ProfileWorkers
	}
	if cfg.DirectoryTimeoutSecs > 0 {
		o.DirectoryTimeout = time.Duration(cfg.DirectoryTimeoutSecs) * time.Second
	}
	if cfg.PersistMaxAttempts > 0 {
		o.PersistMaxAttempts = cfg.PersistMaxAttempts
	}
	return o
}

// Pipeline wires the crawl components together. It is safe to call Run
// sequentially; concurrent runs share the fetcher's cache and limiter.
type Pipeline struct {
	opts       Options
	fetcher    Fetcher
	source     search.Source
	repo       store.Repository
	classifier *classify.Classifier
	extractor  *extract.Extractor
	validator  *validate.Validator
	scorer     *scorer.Scorer
	log        *zap.Logger
	now        func() time.Time
}

// New creates a Pipeline. summarizer supplies keywords and relevance
// scores to the extractor.
func New(opts Options, th config.Thresholds, f Fetcher, src search.Source, repo store.Repository, summarizer relevance.Summarizer) *Pipeline {
	return &Pipeline{
		opts:       opts,
		fetcher:    f,
		source:     src,
		repo:       repo,
		classifier: classify.New(th, classify.DefaultURLMatcher()),
		extractor:  extract.New(th, summarizer),
		validator:  validate.New(th),
		scorer:     scorer.New(th),
		log:        zap.L().With(zap.String("component", "pipeline")),
		now:        time.Now,
	}
}

// Run crawls every seed and returns the run statistics. Per-URL failures
// are recorded as outcomes, never returned. When ctx is cancelled the
// records saved so far remain and the run is finished as aborted.
func (p *Pipeline) Run(ctx context.Context, seeds []model.Seed, profile model.ResearchProfile) (*model.RunStats, error) {
	run, err := p.repo.CreateRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	log := p.log.With(zap.String("run_id", run.ID))
	log.Info("run started", zap.Int("seeds", len(seeds)))

	rec := model.NewOutcomeRecorder(run.ID, p.now())
	seen := newURLSet()

	g := new(errgroup.Group)
	g.SetLimit(p.opts.MaxConcurrentDomains)
	for _, seed := range seeds {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			p.processDomain(ctx, seed, profile, rec, seen)
			return nil
		})
	}
	_ = g.Wait()

	aborted := ctx.Err() != nil
	stats := rec.Finish(p.now(), aborted)
	status := model.RunStatusComplete
	if aborted {
		status = model.RunStatusAborted
	}

	// Bookkeeping must land even when the run was cancelled.
	if err := p.repo.FinishRun(context.WithoutCancel(ctx), run.ID, status, &stats); err != nil {
		log.Warn("failed to finish run", zap.Error(err))
	}

	log.Info("run finished",
		zap.Bool("aborted", aborted),
		zap.Int("candidates", stats.Candidates),
		zap.Int("saved", stats.Saved),
		zap.Int("dropped", stats.Dropped),
		zap.Int("directories", stats.Directories),
		zap.Any("top_reasons", stats.TopReasons()),
	)
	return &stats, nil
}

// urlSet records URLs already scheduled in this run.
type urlSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func newURLSet() *urlSet {
	return &urlSet{seen: make(map[string]struct{})}
}

// Add reports whether u was not yet in the set, adding it.
func (s *urlSet) Add(u string) bool {
	key := classify.NormalizeURL(u)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}
