package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/supervisor-finder/internal/classify"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/resilience"
	"github.com/sells-group/supervisor-finder/internal/validate"
)

// profileJob is a profile URL to extract, with its page when the
// directory phase already fetched it.
type profileJob struct {
	cand model.CandidateURL
	page *model.FetchResult
}

// processDomain runs directory expansion for one seed, then extracts its
// profile pages on a bounded worker group.
func (p *Pipeline) processDomain(ctx context.Context, seed model.Seed, profile model.ResearchProfile, rec *model.OutcomeRecorder, seen *urlSet) {
	log := p.log.With(zap.String("domain", seed.Domain))
	rec.AddSeed()

	cands, err := p.source.Candidates(ctx, seed)
	if err != nil {
		log.Warn("search failed", zap.Error(err))
		return
	}

	jobs := p.expandDirectories(ctx, seed, cands, rec, seen, log)

	if max := p.opts.MaxProfilesPerDomain; max > 0 && len(jobs) > max {
		log.Info("per-domain profile cap reached",
			zap.Int("found", len(jobs)), zap.Int("cap", max))
		for _, job := range jobs[max:] {
			rec.Record(model.Outcome{URL: job.cand.URL, Status: model.OutcomeDropped, Reason: model.ReasonProfileCap})
		}
		jobs = jobs[:max]
	}

	g := new(errgroup.Group)
	g.SetLimit(p.opts.ProfileWorkers)
	for _, job := range jobs {
		if ctx.Err() != nil {
			rec.Record(model.Outcome{URL: job.cand.URL, Status: model.OutcomeDropped, Reason: model.ReasonCancelled})
			continue
		}
		g.Go(func() error {
			rec.Record(p.processProfile(ctx, job, seed, profile, rec))
			return nil
		})
	}
	_ = g.Wait()
}

// expandDirectories fetches and classifies the seed URLs and any
// pagination they lead to, until done or the directory timeout elapses.
// It returns the profile jobs discovered, in discovery order.
func (p *Pipeline) expandDirectories(ctx context.Context, seed model.Seed, cands []model.CandidateURL, rec *model.OutcomeRecorder, seen *urlSet, log *zap.Logger) []profileJob {
	dirCtx, cancel := context.WithTimeout(ctx, p.opts.DirectoryTimeout)
	defer cancel()

	var (
		jobs  []profileJob
		queue = append([]model.CandidateURL(nil), cands...)
	)
	for len(queue) > 0 {
		if dirCtx.Err() != nil {
			if ctx.Err() == nil {
				log.Warn("directory expansion timed out", zap.Int("pending", len(queue)))
			}
			break
		}
		c := queue[0]
		queue = queue[1:]
		if !seen.Add(c.URL) {
			continue
		}
		rec.AddCandidates(1)

		page, err := p.fetcher.Fetch(dirCtx, c.URL)
		if err != nil {
			rec.Record(p.fetchFailure(ctx, c.URL, err))
			continue
		}
		rec.AddFetch(page.FromCache)

		cls, err := p.classifier.Classify(page, seed)
		if err != nil {
			rec.Record(model.Outcome{URL: c.URL, Status: model.OutcomeDropped,
				Reason: model.ReasonNotAPerson, Detail: err.Error()})
			continue
		}

		switch cls.Kind {
		case classify.KindDirectory:
			rec.Record(model.Outcome{URL: c.URL, Status: model.OutcomeExpanded})
			log.Debug("directory expanded",
				zap.String("url", c.URL), zap.Int("profile_links", cls.ProfileLinkCount), zap.Int("emitted", len(cls.URLs)))
			for _, next := range cls.URLs {
				if next.DiscoveredVia == model.DiscoveredViaPagination {
					queue = append(queue, next)
					continue
				}
				jobs = append(jobs, profileJob{cand: next})
			}
		case classify.KindProfile:
			jobs = append(jobs, profileJob{cand: c, page: page})
		default:
			rec.Record(model.Outcome{URL: c.URL, Status: model.OutcomeDropped, Reason: model.ReasonNotAPerson})
		}
	}

	// Profile URLs from directories are new candidates; dedupe them now so
	// a URL listed on two directories is processed once.
	out := jobs[:0]
	for _, j := range jobs {
		if j.page != nil {
			out = append(out, j)
			continue
		}
		if seen.Add(j.cand.URL) {
			rec.AddCandidates(1)
			out = append(out, j)
		}
	}
	return out
}

// processProfile turns one profile URL into a saved record or a drop
// outcome.
func (p *Pipeline) processProfile(ctx context.Context, job profileJob, seed model.Seed, profile model.ResearchProfile, rec *model.OutcomeRecorder) model.Outcome {
	url := job.cand.URL
	page := job.page
	if page == nil {
		var err error
		page, err = p.fetcher.Fetch(ctx, url)
		if err != nil {
			return p.fetchFailure(ctx, url, err)
		}
		rec.AddFetch(page.FromCache)
	}

	cand, failure := p.extractor.Extract(ctx, page, seed, profile)
	if failure != nil {
		p.log.Debug("extraction failed",
			zap.String("url", url), zap.String("reason", failure.Reason), zap.String("detail", failure.Detail))
		return model.Outcome{URL: url, Status: model.OutcomeDropped, Reason: failure.Reason, Detail: failure.Detail}
	}

	// The provisional fit gates validation; the stored fit is the rule score.
	if ok, reason := p.validator.Validate(cand); !ok {
		return model.Outcome{URL: url, Status: model.OutcomeDropped, Reason: validate.ReasonPrefix + reason}
	}
	p.scorer.Apply(cand, profile)

	if ctx.Err() != nil {
		return model.Outcome{URL: url, Status: model.OutcomeDropped, Reason: model.ReasonCancelled}
	}

	retry := resilience.StorageRetryConfig(p.opts.PersistMaxAttempts)
	retry.OnRetry = resilience.RetryLogger("pipeline", "upsert")
	saved, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.CanonicalRecord, error) {
		r, _, err := p.repo.Upsert(ctx, cand)
		return r, err
	})
	if err != nil {
		p.log.Warn("persist failed", zap.String("url", url), zap.Error(err))
		return model.Outcome{URL: url, Status: model.OutcomeDropped, Reason: model.ReasonPersistFailed, Detail: err.Error()}
	}

	p.log.Debug("supervisor saved",
		zap.String("url", url),
		zap.String("canonical_id", saved.CanonicalID),
		zap.Float64("fit_score", cand.FitScore),
		zap.String("tier", string(cand.Tier)),
	)
	return model.Outcome{URL: url, Status: model.OutcomeSaved}
}

// fetchFailure classifies a fetch error, distinguishing run cancellation
// from a failed page.
func (p *Pipeline) fetchFailure(ctx context.Context, url string, err error) model.Outcome {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return model.Outcome{URL: url, Status: model.OutcomeDropped, Reason: model.ReasonCancelled}
	}
	p.log.Debug("fetch failed", zap.String("url", url), zap.Error(err))
	return model.Outcome{URL: url, Status: model.OutcomeDropped, Reason: model.ReasonFetchFailed, Detail: err.Error()}
}
