package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/scorer"
	"github.com/sells-group/supervisor-finder/internal/store"
)

// Selector reads stored records, rescores them against a profile and
// picks the top of the ranking.
type Selector struct {
	repo    store.Repository
	scorer  *scorer.Scorer
	opts    scorer.SelectOptions
	limit   int
	refresh bool
}

// NewSelector creates a Selector. With refresh set the scorer's
// summarizer regenerates keywords for records stored without any.
func NewSelector(repo store.Repository, sc *scorer.Scorer, cfg config.SelectConfig, refresh bool) *Selector {
	opts := scorer.DefaultSelectOptions()
	if cfg.Target > 0 {
		opts.Target = cfg.Target
	}
	if cfg.MaxPerInstitution > 0 {
		opts.MaxPerInstitution = cfg.MaxPerInstitution
	}
	opts.MinInstitutions = cfg.MinInstitutions
	return &Selector{repo: repo, scorer: sc, opts: opts, limit: cfg.QueryLimit, refresh: refresh}
}

// Options returns the selection options in effect.
func (s *Selector) Options() scorer.SelectOptions {
	return s.opts
}

// Select returns the selection for f using the configured options.
func (s *Selector) Select(ctx context.Context, profile model.ResearchProfile, f store.Filter) ([]model.CanonicalRecord, error) {
	return s.SelectWith(ctx, profile, f, s.opts)
}

// SelectWith is Select with explicit options. Without an explicit limit on
// f every matching record is read, one page of the configured query limit
// at a time.
func (s *Selector) SelectWith(ctx context.Context, profile model.ResearchProfile, f store.Filter, opts scorer.SelectOptions) ([]model.CanonicalRecord, error) {
	var (
		kept    []model.CanonicalRecord
		queried int
	)
	paged := f.Limit <= 0
	if paged {
		f.Limit = s.pageSize()
	}
	for {
		recs, err := s.repo.Query(ctx, f)
		if err != nil {
			return nil, eris.Wrap(err, "select: query records")
		}
		queried += len(recs)
		page, err := s.scorer.Rescore(ctx, recs, profile, s.refresh)
		if err != nil {
			return nil, err
		}
		kept = append(kept, page...)
		if !paged || len(recs) < f.Limit {
			break
		}
		f.Offset += len(recs)
	}

	out := scorer.Select(kept, opts)
	zap.L().Info("selection complete",
		zap.Int("queried", queried),
		zap.Int("passed_filter", len(kept)),
		zap.Int("selected", len(out)),
		zap.Int("institutions", scorer.InstitutionCount(out)),
	)
	return out, nil
}

func (s *Selector) pageSize() int {
	if s.limit > 0 {
		return s.limit
	}
	return defaultSelectPageSize
}

const defaultSelectPageSize = 500
