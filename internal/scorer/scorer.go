// Package scorer assigns fit scores and tiers to supervisor records and
// selects a diverse top-N list from the repository.
package scorer

import (
	"context"
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/relevance"
)

// Result is the outcome of scoring one record.
type Result struct {
	FitScore        float64    `json:"fit_score"`
	Tier            model.Tier `json:"tier,omitempty"`
	CoreMatches     []string   `json:"core_matches,omitempty"`
	AdjacentMatches []string   `json:"adjacent_matches,omitempty"`
	Excluded        bool       `json:"excluded,omitempty"`
}

// Matched returns the number of distinct profile terms matched.
func (r Result) Matched() int {
	return len(r.CoreMatches) + len(r.AdjacentMatches)
}

// Scorer computes rule-based fit scores. A Summarizer, when set, refreshes
// keywords for records that have none during Rescore.
type Scorer struct {
	th         config.Thresholds
	summarizer relevance.Summarizer
	log        *zap.Logger
}

// New creates a Scorer.
func New(th config.Thresholds) *Scorer {
	return &Scorer{
		th:  th,
		log: zap.L().With(zap.String("component", "scorer")),
	}
}

// WithSummarizer sets the Summarizer used for keyword refresh.
func (s *Scorer) WithSummarizer(sum relevance.Summarizer) *Scorer {
	s.summarizer = sum
	return s
}

// scoringText is the text a record is matched against.
func scoringText(c *model.CandidateSupervisor) string {
	parts := []string{c.Name, c.Title, c.Institution, strings.Join(c.Keywords, " "), c.Notes}
	return strings.Join(parts, " ")
}

// Score computes the rule-based fit of c against profile. It does not
// modify c.
func (s *Scorer) Score(c *model.CandidateSupervisor, profile model.ResearchProfile) Result {
	text := scoringText(c)
	res := Result{
		CoreMatches:     relevance.MatchTerms(text, profile.CoreKeywords),
		AdjacentMatches: relevance.MatchTerms(text, profile.AdjacentKeywords),
	}

	if relevance.ContainsAny(text, profile.NegativeKeywords) {
		res.Excluded = true
		return res
	}
	if len(profile.RequiredContext) > 0 && !relevance.ContainsAny(text, profile.RequiredContext) {
		res.Excluded = true
		return res
	}

	core := math.Min(float64(len(res.CoreMatches))*s.th.CoreWeight, s.th.CoreCap)
	adj := math.Min(float64(len(res.AdjacentMatches))*s.th.AdjacentWeight, s.th.AdjacentCap)
	fit := core + adj
	if c.Email != "" {
		fit += s.th.EmailBonus
	}
	if c.EmailConfidence == model.EmailConfidenceHigh {
		fit += s.th.HighConfidenceBonus
	}
	res.FitScore = round2(math.Min(fit, 1.0))
	res.Tier = s.TierFor(res.FitScore)
	return res
}

// TierFor maps a fit score to its tier.
func (s *Scorer) TierFor(fit float64) model.Tier {
	switch {
	case fit >= s.th.CoreTierScore:
		return model.TierCore
	case fit >= s.th.AdjacentTierScore:
		return model.TierAdjacent
	default:
		return model.TierNone
	}
}

// Apply recomputes c's fit and tier from the rules alone, replacing any
// provisional score already on c.
func (s *Scorer) Apply(c *model.CandidateSupervisor, profile model.ResearchProfile) Result {
	res := s.Score(c, profile)
	c.FitScore = res.FitScore
	c.Tier = res.Tier
	return res
}

// Keep reports whether a scored record passes the selection filter: a
// reasonable fit with at least one matched term, or a PI above the lower
// PI floor.
func (s *Scorer) Keep(c *model.CandidateSupervisor, res Result) bool {
	if c.FitScore >= s.th.SelectMinFitScore && res.Matched() > 0 {
		return true
	}
	return c.IsPI && c.FitScore >= s.th.SelectPIMinFitScore
}

// Rescore re-applies scoring to stored records and drops those failing
// the selection filter. With refresh set and a Summarizer configured,
// records without keywords get them regenerated from their stored text
// first.
func (s *Scorer) Rescore(ctx context.Context, records []model.CanonicalRecord, profile model.ResearchProfile, refresh bool) ([]model.CanonicalRecord, error) {
	out := make([]model.CanonicalRecord, 0, len(records))
	for i := range records {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "scorer: rescore")
		}
		rec := records[i]
		if refresh && s.summarizer != nil && len(rec.Keywords) == 0 {
			s.refreshKeywords(ctx, &rec, profile)
		}
		res := s.Apply(&rec.CandidateSupervisor, profile)
		if !s.Keep(&rec.CandidateSupervisor, res) {
			s.log.Debug("record filtered",
				zap.String("canonical_id", rec.CanonicalID),
				zap.Float64("fit_score", rec.FitScore),
				zap.Int("matched", res.Matched()),
			)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Scorer) refreshKeywords(ctx context.Context, rec *model.CanonicalRecord, profile model.ResearchProfile) {
	text := strings.Join(append([]string{rec.Name, rec.Title, rec.Notes}, rec.EvidenceSnippets...), "\n")
	sum, err := s.summarizer.Summarize(ctx, text, profile)
	if err != nil {
		s.log.Warn("keyword refresh failed",
			zap.String("canonical_id", rec.CanonicalID), zap.Error(err))
		return
	}
	rec.Keywords = sum.Keywords
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
