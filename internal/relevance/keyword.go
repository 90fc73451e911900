package relevance

import (
	"context"
	"fmt"
	"math"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/model"
)

// KeywordSummarizer scores pages by counting research-profile keywords. It
// needs no network access and is deterministic.
type KeywordSummarizer struct {
	th config.Thresholds
}

// NewKeywordSummarizer creates a KeywordSummarizer using the scoring weights
// in th.
func NewKeywordSummarizer(th config.Thresholds) *KeywordSummarizer {
	return &KeywordSummarizer{th: th}
}

// Summarize returns the matched core and adjacent keywords and the weighted
// match score. Negative keywords are left to the extractor and scorer.
func (k *KeywordSummarizer) Summarize(ctx context.Context, pageText string, profile model.ResearchProfile) (Summary, error) {
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}
	core := MatchTerms(pageText, profile.CoreKeywords)
	adj := MatchTerms(pageText, profile.AdjacentKeywords)

	score := math.Min(float64(len(core))*k.th.CoreWeight, k.th.CoreCap) +
		math.Min(float64(len(adj))*k.th.AdjacentWeight, k.th.AdjacentCap)

	s := Summary{
		Keywords: normalizeKeywords(append(core, adj...), 0),
		FitScore: clamp01(score),
	}
	if len(s.Keywords) > 0 {
		s.Reason = fmt.Sprintf("Matched %d core and %d adjacent keywords", len(core), len(adj))
	}
	return s, nil
}
