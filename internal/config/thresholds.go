package config

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Thresholds gathers every heuristic cutoff used by the classifier,
// extractor, validator and scorer.
type Thresholds struct {
	// MinProfileLinks is the number of distinct profile-like links at which
	// a page is treated as a directory.
	MinProfileLinks int `yaml:"min_profile_links" mapstructure:"min_profile_links"`
	// ConservativeProfileLinks is the lower bound above which a page that
	// fails the profile test is still expanded as a directory.
	ConservativeProfileLinks int `yaml:"conservative_profile_links" mapstructure:"conservative_profile_links"`
	MaxPaginationPages       int `yaml:"max_pagination_pages" mapstructure:"max_pagination_pages"`

	// MinTextLength is the shortest page text worth extracting from.
	// Profile-ID URLs get the lower MinTextLengthProfileID floor.
	MinTextLength          int `yaml:"min_text_length" mapstructure:"min_text_length"`
	MinTextLengthProfileID int `yaml:"min_text_length_profile_id" mapstructure:"min_text_length_profile_id"`
	MinNameLength          int `yaml:"min_name_length" mapstructure:"min_name_length"`
	MinInstitutionLength   int `yaml:"min_institution_length" mapstructure:"min_institution_length"`
	MaxPublicationLinks    int `yaml:"max_publication_links" mapstructure:"max_publication_links"`

	// MinFitScore is the extraction/validation floor; PIs use PIMinFitScore.
	MinFitScore   float64 `yaml:"min_fit_score" mapstructure:"min_fit_score"`
	PIMinFitScore float64 `yaml:"pi_min_fit_score" mapstructure:"pi_min_fit_score"`

	CoreWeight          float64 `yaml:"core_weight" mapstructure:"core_weight"`
	CoreCap             float64 `yaml:"core_cap" mapstructure:"core_cap"`
	AdjacentWeight      float64 `yaml:"adjacent_weight" mapstructure:"adjacent_weight"`
	AdjacentCap         float64 `yaml:"adjacent_cap" mapstructure:"adjacent_cap"`
	EmailBonus          float64 `yaml:"email_bonus" mapstructure:"email_bonus"`
	HighConfidenceBonus float64 `yaml:"high_confidence_bonus" mapstructure:"high_confidence_bonus"`

	CoreTierScore     float64 `yaml:"core_tier_score" mapstructure:"core_tier_score"`
	AdjacentTierScore float64 `yaml:"adjacent_tier_score" mapstructure:"adjacent_tier_score"`

	// Selection filter: keep when fit >= SelectMinFitScore with at least one
	// matched term, or when PI with fit >= SelectPIMinFitScore.
	SelectMinFitScore   float64 `yaml:"select_min_fit_score" mapstructure:"select_min_fit_score"`
	SelectPIMinFitScore float64 `yaml:"select_pi_min_fit_score" mapstructure:"select_pi_min_fit_score"`
}

// DefaultThresholds returns the documented default cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinProfileLinks:          8,
		ConservativeProfileLinks: 5,
		MaxPaginationPages:       5,
		MinTextLength:            20,
		MinTextLengthProfileID:   10,
		MinNameLength:            2,
		MinInstitutionLength:     2,
		MaxPublicationLinks:      5,
		MinFitScore:              0.1,
		PIMinFitScore:            0.05,
		CoreWeight:               0.1,
		CoreCap:                  1.0,
		AdjacentWeight:           0.05,
		AdjacentCap:              0.5,
		EmailBonus:               0.1,
		HighConfidenceBonus:      0.05,
		CoreTierScore:            0.35,
		AdjacentTierScore:        0.20,
		SelectMinFitScore:        0.15,
		SelectPIMinFitScore:      0.05,
	}
}

// FitFloor returns the minimum acceptable fit score for a record.
func (t Thresholds) FitFloor(isPI bool) float64 {
	if isPI {
		return t.PIMinFitScore
	}
	return t.MinFitScore
}

// Validate checks that the thresholds are internally consistent.
func (t Thresholds) Validate() error {
	var errs []string

	if t.MinProfileLinks <= 0 {
		errs = append(errs, "min_profile_links must be positive")
	}
	if t.ConservativeProfileLinks < 0 || t.ConservativeProfileLinks > t.MinProfileLinks {
		errs = append(errs, "conservative_profile_links must be between 0 and min_profile_links")
	}
	if t.PIMinFitScore > t.MinFitScore {
		errs = append(errs, "pi_min_fit_score must not exceed min_fit_score")
	}
	if t.AdjacentTierScore > t.CoreTierScore {
		errs = append(errs, "adjacent_tier_score must not exceed core_tier_score")
	}
	for name, v := range map[string]float64{
		"min_fit_score":           t.MinFitScore,
		"pi_min_fit_score":        t.PIMinFitScore,
		"core_tier_score":         t.CoreTierScore,
		"adjacent_tier_score":     t.AdjacentTierScore,
		"select_min_fit_score":    t.SelectMinFitScore,
		"select_pi_min_fit_score": t.SelectPIMinFitScore,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, name+" must be in [0,1]")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("thresholds: %s", strings.Join(errs, "; "))
	}
	return nil
}
