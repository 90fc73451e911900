// Package validate checks that an extracted supervisor is complete enough
// to persist.
package validate

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/model"
)

// Validation failure reasons. These are the only values Validate returns.
const (
	ReasonNoName            = "no_name_or_too_short"
	ReasonNoInstitution     = "no_institution"
	ReasonNoSourceURL       = "no_source_url"
	ReasonInvalidEmail      = "invalid_email_format"
	ReasonInvalidProfileURL = "invalid_profile_url_format"
	ReasonVeryLowFitScore   = "very_low_fit_score"
)

// ReasonPrefix marks validation failures in run statistics.
const ReasonPrefix = "validate_failed:"

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// Validator applies the completeness rules with configurable floors.
type Validator struct {
	th config.Thresholds
}

// New creates a Validator.
func New(th config.Thresholds) *Validator {
	return &Validator{th: th}
}

// Validate reports whether c may be persisted, and the reason when not.
func (v *Validator) Validate(c *model.CandidateSupervisor) (bool, string) {
	if c == nil || utf8.RuneCountInString(strings.TrimSpace(c.Name)) < v.th.MinNameLength {
		return false, ReasonNoName
	}
	if utf8.RuneCountInString(strings.TrimSpace(c.Institution)) < v.th.MinInstitutionLength {
		return false, ReasonNoInstitution
	}
	if strings.TrimSpace(c.SourceURL) == "" {
		return false, ReasonNoSourceURL
	}
	if c.Email != "" && !emailRe.MatchString(c.Email) {
		return false, ReasonInvalidEmail
	}
	if c.ProfileURL != "" && !validURL(c.ProfileURL) {
		return false, ReasonInvalidProfileURL
	}
	if c.FitScore < v.th.FitFloor(c.IsPI) {
		return false, ReasonVeryLowFitScore
	}
	return true, ""
}

// ValidEmail reports whether email is syntactically valid.
func ValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}
