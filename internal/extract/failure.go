package extract

import "fmt"

// Extraction failure reasons.
const (
	ReasonDomainMismatch  = "domain_mismatch"
	ReasonNoName          = "no_name"
	ReasonInvalidName     = "invalid_name"
	ReasonMissingTitle    = "missing_required_title"
	ReasonStudentPostdoc  = "student_postdoc"
	ReasonNegativeKeyword = "negative_keyword"
	ReasonTextTooShort    = "text_too_short"
	// ReasonVeryLowFitScore is suffixed with the score, e.g.
	// very_low_fit_score_0.04.
	ReasonVeryLowFitScore = "very_low_fit_score"
)

// Failure explains why a page did not yield a supervisor. Detail carries
// diagnostic context for logs and is not part of the reason taxonomy.
type Failure struct {
	Reason string
	Detail string
}

func (f *Failure) Error() string {
	if f.Detail == "" {
		return "extract: " + f.Reason
	}
	return fmt.Sprintf("extract: %s (%s)", f.Reason, f.Detail)
}

func fail(reason, detail string) *Failure {
	return &Failure{Reason: reason, Detail: detail}
}

func lowFitFailure(score float64) *Failure {
	return &Failure{Reason: fmt.Sprintf("%s_%.2f", ReasonVeryLowFitScore, score)}
}
