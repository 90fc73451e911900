package model

import "time"

// EmailConfidence describes how an email address was observed on a page.
type EmailConfidence string

const (
	EmailConfidenceHigh   EmailConfidence = "high"   // mailto: link
	EmailConfidenceMedium EmailConfidence = "medium" // visible text
	EmailConfidenceLow    EmailConfidence = "low"
	EmailConfidenceNone   EmailConfidence = "none"
)

// Verified reports whether the confidence level is strong enough to bump
// a record's verification clock.
func (c EmailConfidence) Verified() bool {
	return c == EmailConfidenceHigh || c == EmailConfidenceMedium
}

// Tier is a coarse relevance bucket derived from the fit score.
type Tier string

const (
	TierCore     Tier = "Core"
	TierAdjacent Tier = "Adjacent"
	TierNone     Tier = ""
)

// Rank orders tiers for sorting: Core > Adjacent > untiered.
func (t Tier) Rank() int {
	switch t {
	case TierCore:
		return 2
	case TierAdjacent:
		return 1
	default:
		return 0
	}
}

// ResearchProfile describes the research interests candidates are matched
// against. It is read-only input to extraction and scoring.
type ResearchProfile struct {
	CoreKeywords         []string `json:"core_keywords" yaml:"core_keywords"`
	AdjacentKeywords     []string `json:"adjacent_keywords" yaml:"adjacent_keywords"`
	NegativeKeywords     []string `json:"negative_keywords" yaml:"negative_keywords"`
	PreferredDepartments []string `json:"preferred_departments" yaml:"preferred_departments"`
	// RequiredContext, when non-empty, lists terms of which at least one
	// must appear in a record (e.g. an arts context) for it to score.
	RequiredContext []string `json:"required_context,omitempty" yaml:"required_context"`
}

// Seed is one university whose website is crawled.
type Seed struct {
	Institution string   `json:"institution" yaml:"institution"`
	Domain      string   `json:"domain" yaml:"domain"`
	Country     string   `json:"country,omitempty" yaml:"country"`
	Region      string   `json:"region,omitempty" yaml:"region"`
	Rank        int      `json:"rank,omitempty" yaml:"rank"`
	URLs        []string `json:"urls,omitempty" yaml:"urls"`
}

// CandidateSupervisor is an in-flight supervisor record produced by the
// extractor and refined by the scorer.
type CandidateSupervisor struct {
	Name              string          `json:"name"`
	FirstName         string          `json:"first_name,omitempty"`
	LastName          string          `json:"last_name,omitempty"`
	Title             string          `json:"title,omitempty"`
	Institution       string          `json:"institution"`
	Domain            string          `json:"domain,omitempty"`
	Country           string          `json:"country,omitempty"`
	Region            string          `json:"region,omitempty"`
	Rank              int             `json:"rank,omitempty"`
	Email             string          `json:"email,omitempty"`
	EmailConfidence   EmailConfidence `json:"email_confidence"`
	ProfileURL        string          `json:"profile_url,omitempty"`
	HomepageURL       string          `json:"homepage_url,omitempty"`
	ScholarSearchURL  string          `json:"scholar_search_url,omitempty"`
	Keywords          []string        `json:"keywords,omitempty"`
	PublicationsLinks []string        `json:"publications_links,omitempty"`
	FitScore          float64         `json:"fit_score"`
	Tier              Tier            `json:"tier,omitempty"`
	IsPI              bool            `json:"is_pi"`
	SourceURL         string          `json:"source_url"`
	EvidenceSnippets  []string        `json:"evidence_snippets,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

// CanonicalRecord is the persisted form of a CandidateSupervisor.
type CanonicalRecord struct {
	CandidateSupervisor
	CanonicalID    string     `json:"canonical_id"`
	LastSeenAt     time.Time  `json:"last_seen_at"`
	LastVerifiedAt *time.Time `json:"last_verified_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
