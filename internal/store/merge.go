package store

import (
	"strings"
	"time"

	"github.com/sells-group/supervisor-finder/internal/model"
)

// NewRecord builds the first stored version of a candidate.
func NewRecord(id string, c *model.CandidateSupervisor, now time.Time) *model.CanonicalRecord {
	rec := &model.CanonicalRecord{
		CandidateSupervisor: *c,
		CanonicalID:         id,
		LastSeenAt:          now,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if rec.EmailConfidence == "" {
		rec.EmailConfidence = model.EmailConfidenceNone
	}
	if c.EmailConfidence.Verified() {
		t := now
		rec.LastVerifiedAt = &t
	}
	return rec
}

// Merge folds incoming into a copy of existing. Non-empty incoming values
// replace stored ones; empty values never overwrite. List fields are
// unioned and IsPI is sticky.
func Merge(existing *model.CanonicalRecord, incoming *model.CandidateSupervisor, now time.Time) *model.CanonicalRecord {
	out := *existing
	c := &out.CandidateSupervisor

	setStr(&c.Name, incoming.Name)
	setStr(&c.FirstName, incoming.FirstName)
	setStr(&c.LastName, incoming.LastName)
	setStr(&c.Title, incoming.Title)
	setStr(&c.Institution, incoming.Institution)
	setStr(&c.Domain, incoming.Domain)
	setStr(&c.Country, incoming.Country)
	setStr(&c.Region, incoming.Region)
	setStr(&c.ProfileURL, incoming.ProfileURL)
	setStr(&c.HomepageURL, incoming.HomepageURL)
	setStr(&c.ScholarSearchURL, incoming.ScholarSearchURL)
	setStr(&c.SourceURL, incoming.SourceURL)
	setStr(&c.Notes, incoming.Notes)
	if incoming.Rank > 0 {
		c.Rank = incoming.Rank
	}

	if strings.TrimSpace(incoming.Email) != "" {
		c.Email = incoming.Email
		if incoming.EmailConfidence != "" {
			c.EmailConfidence = incoming.EmailConfidence
		}
	}
	if incoming.FitScore > 0 {
		c.FitScore = incoming.FitScore
		c.Tier = incoming.Tier
	}
	c.IsPI = c.IsPI || incoming.IsPI

	c.Keywords = unionFold(c.Keywords, incoming.Keywords)
	c.EvidenceSnippets = unionFold(c.EvidenceSnippets, incoming.EvidenceSnippets)
	c.PublicationsLinks = unionFold(c.PublicationsLinks, incoming.PublicationsLinks)

	out.LastSeenAt = now
	out.UpdatedAt = now
	if incoming.EmailConfidence.Verified() {
		t := now
		out.LastVerifiedAt = &t
	}
	return &out
}

func setStr(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

// unionFold appends the values of b not already in a, comparing
// case-insensitively and preserving first-seen order.
func unionFold(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			k := strings.ToLower(strings.TrimSpace(v))
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
