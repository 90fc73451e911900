package store

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supervisor-finder/internal/model"
)

// recordColumns is the column order shared by inserts, updates and scans.
var recordColumns = []string{
	"canonical_id", "name", "first_name", "last_name", "title",
	"institution", "domain", "country", "region", "qs_rank",
	"email", "email_confidence", "profile_url", "homepage_url", "scholar_search_url",
	"keywords", "keywords_text", "publications_links", "fit_score", "tier",
	"is_pi", "source_url", "evidence_snippets", "notes",
	"last_seen_at", "last_verified_at", "created_at", "updated_at",
}

var recordSelect = "SELECT " + strings.Join(recordColumns, ", ") + " FROM supervisors"

// recordArgs returns r's column values in recordColumns order.
func recordArgs(r *model.CanonicalRecord) ([]any, error) {
	keywords, err := marshalList(r.Keywords)
	if err != nil {
		return nil, err
	}
	pubs, err := marshalList(r.PublicationsLinks)
	if err != nil {
		return nil, err
	}
	evidence, err := marshalList(r.EvidenceSnippets)
	if err != nil {
		return nil, err
	}
	var verified any
	if r.LastVerifiedAt != nil {
		verified = r.LastVerifiedAt.UTC()
	}
	return []any{
		r.CanonicalID, r.Name, r.FirstName, r.LastName, r.Title,
		r.Institution, r.Domain, r.Country, r.Region, r.Rank,
		r.Email, string(r.EmailConfidence), r.ProfileURL, r.HomepageURL, r.ScholarSearchURL,
		keywords, keywordsText(r.Keywords), pubs, r.FitScore, string(r.Tier),
		r.IsPI, r.SourceURL, evidence, r.Notes,
		r.LastSeenAt.UTC(), verified, r.CreatedAt.UTC(), r.UpdatedAt.UTC(),
	}, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.CanonicalRecord, error) {
	var (
		r                        model.CanonicalRecord
		keywords, pubs, evidence string
		kwText, confidence, tier string
	)
	err := row.Scan(
		&r.CanonicalID, &r.Name, &r.FirstName, &r.LastName, &r.Title,
		&r.Institution, &r.Domain, &r.Country, &r.Region, &r.Rank,
		&r.Email, &confidence, &r.ProfileURL, &r.HomepageURL, &r.ScholarSearchURL,
		&keywords, &kwText, &pubs, &r.FitScore, &tier,
		&r.IsPI, &r.SourceURL, &evidence, &r.Notes,
		&r.LastSeenAt, &r.LastVerifiedAt, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.EmailConfidence = model.EmailConfidence(confidence)
	r.Tier = model.Tier(tier)
	if r.Keywords, err = unmarshalList(keywords); err != nil {
		return nil, err
	}
	if r.PublicationsLinks, err = unmarshalList(pubs); err != nil {
		return nil, err
	}
	if r.EvidenceSnippets, err = unmarshalList(evidence); err != nil {
		return nil, err
	}
	return &r, nil
}

func marshalList(v []string) (string, error) {
	if len(v) == 0 {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal list")
	}
	return string(b), nil
}

func unmarshalList(s string) ([]string, error) {
	if s == "" || s == "[]" || s == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal list")
	}
	return out, nil
}
