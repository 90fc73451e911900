package model

import "time"

// DiscoveredVia records how a candidate URL entered the pipeline.
type DiscoveredVia string

const (
	DiscoveredViaSearch     DiscoveredVia = "search"
	DiscoveredViaDirectory  DiscoveredVia = "directory"
	DiscoveredViaPagination DiscoveredVia = "pagination"
)

// CandidateURL is a page queued for processing. It is consumed exactly once.
type CandidateURL struct {
	URL           string        `json:"url"`
	Domain        string        `json:"domain"`
	DiscoveredVia DiscoveredVia `json:"discovered_via"`
}

// FetchResult is a fetched page with its extracted plain text.
type FetchResult struct {
	URL        string    `json:"url"`
	FinalURL   string    `json:"final_url,omitempty"`
	HTML       string    `json:"html"`
	Text       string    `json:"text"`
	StatusCode int       `json:"status_code"`
	FetchedAt  time.Time `json:"fetched_at"`
	FromCache  bool      `json:"from_cache"`
}

// ResolvedURL returns the URL after redirects, falling back to the requested URL.
func (r *FetchResult) ResolvedURL() string {
	if r.FinalURL != "" {
		return r.FinalURL
	}
	return r.URL
}
