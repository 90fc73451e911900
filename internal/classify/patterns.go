package classify

import (
	"net/url"
	"regexp"
	"strings"
)

// defaultAllowPatterns match personal profile pages. Patterns are applied to
// the lowercased host+path, so host-anchored forms start with ^.
var defaultAllowPatterns = []string{
	`/people/[^/]+/?$`,
	`/person/[^/]+`,
	`/staff/[^/]+/?$`,
	`/faculty/[^/]+/?$`,
	`/profiles?/[^/]+/?$`,
	`/researchers?/[^/]+`,
	`/academic/[^/]+`,
	`/professor/[^/]+`,
	`/members?/[^/]+/?$`,
	`/team/[^/]+/?$`,
	`/faculty-academics/[a-z0-9_-]+/?$`,
	`^profiles\.[^/]+/\d+-[^/]+/?$`,
	`^profiles\.[^/]+/[^/]+/?$`,
}

// defaultDenyPatterns match listing, pagination and non-person pages that
// would otherwise satisfy an allow pattern.
var defaultDenyPatterns = []string{
	`/people/?$`,
	`/people/[^/]+/[^/]+`,
	`/directory`,
	`/list`,
	`/all-`,
	`/browse`,
	`/faculty-academics/?$`,
	`/faculty-academics/[a-z]-[a-z]/?$`,
	`\.(pdf|docx?|xlsx?|pptx?|zip|jpe?g|png|gif|svg)$`,
	`/news/`,
	`/events?/`,
	`/publications?/`,
	`/research/`,
	`/alumni`,
	`/search`,
	`/login`,
	`/filter`,
	`/tag/`,
	`/category/`,
	`^profiles\.[^/]+/(alumni|discover|discovery|giving|about-us)/?$`,
}

// profileIDPattern matches numeric-ID profile URLs such as
// profiles.example.ac.uk/35462-jane-smith.
var profileIDPattern = regexp.MustCompile(`^profiles\.[^/]+/\d+-[^/]+/?$`)

// URLMatcher decides whether a URL looks like an individual's profile page.
type URLMatcher struct {
	allow []*regexp.Regexp
	deny  []*regexp.Regexp
}

// NewURLMatcher compiles allow and deny patterns. Empty lists fall back to
// the defaults. Invalid patterns are an error.
func NewURLMatcher(allow, deny []string) (*URLMatcher, error) {
	if len(allow) == 0 {
		allow = defaultAllowPatterns
	}
	if len(deny) == 0 {
		deny = defaultDenyPatterns
	}
	m := &URLMatcher{}
	for _, p := range allow {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		m.allow = append(m.allow, re)
	}
	for _, p := range deny {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		m.deny = append(m.deny, re)
	}
	return m, nil
}

var defaultMatcher, _ = NewURLMatcher(nil, nil)

// DefaultURLMatcher returns the matcher built from the default patterns.
func DefaultURLMatcher() *URLMatcher {
	return defaultMatcher
}

// IsProfileURL reports whether rawURL is allow-listed and not deny-listed.
// Listing pages paginated with ?page= are never profiles.
func (m *URLMatcher) IsProfileURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	if u.Query().Has("page") {
		return false
	}
	target := hostPath(u)
	for _, re := range m.deny {
		if re.MatchString(target) {
			return false
		}
	}
	for _, re := range m.allow {
		if re.MatchString(target) {
			return true
		}
	}
	return false
}

// IsProfileURL reports whether rawURL matches the default profile patterns.
func IsProfileURL(rawURL string) bool {
	return defaultMatcher.IsProfileURL(rawURL)
}

// IsProfileIDURL reports whether rawURL is a numeric-ID profile page. Such
// pages are often sparse, so extraction relaxes some requirements for them.
func IsProfileIDURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	return profileIDPattern.MatchString(hostPath(u))
}

// MatchesDomain reports whether host belongs to the seed domain: the domain
// itself, any subdomain of it (including profiles.<domain>), with a leading
// www. ignored on both sides.
func MatchesDomain(host, domain string) bool {
	host = normalizeHost(host)
	domain = normalizeHost(domain)
	if host == "" || domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func hostPath(u *url.URL) string {
	return normalizeHost(u.Host) + strings.ToLower(u.EscapedPath())
}

func normalizeHost(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if i := strings.LastIndex(h, ":"); i >= 0 && !strings.Contains(h[i:], "]") {
		h = h[:i]
	}
	return strings.TrimPrefix(h, "www.")
}
