// Package classify decides whether a fetched page lists many people, describes
// one person, or neither, and extracts candidate profile URLs from listings.
package classify

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/fetcher"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/names"
)

// Kind is the classification of a page.
type Kind string

const (
	KindDirectory  Kind = "directory"
	KindProfile    Kind = "profile"
	KindNotAPerson Kind = "not_a_person"
)

// Classification is the result of classifying one page. URLs holds the
// profile and pagination links of a directory and is empty otherwise.
type Classification struct {
	Kind             Kind
	URLs             []model.CandidateURL
	ProfileLinkCount int
}

// paginationSelector finds "next page" style links on listing pages.
const paginationSelector = "a.page-link, .pagination a, a[rel='next'], .pager a"

// bioMarkerRe matches section headings that appear on personal profile pages.
var bioMarkerRe = regexp.MustCompile(`(?i)\b(biography|bio|about me|research interests|research|publications|selected publications|contact|lebenslauf|biographie|forschung|publikationen|kontakt|recherche|biografía|investigación|publicaciones|contacto)\b`)

// Classifier classifies pages. It is safe for concurrent use.
type Classifier struct {
	th      config.Thresholds
	matcher *URLMatcher
	log     *zap.Logger
}

// New creates a Classifier. A nil matcher uses the default patterns.
func New(th config.Thresholds, matcher *URLMatcher) *Classifier {
	if matcher == nil {
		matcher = DefaultURLMatcher()
	}
	return &Classifier{
		th:      th,
		matcher: matcher,
		log:     zap.L().With(zap.String("component", "classify")),
	}
}

// Classify inspects page and decides its Kind. Link counting is restricted
// to the seed's domain and its subdomains.
func (c *Classifier) Classify(page *model.FetchResult, seed model.Seed) (Classification, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return Classification{}, eris.Wrapf(err, "classify: parse %s", page.URL)
	}
	base, err := url.Parse(page.ResolvedURL())
	if err != nil {
		return Classification{}, eris.Wrapf(err, "classify: parse url %s", page.ResolvedURL())
	}

	links := c.profileLinks(doc, base, seed.Domain)
	count := len(links)
	log := c.log.With(zap.String("url", page.URL), zap.Int("profile_links", count))

	switch {
	case count >= c.th.MinProfileLinks:
		log.Debug("classified as directory")
		return c.directory(doc, base, seed.Domain, links), nil
	case LooksLikeProfile(doc, page.Text):
		log.Debug("classified as profile")
		return Classification{Kind: KindProfile, ProfileLinkCount: count}, nil
	case count >= c.th.ConservativeProfileLinks:
		log.Debug("borderline page expanded as directory")
		return c.directory(doc, base, seed.Domain, links), nil
	case count > 0:
		log.Debug("few profile links, expanded as directory")
		return c.directory(doc, base, seed.Domain, links), nil
	default:
		log.Debug("classified as not a person")
		return Classification{Kind: KindNotAPerson}, nil
	}
}

func (c *Classifier) directory(doc *goquery.Document, base *url.URL, domain string, links []string) Classification {
	out := Classification{Kind: KindDirectory, ProfileLinkCount: len(links)}
	for _, l := range links {
		out.URLs = append(out.URLs, model.CandidateURL{URL: l, Domain: domain, DiscoveredVia: model.DiscoveredViaDirectory})
	}
	for _, l := range c.paginationLinks(doc, base, domain) {
		out.URLs = append(out.URLs, model.CandidateURL{URL: l, Domain: domain, DiscoveredVia: model.DiscoveredViaPagination})
	}
	return out
}

// profileLinks returns the distinct in-domain profile-like links on the page,
// in document order, excluding the page itself.
func (c *Classifier) profileLinks(doc *goquery.Document, base *url.URL, domain string) []string {
	self := NormalizeURL(base.String())
	seen := map[string]struct{}{self: {}}
	var out []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		abs, ok := resolve(base, s.AttrOr("href", ""))
		if !ok || !MatchesDomain(abs.Host, domain) {
			return
		}
		u := abs.String()
		if !c.matcher.IsProfileURL(u) {
			return
		}
		key := NormalizeURL(u)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		out = append(out, u)
	})
	return out
}

func (c *Classifier) paginationLinks(doc *goquery.Document, base *url.URL, domain string) []string {
	self := NormalizeURL(base.String())
	seen := map[string]struct{}{self: {}}
	var out []string
	doc.Find(paginationSelector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(out) >= c.th.MaxPaginationPages {
			return false
		}
		abs, ok := resolve(base, s.AttrOr("href", ""))
		if !ok || !MatchesDomain(abs.Host, domain) {
			return true
		}
		key := NormalizeURL(abs.String())
		if _, dup := seen[key]; dup {
			return true
		}
		seen[key] = struct{}{}
		out = append(out, abs.String())
		return true
	})
	return out
}

// LooksLikeProfile applies the single-person test: a heading that reads as a
// personal name and a biography-style section in the body text.
func LooksLikeProfile(doc *goquery.Document, text string) bool {
	if text == "" {
		text = fetcher.DocumentText(doc)
	}
	if !bioMarkerRe.MatchString(text) {
		return false
	}
	for _, cand := range HeadingCandidates(doc) {
		if names.LooksLikeName(names.CleanName(cand)) {
			return true
		}
	}
	return false
}

// HeadingCandidates returns the raw name-bearing headings of a page: the
// first H1, the leading segment of <title>, and og:title / twitter:title.
func HeadingCandidates(doc *goquery.Document) []string {
	var out []string
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		out = append(out, h1)
	}
	if t := TitleLead(doc.Find("title").First().Text()); t != "" {
		out = append(out, t)
	}
	for _, sel := range []string{`meta[property="og:title"]`, `meta[name="twitter:title"]`, `meta[property="twitter:title"]`} {
		if v := strings.TrimSpace(doc.Find(sel).AttrOr("content", "")); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// TitleLead returns the part of a <title> before the first |, - or :
// separator, which is where sites put the person's name.
func TitleLead(title string) string {
	title = strings.TrimSpace(title)
	if i := strings.IndexAny(title, "|:–—"); i >= 0 {
		title = title[:i]
	}
	if i := strings.Index(title, " - "); i >= 0 {
		title = title[:i]
	}
	return strings.TrimSpace(title)
}

// NormalizeURL lowercases scheme and host, strips www., the fragment and a
// trailing slash so equivalent links compare equal.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}

func resolve(base *url.URL, href string) (*url.URL, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return nil, false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, false
	}
	abs.Fragment = ""
	return abs, true
}
