package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/sells-group/supervisor-finder/internal/classify"
	"github.com/sells-group/supervisor-finder/internal/names"
)

// nameSource is one place a name may be read from, in priority order.
type nameSource struct {
	label string
	value string
}

var honorificNameRe = regexp.MustCompile(`\b(?:Dr|Prof|Professor)\.?\s+([A-Z][\p{L}'-]+(?:\s+[A-Z][\p{L}'-]+){1,2})`)

// nameSources lists raw name candidates: H1, <title>, og/twitter title,
// schema.org Person markup, then a "Dr./Prof. First Last" phrase in text.
func nameSources(doc *goquery.Document, text string) []nameSource {
	var out []nameSource
	add := func(label, v string) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, nameSource{label: label, value: v})
		}
	}

	add("h1", doc.Find("h1").First().Text())
	add("title", classify.TitleLead(doc.Find("title").First().Text()))
	add("og:title", doc.Find(`meta[property="og:title"]`).AttrOr("content", ""))
	add("twitter:title", doc.Find(`meta[name="twitter:title"], meta[property="twitter:title"]`).AttrOr("content", ""))

	person := doc.Find(`[itemtype*="schema.org/Person"]`).First()
	if person.Length() > 0 {
		add("schema", person.Find(`[itemprop="name"]`).First().Text())
	}
	add("json-ld", jsonLDPersonName(doc))

	if m := honorificNameRe.FindStringSubmatch(text); m != nil {
		add("text", m[1])
	}
	return out
}

// jsonLDPersonName returns the name of the first JSON-LD Person object.
func jsonLDPersonName(doc *goquery.Document) string {
	var name string
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var raw any
		if err := json.Unmarshal([]byte(s.Text()), &raw); err != nil {
			return true
		}
		name = findPerson(raw)
		return name == ""
	})
	return name
}

func findPerson(v any) string {
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if n := findPerson(item); n != "" {
				return n
			}
		}
	case map[string]any:
		if typ, _ := t["@type"].(string); typ == "Person" {
			if n, _ := t["name"].(string); n != "" {
				return n
			}
		}
		if graph, ok := t["@graph"]; ok {
			return findPerson(graph)
		}
	}
	return ""
}

// pickName returns the first candidate that cleans to a plausible personal
// name. The second return value is a name-like candidate that was rejected
// as URL or boilerplate text, used to tell invalid_name from no_name.
func pickName(sources []nameSource) (name, source, rejected string) {
	for _, s := range sources {
		cleaned := names.CleanName(s.value)
		if !names.LooksLikeName(cleaned) {
			continue
		}
		if names.LooksLikeURLOrBoilerplate(cleaned) {
			if rejected == "" {
				rejected = cleaned
			}
			continue
		}
		return cleaned, s.label, rejected
	}
	return "", "", rejected
}

func noNameDetail(doc *goquery.Document, text string) string {
	return fmt.Sprintf("h1=%t, title=%t, og_title=%t, text_len=%d",
		doc.Find("h1").Length() > 0,
		doc.Find("title").Length() > 0,
		doc.Find(`meta[property="og:title"]`).Length() > 0,
		utf8.RuneCountInString(text))
}

// titleVocabulary is ordered longest first so the most specific title wins.
var titleVocabulary = []string{
	"Senior Research Fellow", "Associate Professor", "Assistant Professor",
	"Principal Investigator", "Senior Lecturer", "Research Fellow",
	"Group Leader", "Professorin", "Professeur", "Professor", "Profesor",
	"Lab Head", "Lecturer", "Director", "Head of", "Reader", "Dozent",
	"Prof", "Dr",
}

var titleRes = func() []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(titleVocabulary))
	for i, t := range titleVocabulary {
		out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(t) + `\b`)
	}
	return out
}()

// findTitle returns the canonical academic title found in text and the
// index of the match, or "" and -1.
func findTitle(text string) (string, int) {
	for i, re := range titleRes {
		if loc := re.FindStringIndex(text); loc != nil {
			return titleVocabulary[i], loc[0]
		}
	}
	return "", -1
}

var (
	piRe             = regexp.MustCompile(`(?i:\b(principal investigator|group leader|lab head|lab director|research group leader|head of (the )?(lab|laboratory|group))\b)|\bPI\b`)
	studentPostdocRe = regexp.MustCompile(`(?i)\b(ph\.?\s?d\.?|doctoral|graduate|master'?s)\s+(student|candidate)\b|\bpost-?doc\b|\bpostdoctoral\b`)
	facultyTitleRe   = regexp.MustCompile(`(?i)\b(professor|professorin|profesor|professeur|lecturer|reader|principal investigator|group leader|lab head|director|dozent)\b`)
)

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

	genericMailboxes = map[string]struct{}{
		"info": {}, "enquiries": {}, "enquiry": {}, "contact": {}, "admin": {},
		"noreply": {}, "no-reply": {}, "office": {}, "webmaster": {},
	}
)

func isGenericMailbox(email string) bool {
	local, _, _ := strings.Cut(strings.ToLower(email), "@")
	if _, ok := genericMailboxes[local]; ok {
		return true
	}
	return strings.HasPrefix(local, "noreply") || strings.HasPrefix(local, "no-reply")
}

// findEmail prefers a mailto: link (high confidence) over an address in the
// visible text (medium). Generic mailboxes are skipped.
func findEmail(doc *goquery.Document, text string) (email, confidence, evidence string) {
	doc.Find(`a[href^="mailto:"], a[href^="MAILTO:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href := s.AttrOr("href", "")
		addr, _, _ := strings.Cut(href[len("mailto:"):], "?")
		if u, err := url.PathUnescape(addr); err == nil {
			addr = u
		}
		addr = strings.TrimSpace(addr)
		if !emailRe.MatchString(addr) || emailRe.FindString(addr) != addr || isGenericMailbox(addr) {
			return true
		}
		email = addr
		return false
	})
	if email != "" {
		return email, "high", "mailto:" + email
	}

	for _, loc := range emailRe.FindAllStringIndex(text, -1) {
		addr := text[loc[0]:loc[1]]
		if isGenericMailbox(addr) {
			continue
		}
		return addr, "medium", snippet(text, loc[0], loc[1], 30)
	}
	return "", "none", ""
}

// snippet returns text[start:end] widened by up to pad runes on each side.
func snippet(text string, start, end, pad int) string {
	for i := 0; i < pad && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	for i := 0; i < pad && end < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return strings.TrimSpace(text[start:end])
}

// sentenceAround returns the sentence containing index i, capped at 200
// runes, for use as title evidence.
func sentenceAround(text string, i int) string {
	start := strings.LastIndexAny(text[:i], ".!?")
	start++
	end := strings.IndexAny(text[i:], ".!?")
	if end < 0 {
		end = len(text)
	} else {
		end += i + 1
	}
	s := strings.TrimSpace(text[start:end])
	if utf8.RuneCountInString(s) > 200 {
		r := []rune(s)
		s = string(r[:200])
	}
	return s
}

var (
	homepageTexts    = []string{"personal website", "personal page", "homepage", "home page", "website"}
	publicationHints = []string{"publication", "paper", "research output", "scholar", "orcid"}
)

// findLinks returns the personal homepage link and up to maxPubs
// publication links, resolved against base.
func findLinks(doc *goquery.Document, base *url.URL, maxPubs int) (homepage string, pubs []string) {
	self := classify.NormalizeURL(base.String())
	seen := map[string]struct{}{}
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		ref, err := url.Parse(strings.TrimSpace(s.AttrOr("href", "")))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		link := abs.String()
		if classify.NormalizeURL(link) == self {
			return
		}
		anchor := strings.ToLower(strings.Join(strings.Fields(s.Text()), " "))
		lowerLink := strings.ToLower(link)

		if homepage == "" && containsAny(anchor, homepageTexts) {
			homepage = link
			return
		}
		if len(pubs) >= maxPubs {
			return
		}
		if containsAny(anchor, publicationHints) || strings.Contains(lowerLink, "scholar.google") || strings.Contains(lowerLink, "orcid.org") {
			if _, dup := seen[link]; !dup {
				seen[link] = struct{}{}
				pubs = append(pubs, link)
			}
		}
	})
	return homepage, pubs
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ScholarSearchURL returns a Google Scholar author search for name.
func ScholarSearchURL(name string) string {
	return "https://scholar.google.com/scholar?q=" + url.QueryEscape(`author:"`+name+`"`)
}
