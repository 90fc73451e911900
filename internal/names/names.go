// Package names holds the personal-name heuristics shared by the page
// classifier and the profile extractor.
package names

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	minNameLen = 2
	maxNameLen = 80
	maxWords   = 4
	maxWordLen = 20
)

// rejectTerms are words that never appear in a personal name but are common
// in page headings. Matched as whole words, so "Marshall" survives "all".
var rejectTerms = toSet(
	// institutional chrome
	"university", "college", "department", "school", "institute", "faculty",
	"staff", "directory", "home", "welcome", "about", "contact", "profile",
	"profiles", "page", "members", "member", "people", "center", "centre",
	"program", "programme", "programs", "course", "courses", "news", "events",
	"announcements", "search", "find", "browse", "list", "all", "view", "show",
	"more", "us", "our", "team", "group", "lab", "laboratory", "office",
	"biography", "overview", "introduction", "careers", "jobs", "faq",
	// role categories used as directory headings
	"alumni", "discovery", "discover", "giving", "visiting", "current",
	"doctoral", "students", "student", "postdoctoral", "postdoc", "postdocs",
	"fellows", "fellow", "fellowship", "fellowships", "associates",
	"assistants", "emeritus", "adjunct", "affiliated", "honorary",
	// research topics
	"music", "covid", "covid-19", "coronavirus", "pandemic", "therapy",
	"intervention", "treatment", "disease", "disorder", "education",
	"research", "study", "studies", "analysis", "method", "methods", "theory",
	"practice", "approach", "framework", "model", "system", "systems",
	"technology", "application", "development", "learning", "teaching",
	"instruction", "curriculum", "health", "medicine", "clinical", "medical",
	"patient", "publication", "publications", "journal", "article", "paper",
	"conference", "project", "projects", "initiative", "collaboration",
	"engineering", "hydrodynamics", "science", "sciences",
	// services and admin
	"service", "services", "support", "help", "information", "resources",
	"calendar", "schedule", "location", "address", "phone", "email",
	"website", "link", "links", "download", "grants", "funding", "admission",
	"admissions", "registration", "enrollment", "tuition", "scholarship",
	"scholarships", "studentship", "studentships", "financial", "aid",
	"accessibility", "integrated", "comfort", "taught", "masters",
	"bachelor", "beng", "meng", "msc", "phd", "login", "menu",
)

// rejectPhrases are multi-word headings matched on word boundaries.
var rejectPhrases = []string{
	"medical image", "image analysis", "machine learning", "deep learning",
	"biomedical engineering", "head of",
}

// nameParticles may appear lowercase inside a name.
var nameParticles = toSet(
	"van", "von", "de", "der", "den", "da", "di", "du", "la", "le", "del",
	"dos", "das", "bin", "ibn", "al", "y", "ter",
)

var (
	acronymRe  = regexp.MustCompile(`^[A-Z]{2,6}$`)
	wordSplit  = regexp.MustCompile(`[^\p{L}\p{N}'-]+`)
	emailRe    = regexp.MustCompile(`\S+@\S+`)
	httpRe     = regexp.MustCompile(`https?://\S+`)
	wwwRe      = regexp.MustCompile(`www\.\S+`)
	urlishRe   = regexp.MustCompile(`https?://|www\.|\.(com|org|edu|ac|uk|gov|net)\b|/[a-z]`)
	longDigits = regexp.MustCompile(`\d{4,}`)

	honorificRe = regexp.MustCompile(`(?i)\b(professor|prof|dr|mr|mrs|ms|miss|sir|dame)\b\.?\s*`)
	suffixRe    = regexp.MustCompile(`(?i)[,\s]+(ph\.?\s?d\.?|md|m\.d\.|jr\.?|sr\.?|iii|ii|iv|frs|fba|dphil)$`)
)

// LooksLikeName reports whether text is plausibly a person's name rather than
// a page heading, topic or navigation label. Callers should pass text through
// CleanName first so honorifics do not count as words.
func LooksLikeName(text string) bool {
	text = strings.TrimSpace(text)
	n := utf8.RuneCountInString(text)
	if n < minNameLen || n > maxNameLen {
		return false
	}
	if !strings.ContainsFunc(text, unicode.IsLetter) {
		return false
	}
	if isUpper(text) && n > 10 {
		return false
	}
	if strings.Count(text, ",") >= 2 {
		return false
	}
	if acronymRe.MatchString(text) {
		return false
	}

	lower := strings.ToLower(text)
	for _, w := range wordSplit.Split(lower, -1) {
		if _, bad := rejectTerms[w]; bad {
			return false
		}
	}
	padded := " " + strings.Join(wordSplit.Split(lower, -1), " ") + " "
	for _, p := range rejectPhrases {
		if strings.Contains(padded, " "+p+" ") {
			return false
		}
	}

	words := strings.Fields(text)
	switch {
	case len(words) == 1:
		r, _ := utf8.DecodeRuneInString(text)
		return n >= 5 && unicode.IsUpper(r) && !isUpper(text)
	case len(words) > maxWords:
		return false
	}
	for _, w := range words {
		if utf8.RuneCountInString(w) > maxWordLen {
			return false
		}
		r, _ := utf8.DecodeRuneInString(w)
		if unicode.IsUpper(r) {
			continue
		}
		if _, ok := nameParticles[strings.ToLower(w)]; !ok {
			return false
		}
	}
	// Particles alone do not make a name.
	first, _ := utf8.DecodeRuneInString(words[0])
	last, _ := utf8.DecodeRuneInString(words[len(words)-1])
	return unicode.IsUpper(first) || unicode.IsUpper(last)
}

// CleanName strips honorifics, degree suffixes, email addresses and URLs
// from a raw name candidate and collapses whitespace.
func CleanName(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	s = emailRe.ReplaceAllString(s, "")
	s = httpRe.ReplaceAllString(s, "")
	s = wwwRe.ReplaceAllString(s, "")
	s = honorificRe.ReplaceAllString(s, "")
	for {
		trimmed := suffixRe.ReplaceAllString(s, "")
		if trimmed == s {
			break
		}
		s = trimmed
	}
	s = strings.Trim(s, " ,;:|-–—()[]")
	return strings.Join(strings.Fields(s), " ")
}

// LooksLikeURLOrBoilerplate reports whether text is a URL fragment or
// otherwise cannot be a name even though it passed the word filters.
func LooksLikeURLOrBoilerplate(text string) bool {
	if utf8.RuneCountInString(text) < minNameLen || len(text) > 100 {
		return true
	}
	lower := strings.ToLower(text)
	return urlishRe.MatchString(lower) || longDigits.MatchString(text)
}

// collectiveTerms mark headings that describe a group of people.
var collectiveTerms = toSet(
	"alumni", "people", "staff", "directory", "students", "faculty",
	"members", "department", "team", "fellows", "associates", "postdocs",
	"researchers", "academics", "emeritus", "visiting", "current",
)

// IsCollectiveHeading reports whether a heading names a group of people
// ("Department Alumni", "Our Staff") rather than one person.
func IsCollectiveHeading(text string) bool {
	for _, w := range wordSplit.Split(strings.ToLower(text), -1) {
		if _, ok := collectiveTerms[w]; ok {
			return true
		}
	}
	return false
}

// SplitName splits a cleaned name into first and last name. A single word
// is treated as a last name and a middle initial is dropped.
func SplitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	case 2:
		return parts[0], parts[1]
	}
	if len(parts) == 3 && utf8.RuneCountInString(parts[1]) <= 2 {
		return parts[0], parts[2]
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func isUpper(s string) bool {
	hasLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

func toSet(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
