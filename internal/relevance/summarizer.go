// Package relevance turns profile page text into research keywords and a
// fit score against a research profile.
package relevance

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sells-group/supervisor-finder/internal/model"
)

// Summary is the relevance signal extracted from one page. Reason is free
// text and is only ever written to a record's notes.
type Summary struct {
	Keywords []string `json:"keywords"`
	FitScore float64  `json:"fit_score"`
	Reason   string   `json:"one_sentence_reason"`
}

// Summarizer extracts keywords and a fit score from page text.
type Summarizer interface {
	Summarize(ctx context.Context, pageText string, profile model.ResearchProfile) (Summary, error)
}

// MatchTerms returns the terms that occur in text as whole words, compared
// case-insensitively, in the order given and without duplicates.
func MatchTerms(text string, terms []string) []string {
	lower := strings.ToLower(text)
	var out []string
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		term := strings.ToLower(strings.TrimSpace(t))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		if containsWord(lower, term) {
			seen[term] = struct{}{}
			out = append(out, t)
		}
	}
	return out
}

// ContainsAny reports whether any of terms occurs in text as a whole word.
func ContainsAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		term := strings.ToLower(strings.TrimSpace(t))
		if term != "" && containsWord(lower, term) {
			return true
		}
	}
	return false
}

// containsWord finds term in text with non-word characters (or the string
// edges) on both sides. Both arguments must already be lowercased.
func containsWord(text, term string) bool {
	for start := 0; start <= len(text)-len(term); {
		i := strings.Index(text[start:], term)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(term)
		if boundaryBefore(text, i) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		start = i + size
	}
	return false
}

func boundaryBefore(s string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return !isWordRune(r)
}

func boundaryAfter(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(s[i:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// normalizeKeywords trims, drops empties and case-insensitive duplicates,
// and caps the list at limit entries.
func normalizeKeywords(in []string, limit int) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.Join(strings.Fields(k), " ")
		if k == "" {
			continue
		}
		key := strings.ToLower(k)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, k)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
