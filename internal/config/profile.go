package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/supervisor-finder/internal/model"
)

// LoadResearchProfile reads a research profile from a YAML file.
func LoadResearchProfile(path string) (*model.ResearchProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read profile %s", path)
	}
	return ParseResearchProfile(data)
}

// ParseResearchProfile decodes a YAML research profile and normalizes its
// keyword lists (trimmed, lowercased, de-duplicated).
func ParseResearchProfile(data []byte) (*model.ResearchProfile, error) {
	var p model.ResearchProfile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "config: parse profile")
	}
	p.CoreKeywords = normalizeTerms(p.CoreKeywords)
	p.AdjacentKeywords = normalizeTerms(p.AdjacentKeywords)
	p.NegativeKeywords = normalizeTerms(p.NegativeKeywords)
	p.RequiredContext = normalizeTerms(p.RequiredContext)
	if len(p.CoreKeywords) == 0 {
		return nil, eris.New("config: profile has no core_keywords")
	}
	return &p, nil
}

func normalizeTerms(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
