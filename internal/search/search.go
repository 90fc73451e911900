// Package search supplies the starting candidate URLs for each seed
// university.
package search

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/supervisor-finder/internal/classify"
	"github.com/sells-group/supervisor-finder/internal/model"
)

// Source returns the candidate URLs to crawl for a seed.
type Source interface {
	Candidates(ctx context.Context, seed model.Seed) ([]model.CandidateURL, error)
}

// fallbackPaths are tried for seeds that list no URLs.
var fallbackPaths = []string{"/people", "/staff"}

// StaticSource serves the URLs listed in a seeds file.
type StaticSource struct {
	log *zap.Logger
}

// NewStaticSource creates a StaticSource.
func NewStaticSource() *StaticSource {
	return &StaticSource{log: zap.L().With(zap.String("component", "search"))}
}

// Candidates returns the seed's listed URLs that belong to its domain,
// de-duplicated in order. A seed without URLs yields the conventional
// people/staff directory paths.
func (s *StaticSource) Candidates(ctx context.Context, seed model.Seed) ([]model.CandidateURL, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "search: candidates")
	}

	raw := seed.URLs
	if len(raw) == 0 {
		for _, p := range fallbackPaths {
			raw = append(raw, "https://"+seed.Domain+p)
		}
	}

	seen := make(map[string]struct{}, len(raw))
	out := make([]model.CandidateURL, 0, len(raw))
	for _, r := range raw {
		u, err := url.Parse(strings.TrimSpace(r))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			s.log.Warn("skipping invalid seed url", zap.String("url", r), zap.String("domain", seed.Domain))
			continue
		}
		if !classify.MatchesDomain(u.Host, seed.Domain) {
			s.log.Warn("skipping off-domain seed url", zap.String("url", r), zap.String("domain", seed.Domain))
			continue
		}
		key := classify.NormalizeURL(u.String())
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, model.CandidateURL{
			URL:           u.String(),
			Domain:        seed.Domain,
			DiscoveredVia: model.DiscoveredViaSearch,
		})
	}
	return out, nil
}

// seedsFile is the on-disk layout of a seeds file.
type seedsFile struct {
	Seeds []model.Seed `yaml:"seeds"`
}

// LoadSeeds reads a YAML seeds file.
func LoadSeeds(path string) ([]model.Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "search: read seeds %s", path)
	}
	return ParseSeeds(data)
}

// ParseSeeds decodes and validates a seeds document. Domains are
// lowercased with any scheme, "www." prefix or path removed.
func ParseSeeds(data []byte) ([]model.Seed, error) {
	var f seedsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "search: parse seeds")
	}
	if len(f.Seeds) == 0 {
		return nil, eris.New("search: seeds file lists no seeds")
	}

	var errs []string
	for i := range f.Seeds {
		s := &f.Seeds[i]
		s.Institution = strings.TrimSpace(s.Institution)
		s.Domain = cleanDomain(s.Domain)
		if s.Institution == "" {
			errs = append(errs, fmt.Sprintf("seed %d: institution is required", i))
		}
		if s.Domain == "" {
			errs = append(errs, fmt.Sprintf("seed %d: domain is required", i))
		}
	}
	if len(errs) > 0 {
		return nil, eris.Errorf("search: invalid seeds: %s", strings.Join(errs, "; "))
	}
	return f.Seeds, nil
}

func cleanDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexByte(d, '/'); i >= 0 {
		d = d[:i]
	}
	return d
}
