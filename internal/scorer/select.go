package scorer

import (
	"sort"
	"strings"

	"github.com/sells-group/supervisor-finder/internal/model"
)

// SelectOptions bounds a selection.
type SelectOptions struct {
	Target            int
	MaxPerInstitution int
	// MinInstitutions, when positive, reserves the first picks for the best
	// record of that many distinct institutions before filling by rank.
	MinInstitutions int
}

// DefaultSelectOptions returns the standard top-100 selection.
func DefaultSelectOptions() SelectOptions {
	return SelectOptions{Target: 100, MaxPerInstitution: 10}
}

// SortRecords orders records by tier, fit score and verification time,
// best first. Ties keep their input order.
func SortRecords(records []model.CanonicalRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Tier.Rank() != b.Tier.Rank() {
			return a.Tier.Rank() > b.Tier.Rank()
		}
		if a.FitScore != b.FitScore {
			return a.FitScore > b.FitScore
		}
		return verifiedUnix(a) > verifiedUnix(b)
	})
}

func verifiedUnix(r model.CanonicalRecord) int64 {
	if r.LastVerifiedAt == nil {
		return 0
	}
	return r.LastVerifiedAt.Unix()
}

// Select returns up to opts.Target records, best first, with no more than
// opts.MaxPerInstitution from any one institution. The input slice is not
// modified.
func Select(records []model.CanonicalRecord, opts SelectOptions) []model.CanonicalRecord {
	if opts.Target <= 0 {
		opts.Target = DefaultSelectOptions().Target
	}
	sorted := make([]model.CanonicalRecord, len(records))
	copy(sorted, records)
	SortRecords(sorted)

	picked := make([]bool, len(sorted))
	perInst := make(map[string]int)
	count := 0

	take := func(i int) bool {
		inst := institutionKey(sorted[i].Institution)
		if opts.MaxPerInstitution > 0 && perInst[inst] >= opts.MaxPerInstitution {
			return false
		}
		perInst[inst]++
		picked[i] = true
		count++
		return true
	}

	// First pass: one record from each of the top institutions.
	if opts.MinInstitutions > 0 {
		for i := range sorted {
			if count >= opts.Target || len(perInst) >= opts.MinInstitutions {
				break
			}
			if perInst[institutionKey(sorted[i].Institution)] == 0 {
				take(i)
			}
		}
	}

	for i := range sorted {
		if count >= opts.Target {
			break
		}
		if !picked[i] {
			take(i)
		}
	}

	out := make([]model.CanonicalRecord, 0, count)
	for i, ok := range picked {
		if ok {
			out = append(out, sorted[i])
		}
	}
	return out
}

// InstitutionCount returns the number of distinct institutions in records.
func InstitutionCount(records []model.CanonicalRecord) int {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[institutionKey(r.Institution)] = struct{}{}
	}
	return len(seen)
}

func institutionKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
