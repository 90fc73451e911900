package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supervisor-finder/internal/model"
)

func TestCanonicalID_Priority(t *testing.T) {
	t.Parallel()

	withEmail := model.CandidateSupervisor{Name: "Jane Smith", Institution: "Uni", Email: "  Jane.Smith@Uni.EDU "}
	assert.Equal(t, "email:jane.smith@uni.edu", CanonicalID(&withEmail))

	byName := model.CandidateSupervisor{Name: "Jane Smith", Institution: "Example University", Domain: "uni.edu"}
	id := CanonicalID(&byName)
	assert.True(t, strings.HasPrefix(id, "name:"), id)

	byURL := model.CandidateSupervisor{ProfileURL: "https://uni.edu/people/jane"}
	assert.True(t, strings.HasPrefix(CanonicalID(&byURL), "url:"))

	assert.Empty(t, CanonicalID(&model.CandidateSupervisor{}))
}

func TestCanonicalID_EmailIgnoresOtherFields(t *testing.T) {
	a := model.CandidateSupervisor{Name: "Jane Smith", Institution: "Uni A", Email: "jane@uni.edu"}
	b := model.CandidateSupervisor{Name: "J. Smith", Institution: "Other", Email: "JANE@uni.edu", Title: "Reader"}
	assert.Equal(t, CanonicalID(&a), CanonicalID(&b))
}

func TestCanonicalID_NameNormalization(t *testing.T) {
	a := model.CandidateSupervisor{Name: "Jane  Smith", Institution: "Example University.", Domain: "uni.edu"}
	b := model.CandidateSupervisor{Name: "jane smith", Institution: "example university", Domain: "UNI.edu"}
	assert.Equal(t, CanonicalID(&a), CanonicalID(&b))

	c := model.CandidateSupervisor{Name: "Jane Smith", Institution: "Other University", Domain: "uni.edu"}
	assert.NotEqual(t, CanonicalID(&a), CanonicalID(&c))
}

func TestCanonicalID_ProfileURLNormalization(t *testing.T) {
	a := model.CandidateSupervisor{ProfileURL: "HTTPS://www.Uni.edu/people/jane/#bio"}
	b := model.CandidateSupervisor{ProfileURL: "https://uni.edu/people/jane"}
	assert.Equal(t, CanonicalID(&a), CanonicalID(&b))
}

func TestNewRecord(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	rec := NewRecord("id1", &model.CandidateSupervisor{Name: "A B", EmailConfidence: model.EmailConfidenceHigh}, now)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, now, rec.UpdatedAt)
	assert.Equal(t, now, rec.LastSeenAt)
	require.NotNil(t, rec.LastVerifiedAt)
	assert.Equal(t, now, *rec.LastVerifiedAt)

	rec = NewRecord("id2", &model.CandidateSupervisor{Name: "A B"}, now)
	assert.Nil(t, rec.LastVerifiedAt)
	assert.Equal(t, model.EmailConfidenceNone, rec.EmailConfidence)
}

func TestMerge_NeverRegresses(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(48 * time.Hour)

	existing := NewRecord("id", &model.CandidateSupervisor{
		Name:             "Jane Smith",
		Title:            "Professor",
		Institution:      "Example University",
		Email:            "jane@uni.edu",
		EmailConfidence:  model.EmailConfidenceHigh,
		Keywords:         []string{"Printmaking", "sculpture"},
		EvidenceSnippets: []string{"Email: mailto:jane@uni.edu"},
		FitScore:         0.45,
		Tier:             model.TierCore,
		IsPI:             true,
		SourceURL:        "https://uni.edu/people/jane",
	}, t0)

	incoming := &model.CandidateSupervisor{
		Name:        "Jane Smith",
		Institution: "Example University",
		Title:       "",
		Keywords:    []string{"printmaking", "ceramics"},
		SourceURL:   "https://uni.edu/people/jane-smith",
		Notes:       "new notes",
	}

	merged := Merge(existing, incoming, t1)

	assert.Equal(t, "jane@uni.edu", merged.Email, "empty email must not overwrite")
	assert.Equal(t, model.EmailConfidenceHigh, merged.EmailConfidence)
	assert.Equal(t, "Professor", merged.Title)
	assert.Equal(t, 0.45, merged.FitScore, "zero score must not overwrite")
	assert.Equal(t, model.TierCore, merged.Tier)
	assert.True(t, merged.IsPI, "PI is sticky")
	assert.Equal(t, []string{"Printmaking", "sculpture", "ceramics"}, merged.Keywords)
	assert.Equal(t, "https://uni.edu/people/jane-smith", merged.SourceURL)
	assert.Equal(t, "new notes", merged.Notes)

	assert.Equal(t, t1, merged.LastSeenAt)
	assert.Equal(t, t1, merged.UpdatedAt)
	assert.Equal(t, t0, merged.CreatedAt)
	require.NotNil(t, merged.LastVerifiedAt)
	assert.Equal(t, t0, *merged.LastVerifiedAt, "no verified email in incoming")

	// existing is untouched
	assert.Equal(t, t0, existing.LastSeenAt)
	assert.Equal(t, []string{"Printmaking", "sculpture"}, existing.Keywords)
}

func TestMerge_ReplacesWithNewerValues(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	existing := NewRecord("id", &model.CandidateSupervisor{
		Name: "Jane Smith", Institution: "Uni", Email: "old@uni.edu",
		EmailConfidence: model.EmailConfidenceMedium, FitScore: 0.2, Tier: model.TierAdjacent,
		SourceURL: "https://uni.edu/a",
	}, t0)

	merged := Merge(existing, &model.CandidateSupervisor{
		Email: "new@uni.edu", EmailConfidence: model.EmailConfidenceHigh,
		FitScore: 0.5, Tier: model.TierCore, Rank: 12,
	}, t1)

	assert.Equal(t, "new@uni.edu", merged.Email)
	assert.Equal(t, model.EmailConfidenceHigh, merged.EmailConfidence)
	assert.Equal(t, 0.5, merged.FitScore)
	assert.Equal(t, model.TierCore, merged.Tier)
	assert.Equal(t, 12, merged.Rank)
	require.NotNil(t, merged.LastVerifiedAt)
	assert.Equal(t, t1, *merged.LastVerifiedAt)
}

func TestMerge_LowerFitDropsTier(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := NewRecord("id", &model.CandidateSupervisor{
		Name: "Jane Smith", Institution: "Uni", FitScore: 0.45, Tier: model.TierCore,
		SourceURL: "https://uni.edu/a",
	}, t0)

	merged := Merge(existing, &model.CandidateSupervisor{FitScore: 0.15}, t0.Add(time.Hour))

	assert.Equal(t, 0.15, merged.FitScore)
	assert.Equal(t, model.TierNone, merged.Tier)
}

func TestUnionFold(t *testing.T) {
	assert.Nil(t, unionFold(nil, nil))
	assert.Equal(t, []string{"a", "B", "c"}, unionFold([]string{"a", "B"}, []string{"b", "c", " ", "A"}))
}

func TestBuildFilter(t *testing.T) {
	t.Parallel()

	where, args := buildFilter(Filter{}, func(int) string { return "?" })
	assert.Empty(t, where)
	assert.Empty(t, args)

	since := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	where, args = buildFilter(Filter{
		Regions:   []string{"Europe", " "},
		Countries: []string{"UK", "de"},
		Keywords:  []string{"Printmaking"},
		MinRank:   1,
		MaxRank:   200,
		SeenSince: since,
	}, pgPlaceholder)

	assert.Equal(t, " WHERE LOWER(region) IN ($1) AND LOWER(country) IN ($2, $3)"+
		" AND (keywords_text LIKE $4) AND qs_rank >= $5 AND qs_rank > 0 AND qs_rank <= $6"+
		" AND last_seen_at >= $7", where)
	assert.Equal(t, []any{"europe", "uk", "de", "%printmaking%", 1, 200, since}, args)
}
