package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/scorer"
	"github.com/sells-group/supervisor-finder/internal/store"
)

func seedRecords(t *testing.T, repo store.Repository, cands ...model.CandidateSupervisor) {
	t.Helper()
	for i := range cands {
		_, _, err := repo.Upsert(context.Background(), &cands[i])
		require.NoError(t, err)
	}
}

func TestSelector_PIFloor(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo,
		model.CandidateSupervisor{
			Name: "Ada Lovelace", Institution: "North University", Domain: "north.edu",
			SourceURL: "https://north.edu/people/ada", FitScore: 0.08, IsPI: true,
			Keywords: []string{"climate"},
		},
		model.CandidateSupervisor{
			Name: "Alan Turing", Institution: "North University", Domain: "north.edu",
			SourceURL: "https://north.edu/people/alan", FitScore: 0.08,
			Keywords: []string{"climate"},
		},
		model.CandidateSupervisor{
			Name: "Jane Smith", Institution: "South University", Domain: "south.edu",
			SourceURL: "https://south.edu/people/jane", Email: "jane@south.edu",
			EmailConfidence: model.EmailConfidenceHigh,
			Keywords:        []string{"ecology", "biodiversity", "conservation"},
		},
	)

	sel := NewSelector(repo, scorer.New(config.DefaultThresholds()), config.SelectConfig{}, false)
	got, err := sel.Select(context.Background(), testProfile, store.Filter{})
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "Jane Smith", got[0].Name)
	assert.Equal(t, model.TierCore, got[0].Tier)
	assert.InDelta(t, 0.45, got[0].FitScore, 1e-9)
	assert.Equal(t, "Ada Lovelace", got[1].Name)
	assert.InDelta(t, 0.05, got[1].FitScore, 1e-9)
}

func TestSelector_PerInstitutionCap(t *testing.T) {
	repo := newTestRepo(t)
	var cands []model.CandidateSupervisor
	for _, n := range []string{"Ann Lee", "Bob Ray", "Cat Day"} {
		cands = append(cands, model.CandidateSupervisor{
			Name: n, Institution: "North University", Domain: "north.edu",
			SourceURL: "https://north.edu/people/x", Keywords: []string{"ecology", "conservation"},
		})
	}
	seedRecords(t, repo, cands...)

	sel := NewSelector(repo, scorer.New(config.DefaultThresholds()), config.SelectConfig{MaxPerInstitution: 2}, false)
	assert.Equal(t, 2, sel.Options().MaxPerInstitution)
	assert.Equal(t, 100, sel.Options().Target)

	got, err := sel.Select(context.Background(), testProfile, store.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = sel.SelectWith(context.Background(), testProfile, store.Filter{}, scorer.SelectOptions{Target: 1, MaxPerInstitution: 10})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSelector_PagesPastQueryLimit(t *testing.T) {
	repo := newTestRepo(t)
	seedRecords(t, repo, model.CandidateSupervisor{
		Name: "Grace Hopper", Institution: "West University", Domain: "west.edu",
		SourceURL: "https://west.edu/people/grace", Email: "grace@west.edu",
		EmailConfidence: model.EmailConfidenceHigh,
		Keywords:        []string{"ecology", "biodiversity", "conservation"},
	})
	var weak []model.CandidateSupervisor
	for i := 0; i < 5; i++ {
		weak = append(weak, model.CandidateSupervisor{
			Name: fmt.Sprintf("Person %c", 'A'+i), Institution: fmt.Sprintf("Uni %d", i),
			Domain: "uni.edu", SourceURL: fmt.Sprintf("https://uni.edu/people/%d", i),
			Keywords: []string{"ecology", "conservation"},
		})
	}
	// Seeded later, so these sort ahead of Grace by last_seen_at.
	time.Sleep(5 * time.Millisecond)
	seedRecords(t, repo, weak...)

	sel := NewSelector(repo, scorer.New(config.DefaultThresholds()), config.SelectConfig{QueryLimit: 2}, false)
	got, err := sel.SelectWith(context.Background(), testProfile, store.Filter{}, scorer.SelectOptions{Target: 1, MaxPerInstitution: 10})
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "Grace Hopper", got[0].Name)
}
