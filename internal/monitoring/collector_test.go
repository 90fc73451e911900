package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/store"
)

// mockRuns implements RunLister for testing.
type mockRuns struct {
	runs    []model.Run
	listErr error
}

func (m *mockRuns) ListRuns(_ context.Context, filter store.RunFilter) ([]model.Run, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var filtered []model.Run
	for _, r := range m.runs {
		if !filter.CreatedAfter.IsZero() && r.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		filtered = append(filtered, r)
	}
	return filtered, nil
}

func TestCollector_Collect(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	runs := &mockRuns{runs: []model.Run{
		{ID: "r1", Status: model.RunStatusComplete, CreatedAt: now.Add(-time.Hour), Stats: &model.RunStats{
			Candidates: 40, Fetched: 38, CacheHits: 10, Saved: 20, Dropped: 15,
			DroppedReasons: map[string]int{"no_name": 10, "fetch_failed": 5},
		}},
		{ID: "r2", Status: model.RunStatusAborted, CreatedAt: now.Add(-2 * time.Hour), Stats: &model.RunStats{
			Candidates: 10, Saved: 2, Dropped: 3,
			DroppedReasons: map[string]int{"no_name": 3},
		}},
		{ID: "r3", Status: model.RunStatusRunning, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "old", Status: model.RunStatusFailed, CreatedAt: now.Add(-48 * time.Hour)},
	}}

	c := NewCollector(runs)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsAborted)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.Equal(t, 0, snap.RunsFailed)
	assert.InDelta(t, 0.5, snap.RunFailRate, 0.001)
	assert.Equal(t, 50, snap.Candidates)
	assert.Equal(t, 22, snap.Saved)
	assert.Equal(t, 18, snap.Dropped)
	assert.Equal(t, 13, snap.DroppedReasons["no_name"])
	assert.InDelta(t, 0.1, snap.FetchFailureRate(), 0.001)
	assert.InDelta(t, 13.0/18.0, snap.ReasonShare("no_name"), 0.001)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollector_Collect_Empty(t *testing.T) {
	snap, err := NewCollector(&mockRuns{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Zero(t, snap.FetchFailureRate())
	assert.Zero(t, snap.ReasonShare("no_name"))
}

func TestCollector_Collect_ListError(t *testing.T) {
	_, err := NewCollector(&mockRuns{listErr: errors.New("db down")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list runs")
}

func TestCollectRun(t *testing.T) {
	snap := CollectRun(&model.RunStats{
		Candidates: 12, Saved: 1, Dropped: 11, Aborted: true,
		DroppedReasons: map[string]int{"missing_required_title": 11},
	})
	assert.Equal(t, 1, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsAborted)
	assert.Equal(t, 12, snap.Candidates)
	assert.Equal(t, 11, snap.DroppedReasons["missing_required_title"])
}
