package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supervisor-finder/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// stepClock returns successive times one minute apart.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	next := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := next
		next = next.Add(time.Minute)
		return t
	}
}

func janeCandidate() *model.CandidateSupervisor {
	return &model.CandidateSupervisor{
		Name:              "Jane Smith",
		FirstName:         "Jane",
		LastName:          "Smith",
		Title:             "Professor",
		Institution:       "Example University",
		Domain:            "uni.edu",
		Country:           "UK",
		Region:            "Europe",
		Rank:              42,
		Email:             "jane.smith@uni.edu",
		EmailConfidence:   model.EmailConfidenceHigh,
		ProfileURL:        "https://uni.edu/people/jane",
		ScholarSearchURL:  "https://scholar.google.com/scholar?q=author%3A%22Jane+Smith%22",
		Keywords:          []string{"printmaking", "photography"},
		PublicationsLinks: []string{"https://orcid.org/0000-0000"},
		FitScore:          0.45,
		Tier:              model.TierCore,
		SourceURL:         "https://uni.edu/people/jane",
		EvidenceSnippets:  []string{"Email: mailto:jane.smith@uni.edu"},
		Notes:             "Matched 2 core and 0 adjacent keywords",
	}
}

var ignoreSeen = cmpopts.IgnoreFields(model.CanonicalRecord{}, "UpdatedAt", "LastSeenAt")

// --- Records ---

func TestSQLite_Upsert_InsertThenGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec, created, err := st.Upsert(ctx, janeCandidate())
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "email:jane.smith@uni.edu", rec.CanonicalID)
	require.NotNil(t, rec.LastVerifiedAt)

	got, err := st.Get(ctx, rec.CanonicalID)
	require.NoError(t, err)
	if diff := cmp.Diff(rec, got); diff != "" {
		t.Errorf("stored record mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLite_Upsert_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	st.now = stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	c := janeCandidate()
	c.EmailConfidence = model.EmailConfidenceLow

	first, created, err := st.Upsert(ctx, c)
	require.NoError(t, err)
	require.True(t, created)
	stored1, err := st.Get(ctx, first.CanonicalID)
	require.NoError(t, err)

	_, created, err = st.Upsert(ctx, c)
	require.NoError(t, err)
	assert.False(t, created)
	stored2, err := st.Get(ctx, first.CanonicalID)
	require.NoError(t, err)

	if diff := cmp.Diff(stored1, stored2, ignoreSeen); diff != "" {
		t.Errorf("second upsert changed stored state (-first +second):\n%s", diff)
	}
	assert.True(t, stored2.LastSeenAt.After(stored1.LastSeenAt))

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_Upsert_MergesByNameIdentity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	// Identity by name+institution+domain so both calls hit the same row.
	c := janeCandidate()
	c.Email = ""
	c.EmailConfidence = model.EmailConfidenceNone
	_, _, err := st.Upsert(ctx, c)
	require.NoError(t, err)

	again := janeCandidate()
	again.Email = ""
	again.Title = ""
	again.Keywords = []string{"sculpture"}
	rec, created, err := st.Upsert(ctx, again)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, []string{"printmaking", "photography", "sculpture"}, rec.Keywords)

	got, err := st.Get(ctx, rec.CanonicalID)
	require.NoError(t, err)
	assert.Equal(t, []string{"printmaking", "photography", "sculpture"}, got.Keywords)
	assert.Equal(t, "Professor", got.Title)
}

func TestSQLite_Upsert_NoIdentity(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, _, err := st.Upsert(context.Background(), &model.CandidateSupervisor{Title: "Professor"})
	assert.ErrorIs(t, err, ErrNoIdentity)
}

func TestSQLite_Upsert_Concurrent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := st.Upsert(ctx, janeCandidate())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	n, err := st.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_Get_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.Get(context.Background(), "email:nobody@uni.edu")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Query(t *testing.T) {
	st := newTestSQLiteStore(t)
	st.now = stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	uk := janeCandidate()
	de := &model.CandidateSupervisor{
		Name: "Max Mustermann", Institution: "Kunsthochschule", Domain: "khs.de",
		Country: "Germany", Region: "Europe", Rank: 300, Email: "max@khs.de",
		Keywords: []string{"ceramics"}, SourceURL: "https://khs.de/p/max",
	}
	us := &model.CandidateSupervisor{
		Name: "Ann Lee", Institution: "State University", Domain: "state.edu",
		Country: "USA", Region: "North America", Rank: 15, Email: "ann@state.edu",
		Keywords: []string{"Photography", "curation"}, SourceURL: "https://state.edu/ann",
	}
	for _, c := range []*model.CandidateSupervisor{uk, de, us} {
		_, _, err := st.Upsert(ctx, c)
		require.NoError(t, err)
	}

	names := func(recs []model.CanonicalRecord) []string {
		var out []string
		for _, r := range recs {
			out = append(out, r.Name)
		}
		return out
	}

	all, err := st.Query(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann Lee", "Max Mustermann", "Jane Smith"}, names(all), "newest first")

	got, err := st.Query(ctx, Filter{Regions: []string{"europe"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Max Mustermann", "Jane Smith"}, names(got))

	got, err = st.Query(ctx, Filter{Countries: []string{"usa", "Germany"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann Lee", "Max Mustermann"}, names(got))

	got, err = st.Query(ctx, Filter{Keywords: []string{"photo"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann Lee", "Jane Smith"}, names(got))

	got, err = st.Query(ctx, Filter{MaxRank: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann Lee", "Jane Smith"}, names(got))

	got, err = st.Query(ctx, Filter{MinRank: 20, MaxRank: 100})
	require.NoError(t, err)
	assert.Equal(t, []string{"Jane Smith"}, names(got))

	got, err = st.Query(ctx, Filter{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann Lee"}, names(got))

	got, err = st.Query(ctx, Filter{SeenSince: time.Date(2025, 1, 1, 0, 1, 0, 0, time.UTC)})
	require.NoError(t, err)
	assert.Equal(t, []string{"Ann Lee", "Max Mustermann"}, names(got))
}

// --- Page cache ---

func TestSQLite_PageCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }
	ctx := context.Background()

	miss, err := st.GetCachedPage(ctx, "https://uni.edu/people/jane", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, miss)

	page := &model.FetchResult{
		URL: "https://uni.edu/people/jane", FinalURL: "https://uni.edu/people/jane/",
		HTML: "<h1>Jane Smith</h1>", Text: "Jane Smith", StatusCode: 200,
		FetchedAt: now.Add(-30 * time.Minute),
	}
	require.NoError(t, st.SetCachedPage(ctx, page))

	got, err := st.GetCachedPage(ctx, page.URL, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, page.HTML, got.HTML)
	assert.Equal(t, page.FinalURL, got.FinalURL)
	assert.Equal(t, 200, got.StatusCode)

	stale, err := st.GetCachedPage(ctx, page.URL, 10*time.Minute)
	require.NoError(t, err)
	assert.Nil(t, stale, "entry older than maxAge is a miss")

	page.HTML = "<h1>Jane Smith</h1><p>updated</p>"
	page.FetchedAt = now
	require.NoError(t, st.SetCachedPage(ctx, page))
	got, err = st.GetCachedPage(ctx, page.URL, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, got.HTML, "updated")
}

func TestSQLite_PurgeCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, st.SetCachedPage(ctx, &model.FetchResult{URL: "https://a.edu/old", FetchedAt: now.Add(-10 * 24 * time.Hour)}))
	require.NoError(t, st.SetCachedPage(ctx, &model.FetchResult{URL: "https://a.edu/new", FetchedAt: now.Add(-time.Hour)}))

	n, err := st.PurgeCache(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := st.GetCachedPage(ctx, "https://a.edu/new", 0)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

// --- Runs ---

func TestSQLite_Runs(t *testing.T) {
	st := newTestSQLiteStore(t)
	st.now = stepClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	ctx := context.Background()

	r1, err := st.CreateRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, r1.Status)
	r2, err := st.CreateRun(ctx)
	require.NoError(t, err)

	stats := &model.RunStats{RunID: r1.ID, Saved: 3, Dropped: 2,
		DroppedReasons: map[string]int{"no_name": 2}, Aborted: true}
	require.NoError(t, st.FinishRun(ctx, r1.ID, model.RunStatusAborted, stats))

	got, err := st.GetRun(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusAborted, got.Status)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 3, got.Stats.Saved)
	assert.Equal(t, 2, got.Stats.DroppedReasons["no_name"])
	assert.True(t, got.Stats.Aborted)

	running, err := st.GetRun(ctx, r2.ID)
	require.NoError(t, err)
	assert.Nil(t, running.Stats)

	runs, err := st.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, r2.ID, runs[0].ID, "newest first")

	runs, err = st.ListRuns(ctx, RunFilter{Status: model.RunStatusAborted})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, r1.ID, runs[0].ID)

	runs, err = st.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, r1.ID, runs[0].ID)
}

func TestSQLite_RunNotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	err = st.FinishRun(ctx, "missing", model.RunStatusComplete, &model.RunStats{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}
