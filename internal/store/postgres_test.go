package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/resilience"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := NewPostgres(mock)
	s.now = func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) }
	return s, mock
}

func anyArgs(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = pgxmock.AnyArg()
	}
	return out
}

// recordRow renders rec as a mock result row in recordColumns order.
func recordRow(t *testing.T, rec *model.CanonicalRecord) []any {
	t.Helper()
	vals, err := recordArgs(rec)
	require.NoError(t, err)
	vals[25] = rec.LastVerifiedAt
	return vals
}

func TestPostgresStore_Upsert_Insert(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	c := janeCandidate()

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM supervisors WHERE canonical_id = \$1 FOR UPDATE`).
		WithArgs("email:jane.smith@uni.edu").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO supervisors`).
		WithArgs(anyArgs(len(recordColumns))...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	rec, created, err := s.Upsert(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, s.now(), rec.CreatedAt)
	require.NotNil(t, rec.LastVerifiedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_MergesExisting(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := NewRecord("email:jane.smith@uni.edu", janeCandidate(), t0)

	incoming := janeCandidate()
	incoming.Title = ""
	incoming.EmailConfidence = model.EmailConfidenceLow
	incoming.Keywords = []string{"ceramics"}

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM supervisors WHERE canonical_id = \$1 FOR UPDATE`).
		WithArgs("email:jane.smith@uni.edu").
		WillReturnRows(pgxmock.NewRows(recordColumns).AddRow(recordRow(t, existing)...))
	mock.ExpectExec(`UPDATE supervisors SET name = \$2, .* WHERE canonical_id = \$1`).
		WithArgs(anyArgs(len(recordColumns))...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	rec, created, err := s.Upsert(context.Background(), incoming)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "Professor", rec.Title)
	assert.Equal(t, model.EmailConfidenceLow, rec.EmailConfidence)
	assert.Equal(t, []string{"printmaking", "photography", "ceramics"}, rec.Keywords)
	assert.True(t, rec.CreatedAt.Equal(t0))
	require.NotNil(t, rec.LastVerifiedAt)
	assert.True(t, rec.LastVerifiedAt.Equal(t0), "low confidence does not re-verify")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_UniqueViolationIsTransient(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("email:jane.smith@uni.edu").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectExec(`INSERT INTO supervisors`).
		WithArgs(anyArgs(len(recordColumns))...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	mock.ExpectRollback()

	_, _, err := s.Upsert(context.Background(), janeCandidate())
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Upsert_OtherErrorIsPermanent(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE`).
		WithArgs("email:jane.smith@uni.edu").
		WillReturnError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	mock.ExpectRollback()

	_, _, err := s.Upsert(context.Background(), janeCandidate())
	require.Error(t, err)
	assert.False(t, resilience.IsTransient(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Get_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM supervisors WHERE canonical_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Query(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	rec := NewRecord("email:jane.smith@uni.edu", janeCandidate(), s.now())

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE LOWER(country) IN ($1) AND (keywords_text LIKE $2) ORDER BY last_seen_at DESC, canonical_id LIMIT $3`)).
		WithArgs("uk", "%print%", 20).
		WillReturnRows(pgxmock.NewRows(recordColumns).AddRow(recordRow(t, rec)...))

	got, err := s.Query(context.Background(), Filter{Countries: []string{"UK"}, Keywords: []string{"Print"}, Limit: 20})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Jane Smith", got[0].Name)
	assert.Equal(t, []string{"printmaking", "photography"}, got[0].Keywords)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Query_Offset(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY last_seen_at DESC, canonical_id LIMIT $1 OFFSET $2`)).
		WithArgs(50, 100).
		WillReturnRows(pgxmock.NewRows(recordColumns))

	got, err := s.Query(context.Background(), Filter{Limit: 50, Offset: 100})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Count(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM supervisors`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetCachedPage_Miss(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM page_cache WHERE url = \$1 AND fetched_at > \$2`).
		WithArgs("https://uni.edu/x", pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	page, err := s.GetCachedPage(context.Background(), "https://uni.edu/x", time.Hour)
	require.NoError(t, err)
	assert.Nil(t, page)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SetCachedPage_Upsert(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(url\) DO UPDATE`).
		WithArgs("https://uni.edu/x", "", "<html>", "text", 200, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.SetCachedPage(context.Background(), &model.FetchResult{
		URL: "https://uni.edu/x", HTML: "<html>", Text: "text", StatusCode: 200,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PurgeCache(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`DELETE FROM page_cache WHERE fetched_at <= \$1`).
		WithArgs(s.now().Add(-24 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	n, err := s.PurgeCache(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateAndFinishRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO runs`).
		WithArgs(pgxmock.AnyArg(), "running", s.now(), s.now()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	run, err := s.CreateRun(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	mock.ExpectExec(`UPDATE runs SET status = \$1, stats = \$2`).
		WithArgs("complete", pgxmock.AnyArg(), pgxmock.AnyArg(), run.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = s.FinishRun(context.Background(), run.ID, model.RunStatusComplete, &model.RunStats{Saved: 1})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishRun(context.Background(), "missing", model.RunStatusFailed, nil)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stats := `{"run_id":"r1","saved":2,"dropped_reasons":{"no_name":1}}`

	mock.ExpectQuery(`SELECT id, status, stats::text, created_at, updated_at FROM runs WHERE id = \$1`).
		WithArgs("r1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "stats", "created_at", "updated_at"}).
			AddRow("r1", model.RunStatusComplete, &stats, s.now(), s.now()))

	run, err := s.GetRun(context.Background(), "r1")
	require.NoError(t, err)
	require.NotNil(t, run.Stats)
	assert.Equal(t, 2, run.Stats.Saved)
	assert.Equal(t, 1, run.Stats.DroppedReasons["no_name"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE 1=1 AND status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`)).
		WithArgs("aborted", 10, 5).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "stats", "created_at", "updated_at"}).
			AddRow("r9", model.RunStatusAborted, (*string)(nil), s.now(), s.now()))

	runs, err := s.ListRuns(context.Background(), RunFilter{Status: model.RunStatusAborted, Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].Stats)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRuns_CreatedAfter(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	cutoff := s.now().Add(-24 * time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE 1=1 AND created_at >= $1 ORDER BY created_at DESC LIMIT $2`)).
		WithArgs(cutoff, 100).
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "stats", "created_at", "updated_at"}))

	runs, err := s.ListRuns(context.Background(), RunFilter{CreatedAfter: cutoff})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Ping(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`SELECT 1`).WillReturnResult(pgxmock.NewResult("SELECT", 1))
	require.NoError(t, s.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
