package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/supervisor-finder/internal/db"
	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/resilience"
)

// PostgresStore implements Repository using a pgx pool.
type PostgresStore struct {
	pool db.Pool
	now  func() time.Time
}

// NewPostgres wraps an open pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, now: func() time.Time { return time.Now().UTC() }}
}

// Pool returns the underlying database pool.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS supervisors (
	canonical_id       TEXT PRIMARY KEY,
	name               TEXT NOT NULL,
	first_name         TEXT NOT NULL DEFAULT '',
	last_name          TEXT NOT NULL DEFAULT '',
	title              TEXT NOT NULL DEFAULT '',
	institution        TEXT NOT NULL,
	domain             TEXT NOT NULL DEFAULT '',
	country            TEXT NOT NULL DEFAULT '',
	region             TEXT NOT NULL DEFAULT '',
	qs_rank            INTEGER NOT NULL DEFAULT 0,
	email              TEXT NOT NULL DEFAULT '',
	email_confidence   TEXT NOT NULL DEFAULT 'none',
	profile_url        TEXT NOT NULL DEFAULT '',
	homepage_url       TEXT NOT NULL DEFAULT '',
	scholar_search_url TEXT NOT NULL DEFAULT '',
	keywords           TEXT NOT NULL DEFAULT '[]',
	keywords_text      TEXT NOT NULL DEFAULT '',
	publications_links TEXT NOT NULL DEFAULT '[]',
	fit_score          DOUBLE PRECISION NOT NULL DEFAULT 0,
	tier               TEXT NOT NULL DEFAULT '',
	is_pi              BOOLEAN NOT NULL DEFAULT false,
	source_url         TEXT NOT NULL,
	evidence_snippets  TEXT NOT NULL DEFAULT '[]',
	notes              TEXT NOT NULL DEFAULT '',
	last_seen_at       TIMESTAMPTZ NOT NULL,
	last_verified_at   TIMESTAMPTZ,
	created_at         TIMESTAMPTZ NOT NULL,
	updated_at         TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS page_cache (
	url         TEXT PRIMARY KEY,
	final_url   TEXT NOT NULL DEFAULT '',
	html        TEXT NOT NULL,
	text        TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	status     TEXT NOT NULL DEFAULT 'running',
	stats      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_supervisors_institution ON supervisors(institution);
CREATE INDEX IF NOT EXISTS idx_supervisors_region ON supervisors(LOWER(region));
CREATE INDEX IF NOT EXISTS idx_supervisors_country ON supervisors(LOWER(country));
CREATE INDEX IF NOT EXISTS idx_supervisors_email ON supervisors(email);
CREATE INDEX IF NOT EXISTS idx_supervisors_last_seen ON supervisors(last_seen_at DESC);
CREATE INDEX IF NOT EXISTS idx_page_cache_fetched_at ON page_cache(fetched_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func pgPlaceholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

var (
	pgInsertRecord = func() string {
		phs := make([]string, len(recordColumns))
		for i := range recordColumns {
			phs[i] = pgPlaceholder(i + 1)
		}
		return `INSERT INTO supervisors (` + strings.Join(recordColumns, ", ") + `) VALUES (` + strings.Join(phs, ", ") + `)`
	}()
	pgUpdateRecord = func() string {
		sets := make([]string, 0, len(recordColumns)-1)
		for i, col := range recordColumns[1:] {
			sets = append(sets, col+" = "+pgPlaceholder(i+2))
		}
		return `UPDATE supervisors SET ` + strings.Join(sets, ", ") + ` WHERE canonical_id = $1`
	}()
)

// Upsert inserts c or merges it into the stored record with the same
// canonical ID. The existing row is locked for the duration of the merge.
func (s *PostgresStore) Upsert(ctx context.Context, c *model.CandidateSupervisor) (*model.CanonicalRecord, bool, error) {
	id := CanonicalID(c)
	if id == "" {
		return nil, false, ErrNoIdentity
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, false, pgErr(err, "postgres: begin upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := s.now()
	existing, err := scanRecord(tx.QueryRow(ctx, recordSelect+` WHERE canonical_id = $1 FOR UPDATE`, id))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, pgErr(err, "postgres: load record")
	}

	var (
		rec     *model.CanonicalRecord
		created bool
		query   string
	)
	if existing == nil {
		rec, created = NewRecord(id, c, now), true
		query = pgInsertRecord
	} else {
		rec = Merge(existing, c, now)
		query = pgUpdateRecord
	}

	args, err := recordArgs(rec)
	if err != nil {
		return nil, false, err
	}
	if _, err := tx.Exec(ctx, query, args...); err != nil {
		return nil, false, pgErr(err, "postgres: write record")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, pgErr(err, "postgres: commit upsert")
	}
	return rec, created, nil
}

func (s *PostgresStore) Get(ctx context.Context, canonicalID string) (*model.CanonicalRecord, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, recordSelect+` WHERE canonical_id = $1`, canonicalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", canonicalID)
	}
	return rec, nil
}

func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]model.CanonicalRecord, error) {
	where, args := buildFilter(f, pgPlaceholder)
	args = append(args, queryLimit(f.Limit))
	query := recordSelect + where + ` ORDER BY last_seen_at DESC, canonical_id LIMIT ` + pgPlaceholder(len(args))
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET ` + pgPlaceholder(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query records")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: query records iterate")
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM supervisors`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count records")
}

func (s *PostgresStore) GetCachedPage(ctx context.Context, url string, maxAge time.Duration) (*model.FetchResult, error) {
	query := `SELECT url, final_url, html, text, status_code, fetched_at FROM page_cache WHERE url = $1`
	args := []any{url}
	if maxAge > 0 {
		query += ` AND fetched_at > $2`
		args = append(args, s.now().Add(-maxAge))
	}

	var p model.FetchResult
	err := s.pool.QueryRow(ctx, query, args...).
		Scan(&p.URL, &p.FinalURL, &p.HTML, &p.Text, &p.StatusCode, &p.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached page")
	}
	return &p, nil
}

func (s *PostgresStore) SetCachedPage(ctx context.Context, page *model.FetchResult) error {
	fetchedAt := page.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO page_cache (url, final_url, html, text, status_code, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (url) DO UPDATE SET final_url = EXCLUDED.final_url, html = EXCLUDED.html,
		 text = EXCLUDED.text, status_code = EXCLUDED.status_code, fetched_at = EXCLUDED.fetched_at`,
		page.URL, page.FinalURL, page.HTML, page.Text, page.StatusCode, fetchedAt.UTC(),
	)
	return pgErr(err, "postgres: set cached page")
}

func (s *PostgresStore) PurgeCache(ctx context.Context, olderThan time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM page_cache WHERE fetched_at <= $1`, s.now().Add(-olderThan))
	if err != nil {
		return 0, eris.Wrap(err, "postgres: purge cache")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := s.now()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		id, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &model.Run{ID: id, Status: model.RunStatusRunning, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats *model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, stats = $2, updated_at = $3 WHERE id = $4`,
		string(status), string(statsJSON), s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT id, status, stats::text, created_at, updated_at FROM runs WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, eris.Wrapf(err, "postgres: get run %s", runID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, stats::text, created_at, updated_at FROM runs WHERE 1=1`
	var args []any
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.CreatedAfter.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.CreatedAfter)
		argIdx++
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

// Transient Postgres error codes.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

// pgErr wraps err, marking serialization failures, deadlocks and the
// insert race on a new canonical ID as transient.
func pgErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		switch pe.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgUniqueViolation:
			return resilience.NewTransientError(eris.Wrap(err, msg), 0)
		}
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(eris.Wrap(err, msg), 0)
	}
	return eris.Wrap(err, msg)
}
