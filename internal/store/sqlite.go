package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/resilience"
)

// SQLiteStore implements Repository using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	// writeMu serializes upserts so the read-merge-write of one canonical
	// ID never interleaves with another writer in this process.
	writeMu sync.Mutex
	now     func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

const sqliteMigration = `
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
	fit_score          REAL NOT NULL DEFAULT 0,
	tier               TEXT NOT NULL DEFAULT '',
	is_pi              INTEGER NOT NULL DEFAULT 0,
	source_url         TEXT NOT NULL,
	evidence_snippets  TEXT NOT NULL DEFAULT '[]',
	notes              TEXT NOT NULL DEFAULT '',
	last_seen_at       DATETIME NOT NULL,
	last_verified_at   DATETIME,
	created_at         DATETIME NOT NULL,
	updated_at         DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS page_cache (
	url         TEXT PRIMARY KEY,
	final_url   TEXT NOT NULL DEFAULT '',
	html        TEXT NOT NULL,
	text        TEXT NOT NULL,
	status_code INTEGER NOT NULL,
	fetched_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'running',
	stats      TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_supervisors_institution ON supervisors(institution);
CREATE INDEX IF NOT EXISTS idx_supervisors_region ON supervisors(region);
CREATE INDEX IF NOT EXISTS idx_supervisors_country ON supervisors(country);
CREATE INDEX IF NOT EXISTS idx_supervisors_email ON supervisors(email);
CREATE INDEX IF NOT EXISTS idx_supervisors_last_seen ON supervisors(last_seen_at);
CREATE INDEX IF NOT EXISTS idx_page_cache_fetched_at ON page_cache(fetched_at);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Upsert inserts c or merges it into the stored record with the same
// canonical ID, inside one transaction.
func (s *SQLiteStore) Upsert(ctx context.Context, c *model.CandidateSupervisor) (*model.CanonicalRecord, bool, error) {
	id := CanonicalID(c)
	if id == "" {
		return nil, false, ErrNoIdentity
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, sqliteErr(err, "sqlite: begin upsert")
	}
	defer tx.Rollback() //nolint:errcheck

	now := s.now()
	existing, err := scanRecord(tx.QueryRowContext(ctx, recordSelect+` WHERE canonical_id = ?`, id))
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, sqliteErr(err, "sqlite: load record")
	}

	var (
		rec     *model.CanonicalRecord
		created bool
		query   string
	)
	if existing == nil {
		rec, created = NewRecord(id, c, now), true
		query = sqliteInsertRecord
	} else {
		rec = Merge(existing, c, now)
		query = sqliteUpdateRecord
	}

	args, err := recordArgs(rec)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// UPDATE binds the key last.
		args = append(args[1:], args[0])
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return nil, false, sqliteErr(err, "sqlite: write record")
	}
	if err := tx.Commit(); err != nil {
		return nil, false, sqliteErr(err, "sqlite: commit upsert")
	}
	return rec, created, nil
}

var (
	sqliteInsertRecord = `INSERT INTO supervisors (` + strings.Join(recordColumns, ", ") + `) VALUES (` +
		strings.TrimSuffix(strings.Repeat("?, ", len(recordColumns)), ", ") + `)`
	sqliteUpdateRecord = `UPDATE supervisors SET ` +
		strings.Join(recordColumns[1:], " = ?, ") + ` = ? WHERE canonical_id = ?`
)

func (s *SQLiteStore) Get(ctx context.Context, canonicalID string) (*model.CanonicalRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, recordSelect+` WHERE canonical_id = ?`, canonicalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", canonicalID)
	}
	return rec, nil
}

func (s *SQLiteStore) Query(ctx context.Context, f Filter) ([]model.CanonicalRecord, error) {
	where, args := buildFilter(f, func(int) string { return "?" })
	query := recordSelect + where + ` ORDER BY last_seen_at DESC, canonical_id LIMIT ?`
	args = append(args, queryLimit(f.Limit))
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close()

	var out []model.CanonicalRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: query records iterate")
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM supervisors`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count records")
}

func (s *SQLiteStore) GetCachedPage(ctx context.Context, url string, maxAge time.Duration) (*model.FetchResult, error) {
	query := `SELECT url, final_url, html, text, status_code, fetched_at FROM page_cache WHERE url = ?`
	args := []any{url}
	if maxAge > 0 {
		query += ` AND fetched_at > ?`
		args = append(args, s.now().Add(-maxAge))
	}

	var p model.FetchResult
	err := s.db.QueryRowContext(ctx, query, args...).
		Scan(&p.URL, &p.FinalURL, &p.HTML, &p.Text, &p.StatusCode, &p.FetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached page")
	}
	return &p, nil
}

func (s *SQLiteStore) SetCachedPage(ctx context.Context, page *model.FetchResult) error {
	fetchedAt := page.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO page_cache (url, final_url, html, text, status_code, fetched_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET final_url = excluded.final_url, html = excluded.html,
		 text = excluded.text, status_code = excluded.status_code, fetched_at = excluded.fetched_at`,
		page.URL, page.FinalURL, page.HTML, page.Text, page.StatusCode, fetchedAt.UTC(),
	)
	return sqliteErr(err, "sqlite: set cached page")
}

func (s *SQLiteStore) PurgeCache(ctx context.Context, olderThan time.Duration) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM page_cache WHERE fetched_at <= ?`, s.now().Add(-olderThan))
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: purge cache")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) CreateRun(ctx context.Context) (*model.Run, error) {
	id := uuid.New().String()
	now := s.now()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, string(model.RunStatusRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &model.Run{ID: id, Status: model.RunStatusRunning, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, runID string, status model.RunStatus, stats *model.RunStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, stats = ?, updated_at = ? WHERE id = ?`,
		string(status), string(statsJSON), s.now(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", runID)
	}
	return checkRowsAffected(res, runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, stats, created_at, updated_at FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return r, eris.Wrapf(err, "sqlite: get run %s", runID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, stats, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.CreatedAfter)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// helpers

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", id)
	}
	return nil
}

// scanRun reads a runs row. Stats are stored as JSON text in SQLite and
// JSONB in Postgres; both scan into a nullable string.
func scanRun(row scannable) (*model.Run, error) {
	var (
		r     model.Run
		stats *string
	)
	if err := row.Scan(&r.ID, &r.Status, &stats, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if stats != nil && *stats != "" && *stats != "null" {
		r.Stats = &model.RunStats{}
		if err := json.Unmarshal([]byte(*stats), r.Stats); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal run stats")
		}
	}
	return &r, nil
}

// sqliteErr wraps err, marking lock contention as transient.
func sqliteErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(eris.Wrap(err, msg), 0)
	}
	return eris.Wrap(err, msg)
}
