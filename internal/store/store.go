// Package store persists canonical supervisor records, the page cache and
// run bookkeeping in SQLite or PostgreSQL.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supervisor-finder/internal/config"
	"github.com/sells-group/supervisor-finder/internal/db"
	"github.com/sells-group/supervisor-finder/internal/fetcher"
	"github.com/sells-group/supervisor-finder/internal/model"
)

// ErrNotFound is returned when a record or run does not exist.
var ErrNotFound = eris.New("store: not found")

// ErrNoIdentity is returned when a candidate has no email, name or
// profile URL to derive a canonical ID from.
var ErrNoIdentity = eris.New("store: candidate has no identity")

// Filter selects stored records. Zero values disable a criterion.
type Filter struct {
	Regions   []string  `json:"regions,omitempty"`
	Countries []string  `json:"countries,omitempty"`
	Keywords  []string  `json:"keywords,omitempty"`
	MinRank   int       `json:"min_rank,omitempty"`
	MaxRank   int       `json:"max_rank,omitempty"`
	SeenSince time.Time `json:"seen_since,omitempty"`
	Limit     int       `json:"limit,omitempty"`
	Offset    int       `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status       model.RunStatus `json:"status,omitempty"`
	CreatedAfter time.Time       `json:"created_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Repository defines the persistence interface for supervisor records.
type Repository interface {
	fetcher.Cache

	// Records
	Upsert(ctx context.Context, c *model.CandidateSupervisor) (*model.CanonicalRecord, bool, error)
	Get(ctx context.Context, canonicalID string) (*model.CanonicalRecord, error)
	Query(ctx context.Context, f Filter) ([]model.CanonicalRecord, error)
	Count(ctx context.Context) (int, error)

	// Page cache
	PurgeCache(ctx context.Context, olderThan time.Duration) (int, error)

	// Runs
	CreateRun(ctx context.Context) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, stats *model.RunStats) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the Repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Repository, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "sqlite":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres", "postgresql":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return NewPostgres(pool), nil
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// keywordsText is the lowercased search column for keyword filtering.
func keywordsText(keywords []string) string {
	return strings.ToLower(strings.Join(keywords, " | "))
}

const defaultQueryLimit = 500

func queryLimit(n int) int {
	if n <= 0 {
		return defaultQueryLimit
	}
	return n
}

// buildFilter renders f as a WHERE clause. ph returns the placeholder for
// the n-th (1-based) argument.
func buildFilter(f Filter, ph func(n int) string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return ph(len(args))
	}
	in := func(col string, values []string) {
		var phs []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				phs = append(phs, next(strings.ToLower(v)))
			}
		}
		if len(phs) > 0 {
			conds = append(conds, "LOWER("+col+") IN ("+strings.Join(phs, ", ")+")")
		}
	}

	in("region", f.Regions)
	in("country", f.Countries)

	var kw []string
	for _, k := range f.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			kw = append(kw, "keywords_text LIKE "+next("%"+strings.ToLower(k)+"%"))
		}
	}
	if len(kw) > 0 {
		conds = append(conds, "("+strings.Join(kw, " OR ")+")")
	}
	if f.MinRank > 0 {
		conds = append(conds, "qs_rank >= "+next(f.MinRank))
	}
	if f.MaxRank > 0 {
		conds = append(conds, "qs_rank > 0 AND qs_rank <= "+next(f.MaxRank))
	}
	if !f.SeenSince.IsZero() {
		conds = append(conds, "last_seen_at >= "+next(f.SeenSince.UTC()))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
