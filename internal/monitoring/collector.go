package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/supervisor-finder/internal/model"
	"github.com/sells-group/supervisor-finder/internal/store"
)

// MetricsSnapshot holds crawl health aggregated over recent runs.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsAborted  int     `json:"runs_aborted"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	RunFailRate  float64 `json:"run_fail_rate"`

	// Outcome metrics summed over finished runs.
	Candidates     int            `json:"candidates"`
	Fetched        int            `json:"fetched"`
	CacheHits      int            `json:"cache_hits"`
	Saved          int            `json:"saved"`
	Dropped        int            `json:"dropped"`
	DroppedReasons map[string]int `json:"dropped_reasons"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// FetchFailureRate is the share of candidates dropped as fetch_failed.
func (s *MetricsSnapshot) FetchFailureRate() float64 {
	if s.Candidates == 0 {
		return 0
	}
	return float64(s.DroppedReasons[model.ReasonFetchFailed]) / float64(s.Candidates)
}

// ReasonShare is the share of drops attributed to reason.
func (s *MetricsSnapshot) ReasonShare(reason string) float64 {
	if s.Dropped == 0 {
		return 0
	}
	return float64(s.DroppedReasons[reason]) / float64(s.Dropped)
}

// RunLister is the store method the collector needs.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers metrics from run bookkeeping.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		DroppedReasons: make(map[string]int),
		LookbackHours:  lookbackHours,
		CollectedAt:    now,
	}

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusAborted:
			snap.RunsAborted++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			snap.RunsRunning++
		}
		snap.add(r.Stats)
	}

	finished := snap.RunsComplete + snap.RunsAborted + snap.RunsFailed
	if finished > 0 {
		snap.RunFailRate = float64(snap.RunsAborted+snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}

// CollectRun builds a snapshot from a single run's stats.
func CollectRun(stats *model.RunStats) *MetricsSnapshot {
	snap := &MetricsSnapshot{
		DroppedReasons: make(map[string]int),
		RunsTotal:      1,
		CollectedAt:    time.Now().UTC(),
	}
	if stats.Aborted {
		snap.RunsAborted = 1
	} else {
		snap.RunsComplete = 1
	}
	snap.add(stats)
	return snap
}

func (s *MetricsSnapshot) add(stats *model.RunStats) {
	if stats == nil {
		return
	}
	s.Candidates += stats.Candidates
	s.Fetched += stats.Fetched
	s.CacheHits += stats.CacheHits
	s.Saved += stats.Saved
	s.Dropped += stats.Dropped
	for reason, n := range stats.DroppedReasons {
		s.DroppedReasons[reason] += n
	}
}
