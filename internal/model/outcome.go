package model

import (
	"sort"
	"sync"
	"time"
)

// OutcomeStatus is the terminal state of a candidate URL.
type OutcomeStatus string

const (
	OutcomeSaved    OutcomeStatus = "saved"
	OutcomeDropped  OutcomeStatus = "dropped"
	OutcomeExpanded OutcomeStatus = "expanded" // directory page, produced more candidates
)

// Drop reasons recorded outside the extractor and validator.
const (
	ReasonFetchFailed   = "fetch_failed"
	ReasonNotAPerson    = "not_a_person"
	ReasonPersistFailed = "persist_failed"
	ReasonCancelled     = "cancelled"
	ReasonProfileCap    = "profile_cap"
)

// Outcome is the result of processing one candidate URL.
type Outcome struct {
	URL    string        `json:"url"`
	Status OutcomeStatus `json:"status"`
	Reason string        `json:"reason,omitempty"`
	Detail string        `json:"detail,omitempty"`
}

// RunStats aggregates outcomes for a pipeline run.
type RunStats struct {
	RunID          string         `json:"run_id"`
	Seeds          int            `json:"seeds"`
	Candidates     int            `json:"candidates"`
	Fetched        int            `json:"fetched"`
	CacheHits      int            `json:"cache_hits"`
	Directories    int            `json:"directories"`
	Saved          int            `json:"saved"`
	Dropped        int            `json:"dropped"`
	DroppedReasons map[string]int `json:"dropped_reasons"`
	StartedAt      time.Time      `json:"started_at"`
	FinishedAt     time.Time      `json:"finished_at,omitempty"`
	Aborted        bool           `json:"aborted"`
}

// ReasonCount is one entry of a sorted drop-reason summary.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// TopReasons returns drop reasons ordered by count, highest first.
func (s *RunStats) TopReasons() []ReasonCount {
	out := make([]ReasonCount, 0, len(s.DroppedReasons))
	for r, c := range s.DroppedReasons {
		out = append(out, ReasonCount{Reason: r, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Reason < out[j].Reason
	})
	return out
}

// OutcomeRecorder collects outcomes from concurrent workers.
type OutcomeRecorder struct {
	mu       sync.Mutex
	outcomes []Outcome
	stats    RunStats
}

// NewOutcomeRecorder creates a recorder for the given run.
func NewOutcomeRecorder(runID string, startedAt time.Time) *OutcomeRecorder {
	return &OutcomeRecorder{
		stats: RunStats{
			RunID:          runID,
			DroppedReasons: make(map[string]int),
			StartedAt:      startedAt,
		},
	}
}

// Record stores an outcome and updates the aggregate counters.
func (r *OutcomeRecorder) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
	switch o.Status {
	case OutcomeSaved:
		r.stats.Saved++
	case OutcomeExpanded:
		r.stats.Directories++
	case OutcomeDropped:
		r.stats.Dropped++
		r.stats.DroppedReasons[o.Reason]++
	}
}

// AddCandidates increments the candidate counter.
func (r *OutcomeRecorder) AddCandidates(n int) {
	r.mu.Lock()
	r.stats.Candidates += n
	r.mu.Unlock()
}

// AddSeed increments the seed counter.
func (r *OutcomeRecorder) AddSeed() {
	r.mu.Lock()
	r.stats.Seeds++
	r.mu.Unlock()
}

// AddFetch counts a completed fetch.
func (r *OutcomeRecorder) AddFetch(fromCache bool) {
	r.mu.Lock()
	r.stats.Fetched++
	if fromCache {
		r.stats.CacheHits++
	}
	r.mu.Unlock()
}

// Outcomes returns a copy of the recorded outcomes.
func (r *OutcomeRecorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Finish stamps the end time and returns a snapshot of the stats.
func (r *OutcomeRecorder) Finish(finishedAt time.Time, aborted bool) RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.FinishedAt = finishedAt
	r.stats.Aborted = aborted
	return r.snapshot()
}

// Stats returns a snapshot of the current counters.
func (r *OutcomeRecorder) Stats() RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot()
}

func (r *OutcomeRecorder) snapshot() RunStats {
	s := r.stats
	s.DroppedReasons = make(map[string]int, len(r.stats.DroppedReasons))
	for k, v := range r.stats.DroppedReasons {
		s.DroppedReasons[k] = v
	}
	return s
}
