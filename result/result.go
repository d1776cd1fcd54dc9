// Package result accumulates per-item outcomes for a run and derives
// aggregate statistics from them (spec.md §3 RunState/ItemResult, §4.4).
// It is the in-memory mirror of what checkpoint persists to disk.
package result

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/qym-go/qym/item"
)

// ItemResult is the successful outcome of evaluating one dataset item.
type ItemResult struct {
	ItemID      string
	Input       any
	Output      any
	Expected    any
	Metadata    map[string]any
	Scores      map[string]item.Score
	TimeSeconds float64
	TraceID     string
	TraceURL    string
}

// ItemError is the outcome of an item whose task or setup failed before any
// score could be computed.
type ItemError struct {
	ItemID  string
	Message string
	TraceID string
}

// State accumulates results for one run. Safe for concurrent use: workers
// call AddResult/AddError from any goroutine, and the same lock serializes
// each read used for stats/serialization. WriteJSON and WriteXLSX compute
// metric statistics under a separate lock acquisition from the rest of
// their output, so an update landing between the two can appear in one
// part and not the other.
type State struct {
	DatasetName string
	RunName     string
	Metrics     []string
	RunMetadata map[string]any
	RunConfig   map[string]any

	StartedAt time.Time
	EndedAt   time.Time

	PlatformURL string

	mu      sync.RWMutex
	results map[string]ItemResult
	errors  map[string]ItemError
	order   []string
}

// New constructs an empty State for a run.
func New(datasetName, runName string, metrics []string, runMetadata, runConfig map[string]any) *State {
	return &State{
		DatasetName: datasetName,
		RunName:     runName,
		Metrics:     metrics,
		RunMetadata: runMetadata,
		RunConfig:   runConfig,
		StartedAt:   time.Now(),
		results:     map[string]ItemResult{},
		errors:      map[string]ItemError{},
	}
}

// AddResult records a successful item outcome.
func (s *State) AddResult(r ItemResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, existed := s.results[r.ItemID]; !existed {
		if _, existedErr := s.errors[r.ItemID]; !existedErr {
			s.order = append(s.order, r.ItemID)
		}
	}
	delete(s.errors, r.ItemID)
	s.results[r.ItemID] = r
}

// AddError records a failed item outcome.
func (s *State) AddError(e ItemError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, existed := s.errors[e.ItemID]; !existed {
		if _, existedRes := s.results[e.ItemID]; !existedRes {
			s.order = append(s.order, e.ItemID)
		}
	}
	delete(s.results, e.ItemID)
	s.errors[e.ItemID] = e
}

// Finish marks the run as complete.
func (s *State) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.EndedAt = time.Now()
}

// TotalItems is the number of items with either a result or an error.
func (s *State) TotalItems() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results) + len(s.errors)
}

// SuccessRate is the fraction of attempted items that produced a result
// rather than an error; 0 when no items were attempted.
func (s *State) SuccessRate() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := len(s.results) + len(s.errors)
	if total == 0 {
		return 0
	}
	return float64(len(s.results)) / float64(total)
}

// Duration reports elapsed wall time once Finish has been called, or zero
// before then.
func (s *State) Duration() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// MetricStats summarizes one metric's distribution across successful items.
type MetricStats struct {
	Mean        float64
	Std         float64
	Min         float64
	Max         float64
	SuccessRate float64
	N           int
}

// MetricStats computes MetricStats for metric, over every result that
// scored it numerically. Matches the original's get_metric_stats: scores
// that errored count toward the denominator of success_rate but not toward
// mean/min/max.
func (s *State) MetricStats(metric string) MetricStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var values []float64
	var failed int
	for _, r := range s.results {
		sc, ok := r.Scores[metric]
		if !ok {
			continue
		}
		if sc.IsError() {
			failed++
			continue
		}
		v, ok := sc.Numeric()
		if !ok {
			continue
		}
		values = append(values, v)
	}

	if len(values) == 0 {
		return MetricStats{}
	}

	stats := MetricStats{N: len(values)}
	sum := 0.0
	stats.Min, stats.Max = values[0], values[0]
	for _, v := range values {
		sum += v
		if v < stats.Min {
			stats.Min = v
		}
		if v > stats.Max {
			stats.Max = v
		}
	}
	stats.Mean = sum / float64(len(values))

	if len(values) > 1 {
		var sq float64
		for _, v := range values {
			d := v - stats.Mean
			sq += d * d
		}
		stats.Std = math.Sqrt(sq / float64(len(values)-1))
	}

	denom := len(values) + failed
	if denom > 0 {
		stats.SuccessRate = float64(len(values)) / float64(denom)
	}
	return stats
}

// TimingStats summarizes the distribution of per-item wall times.
type TimingStats struct {
	Mean  float64
	Std   float64
	Min   float64
	Max   float64
	Total float64
}

// TimingStats computes TimingStats across every successful item.
func (s *State) TimingStats() TimingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var times []float64
	for _, r := range s.results {
		times = append(times, r.TimeSeconds)
	}
	if len(times) == 0 {
		return TimingStats{}
	}

	var ts TimingStats
	ts.Min, ts.Max = times[0], times[0]
	for _, t := range times {
		ts.Total += t
		if t < ts.Min {
			ts.Min = t
		}
		if t > ts.Max {
			ts.Max = t
		}
	}
	ts.Mean = ts.Total / float64(len(times))
	if len(times) > 1 {
		var sq float64
		for _, t := range times {
			d := t - ts.Mean
			sq += d * d
		}
		ts.Std = math.Sqrt(sq / float64(len(times)-1))
	}
	return ts
}

// FailedItems returns the ids of every item that errored, in first-seen
// order.
func (s *State) FailedItems() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.order {
		if _, ok := s.errors[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// SuccessfulItems returns the ids of every item that produced a result, in
// first-seen order.
func (s *State) SuccessfulItems() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for _, id := range s.order {
		if _, ok := s.results[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// Result returns the recorded result for id, if any.
func (s *State) Result(id string) (ItemResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	return r, ok
}

// Error returns the recorded error for id, if any.
func (s *State) Error(id string) (ItemError, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.errors[id]
	return e, ok
}

// SortedMetrics returns Metrics in deterministic alphabetical order, used
// by serializers that need a stable column/key ordering.
func (s *State) SortedMetrics() []string {
	out := append([]string{}, s.Metrics...)
	sort.Strings(out)
	return out
}
