// Package multirun dispatches N independent eval.Evaluator runs
// concurrently, optionally bounded by a max-parallel-runs limit, and
// exposes an aggregate dashboard spanning every sub-run without letting any
// sub-run share mutable state with another.
package multirun

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/qym-go/qym/dataset"
	"github.com/qym-go/qym/eval"
	"github.com/qym-go/qym/metric"
	"github.com/qym-go/qym/observer"
	"github.com/qym-go/qym/result"
	"github.com/qym-go/qym/runstore"
	"github.com/qym-go/qym/telemetry"
)

// RunSpec describes one independent evaluation to fan out: each sub-run
// owns an independent evaluator, observer set, and checkpoint file.
// Task/Dataset/Metrics/Registry/Config/Observer are forwarded directly to
// eval.New, so the Runner never reaches into a sub-run's internals.
type RunSpec struct {
	Name     string
	Task     any
	Dataset  dataset.Source
	Metrics  []string
	Registry *metric.Registry
	Config   eval.Config
	Observer observer.Observer
	Options  []eval.Option
}

// RunResult is the outcome of one sub-run.
type RunResult struct {
	SpecName string
	SubRunID string
	State    *result.State
	Err      error
}

// Runner dispatches a set of RunSpecs concurrently, bounded by
// MaxParallelRuns (nil = unbounded/all in parallel, 1 = sequential, N =
// bounded), and records each sub-run's lifecycle in a run registry.
type Runner struct {
	// MaxParallelRuns bounds concurrent sub-runs. nil means unbounded.
	MaxParallelRuns *int

	// Store records cross-run lifecycle metadata, giving an aggregate
	// dashboard somewhere durable to read "what's running" from. Defaults
	// to an in-memory store when nil.
	Store runstore.Store

	// Metrics, when set, is fed aggregate counters/gauges across every
	// sub-run (e.g. via telemetry/prommetrics, which exposes a pollable
	// /metrics surface distinct from the per-run OTEL push path).
	Metrics telemetry.Metrics

	// Dashboard, when set, receives a metadata_update event each time a
	// sub-run's aggregate progress changes, expressed as an RFC 7396 JSON
	// Merge Patch against the previous snapshot (see BuildMetadataPatch).
	Dashboard AggregateObserver
}

// AggregateObserver receives cross-sub-run progress snapshots. It is a
// narrower surface than observer.Observer because a dashboard spanning
// several runs cares about aggregate counts, not individual item payloads.
type AggregateObserver interface {
	OnAggregateUpdate(snapshot AggregateSnapshot, patch []byte)
}

// AggregateSnapshot is the metadata_update payload's "after" state: one
// entry per sub-run, keyed by RunSpec.Name.
type AggregateSnapshot struct {
	Runs map[string]SubRunStatus
}

// SubRunStatus is the aggregate-dashboard view of one sub-run's progress.
type SubRunStatus struct {
	SubRunID     string
	Status       runstore.Status
	TotalItems   int
	SuccessCount int
	ErrorCount   int
}

// Run executes every spec in specs, respecting r.MaxParallelRuns, and
// returns one RunResult per spec in the same order specs were given
// (regardless of completion order).
func (r *Runner) Run(ctx context.Context, specs []RunSpec) ([]RunResult, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	store := r.Store
	if store == nil {
		store = runstore.NewMemoryStore()
	}

	results := make([]RunResult, len(specs))
	snapshot := AggregateSnapshot{Runs: make(map[string]SubRunStatus, len(specs))}
	var snapMu sync.Mutex
	var lastPatch []byte

	sem := newSemaphore(r.MaxParallelRuns)

	var wg sync.WaitGroup
	for i, spec := range specs {
		i, spec := i, spec
		sem.acquire()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.release()
			results[i] = r.runOne(ctx, spec, store, &snapMu, &snapshot, &lastPatch)
		}()
	}
	wg.Wait()

	return results, nil
}

func (r *Runner) runOne(ctx context.Context, spec RunSpec, store runstore.Store, snapMu *sync.Mutex, snapshot *AggregateSnapshot, lastPatch *[]byte) RunResult {
	subRunID := uuid.NewString()

	_ = store.Upsert(ctx, runstore.Record{
		RunID:       subRunID,
		RunName:     spec.Name,
		DatasetName: datasetName(spec.Dataset),
		Model:       spec.Config.Model,
		Status:      runstore.StatusRunning,
	})
	r.publishUpdate(snapMu, snapshot, lastPatch, spec.Name, SubRunStatus{SubRunID: subRunID, Status: runstore.StatusRunning})

	opts := append([]eval.Option{}, spec.Options...)
	if spec.Observer != nil {
		opts = append(opts, eval.WithObserver(spec.Observer))
	}

	ev, err := eval.New(spec.Task, spec.Dataset, spec.Metrics, spec.Registry, spec.Config, opts...)
	if err != nil {
		_ = store.Upsert(ctx, runstore.Record{RunID: subRunID, RunName: spec.Name, Status: runstore.StatusFailed})
		r.publishUpdate(snapMu, snapshot, lastPatch, spec.Name, SubRunStatus{SubRunID: subRunID, Status: runstore.StatusFailed})
		return RunResult{SpecName: spec.Name, SubRunID: subRunID, Err: fmt.Errorf("multirun: construct evaluator for %q: %w", spec.Name, err)}
	}

	state, err := ev.Run(ctx)

	status := runstore.StatusCompleted
	var sub SubRunStatus
	if err != nil {
		status = runstore.StatusFailed
		sub = SubRunStatus{SubRunID: subRunID, Status: status}
	} else {
		sub = SubRunStatus{
			SubRunID:     subRunID,
			Status:       status,
			TotalItems:   state.TotalItems(),
			SuccessCount: len(state.SuccessfulItems()),
			ErrorCount:   len(state.FailedItems()),
		}
	}
	_ = store.Upsert(ctx, runstore.Record{RunID: subRunID, RunName: spec.Name, Status: status})
	r.publishUpdate(snapMu, snapshot, lastPatch, spec.Name, sub)

	if r.Metrics != nil {
		r.Metrics.IncCounter("multirun.subrun.completed", 1, "status", string(status))
	}

	return RunResult{SpecName: spec.Name, SubRunID: subRunID, State: state, Err: err}
}

// publishUpdate mutates the shared snapshot under lock and, if a Dashboard
// is attached, emits the JSON merge patch between the previous and new
// snapshot.
func (r *Runner) publishUpdate(mu *sync.Mutex, snapshot *AggregateSnapshot, lastPatch *[]byte, specName string, status SubRunStatus) {
	mu.Lock()
	defer mu.Unlock()

	before, err := marshalSnapshot(*snapshot)
	if err != nil {
		before = nil
	}
	snapshot.Runs[specName] = status
	after, err := marshalSnapshot(*snapshot)
	if err != nil {
		return
	}

	if r.Dashboard == nil {
		*lastPatch = after
		return
	}
	patch, err := BuildMetadataPatch(before, after)
	if err != nil {
		return
	}
	*lastPatch = after
	r.Dashboard.OnAggregateUpdate(*snapshot, patch)
}

func datasetName(ds dataset.Source) string {
	if ds == nil {
		return ""
	}
	return ds.Name()
}

// semaphore bounds concurrency to at most n concurrent holders; nil n means
// unbounded (acquire/release are no-ops).
type semaphore struct {
	ch chan struct{}
}

func newSemaphore(max *int) *semaphore {
	if max == nil || *max <= 0 {
		return &semaphore{}
	}
	return &semaphore{ch: make(chan struct{}, *max)}
}

func (s *semaphore) acquire() {
	if s.ch != nil {
		s.ch <- struct{}{}
	}
}

func (s *semaphore) release() {
	if s.ch != nil {
		<-s.ch
	}
}
