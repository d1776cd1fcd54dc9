// Package eval implements the worker-pool scheduler that drives a dataset
// through a task adapter and a set of metrics, persisting progress to a
// checkpoint file and notifying observers as it goes (spec.md §4.3).
package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/qym-go/qym/adapter"
	"github.com/qym-go/qym/checkpoint"
	"github.com/qym-go/qym/dataset"
	"github.com/qym-go/qym/item"
	"github.com/qym-go/qym/metric"
	"github.com/qym-go/qym/observer"
	"github.com/qym-go/qym/platform"
	"github.com/qym-go/qym/result"
	"github.com/qym-go/qym/telemetry"
)

// Evaluator drives one dataset through one task against a fixed set of
// metrics. Construct with New; a construction-time failure (unsupported task
// shape, unknown metric, missing dataset) is fatal and returned directly
// rather than surfaced through Run.
type Evaluator struct {
	task       adapter.Task
	dataset    dataset.Source
	metricFns  map[string]metric.Func
	metricNames []string // declaration order, fixed for the life of the run
	cfg        Config

	observer observer.Observer
	tracer   telemetry.Tracer
	logger   telemetry.Logger
	stream   *platform.Stream
}

// Option configures an Evaluator at construction time.
type Option func(*Evaluator)

// WithObserver attaches the Observer notified of run/item lifecycle events.
// Defaults to observer.NoOp{} when not supplied.
func WithObserver(o observer.Observer) Option {
	return func(e *Evaluator) { e.observer = o }
}

// WithTracer overrides the Tracer used to open per-item/per-metric spans.
func WithTracer(t telemetry.Tracer) Option {
	return func(e *Evaluator) { e.tracer = t }
}

// WithLogger overrides the structured Logger used for warnings (blocking
// task detection, platform disablement, etc).
func WithLogger(l telemetry.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithPlatformStream attaches a platform.Stream the Evaluator emits the same
// lifecycle events to, in addition to Observer (spec.md §4.4).
func WithPlatformStream(s *platform.Stream) Option {
	return func(e *Evaluator) { e.stream = s }
}

// New constructs an Evaluator. task is auto-detected into an adapter.Task
// (spec.md §4.1); metricNames are resolved against registry up front so an
// unknown metric name is a fatal construction-time error rather than a
// mid-run surprise (error kind AdapterMismatch).
func New(task any, ds dataset.Source, metricNames []string, registry *metric.Registry, cfg Config, opts ...Option) (*Evaluator, error) {
	if ds == nil {
		return nil, NewError(KindDatasetMissing, fmt.Errorf("dataset is required"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var e *Evaluator
	adaptedTask, err := adapter.AutoDetect(task, adapter.WithBlockingWarningSink(func(msg string) {
		if e != nil {
			e.observer.OnWarning("", msg)
		}
	}))
	if err != nil {
		return nil, NewError(KindAdapterMismatch, err)
	}

	fns := make(map[string]metric.Func, len(metricNames))
	for _, name := range metricNames {
		fn, err := registry.Lookup(name)
		if err != nil {
			return nil, NewError(KindAdapterMismatch, err)
		}
		fns[name] = fn
	}

	e = &Evaluator{
		task:        adaptedTask,
		dataset:     ds,
		metricFns:   fns,
		metricNames: append([]string{}, metricNames...),
		cfg:         cfg,
		observer:    observer.NoOp{},
		tracer:      telemetry.NoopTracer{},
		logger:      telemetry.NoopLogger{},
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

// Run drives every dataset item through the pipeline and returns the
// accumulated result.State. ctx cancellation triggers the interrupt-grace
// shutdown sequence (spec.md §4.3 step 8): stop enqueuing, signal every
// worker, wait up to cfg.InterruptGrace for in-flight items to finish, then
// force-cancel remaining work.
func (e *Evaluator) Run(ctx context.Context) (*result.State, error) {
	now := time.Now()
	baseName := e.cfg.RunName
	if baseName == "" {
		baseName = e.dataset.Name()
	}
	runID, taskName := BuildRunIdentifiers(baseName, StripModelProvider(e.cfg.Model), now)

	items, err := e.dataset.Items()
	if err != nil {
		return nil, NewError(KindDatasetMissing, err)
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = checkpoint.SyntheticID(i)
		}
	}

	runConfig := e.cfg.AsRunConfigMap()
	runCtx := checkpoint.RunContext{
		DatasetName: e.dataset.Name(),
		RunName:     runID,
		RunMetadata: e.cfg.RunMetadata,
		RunConfig:   runConfig,
	}

	resumed, err := e.reconcileResume()
	if err != nil {
		return nil, err
	}

	state := result.New(e.dataset.Name(), runID, e.metricNames, e.cfg.RunMetadata, runConfig)

	var writer *checkpoint.Writer
	if e.cfg.CheckpointEnabled {
		path := e.cfg.ResumeFrom
		fresh := resumed == nil || len(resumed.Completed) == 0
		if path == "" {
			path = e.cfg.OutputPath(taskName, e.dataset.Name(), e.cfg.Model, runID, now)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, NewError(KindWriterFailure, err)
		}
		writer, err = checkpoint.Open(path, e.metricNames, fresh, checkpoint.Options{Fsync: e.cfg.CheckpointFsync})
		if err != nil {
			return nil, NewError(KindWriterFailure, err)
		}
		defer writer.Close()

		if resumed != nil {
			e.replayResumedRows(state, resumed)
		}
	}

	if e.stream != nil {
		if _, err := e.stream.Create(ctx, runID, e.cfg.RunMetadata); err != nil {
			e.logger.Warn(ctx, "platform: create run failed, continuing without remote observability", "error", err)
		}
	}

	e.observer.OnRunStart(runID, observer.RunInfo{
		DatasetName: e.dataset.Name(),
		RunMetadata: e.cfg.RunMetadata,
		RunConfig:   runConfig,
	}, len(items), e.metricNames)
	if e.stream != nil {
		_ = e.stream.EmitSync(ctx, platform.EventRunStarted, map[string]any{
			"run_id": runID, "total_items": len(items), "metrics": e.metricNames,
		})
	}

	pending := e.pendingItems(items, resumed)
	e.schedule(ctx, runID, runCtx, pending, state, writer)

	state.Finish()
	state.PlatformURL = e.platformURL(runID)

	summary := observer.ResultSummary{
		TotalItems:   state.TotalItems(),
		SuccessCount: len(state.SuccessfulItems()),
		ErrorCount:   len(state.FailedItems()),
		DurationS:    state.Duration().Seconds(),
		PlatformURL:  state.PlatformURL,
	}
	e.observer.OnRunComplete(runID, summary)
	if e.stream != nil {
		_ = e.stream.EmitSync(ctx, platform.EventRunCompleted, map[string]any{
			"run_id": runID, "total_items": summary.TotalItems,
			"success_count": summary.SuccessCount, "error_count": summary.ErrorCount,
		})
		e.stream.Close()
	}

	return state, nil
}

// reconcileResume loads cfg.ResumeFrom, when set, and validates its header's
// metric set matches this run's configured metrics exactly (error kind
// ResumeMismatch, fatal at run start per spec.md §7).
func (e *Evaluator) reconcileResume() (*checkpoint.State, error) {
	if e.cfg.ResumeFrom == "" {
		return nil, nil
	}
	st, err := checkpoint.Load(e.cfg.ResumeFrom)
	if err != nil {
		return nil, NewError(KindResumeMismatch, err)
	}
	if len(st.Completed) == 0 && len(st.Metrics) == 0 {
		return st, nil // fresh run: the file did not exist yet
	}
	if !sameMetricSet(st.Metrics, e.metricNames) {
		return nil, NewError(KindResumeMismatch, fmt.Errorf(
			"checkpoint metrics %v do not match configured metrics %v", st.Metrics, e.metricNames))
	}
	return st, nil
}

func sameMetricSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]bool, len(a))
	for _, m := range a {
		seen[m] = true
	}
	for _, m := range b {
		if !seen[m] {
			return false
		}
	}
	return true
}

// replayResumedRows seeds state with every previously-completed row so
// TotalItems/SuccessRate/serialization reflect the full run across resumes,
// not just the items processed this process lifetime.
func (e *Evaluator) replayResumedRows(state *result.State, resumed *checkpoint.State) {
	for _, id := range resumed.Order {
		row := resumed.Completed[id]
		if row.IsError {
			state.AddError(result.ItemError{ItemID: row.ItemID, Message: row.Output, TraceID: row.TraceID})
			continue
		}
		state.AddResult(result.ItemResult{
			ItemID: row.ItemID, Output: row.Output, Scores: row.Scores,
			TimeSeconds: row.TimeSeconds, TraceID: row.TraceID,
		})
	}
}

// pendingItems filters out every item already present in a resumed
// checkpoint, whether its row succeeded or errored. cfg.ResumeRerunErrors is
// not consulted here; Config.Validate rejects it for same-file resume.
func (e *Evaluator) pendingItems(items []item.Item, resumed *checkpoint.State) []indexedItem {
	out := make([]indexedItem, 0, len(items))
	for i, it := range items {
		if resumed != nil && resumed.IsDone(it.ID, i) {
			continue
		}
		out = append(out, indexedItem{index: i, item: it})
	}
	return out
}

type indexedItem struct {
	index int
	item  item.Item
}

// schedule runs the worker-pool pipeline: one buffered work channel
// pre-loaded with every pending item, cfg.MaxConcurrency worker goroutines
// each processing items until the channel is drained, and cooperative
// cancellation checked between items (spec.md §4.3).
func (e *Evaluator) schedule(ctx context.Context, runID string, runCtx checkpoint.RunContext, pending []indexedItem, state *result.State, writer *checkpoint.Writer) {
	work := make(chan indexedItem, len(pending))
	for _, it := range pending {
		work <- it
	}
	close(work)

	runCtx2, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	var wg sync.WaitGroup
	var cancelled atomic.Bool

	n := e.cfg.MaxConcurrency
	if n < 1 {
		n = 1
	}
	for w := 0; w < n; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it := range work {
				if cancelled.Load() || ctx.Err() != nil || runCtx2.Err() != nil {
					cancelled.Store(true)
					e.recordCancelled(runID, it, state, writer, runCtx)
					continue
				}
				e.processItem(runCtx2, runID, runCtx, it, state, writer)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-ctx.Done():
	}

	// Interrupt received: give in-flight workers cfg.InterruptGrace to wrap
	// up their current item, then force-cancel whatever remains.
	select {
	case <-done:
	case <-time.After(e.cfg.InterruptGrace()):
		cancelled.Store(true)
		cancel()
		<-done
	}
}

func (e *Evaluator) recordCancelled(runID string, it indexedItem, state *result.State, writer *checkpoint.Writer, runCtx checkpoint.RunContext) {
	state.AddError(result.ItemError{ItemID: it.item.ID, Message: "cancelled"})
	e.observer.OnItemError(runID, it.index, "cancelled")
	if writer != nil {
		row := checkpoint.RowFromError(runCtx, it.item.ID, it.item, "cancelled", 0, "", e.metricNames)
		if err := writer.Write(row); err != nil {
			e.logger.Error(context.Background(), "checkpoint write failed for cancelled item", "item_id", it.item.ID, "error", err)
		}
	}
}

// processItem runs the full per-item pipeline: span open -> task call ->
// per-metric scoring -> span close -> checkpoint row -> observer emit
// (spec.md §4.3 step 7). Events for a single item are emitted in strict
// order (item_started, then each metric_scored, then completion/failure);
// no ordering is guaranteed across different items.
func (e *Evaluator) processItem(ctx context.Context, runID string, runCtx checkpoint.RunContext, it indexedItem, state *result.State, writer *checkpoint.Writer) {
	spanCtx, span := e.tracer.Start(ctx, fmt.Sprintf("eval-%s-item-%d", runID, it.index))
	defer span.End()

	e.observer.OnItemStart(runID, it.index, map[string]any{"item_id": it.item.ID, "input": it.item.Input})
	if e.stream != nil {
		e.stream.Emit(platform.EventItemStarted, map[string]any{"run_id": runID, "item_id": it.item.ID, "index": it.index})
	}

	taskCtx := spanCtx
	var taskCancel context.CancelFunc
	if e.cfg.Timeout > 0 {
		taskCtx, taskCancel = context.WithTimeout(spanCtx, e.cfg.Timeout)
		defer taskCancel()
	}

	taskStartedAtMs := time.Now().UnixMilli()
	start := time.Now()
	output, err := e.task.Invoke(taskCtx, adapter.Call{Input: it.item.Input, Model: e.cfg.Model, TraceID: span.TraceID()})
	elapsed := time.Since(start)

	if err != nil {
		kind := KindTaskFailure
		if taskCtx.Err() == context.DeadlineExceeded {
			kind = KindTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.failItem(runID, runCtx, it, NewItemError(kind, it.item.ID, err).Error(), taskStartedAtMs, span.TraceID(), state, writer)
		return
	}

	scores := make(map[string]item.Score, len(e.metricNames))
	for _, name := range e.metricNames {
		scores[name] = e.scoreMetric(spanCtx, runID, it, name, output)
	}

	span.SetStatus(codes.Ok, "")

	itemRes := result.ItemResult{
		ItemID:      it.item.ID,
		Input:       it.item.Input,
		Output:      output,
		Expected:    it.item.ExpectedOutput,
		Metadata:    it.item.Metadata,
		Scores:      scores,
		TimeSeconds: elapsed.Seconds(),
		TraceID:     span.TraceID(),
		TraceURL:    span.URL(),
	}
	state.AddResult(itemRes)

	if writer != nil {
		row := checkpoint.RowFromResult(runCtx, it.item.ID, it.item, output, elapsed.Seconds(), taskStartedAtMs, span.TraceID(), e.metricNames, scores)
		if err := writer.Write(row); err != nil {
			e.logger.Error(ctx, "checkpoint write failed", "item_id", it.item.ID, "error", err)
		}
	}

	anyScores := make(map[string]any, len(scores))
	for k, v := range scores {
		anyScores[k] = v
	}
	payload := observer.ItemPayload{
		ItemID: it.item.ID, Index: it.index, Output: output, Scores: anyScores,
		TaskStartedAtMs: taskStartedAtMs, LatencyMs: elapsed.Milliseconds(),
		TraceID: span.TraceID(), TraceURL: span.URL(),
	}
	e.observer.OnItemComplete(runID, it.index, payload)
	if e.stream != nil {
		e.stream.Emit(platform.EventItemCompleted, map[string]any{
			"run_id": runID, "item_id": it.item.ID, "index": it.index,
			"latency_ms": elapsed.Milliseconds(), "scores": anyScores,
		})
	}
}

func (e *Evaluator) scoreMetric(ctx context.Context, runID string, it indexedItem, name string, output any) item.Score {
	_, span := e.tracer.Start(ctx, "metric_"+name)
	defer span.End()

	fn := e.metricFns[name]
	raw, err := func() (score item.Score, callErr error) {
		defer func() {
			if r := recover(); r != nil {
				callErr = fmt.Errorf("metric %q panicked: %v", name, r)
			}
		}()
		return fn(output, it.item.ExpectedOutput, it.item.Input)
	}()
	score := metric.Coerce(raw, err)
	if score.IsError() {
		span.RecordError(fmt.Errorf("%s", score.Err))
		span.SetStatus(codes.Error, score.Err)
	}

	e.observer.OnMetricResult(runID, it.index, observer.MetricResult{MetricName: name, Score: score, Metadata: score.Metadata})
	if e.stream != nil {
		e.stream.Emit(platform.EventMetricScored, map[string]any{
			"run_id": runID, "item_id": it.item.ID, "index": it.index,
			"metric": name, "score": score.String(),
		})
	}
	return score
}

func (e *Evaluator) failItem(runID string, runCtx checkpoint.RunContext, it indexedItem, message string, taskStartedAtMs int64, traceID string, state *result.State, writer *checkpoint.Writer) {
	state.AddError(result.ItemError{ItemID: it.item.ID, Message: message, TraceID: traceID})
	e.observer.OnItemError(runID, it.index, message)
	if e.stream != nil {
		e.stream.Emit(platform.EventItemFailed, map[string]any{"run_id": runID, "item_id": it.item.ID, "index": it.index, "error": message})
	}
	if writer != nil {
		row := checkpoint.RowFromError(runCtx, it.item.ID, it.item, message, taskStartedAtMs, traceID, e.metricNames)
		if err := writer.Write(row); err != nil {
			e.logger.Error(context.Background(), "checkpoint write failed for failed item", "item_id", it.item.ID, "error", err)
		}
	}
}

func (e *Evaluator) platformURL(runID string) string {
	if e.stream == nil {
		return ""
	}
	return e.cfg.PlatformURL + "/runs/" + runID
}
