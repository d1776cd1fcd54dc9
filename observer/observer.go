// Package observer defines the lifecycle event sink the Evaluator notifies
// as a run progresses, and a fan-out Composite that lets several sinks
// (terminal dashboard, platform stream) observe the same run independently
// (spec.md §4.5).
package observer

// RunInfo carries the run-level context delivered once at the start of a
// run.
type RunInfo struct {
	DatasetName string
	RunMetadata map[string]any
	RunConfig   map[string]any
}

// MetricResult is the payload for a single metric evaluated against a
// single item.
type MetricResult struct {
	MetricName string
	Score      any
	Metadata   map[string]any
}

// ItemPayload is the full per-item payload delivered on completion
// (spec.md §4.4 step 7: index, task_started_at_ms, latency_ms).
type ItemPayload struct {
	ItemID          string
	Index           int
	Output          any
	Scores          map[string]any
	TaskStartedAtMs int64
	LatencyMs       int64
	TraceID         string
	TraceURL        string
}

// ResultSummary is the payload delivered once at run completion.
type ResultSummary struct {
	TotalItems   int
	SuccessCount int
	ErrorCount   int
	DurationS    float64
	PlatformURL  string
}

// Observer is a passive sink for run/item lifecycle events. All payloads
// must be treated as read-only: the Evaluator owns RunState and may reuse
// the same backing data across calls (spec.md §4 Ownership).
//
// Every method has a name describing the event it reacts to; implementers
// that only care about a subset of events should embed NoOp and override
// only what they need.
type Observer interface {
	OnRunStart(runID string, info RunInfo, totalItems int, metrics []string)
	OnItemStart(runID string, itemIndex int, payload map[string]any)
	OnMetricResult(runID string, itemIndex int, result MetricResult)
	OnItemComplete(runID string, itemIndex int, payload ItemPayload)
	OnItemError(runID string, itemIndex int, errMsg string)
	OnWarning(runID string, message string)
	OnRunComplete(runID string, summary ResultSummary)
}

// NoOp implements Observer with every method a no-op. Embed it in an
// Observer implementation that only needs a handful of the callbacks.
type NoOp struct{}

func (NoOp) OnRunStart(string, RunInfo, int, []string)       {}
func (NoOp) OnItemStart(string, int, map[string]any)         {}
func (NoOp) OnMetricResult(string, int, MetricResult)        {}
func (NoOp) OnItemComplete(string, int, ItemPayload)         {}
func (NoOp) OnItemError(string, int, string)                 {}
func (NoOp) OnWarning(string, string)                        {}
func (NoOp) OnRunComplete(string, ResultSummary)              {}
