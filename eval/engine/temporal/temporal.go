// Package temporal is the durable-execution counterpart to eval/engine/inmem:
// it runs an Evaluator's pipeline as a Temporal Activity inside a
// single-step Workflow, so a very long evaluation survives a worker process
// restart (the Workflow resumes; an in-flight Activity attempt is retried
// from scratch by Temporal's own activity retry policy). Scoped to this
// package's single need: running one registered Evaluator by name, rather
// than a general workflow/activity registry.
package temporal

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	temporalotel "go.temporal.io/sdk/contrib/opentelemetry"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/qym-go/qym/eval"
)

// TaskQueue is the default Temporal task queue this engine's worker polls.
const TaskQueue = "qym-eval"

const runActivityName = "qym.eval.runActivity"

// Engine runs registered Evaluators as durable Temporal workflow
// executions. Unlike eval/engine/inmem, it owns a Temporal client and
// worker: construct with NewEngine, Register every Evaluator this
// process's worker should be able to serve, call Start, then Run.
//
// result.State does not cross the workflow boundary directly: it owns an
// internal mutex and unexported maps that Temporal's JSON data converter
// cannot (and should not) serialize. Run instead returns the run's final
// JSON report — the same bytes result.State.WriteJSON produces for the
// platform/CLI export path — decoded from the Activity's result.
type Engine struct {
	client    client.Client
	taskQueue string
	worker    worker.Worker

	mu         sync.Mutex
	evaluators map[string]*eval.Evaluator
}

// NewEngine constructs an Engine against an already-connected Temporal
// client and registers (but does not start) a worker polling taskQueue
// (TaskQueue when empty). An OTEL tracing interceptor is installed on the
// worker automatically, tagging every workflow/activity span this engine
// drives with the same trace the rest of qym emits through, unless
// disableTracing is true.
func NewEngine(c client.Client, taskQueue string, disableTracing bool) (*Engine, error) {
	if taskQueue == "" {
		taskQueue = TaskQueue
	}
	e := &Engine{
		client:     c,
		taskQueue:  taskQueue,
		evaluators: make(map[string]*eval.Evaluator),
	}
	opts := worker.Options{}
	if !disableTracing {
		tracer, err := temporalotel.NewTracingInterceptor(temporalotel.TracerOptions{})
		if err != nil {
			return nil, fmt.Errorf("temporal engine: configure tracing interceptor: %w", err)
		}
		opts.Interceptors = append(opts.Interceptors, tracer)
	}
	e.worker = worker.New(c, taskQueue, opts)
	e.worker.RegisterWorkflow(RunWorkflow)
	e.worker.RegisterActivityWithOptions(e.runActivity, activity.RegisterOptions{Name: runActivityName})
	return e, nil
}

// Register makes ev runnable under name. Must be called, on every worker
// process serving this task queue, before a workflow referencing name is
// started.
func (e *Engine) Register(name string, ev *eval.Evaluator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.evaluators[name] = ev
}

// Start begins polling taskQueue for workflow and activity tasks. Call
// once after every Evaluator this process should serve is Registered.
func (e *Engine) Start() error {
	return e.worker.Start()
}

// Stop drains in-flight activities and stops polling.
func (e *Engine) Stop() {
	e.worker.Stop()
}

// Run starts a durable workflow execution for the Evaluator registered
// under name, blocks until it completes, and returns the run's JSON
// report.
func (e *Engine) Run(ctx context.Context, workflowID, name string) ([]byte, error) {
	opts := client.StartWorkflowOptions{ID: workflowID, TaskQueue: e.taskQueue}
	run, err := e.client.ExecuteWorkflow(ctx, opts, RunWorkflow, name)
	if err != nil {
		return nil, fmt.Errorf("temporal engine: start workflow %s: %w", workflowID, err)
	}
	var report []byte
	if err := run.Get(ctx, &report); err != nil {
		return nil, fmt.Errorf("temporal engine: workflow %s: %w", workflowID, err)
	}
	return report, nil
}

// RunWorkflow is the Temporal Workflow definition: one Activity execution
// running name's registered Evaluator. The Evaluator's own worker pool
// already provides item-level concurrency and retry is not meaningful at
// the whole-run granularity, so ScheduleToCloseTimeout is left at zero
// (unbounded) and Temporal's default activity retry policy applies only to
// transient worker-crash scenarios, not task-level failures the Evaluator
// already records as item errors.
func RunWorkflow(ctx workflow.Context, name string) ([]byte, error) {
	ao := workflow.ActivityOptions{}
	ctx = workflow.WithActivityOptions(ctx, ao)
	var report []byte
	err := workflow.ExecuteActivity(ctx, runActivityName, name).Get(ctx, &report)
	return report, err
}

func (e *Engine) runActivity(ctx context.Context, name string) ([]byte, error) {
	e.mu.Lock()
	ev, ok := e.evaluators[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("temporal engine: no evaluator registered for %q", name)
	}
	state, err := ev.Run(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := state.WriteJSON(&buf); err != nil {
		return nil, fmt.Errorf("temporal engine: serialize run report: %w", err)
	}
	return buf.Bytes(), nil
}
