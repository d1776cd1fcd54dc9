package adapter

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"sync"
	"time"
)

// Probe the first N calls, then re-probe every Nth call after that. Catches
// late-onset blocking (connection pool exhaustion, cache expiry) while
// keeping steady-state overhead near zero (spec.md §4.1).
const (
	probeInitial  = 3
	probeInterval = 50
	probeWindow   = 1 * time.Second
	heartbeatTick = 100 * time.Millisecond
	minCleanTicks = 2
)

var errType = reflect.TypeOf((*error)(nil)).Elem()
var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()

// functionAdapter wraps a plain Go func task (spec.md §4.1 shape (a)).
//
// A function whose first parameter is context.Context is treated as
// cooperative-concurrent: it runs directly on the caller's goroutine and is
// subject to the heartbeat/probe blocking-detection contract below. A
// function without a context parameter is treated as non-cooperative (plain
// synchronous/blocking code) and is unconditionally offloaded to the shared
// worker pool, mirroring the original's run_in_executor path — no probing is
// performed for these, since blocking is expected and already isolated.
type functionAdapter struct {
	fn       reflect.Value
	fnType   reflect.Type
	cooperative bool
	spec     ParamSpec

	warner func(string)

	mu          sync.Mutex
	callCount   int
	cleanStreak int
}

// blockingWarned tracks, process-wide, which callable identities have
// already emitted the one-shot blocking warning (spec.md §4.1, testable
// property 8). Keyed by reflect.Value.Pointer(), the closest Go analogue to
// Python's id(callable).
var (
	blockingWarnedMu sync.Mutex
	blockingWarned   = map[uintptr]bool{}
)

func newFunctionAdapter(fn reflect.Value, cfg *config) (Task, error) {
	t := fn.Type()
	if t.NumOut() != 2 || !t.Out(1).Implements(errType) {
		return nil, fmt.Errorf("%w: function task must return (result, error)", ErrUnsupportedTaskType)
	}

	var argIdx int
	cooperative := false
	switch t.NumIn() {
	case 1:
		argIdx = 0
	case 2:
		if !t.In(0).Implements(ctxType) {
			return nil, fmt.Errorf("%w: two-argument function task must take context.Context first", ErrUnsupportedTaskType)
		}
		argIdx = 1
		cooperative = true
	default:
		return nil, fmt.Errorf("%w: function task must take one argument, optionally preceded by context.Context", ErrUnsupportedTaskType)
	}

	spec := globalSpecCache.get(t.In(argIdx))
	return &functionAdapter{
		fn:          fn,
		fnType:      t,
		cooperative: cooperative,
		spec:        spec,
		warner:      cfg.blockingWarner,
	}, nil
}

func (a *functionAdapter) Invoke(ctx context.Context, call Call) (any, error) {
	argVal := resolveArgs(a.spec, call.Input, call.Model, call.TraceID)

	var args []reflect.Value
	if a.cooperative {
		args = []reflect.Value{reflect.ValueOf(ctx), argVal}
	} else {
		args = []reflect.Value{argVal}
	}

	if !a.cooperative {
		return callOnPool(func() (any, error) {
			return a.call(args)
		})
	}

	return a.callWithProbe(args)
}

func (a *functionAdapter) call(args []reflect.Value) (any, error) {
	out := a.fn.Call(args)
	var err error
	if e, ok := out[1].Interface().(error); ok {
		err = e
	}
	var result any
	if out[0].IsValid() {
		result = out[0].Interface()
	}
	return result, err
}

func (a *functionAdapter) callWithProbe(args []reflect.Value) (any, error) {
	a.mu.Lock()
	a.callCount++
	shouldProbe := a.cleanStreak < probeInitial || a.callCount%probeInterval == 0
	a.mu.Unlock()

	if !shouldProbe {
		return a.call(args)
	}

	var ticks int64
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(heartbeatTick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-t.C:
				ticks++
			}
		}
	}()

	start := time.Now()
	result, err := a.call(args)
	elapsed := time.Since(start)
	close(stop)
	wg.Wait()

	a.mu.Lock()
	if elapsed > probeWindow && ticks < minCleanTicks {
		a.cleanStreak = 0
		a.mu.Unlock()
		a.warnBlocking(elapsed, ticks)
	} else {
		a.cleanStreak++
		a.mu.Unlock()
	}

	return result, err
}

func (a *functionAdapter) warnBlocking(elapsed time.Duration, ticks int64) {
	id := a.fn.Pointer()
	blockingWarnedMu.Lock()
	already := blockingWarned[id]
	if !already {
		blockingWarned[id] = true
	}
	blockingWarnedMu.Unlock()
	if already {
		return
	}

	name := funcName(a.fn)
	msg := fmt.Sprintf(
		"task %q appears to block the cooperative scheduler (%.1fs elapsed, %d heartbeat ticks). "+
			"Common causes: blocking HTTP clients, synchronous DB drivers, or CPU-bound loops inside a "+
			"context-aware task. Fix: drop the context.Context parameter so qym offloads it to the "+
			"worker pool automatically, or switch to non-blocking I/O.",
		name, elapsed.Seconds(), ticks,
	)
	log.Print(msg)
	if a.warner != nil {
		a.warner(msg)
	}
}

func funcName(fn reflect.Value) string {
	ptr := fn.Pointer()
	if f := runtimeFuncForPC(ptr); f != "" {
		return f
	}
	return "<anonymous>"
}
