// Package adapter normalizes heterogeneous user task callables into the
// uniform Task interface the Evaluator drives. It implements the
// auto-detection and argument-resolution algorithm of spec.md §4.1.
//
// Go function values do not retain formal parameter names at runtime (unlike
// Python), so the per-parameter argument-resolution algorithm is reimplemented
// one type-level up: a Function task's sole input argument is a struct type,
// and ordinary/reserved/catch-all classification walks that struct's
// reflected fields instead of a function's reflected parameter names. The
// binding algorithm itself (reserved
// binding, catch-all, key-match unpack, single-field fallback) is otherwise
// identical to the original.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Call is the normalized invocation the Evaluator makes against any Task,
// regardless of which concrete adapter handles it.
type Call struct {
	// Input is the item's input payload (spec.md §3 Item.Input).
	Input any
	// Model is the full, provider-prefixed model string (spec.md §3 RunID
	// derivation invariant: stripped for ids/paths, preserved here).
	Model string
	// TraceID is the tracing span's identifier, when available.
	TraceID string
}

// Task is the uniform async-call interface every adapter normalizes user
// callables into.
type Task interface {
	Invoke(ctx context.Context, call Call) (any, error)
}

// Chain is shape (b) of spec.md §4.1: a chain-like object exposing an Invoke
// method taking a mapping. Detected before Client and Function.
type Chain interface {
	Invoke(input map[string]any) (map[string]any, error)
}

// ChainContext is Chain with an explicit context parameter; preferred over
// Chain when a task implements both.
type ChainContext interface {
	Invoke(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Client is shape (c) of spec.md §4.1: an API-client-like object exposing a
// Create operation.
type Client interface {
	Create(payload any) (any, error)
}

// ClientContext is Client with an explicit context parameter; preferred over
// Client when a task implements both.
type ClientContext interface {
	Create(ctx context.Context, payload any) (any, error)
}

// ErrUnsupportedTaskType is returned by AutoDetect when task matches none of
// the recognized shapes. It is an AdapterMismatch per spec.md §7: fatal at
// evaluator construction.
var ErrUnsupportedTaskType = errors.New("adapter: unsupported task type")

// AutoDetect implements the priority-ordered detection of spec.md §4.1:
//  1. Chain (ChainContext or Chain)
//  2. Client (ClientContext or Client)
//  3. Function (any Go func value)
//  4. ErrUnsupportedTaskType
func AutoDetect(task any, opts ...Option) (Task, error) {
	cfg := newConfig(opts...)

	switch t := task.(type) {
	case ChainContext:
		return &chainAdapter{ctxImpl: t}, nil
	case Chain:
		return &chainAdapter{impl: t}, nil
	}

	switch t := task.(type) {
	case ClientContext:
		return &clientAdapter{ctxImpl: t}, nil
	case Client:
		return &clientAdapter{impl: t}, nil
	}

	if task == nil {
		return nil, fmt.Errorf("%w: nil task", ErrUnsupportedTaskType)
	}
	rv := reflect.ValueOf(task)
	if rv.Kind() == reflect.Func {
		return newFunctionAdapter(rv, cfg)
	}

	return nil, fmt.Errorf("%w: %T is not callable, has no Invoke, and has no Create", ErrUnsupportedTaskType, task)
}

// Option configures adapter construction.
type Option func(*config)

type config struct {
	blockingWarner func(string)
}

func newConfig(opts ...Option) *config {
	c := &config{}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithBlockingWarningSink registers a callback invoked with the warning text
// whenever the blocking-detection contract (spec.md §4.1) fires, in addition
// to the default log line. The Evaluator uses this to surface the warning to
// observers as well as the process log.
func WithBlockingWarningSink(fn func(message string)) Option {
	return func(c *config) { c.blockingWarner = fn }
}
