// Package inmem provides the default, always-available Engine: it runs an
// Evaluator's worker pool in the calling process with no durability beyond
// the checkpoint file the Evaluator itself already writes.
package inmem

import (
	"context"

	"github.com/qym-go/qym/eval"
	"github.com/qym-go/qym/eval/engine"
	"github.com/qym-go/qym/result"
)

var _ engine.Engine = Engine{}

// Engine runs an Evaluator directly in the calling goroutine tree, exactly
// as a caller invoking ev.Run would. It exists so callers that select an
// execution engine at runtime can treat the in-process path and the
// Temporal-backed path (eval/engine/temporal) uniformly.
type Engine struct{}

// New constructs an in-memory Engine. There is no configuration: unlike
// the Temporal engine it owns no client or worker lifecycle.
func New() *Engine { return &Engine{} }

// Run delegates directly to ev.Run.
func (Engine) Run(ctx context.Context, ev *eval.Evaluator) (*result.State, error) {
	return ev.Run(ctx)
}
