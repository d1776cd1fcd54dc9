// Package engine abstracts over where an eval.Evaluator's Run loop
// actually executes: a single evaluation, or one sub-run of a multi-run
// fan-out, can choose between an in-process worker pool and a durable,
// restart-surviving execution backend. Engine is the seam that choice is
// made through.
package engine

import (
	"context"

	"github.com/qym-go/qym/eval"
	"github.com/qym-go/qym/result"
)

// Engine runs a constructed eval.Evaluator to completion.
type Engine interface {
	Run(ctx context.Context, ev *eval.Evaluator) (*result.State, error)
}
