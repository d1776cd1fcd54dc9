// Package telemetry defines the logging, metrics, and tracing interfaces
// used throughout the evaluation runner. The interfaces are intentionally
// narrow so tests can supply lightweight stubs and production code can swap
// backends (OTEL, Clue, Prometheus) without touching call sites.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger captures structured logging used throughout the runner.
// Implementations typically delegate to Clue but the interface stays small
// so tests can provide lightweight stubs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...any)
	Info(ctx context.Context, msg string, keyvals ...any)
	Warn(ctx context.Context, msg string, keyvals ...any)
	Error(ctx context.Context, msg string, keyvals ...any)
}

// Metrics exposes counter, timer, and gauge helpers for runner
// instrumentation.
type Metrics interface {
	IncCounter(name string, value float64, tags ...string)
	RecordTimer(name string, duration time.Duration, tags ...string)
	RecordGauge(name string, value float64, tags ...string)
}

// Tracer abstracts span creation so runner code stays agnostic of the
// underlying OpenTelemetry provider.
type Tracer interface {
	Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
	Span(ctx context.Context) Span
}

// Span represents an in-flight tracing span.
type Span interface {
	End(opts ...trace.SpanEndOption)
	AddEvent(name string, attrs ...any)
	SetStatus(code codes.Code, description string)
	RecordError(err error, opts ...trace.EventOption)
	// TraceID returns the span's trace identifier, or "" if unavailable.
	// The evaluator uses this to populate ItemResult.TraceID (§3) without
	// depending on a concrete tracing backend.
	TraceID() string
	// URL returns a backend-specific viewer URL for the span's trace, or ""
	// when the backend does not expose one. Populates ItemResult.TraceURL.
	URL() string
}
