package eval

import "fmt"

// Kind classifies an evaluation error by its propagation policy (spec.md
// §7): fatal kinds abort construction or the run outright; non-fatal kinds
// are recorded against the offending item (or logged) and the run
// continues.
type Kind string

const (
	// KindTaskFailure: the task adapter raised or returned an error for an
	// item. Non-fatal: the item is recorded as an error row, the run
	// continues.
	KindTaskFailure Kind = "task_failure"

	// KindMetricFailure: a metric raised or returned an error while scoring
	// an item. Non-fatal: that metric's score is recorded as the error,
	// other metrics for the same item are unaffected.
	KindMetricFailure Kind = "metric_failure"

	// KindTimeout: a task call exceeded its configured timeout. Non-fatal:
	// recorded as an item error with reason "timeout".
	KindTimeout Kind = "timeout"

	// KindAdapterMismatch: the task adapter's declared input/output shape
	// does not match the dataset or metrics wired to it. Fatal at
	// construction.
	KindAdapterMismatch Kind = "adapter_mismatch"

	// KindResumeMismatch: a checkpoint file was given to resume from, but
	// its header (metrics, columns) does not match the current run's
	// configuration. Fatal at run start.
	KindResumeMismatch Kind = "resume_mismatch"

	// KindDatasetMissing: the configured dataset could not be loaded.
	// Fatal at construction.
	KindDatasetMissing Kind = "dataset_missing"

	// KindCredentialsMissing: required credentials (model API key, platform
	// API key, etc.) were not supplied. Config.Validate also reports an
	// invalid run configuration (a checkpoint_format other than "csv", or a
	// failed schema check) under this kind. Fatal at construction.
	KindCredentialsMissing Kind = "credentials_missing"

	// KindPlatformUnavailable: the platform event stream could not be
	// reached or was permanently rejected. Non-fatal: logged, the stream
	// disables itself, the run proceeds without remote observability.
	KindPlatformUnavailable Kind = "platform_unavailable"

	// KindWriterFailure: the checkpoint writer could not persist a row
	// (disk full, permission denied, etc). Fatal: remaining work is
	// cancelled, but rows already flushed to disk are not rolled back.
	KindWriterFailure Kind = "writer_failure"
)

// Fatal reports whether errors of this kind abort the run (true) or are
// recorded per-item/logged while the run continues (false).
func (k Kind) Fatal() bool {
	switch k {
	case KindAdapterMismatch, KindResumeMismatch, KindDatasetMissing, KindCredentialsMissing, KindWriterFailure:
		return true
	default:
		return false
	}
}

// Error wraps an underlying cause with its Kind and, for per-item errors,
// the id of the affected item.
type Error struct {
	Kind   Kind
	ItemID string // empty for run-level errors
	Cause  error
}

func (e *Error) Error() string {
	if e.ItemID != "" {
		return fmt.Sprintf("%s (item %s): %v", e.Kind, e.ItemID, e.Cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a run-level Error.
func NewError(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Cause: cause}
}

// NewItemError constructs a per-item Error.
func NewItemError(kind Kind, itemID string, cause error) *Error {
	return &Error{Kind: kind, ItemID: itemID, Cause: cause}
}

// IsKind reports whether err (or something it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}
