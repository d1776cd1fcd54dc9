// Package dataset defines the iterable provider contract the Evaluator
// pulls items from (spec.md §4 Dataset Source, §6.3).
package dataset

import "github.com/qym-go/qym/item"

// Source provides the immutable set of items driven through a run. Real
// dataset loaders (file-backed, remote, Langfuse-backed) are external
// collaborators per spec.md §1; Source is the narrow contract the Evaluator
// depends on.
type Source interface {
	// Name identifies the dataset for checkpoint/run bookkeeping
	// (CheckpointRow.dataset_name, spec.md §3).
	Name() string
	// Items returns every item in the dataset. Called once at run start;
	// the Evaluator treats the result as immutable for the run's lifetime.
	Items() ([]item.Item, error)
	// ID returns a backend-assigned dataset identifier, when the dataset is
	// linked to an external service (spec.md §4.3 step 5: dataset run-item
	// linkage). Returns "" when the dataset has no such identifier.
	ID() string
}

// Slice is the simplest Source: an in-memory, pre-built list of items. Used
// directly by tests and by callers who already have items in hand.
type Slice struct {
	name  string
	id    string
	items []item.Item
}

// NewSlice constructs a Source backed by an in-memory slice of items.
func NewSlice(name string, items []item.Item) *Slice {
	return &Slice{name: name, items: items}
}

// WithID attaches a backend dataset id, enabling run-item linkage.
func (s *Slice) WithID(id string) *Slice {
	s.id = id
	return s
}

func (s *Slice) Name() string            { return s.name }
func (s *Slice) ID() string              { return s.id }
func (s *Slice) Items() ([]item.Item, error) { return s.items, nil }
