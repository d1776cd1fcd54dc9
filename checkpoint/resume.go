package checkpoint

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
)

// State is the reconstructed view of a prior run loaded from an existing
// checkpoint file, used to drive resume (spec.md §4.2, §6.1, §8 scenario
// S4/S9).
type State struct {
	// Metrics is the metric-name set recovered from the file's header.
	Metrics []string
	// Completed maps item id (or synthetic "item_<index>" id) to its parsed
	// row. An item present here is skipped on resume regardless of whether
	// it succeeded or errored — spec.md treats any attempted row as done.
	Completed map[string]ParsedRow
	// Order preserves the file's row order, for callers that need to report
	// resume statistics in original order.
	Order []string
}

// Load reads path and reconstructs a State. A missing file is not an error:
// it signals a fresh run and returns a State with no completed items.
func Load(path string) (*State, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Completed: map[string]ParsedRow{}}, nil
		}
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return &State{Completed: map[string]ParsedRow{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checkpoint: read header of %s: %w", path, err)
	}

	metrics := MetricsFromHeader(header)
	state := &State{
		Metrics:   metrics,
		Completed: map[string]ParsedRow{},
	}

	index := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A truncated final row (process killed mid-write) is dropped
			// rather than failing resume entirely: the interrupted item is
			// simply re-run, which is safe since it never completed its
			// checkpoint write (spec.md §6.1 crash-consistency note).
			break
		}

		row := recordToRow(header, record)
		id := row["item_id"]
		if id == "" {
			id = SyntheticID(index)
		}
		parsed := Parse(row, metrics)
		parsed.ItemID = id
		state.Completed[id] = parsed
		state.Order = append(state.Order, id)
		index++
	}

	return state, nil
}

func recordToRow(header, record []string) Row {
	row := make(Row, len(header))
	for i, col := range header {
		if i < len(record) {
			row[col] = record[i]
		} else {
			row[col] = ""
		}
	}
	return row
}

// IsDone reports whether itemID (or the synthetic id for the item at
// index, when the item declares no id) was already attempted in a prior
// run.
func (s *State) IsDone(itemID string, index int) bool {
	id := itemID
	if id == "" {
		id = SyntheticID(index)
	}
	_, ok := s.Completed[id]
	return ok
}

// Stats summarizes a loaded State for resume reporting.
type Stats struct {
	Total   int
	Errors  int
	Success int
}

// Summarize computes Stats over every completed row.
func (s *State) Summarize() Stats {
	var st Stats
	for _, id := range s.Order {
		row := s.Completed[id]
		st.Total++
		if row.IsError {
			st.Errors++
		} else {
			st.Success++
		}
	}
	return st
}
