package result

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"

	"github.com/qym-go/qym/checkpoint"
	"github.com/qym-go/qym/item"
)

// summaryView is the JSON-serializable snapshot of a State, matching the
// original's EvaluationResult.to_dict shape (dataset_name, run_name,
// timing, metric_stats, and per-item raw data).
type summaryView struct {
	DatasetName string                 `json:"dataset_name"`
	RunName     string                 `json:"run_name"`
	StartedAt   string                 `json:"start_time"`
	EndedAt     *string                `json:"end_time"`
	DurationS   *float64               `json:"duration"`
	TotalItems  int                    `json:"total_items"`
	SuccessRate float64                `json:"success_rate"`
	Metrics     []string               `json:"metrics"`
	MetricStats map[string]MetricStats `json:"metric_stats"`
	PlatformURL string                 `json:"platform_url,omitempty"`
	Items       map[string]itemView    `json:"items"`
	Errors      map[string]errorView   `json:"errors"`
}

type itemView struct {
	Input    any                    `json:"input"`
	Output   any                    `json:"output"`
	Expected any                    `json:"expected_output,omitempty"`
	Metadata map[string]any         `json:"metadata,omitempty"`
	Scores   map[string]scoreView  `json:"scores"`
	Time     float64                `json:"time"`
	TraceID  string                 `json:"trace_id,omitempty"`
	TraceURL string                 `json:"trace_url,omitempty"`
}

type scoreView struct {
	Value    any            `json:"value,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type errorView struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

func (s *State) toView() summaryView {
	// MetricStats takes its own lock, so it is computed before acquiring
	// s.mu below rather than nested inside it.
	metricStats := make(map[string]MetricStats, len(s.Metrics))
	for _, m := range s.Metrics {
		metricStats[m] = s.MetricStats(m)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	view := summaryView{
		DatasetName: s.DatasetName,
		RunName:     s.RunName,
		StartedAt:   s.StartedAt.Format("2006-01-02T15:04:05.999999999Z07:00"),
		TotalItems:  len(s.results) + len(s.errors),
		Metrics:     s.Metrics,
		MetricStats: metricStats,
		PlatformURL: s.PlatformURL,
		Items:       make(map[string]itemView, len(s.results)),
		Errors:      make(map[string]errorView, len(s.errors)),
	}
	if !s.EndedAt.IsZero() {
		ended := s.EndedAt.Format("2006-01-02T15:04:05.999999999Z07:00")
		view.EndedAt = &ended
		d := s.EndedAt.Sub(s.StartedAt).Seconds()
		view.DurationS = &d
	}
	total := len(s.results) + len(s.errors)
	if total > 0 {
		view.SuccessRate = float64(len(s.results)) / float64(total)
	}

	for id, r := range s.results {
		scores := make(map[string]scoreView, len(r.Scores))
		for m, sc := range r.Scores {
			if sc.IsError() {
				scores[m] = scoreView{Error: sc.Err}
				continue
			}
			value := scoreRawValue(sc)
			if value == nil && sc.Kind == item.ScoreKindString {
				value = sc.Str
			}
			scores[m] = scoreView{Value: value, Metadata: sc.Metadata}
		}
		view.Items[id] = itemView{
			Input:    r.Input,
			Output:   r.Output,
			Expected: r.Expected,
			Metadata: r.Metadata,
			Scores:   scores,
			Time:     r.TimeSeconds,
			TraceID:  r.TraceID,
			TraceURL: r.TraceURL,
		}
	}
	for id, e := range s.errors {
		view.Errors[id] = errorView{Error: e.Message, TraceID: e.TraceID}
	}

	return view
}

func scoreRawValue(s interface{ Numeric() (float64, bool) }) any {
	if v, ok := s.Numeric(); ok {
		return v
	}
	return nil
}

// WriteJSON serializes the run to w as the full-fidelity JSON report
// (spec.md §4.4, matching EvaluationResult.to_dict).
func (s *State) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s.toView())
}

// WriteCSV serializes the run as a checkpoint-format CSV: the same header
// and row shape the run's checkpoint file uses, so a finished run's CSV
// export and its on-disk checkpoint are interchangeable.
func (s *State) WriteCSV(w io.Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sortedMetrics := append([]string{}, s.Metrics...)
	sort.Strings(sortedMetrics)

	cw := csv.NewWriter(w)
	header := checkpoint.Header(sortedMetrics)
	if err := cw.Write(header); err != nil {
		return err
	}

	rc := checkpoint.RunContext{
		DatasetName: s.DatasetName,
		RunName:     s.RunName,
		RunMetadata: s.RunMetadata,
		RunConfig:   s.RunConfig,
	}

	for _, id := range s.order {
		var row checkpoint.Row
		if r, ok := s.results[id]; ok {
			row = checkpoint.RowFromResult(rc, id, itemFromResult(r), r.Output, r.TimeSeconds, 0, r.TraceID, sortedMetrics, r.Scores)
		} else if e, ok := s.errors[id]; ok {
			row = checkpoint.RowFromError(rc, id, itemFromError(e), e.Message, 0, e.TraceID, sortedMetrics)
		} else {
			continue
		}
		record := make([]string, len(header))
		for i, col := range header {
			record[i] = row[col]
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX serializes the run as a two-sheet Excel workbook: a "Summary"
// sheet with per-metric statistics, and a "Results" sheet with one row per
// item, styled with a colored header row in the manner of the original's
// ExcelChartExporter report (excel_export.py).
func (s *State) WriteXLSX(w io.Writer) error {
	sortedMetrics := append([]string{}, s.Metrics...)
	sort.Strings(sortedMetrics)
	metricStats := make(map[string]MetricStats, len(sortedMetrics))
	for _, m := range sortedMetrics {
		metricStats[m] = s.MetricStats(m)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	f := excelize.NewFile()
	defer f.Close()

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"2E86AB"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("result: build header style: %w", err)
	}

	const summarySheet = "Summary"
	f.SetSheetName("Sheet1", summarySheet)
	f.SetSheetRow(summarySheet, "A1", &[]any{"Metric", "Mean", "Std", "Min", "Max", "Success Rate", "N"})
	f.SetCellStyle(summarySheet, "A1", "G1", headerStyle)

	for i, m := range sortedMetrics {
		stats := metricStats[m]
		row := i + 2
		f.SetSheetRow(summarySheet, fmt.Sprintf("A%d", row), &[]any{
			m, stats.Mean, stats.Std, stats.Min, stats.Max, stats.SuccessRate, stats.N,
		})
	}

	resultsSheet := "Results"
	if _, err := f.NewSheet(resultsSheet); err != nil {
		return fmt.Errorf("result: create results sheet: %w", err)
	}
	header := []any{"item_id", "input", "output", "expected_output", "time", "status"}
	for _, m := range sortedMetrics {
		header = append(header, m)
	}
	f.SetSheetRow(resultsSheet, "A1", &header)
	f.SetCellStyle(resultsSheet, "A1", fmt.Sprintf("%s1", excelize.ColumnNumberToName(len(header))), headerStyle)

	for i, id := range s.order {
		row := i + 2
		var values []any
		if r, ok := s.results[id]; ok {
			values = append(values, id, toCell(r.Input), toCell(r.Output), toCell(r.Expected), r.TimeSeconds, "success")
			for _, m := range sortedMetrics {
				sc, ok := r.Scores[m]
				if !ok {
					values = append(values, "")
					continue
				}
				if v, ok := sc.Numeric(); ok {
					values = append(values, v)
				} else {
					values = append(values, sc.String())
				}
			}
		} else if e, ok := s.errors[id]; ok {
			values = append(values, id, "", e.Message, "", 0.0, "error")
			for range sortedMetrics {
				values = append(values, "N/A")
			}
		} else {
			continue
		}
		f.SetSheetRow(resultsSheet, fmt.Sprintf("A%d", row), &values)
	}

	f.SetActiveSheet(0)
	return f.Write(w)
}

func toCell(v any) string {
	if v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

func itemFromResult(r ItemResult) item.Item {
	return item.Item{ID: r.ItemID, Input: r.Input, ExpectedOutput: r.Expected, Metadata: r.Metadata}
}

func itemFromError(e ItemError) item.Item {
	return item.Item{ID: e.ItemID}
}
