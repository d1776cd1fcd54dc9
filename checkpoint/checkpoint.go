// Package checkpoint implements the append-only CSV row log that is the
// evaluation runner's canonical persisted output (spec.md §4.2, §6.1). A
// single dedicated writer goroutine serializes all appends; a resume loader
// reconstructs prior run state from an existing file.
package checkpoint

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/qym-go/qym/item"
)

// BaseFields is the fixed, ordered set of non-metric columns (spec.md §3
// CheckpointRow). Header column order is fixed across appends to the same
// file; resume requires byte-identical ordering (§6.1).
var BaseFields = []string{
	"dataset_name",
	"run_name",
	"run_metadata",
	"run_config",
	"trace_id",
	"item_id",
	"input",
	"item_metadata",
	"output",
	"expected_output",
	"time",
	"task_started_at_ms",
}

// Header builds the full column list for a run scoring the given metrics,
// in declaration order: BaseFields followed by {metric}_score and
// {metric}__meta__json per metric.
func Header(metrics []string) []string {
	header := append([]string{}, BaseFields...)
	for _, m := range metrics {
		header = append(header, m+"_score", m+"__meta__json")
	}
	return header
}

// Row is the on-disk representation of one attempted item (spec.md §3).
// Values are strings because that is the CSV wire representation; callers
// build a Row from a richer in-memory record via RowFromResult/RowFromError.
type Row map[string]string

// RunContext carries the run-level fields constant across every row in a
// single checkpoint file.
type RunContext struct {
	DatasetName string
	RunName     string
	RunMetadata map[string]any
	RunConfig   map[string]any
}

// RowFromResult builds a success Row for one item, given its scores in
// metric-declaration order.
func RowFromResult(rc RunContext, itemID string, in item.Item, output any, timeSeconds float64, taskStartedAtMs int64, traceID string, metrics []string, scores map[string]item.Score) Row {
	row := baseRow(rc, itemID, in, output, timeSeconds, taskStartedAtMs, traceID)
	for _, m := range metrics {
		score, ok := scores[m]
		if !ok {
			row[m+"_score"] = ""
			row[m+"__meta__json"] = ""
			continue
		}
		row[m+"_score"], row[m+"__meta__json"] = serializeScore(score)
	}
	return row
}

// RowFromError builds an error Row for one item: spec.md §6.1 mandates
// "ERROR: <message>" in output and "N/A" in every _score column.
func RowFromError(rc RunContext, itemID string, in item.Item, message string, taskStartedAtMs int64, traceID string, metrics []string) Row {
	row := baseRow(rc, itemID, in, "ERROR: "+message, 0, taskStartedAtMs, traceID)
	for _, m := range metrics {
		row[m+"_score"] = "N/A"
		row[m+"__meta__json"] = ""
	}
	return row
}

func baseRow(rc RunContext, itemID string, in item.Item, output any, timeSeconds float64, taskStartedAtMs int64, traceID string) Row {
	row := Row{
		"dataset_name":        rc.DatasetName,
		"run_name":            rc.RunName,
		"run_metadata":        mustJSON(rc.RunMetadata),
		"run_config":          mustJSON(rc.RunConfig),
		"trace_id":            traceID,
		"item_id":             itemID,
		"input":               toCell(in.Input),
		"item_metadata":       mustJSON(in.Metadata),
		"output":              toCell(output),
		"expected_output":     toCell(in.ExpectedOutput),
		"time":                strconv.FormatFloat(timeSeconds, 'f', -1, 64),
		"task_started_at_ms":  "",
	}
	if taskStartedAtMs > 0 {
		row["task_started_at_ms"] = strconv.FormatInt(taskStartedAtMs, 10)
	}
	return row
}

func toCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return mustJSON(t)
	}
}

func mustJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// serializeScore renders a Score into its two CSV cells: {metric}_score and
// {metric}__meta__json.
func serializeScore(s item.Score) (scoreCell, metaCell string) {
	if s.IsError() {
		return "N/A", ""
	}
	switch s.Kind {
	case item.ScoreKindBool:
		scoreCell = strconv.FormatBool(s.Bool)
	case item.ScoreKindString:
		scoreCell = s.Str
	default:
		scoreCell = strconv.FormatFloat(s.Value, 'g', -1, 64)
	}
	if len(s.Metadata) > 0 {
		metaCell = mustJSON(s.Metadata)
	}
	return scoreCell, metaCell
}

// parseMetricScore accepts raw number, "1"/"0", "true"/"false"/"yes"/"no",
// "✓"/"✗", "N%" (-> N/100), empty -> nil, "N/A" -> nil (spec.md §4.2).
func parseMetricScore(raw string) (float64, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false
	}
	lower := strings.ToLower(s)
	switch lower {
	case "n/a", "na", "none":
		return 0, false
	case "true", "yes", "y":
		return 1, true
	case "false", "no", "n":
		return 0, true
	case "1", "1.0":
		return 1, true
	case "0", "0.0":
		return 0, true
	}
	switch s {
	case "✓":
		return 1, true
	case "✗":
		return 0, true
	}
	if strings.HasSuffix(s, "%") {
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, "%")), 64)
		if err != nil {
			return 0, false
		}
		return f / 100.0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// isErrorRow classifies a row as an error row iff output starts with
// "ERROR:" (or "ERROR ") OR the first metric's _score column contains
// "ERROR" or is "N/A" (spec.md §4.2).
func isErrorRow(row Row, metrics []string) bool {
	output := row["output"]
	if strings.HasPrefix(output, "ERROR:") || strings.HasPrefix(output, "ERROR ") {
		return true
	}
	if len(metrics) == 0 {
		return false
	}
	scoreStr := row[metrics[0]+"_score"]
	if strings.Contains(scoreStr, "ERROR") || strings.EqualFold(strings.TrimSpace(scoreStr), "N/A") {
		return true
	}
	return false
}

// ParsedRow is the reconstruction of a Row back into an in-memory record
// (spec.md §4.2 CheckpointRow parser).
type ParsedRow struct {
	ItemID          string
	Input           string
	Output          string
	Expected        string
	TraceID         string
	TimeSeconds     float64
	TaskStartedAtMs *int64
	Scores          map[string]item.Score
	IsError         bool
}

// Parse maps a Row back to a ParsedRow, given the run's declared metrics.
// metrics is used in the order given, without sorting; its first entry is
// the metric whose _score column decides error-row classification.
func Parse(row Row, metrics []string) ParsedRow {
	pr := ParsedRow{
		ItemID:      row["item_id"],
		Input:       row["input"],
		Output:      row["output"],
		Expected:    row["expected_output"],
		TraceID:     row["trace_id"],
		IsError:     isErrorRow(row, metrics),
		Scores:      make(map[string]item.Score, len(metrics)),
	}
	if t, err := strconv.ParseFloat(row["time"], 64); err == nil {
		pr.TimeSeconds = t
	}
	if raw := strings.TrimSpace(row["task_started_at_ms"]); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			ms := int64(f)
			pr.TaskStartedAtMs = &ms
		}
	}

	for _, m := range metrics {
		scoreCell := row[m+"_score"]
		var sc item.Score
		if f, ok := parseMetricScore(scoreCell); ok {
			sc = item.NumberScore(f)
		} else if strings.EqualFold(strings.TrimSpace(scoreCell), "N/A") || strings.Contains(scoreCell, "ERROR") {
			sc = item.ErrorScore(scoreCell)
		} else {
			sc = item.StringScore(scoreCell)
		}
		if metaRaw := row[m+"__meta__json"]; metaRaw != "" {
			var meta map[string]any
			if err := json.Unmarshal([]byte(metaRaw), &meta); err == nil {
				sc.Metadata = meta
			}
		}
		pr.Scores[m] = sc
	}
	return pr
}

// MetricsFromHeader derives the sorted metric-name list from a CSV header:
// every column ending "_score" whose name does not contain "__meta__"
// (spec.md §4.2).
func MetricsFromHeader(header []string) []string {
	var metrics []string
	for _, col := range header {
		if strings.HasSuffix(col, "_score") && !strings.Contains(col, "__meta__") {
			metrics = append(metrics, strings.TrimSuffix(col, "_score"))
		}
	}
	return sortedCopy(metrics)
}

func sortedCopy(ss []string) []string {
	out := append([]string{}, ss...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// SyntheticID returns the synthetic id used when a dataset item has no
// declared id: "item_<index>" (spec.md §4.2 id recovery, §8 scenario S4).
func SyntheticID(index int) string {
	return fmt.Sprintf("item_%d", index)
}
