package observer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDashboardRendersRunLifecycle(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	d := NewDashboardTo(&buf)

	d.OnRunStart("run-1", RunInfo{DatasetName: "demo"}, 2, []string{"exact_match"})
	d.OnItemComplete("run-1", 0, ItemPayload{ItemID: "item_0"})
	d.OnItemError("run-1", 1, "boom")
	d.OnRunComplete("run-1", ResultSummary{TotalItems: 2, SuccessCount: 1, ErrorCount: 1})

	out := buf.String()
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "item_0")
	assert.Contains(t, out, "FAILED: boom")
	assert.Contains(t, out, "complete")
}

func TestDashboardRenderSummaryTable(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	d := NewDashboardTo(&buf)

	d.RenderSummaryTable([]MetricSummary{
		{Name: "exact_match", Mean: 0.8, Std: 0.1, Min: 0, Max: 1, SuccessRate: 1},
	})

	out := buf.String()
	assert.Contains(t, out, "exact_match")
	assert.Contains(t, out, "0.800")
}
