package result

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-go/qym/item"
)

func newPopulatedState() *State {
	s := New("demo", "run-1", []string{"exact_match"}, nil, nil)
	s.AddResult(ItemResult{
		ItemID: "item_0", Input: "2+2", Output: "4", Expected: "4",
		Scores: map[string]item.Score{"exact_match": item.BoolScore(true)}, TimeSeconds: 0.2,
	})
	s.AddResult(ItemResult{
		ItemID: "item_1", Input: "2+3", Output: "6", Expected: "5",
		Scores: map[string]item.Score{"exact_match": item.BoolScore(false)}, TimeSeconds: 0.3,
	})
	s.AddError(ItemError{ItemID: "item_2", Message: "timeout"})
	return s
}

func TestStateCountsAndSuccessRate(t *testing.T) {
	t.Parallel()
	s := newPopulatedState()

	assert.Equal(t, 3, s.TotalItems())
	assert.InDelta(t, 2.0/3.0, s.SuccessRate(), 0.0001)
	assert.ElementsMatch(t, []string{"item_0", "item_1"}, s.SuccessfulItems())
	assert.Equal(t, []string{"item_2"}, s.FailedItems())
}

func TestMetricStatsExcludesErrorsFromMeanButCountsThemInDenominator(t *testing.T) {
	t.Parallel()
	s := newPopulatedState()

	stats := s.MetricStats("exact_match")
	assert.Equal(t, 2, stats.N)
	assert.InDelta(t, 0.5, stats.Mean, 0.0001)
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.0001)

	s.AddResult(ItemResult{
		ItemID: "item_3", Scores: map[string]item.Score{"exact_match": item.ErrorScore("judge failed")},
	})
	stats = s.MetricStats("exact_match")
	assert.Equal(t, 2, stats.N)
	assert.InDelta(t, 0.5, stats.Mean, 0.0001)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 0.0001)
}

func TestAddResultThenAddErrorMovesItemBetweenMaps(t *testing.T) {
	t.Parallel()
	s := New("d", "r", []string{"m"}, nil, nil)
	s.AddResult(ItemResult{ItemID: "x", Scores: map[string]item.Score{"m": item.NumberScore(1)}})
	s.AddError(ItemError{ItemID: "x", Message: "oops"})

	_, resultOK := s.Result("x")
	assert.False(t, resultOK)
	e, errOK := s.Error("x")
	require.True(t, errOK)
	assert.Equal(t, "oops", e.Message)
	assert.Equal(t, 1, s.TotalItems())
}

func TestWriteCSVProducesCheckpointCompatibleHeader(t *testing.T) {
	t.Parallel()
	s := newPopulatedState()

	var buf bytes.Buffer
	require.NoError(t, s.WriteCSV(&buf))
	out := buf.String()
	assert.Contains(t, out, "exact_match_score")
	assert.Contains(t, out, "ERROR: timeout")
}

func TestWriteJSONRoundTrips(t *testing.T) {
	t.Parallel()
	s := newPopulatedState()
	s.Finish()

	var buf bytes.Buffer
	require.NoError(t, s.WriteJSON(&buf))
	assert.Contains(t, buf.String(), `"run_name": "run-1"`)
	assert.Contains(t, buf.String(), `"total_items": 3`)
}

func TestWriteXLSXProducesNonEmptyWorkbook(t *testing.T) {
	t.Parallel()
	s := newPopulatedState()

	var buf bytes.Buffer
	require.NoError(t, s.WriteXLSX(&buf))
	assert.NotEmpty(t, buf.Bytes())
	// XLSX files are zip archives; the local file header signature is a
	// cheap sanity check that something real was written.
	assert.Equal(t, []byte("PK"), buf.Bytes()[:2])
}
