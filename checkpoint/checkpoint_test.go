package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-go/qym/item"
)

func TestHeaderOrdersBaseFieldsThenMetricPairs(t *testing.T) {
	t.Parallel()

	header := Header([]string{"exact_match", "numeric_diff"})

	require.Len(t, header, len(BaseFields)+4)
	assert.Equal(t, BaseFields, header[:len(BaseFields)])
	assert.Equal(t, []string{
		"exact_match_score", "exact_match__meta__json",
		"numeric_diff_score", "numeric_diff__meta__json",
	}, header[len(BaseFields):])
}

func TestRowFromErrorMarksOutputAndEveryScore(t *testing.T) {
	t.Parallel()

	rc := RunContext{DatasetName: "d", RunName: "r"}
	row := RowFromError(rc, "item-1", item.Item{Input: "hi"}, "boom", 0, "", []string{"a", "b"})

	assert.Equal(t, "ERROR: boom", row["output"])
	assert.Equal(t, "N/A", row["a_score"])
	assert.Equal(t, "N/A", row["b_score"])
	assert.True(t, isErrorRow(row, []string{"a", "b"}))
}

func TestParseMetricScoreCoercionTable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw   string
		want  float64
		valid bool
	}{
		{"1", 1, true},
		{"0", 0, true},
		{"true", 1, true},
		{"false", 0, true},
		{"yes", 1, true},
		{"no", 0, true},
		{"✓", 1, true},
		{"✗", 0, true},
		{"50%", 0.5, true},
		{"0.75", 0.75, true},
		{"", 0, false},
		{"N/A", 0, false},
	}
	for _, c := range cases {
		got, ok := parseMetricScore(c.raw)
		assert.Equalf(t, c.valid, ok, "raw=%q", c.raw)
		if c.valid {
			assert.Equalf(t, c.want, got, "raw=%q", c.raw)
		}
	}
}

func TestRoundTripSuccessRow(t *testing.T) {
	t.Parallel()

	rc := RunContext{DatasetName: "d", RunName: "r"}
	scores := map[string]item.Score{
		"exact_match": item.BoolScore(true),
		"numeric_diff": item.NumberScore(0.25),
	}
	row := RowFromResult(rc, "item-1", item.Item{Input: "hi", ExpectedOutput: "hi"}, "hi", 1.5, 1000, "trace-1",
		[]string{"exact_match", "numeric_diff"}, scores)

	parsed := Parse(row, []string{"exact_match", "numeric_diff"})
	assert.Equal(t, "item-1", parsed.ItemID)
	assert.False(t, parsed.IsError)
	assert.InDelta(t, 1.5, parsed.TimeSeconds, 0.0001)
	require.NotNil(t, parsed.TaskStartedAtMs)
	assert.Equal(t, int64(1000), *parsed.TaskStartedAtMs)

	em, ok := parsed.Scores["exact_match"].Numeric()
	require.True(t, ok)
	assert.Equal(t, float64(1), em)

	nd, ok := parsed.Scores["numeric_diff"].Numeric()
	require.True(t, ok)
	assert.InDelta(t, 0.25, nd, 0.0001)
}

func TestMetricsFromHeaderIgnoresMetaColumns(t *testing.T) {
	t.Parallel()

	header := Header([]string{"b", "a"})
	assert.Equal(t, []string{"a", "b"}, MetricsFromHeader(header))
}

func TestSyntheticID(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "item_0", SyntheticID(0))
	assert.Equal(t, "item_42", SyntheticID(42))
}
