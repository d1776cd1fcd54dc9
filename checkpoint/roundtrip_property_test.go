package checkpoint

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/qym-go/qym/item"
)

// TestScoreRoundTripProperty verifies that any numeric score serialized into
// a checkpoint row and parsed back yields the same numeric value, which is
// the contract resume depends on (spec.md §4.2, §6.1).
func TestScoreRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("numeric score survives serialize/parse", prop.ForAll(
		func(v float64) bool {
			rc := RunContext{DatasetName: "d", RunName: "r"}
			scores := map[string]item.Score{"m": item.NumberScore(v)}
			row := RowFromResult(rc, "id", item.Item{}, "out", 0, 0, "", []string{"m"}, scores)
			parsed := Parse(row, []string{"m"})
			got, ok := parsed.Scores["m"].Numeric()
			if !ok {
				return false
			}
			return got == v
		},
		gen.Float64Range(-1_000_000, 1_000_000),
	))

	properties.Property("bool score survives serialize/parse", prop.ForAll(
		func(v bool) bool {
			rc := RunContext{DatasetName: "d", RunName: "r"}
			scores := map[string]item.Score{"m": item.BoolScore(v)}
			row := RowFromResult(rc, "id", item.Item{}, "out", 0, 0, "", []string{"m"}, scores)
			parsed := Parse(row, []string{"m"})
			got, ok := parsed.Scores["m"].Numeric()
			if !ok {
				return false
			}
			want := 0.0
			if v {
				want = 1.0
			}
			return got == want
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}
