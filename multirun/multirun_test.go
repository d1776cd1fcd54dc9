package multirun

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-go/qym/dataset"
	"github.com/qym-go/qym/eval"
	"github.com/qym-go/qym/item"
	"github.com/qym-go/qym/metric"
	"github.com/qym-go/qym/runstore"
)

func echoTask(in string) (any, error) {
	return "echo:" + in, nil
}

func newSpec(t *testing.T, name, outputDir string) RunSpec {
	t.Helper()
	items := []item.Item{
		{ID: "a", Input: "x", ExpectedOutput: "echo:x"},
		{ID: "b", Input: "y", ExpectedOutput: "echo:y"},
	}
	cfg := eval.DefaultConfig()
	cfg.OutputDir = outputDir
	cfg.RunName = name
	require.NoError(t, cfg.Validate())
	return RunSpec{
		Name:     name,
		Task:     echoTask,
		Dataset:  dataset.NewSlice(name+"-dataset", items),
		Metrics:  []string{"exact_match"},
		Registry: metric.NewRegistry(),
		Config:   cfg,
	}
}

func TestRunnerDispatchesEverySpecIndependently(t *testing.T) {
	dir := t.TempDir()
	runner := &Runner{Store: runstore.NewMemoryStore()}

	specs := []RunSpec{
		newSpec(t, "run-a", dir),
		newSpec(t, "run-b", dir),
	}

	results, err := runner.Run(context.Background(), specs)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for i, r := range results {
		assert.Equal(t, specs[i].Name, r.SpecName)
		assert.NoError(t, r.Err)
		assert.NotEmpty(t, r.SubRunID)
		require.NotNil(t, r.State)
		assert.Equal(t, 2, r.State.TotalItems())

		rec, err := runner.Store.Load(context.Background(), r.SubRunID)
		require.NoError(t, err)
		assert.Equal(t, runstore.StatusCompleted, rec.Status)
	}
}

func TestRunnerRespectsMaxParallelRunsOfOne(t *testing.T) {
	dir := t.TempDir()
	maxParallel := 1
	runner := &Runner{MaxParallelRuns: &maxParallel}

	specs := make([]RunSpec, 4)
	for i := range specs {
		specs[i] = newSpec(t, fmt.Sprintf("seq-%d", i), dir)
	}

	results, err := runner.Run(context.Background(), specs)
	require.NoError(t, err)
	assert.Len(t, results, 4)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}
}

func TestBuildMetadataPatchOnFirstUpdateReturnsFullSnapshot(t *testing.T) {
	t.Parallel()
	after := []byte(`{"Runs":{"a":{"Status":"running"}}}`)
	patch, err := BuildMetadataPatch(nil, after)
	require.NoError(t, err)
	assert.Equal(t, after, patch)
}

func TestBuildMetadataPatchDiffsSubsequentUpdates(t *testing.T) {
	t.Parallel()
	before := []byte(`{"Runs":{"a":{"Status":"running"}}}`)
	after := []byte(`{"Runs":{"a":{"Status":"completed"}}}`)
	patch, err := BuildMetadataPatch(before, after)
	require.NoError(t, err)
	assert.NotEmpty(t, patch)
	assert.Contains(t, string(patch), "completed")
}
