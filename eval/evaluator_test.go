package eval

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qym-go/qym/checkpoint"
	"github.com/qym-go/qym/dataset"
	"github.com/qym-go/qym/item"
	"github.com/qym-go/qym/metric"
)

func echoTask(in string) (any, error) {
	return "echo:" + in, nil
}

func failingTask(in string) (any, error) {
	if in == "boom" {
		return nil, fmt.Errorf("task exploded")
	}
	return "echo:" + in, nil
}

func newTestDataset(n int) dataset.Source {
	items := make([]item.Item, n)
	for i := range items {
		items[i] = item.Item{ID: fmt.Sprintf("item-%d", i), Input: fmt.Sprintf("in-%d", i), ExpectedOutput: fmt.Sprintf("echo:in-%d", i)}
	}
	return dataset.NewSlice("unit-dataset", items)
}

func testConfig(t *testing.T, outputDir string) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.OutputDir = outputDir
	cfg.RunName = "unit-run"
	cfg.MaxConcurrency = 4
	cfg.InterruptGraceSeconds = 1
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestRunProcessesEveryItemAndPersistsCheckpoint(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	ev, err := New(echoTask, newTestDataset(5), []string{"exact_match"}, metric.NewRegistry(), cfg)
	require.NoError(t, err)

	state, err := ev.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, state.TotalItems())
	assert.Equal(t, 5, len(state.SuccessfulItems()))
	assert.Equal(t, float64(1), state.SuccessRate())

	var csvPath string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && filepath.Ext(path) == ".csv" {
			csvPath = path
		}
		return nil
	})
	require.NoError(t, err)
	require.NotEmpty(t, csvPath, "expected a checkpoint csv to have been written under %s", dir)

	loaded, err := checkpoint.Load(csvPath)
	require.NoError(t, err)
	assert.Equal(t, 5, len(loaded.Completed))
}

func TestRunRecordsTaskFailuresAsErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	items := []item.Item{
		{ID: "ok", Input: "fine"},
		{ID: "bad", Input: "boom"},
	}
	ds := dataset.NewSlice("unit-dataset-errors", items)

	ev, err := New(failingTask, ds, []string{"exact_match"}, metric.NewRegistry(), cfg)
	require.NoError(t, err)

	state, err := ev.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, state.TotalItems())
	assert.Equal(t, []string{"bad"}, state.FailedItems())
	errRec, ok := state.Error("bad")
	require.True(t, ok)
	assert.Contains(t, errRec.Message, "task exploded")
}

func TestRunRejectsUnknownMetric(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	_, err := New(echoTask, newTestDataset(1), []string{"not_a_real_metric"}, metric.NewRegistry(), cfg)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAdapterMismatch))
}

func TestRunResumeSkipsCompletedItems(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(t, dir)

	ds := newTestDataset(3)
	ev, err := New(echoTask, ds, []string{"exact_match"}, metric.NewRegistry(), cfg)
	require.NoError(t, err)
	_, err = ev.Run(context.Background())
	require.NoError(t, err)

	var csvPath string
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && filepath.Ext(path) == ".csv" {
			csvPath = path
		}
		return nil
	})
	require.NotEmpty(t, csvPath)

	cfg2 := cfg
	cfg2.ResumeFrom = csvPath
	ev2, err := New(echoTask, ds, []string{"exact_match"}, metric.NewRegistry(), cfg2)
	require.NoError(t, err)

	state, err := ev2.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, state.TotalItems())
}
