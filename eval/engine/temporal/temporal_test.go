package temporal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func TestRunWorkflowExecutesRegisteredActivityAndReturnsItsReport(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()

	want := []byte(`{"run_name":"unit-run","total_items":1}`)
	env.RegisterActivityWithOptions(func(ctx context.Context, name string) ([]byte, error) {
		require.Equal(t, "unit-run", name)
		return want, nil
	}, activity.RegisterOptions{Name: runActivityName})

	env.ExecuteWorkflow(RunWorkflow, "unit-run")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var got []byte
	require.NoError(t, env.GetWorkflowResult(&got))
	require.Equal(t, want, got)
}
