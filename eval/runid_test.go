package eval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildRunIdentifiersAppendsTimestampAndModel(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 30, 14, 5, 0, 0, time.UTC)

	runID, display := BuildRunIdentifiers("qa-suite", "claude-opus-4", now)
	assert.Equal(t, "qa-suite-claude-opus-4-260730-1405", runID)
	assert.Equal(t, "qa-suite", display)
}

func TestBuildRunIdentifiersDisambiguatesCollisions(t *testing.T) {
	now := time.Date(2026, 7, 30, 14, 5, 0, 0, time.UTC)

	first, _ := BuildRunIdentifiers("collide-test", "", now)
	second, _ := BuildRunIdentifiers("collide-test", "", now)
	third, _ := BuildRunIdentifiers("collide-test", "", now)

	assert.Equal(t, "collide-test-260730-1405", first)
	assert.Equal(t, "collide-test-260730-1405-1", second)
	assert.Equal(t, "collide-test-260730-1405-2", third)
}

func TestBuildRunIdentifiersRespectsExplicitTimestamp(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 7, 30, 14, 5, 0, 0, time.UTC)

	runID, display := BuildRunIdentifiers("qa-suite-260101-0900", "", now)
	assert.Equal(t, "qa-suite-260101-0900", runID)
	assert.Equal(t, "qa-suite", display)
}

func TestStripModelProvider(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "claude-opus-4", StripModelProvider("anthropic/claude-opus-4"))
	assert.Equal(t, "gpt-4o", StripModelProvider("gpt-4o"))
	assert.Equal(t, "", StripModelProvider(""))
}

func TestComputeRunConfigIDStableAndExcludesEphemeral(t *testing.T) {
	t.Parallel()
	a, err := ComputeRunConfigID(map[string]any{"max_concurrency": 10, "run_name": "a"})
	assert.NoError(t, err)
	b, err := ComputeRunConfigID(map[string]any{"max_concurrency": 10, "run_name": "b"})
	assert.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := ComputeRunConfigID(map[string]any{"max_concurrency": 20, "run_name": "a"})
	assert.NoError(t, err)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}
