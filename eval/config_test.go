package eval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigMatchesDocumentedDefaults(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.Equal(t, 10, cfg.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.True(t, cfg.CheckpointEnabled)
	assert.Equal(t, "csv", cfg.CheckpointFormat)
	assert.True(t, cfg.CheckpointFlushEachItem)
	assert.False(t, cfg.CheckpointFsync)
	assert.Equal(t, "qym_results", cfg.OutputDir)
}

func TestValidateRejectsNonCSVCheckpointFormat(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.CheckpointFormat = "parquet"
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCredentialsMissing))
}

func TestValidateRejectsResumeRerunErrorsOnSameFile(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.ResumeFrom = "prior.csv"
	cfg.ResumeRerunErrors = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindResumeMismatch))
}

func TestValidateSchemaRejectsCheckpointFormatOutsideEnum(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.CheckpointFormat = "parquet"
	err := cfg.validateSchema()
	require.Error(t, err)
	assert.True(t, IsKind(err, KindCredentialsMissing))
}

func TestValidateSchemaAcceptsDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	assert.NoError(t, cfg.validateSchema())
}

func TestNormalizeModelsExpandsCommaSeparatedModelField(t *testing.T) {
	t.Parallel()
	cfg := Config{Model: "gpt-4o, claude-opus-4 , gemini-pro"}
	cfg.normalizeModels()
	assert.Equal(t, []string{"gpt-4o", "claude-opus-4", "gemini-pro"}, cfg.Models)
}

func TestOutputPathFollowsDirectoryConvention(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.OutputDir = "qym_results"
	now := time.Date(2026, 7, 30, 14, 5, 0, 0, time.UTC)
	path := cfg.OutputPath("my-task", "my-dataset", "anthropic/claude-opus-4", "my-task-claude-opus-4-260730-1405", now)
	assert.Equal(t, "qym_results/my-task/claude-opus-4/2026-07-30/my-task-my-dataset-claude-opus-4-260730-1405.csv", path)
}
