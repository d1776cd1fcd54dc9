package eval

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFatalClassification(t *testing.T) {
	t.Parallel()
	fatal := []Kind{KindAdapterMismatch, KindResumeMismatch, KindDatasetMissing, KindCredentialsMissing, KindWriterFailure}
	nonFatal := []Kind{KindTaskFailure, KindMetricFailure, KindTimeout, KindPlatformUnavailable}

	for _, k := range fatal {
		assert.True(t, k.Fatal(), "%s should be fatal", k)
	}
	for _, k := range nonFatal {
		assert.False(t, k.Fatal(), "%s should not be fatal", k)
	}
}

func TestIsKindUnwrapsWrappedErrors(t *testing.T) {
	t.Parallel()
	base := NewItemError(KindTaskFailure, "item-1", fmt.Errorf("boom"))
	wrapped := fmt.Errorf("context: %w", base)

	assert.True(t, errors.Is(wrapped, wrapped)) // sanity: wrapping works
	assert.True(t, IsKind(wrapped, KindTaskFailure))
	assert.False(t, IsKind(wrapped, KindTimeout))
}

func TestErrorMessageIncludesItemID(t *testing.T) {
	t.Parallel()
	err := NewItemError(KindTimeout, "item-42", fmt.Errorf("deadline exceeded"))
	assert.Contains(t, err.Error(), "item-42")
	assert.Contains(t, err.Error(), "timeout")
}
