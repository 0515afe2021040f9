package apierr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromError_UnwrapsWrappedError(t *testing.T) {
	original := New(CodeValidationFailed, "bad field")
	wrapped := fmt.Errorf("processing row 3: %w", original)

	got := FromError(wrapped)
	require.NotNil(t, got)
	assert.Equal(t, CodeValidationFailed, got.Code)
	assert.Equal(t, 400, got.StatusCode())
}

func TestFromError_DefaultsToInternalErrorForPlainError(t *testing.T) {
	got := FromError(fmt.Errorf("boom"))
	require.NotNil(t, got)
	assert.Equal(t, CodeInternalError, got.Code)
}

func TestFromError_NilReturnsNil(t *testing.T) {
	assert.Nil(t, FromError(nil))
}
