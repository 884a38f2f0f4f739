package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndCodeOf(t *testing.T) {
	err := New(CodeAgentNotFound, "agent not found: backend")
	assert.Equal(t, CodeAgentNotFound, CodeOf(err))
	assert.True(t, IsOperational(err))
	assert.Contains(t, err.Error(), "1400")
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeMemoryDatabase, "insert entry", cause)

	require.ErrorIs(t, err, cause)
	assert.Equal(t, CodeMemoryDatabase, CodeOf(err))
	assert.Contains(t, err.Error(), "disk full")
}

func TestCodeOfThroughFmtWrap(t *testing.T) {
	inner := New(CodeCycleDetected, "a already in delegation chain")
	outer := fmt.Errorf("delegate: %w", inner)

	assert.Equal(t, CodeCycleDetected, CodeOf(outer))
	assert.True(t, Is(outer, CodeCycleDetected))
	assert.False(t, Is(outer, CodeMaxDepthExceeded))
}

func TestCodeOfUntyped(t *testing.T) {
	assert.Equal(t, CodeUnknown, CodeOf(errors.New("boom")))
	assert.False(t, IsOperational(errors.New("boom")))
}

func TestInternalNotOperational(t *testing.T) {
	err := Internal("invariant violated", nil)
	assert.False(t, IsOperational(err))
	assert.Equal(t, CodeUnknown, err.Code)
}

func TestCLISurfaceFamily(t *testing.T) {
	err := New(CodeCLINotInitialized, "CLI context not initialized")
	assert.Equal(t, CodeCLINotInitialized, CodeOf(err))
	assert.True(t, IsOperational(err))
	assert.Contains(t, err.Error(), "1700")
}

func TestSuggestionsAndContext(t *testing.T) {
	err := New(CodeAgentNotFound, "agent not found: bakcend").
		WithSuggestions("backend", "frontend").
		WithContext("requested", "bakcend")

	assert.Len(t, err.Suggestions, 2)
	assert.Equal(t, "bakcend", err.Context["requested"])
}
