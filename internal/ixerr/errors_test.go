package ixerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesCategoryAndSeverity(t *testing.T) {
	e := New(ErrCodeCycleDetected, "blocking relation would close a cycle", nil)
	assert.Equal(t, CategoryValidation, e.Category)
	assert.Equal(t, SeverityWarning, e.Severity)
	assert.False(t, e.Retryable)
}

func TestNewFatalCodes(t *testing.T) {
	e := New(ErrCodeMapFull, "cache map is full", nil)
	assert.Equal(t, SeverityFatal, e.Severity)
	assert.True(t, IsFatal(e))
}

func TestRetryableCodes(t *testing.T) {
	e := New(ErrCodeRequestTimeout, "daemon did not respond", nil)
	assert.True(t, e.Retryable)
	assert.True(t, IsRetryable(e))
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	sentinel := New(ErrCodeRelationshipNotPermitted, "", nil)
	wrapped := New(ErrCodeRelationshipNotPermitted, "implements from issue to decision not permitted", nil)
	assert.True(t, errors.Is(wrapped, sentinel))

	other := New(ErrCodeCycleDetected, "", nil)
	assert.False(t, errors.Is(wrapped, other))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk write failed")
	e := Wrap(ErrCodeDiskFull, cause)
	require.NotNil(t, e)
	assert.Same(t, cause, e.Cause)
	assert.ErrorIs(t, e, cause)
}

func TestWithDetailAndSuggestion(t *testing.T) {
	e := New(ErrCodeMissingField, "title is required", nil).
		WithDetail("file", ".ixchel/decisions/dec-aaa111.md").
		WithSuggestion("add a title field to the frontmatter")

	assert.Equal(t, ".ixchel/decisions/dec-aaa111.md", e.Details["file"])
	assert.Contains(t, e.Suggestion, "add a title")
}

func TestValidationErrorAttachesFile(t *testing.T) {
	e := ValidationError(ErrCodeUnknownPrefix, "prefix xyz is not registered", "notes/xyz-123.md")
	assert.Equal(t, "notes/xyz-123.md", e.Details["file"])
	assert.Equal(t, CategoryValidation, e.Category)
}

func TestIsWarningDistinguishesUserErrorsFromFatal(t *testing.T) {
	assert.True(t, IsWarning(New(ErrCodeImmutabilityViolation, "", nil)))
	assert.False(t, IsWarning(New(ErrCodeCorrupted, "", nil)))
}
