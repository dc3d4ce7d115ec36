package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DerivesCategoryFromCode(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected Category
	}{
		{"config code", ErrCodeConfigInvalid, CategoryConfig},
		{"io code", ErrCodeStoreCorrupt, CategoryIO},
		{"validation code", ErrCodeEmptyContent, CategoryValidation},
		{"internal code", ErrCodeSyncFailed, CategoryInternal},
		{"malformed code", "ERR", CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.expected, err.Category)
		})
	}
}

func TestNew_DerivesSeverityFromCode(t *testing.T) {
	// Given: codes across the severity spectrum
	assert.Equal(t, SeverityFatal, New(ErrCodeStoreCorrupt, "", nil).Severity)
	assert.Equal(t, SeverityFatal, New(ErrCodeDiskFull, "", nil).Severity)
	assert.Equal(t, SeverityWarning, New(ErrCodeFileBusy, "", nil).Severity)
	assert.Equal(t, SeverityError, New(ErrCodeEmptyContent, "", nil).Severity)
}

func TestIndexError_ErrorFormat(t *testing.T) {
	err := New(ErrCodeInvalidInput, "query is empty", nil)
	assert.Equal(t, "[ERR_401_INVALID_INPUT] query is empty", err.Error())
}

func TestIndexError_Unwrap(t *testing.T) {
	cause := stderrors.New("underlying failure")
	err := New(ErrCodeInternal, "wrapper", cause)

	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.True(t, stderrors.Is(err, cause))
}

func TestIndexError_IsMatchesByCode(t *testing.T) {
	err := New(ErrCodeStoreCorrupt, "store unreadable", nil)
	target := New(ErrCodeStoreCorrupt, "different message", nil)

	assert.True(t, stderrors.Is(err, target))
	assert.False(t, stderrors.Is(err, New(ErrCodeDiskFull, "", nil)))
}

func TestWrap_NilReturnsNil(t *testing.T) {
	require.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestWrap_PreservesCause(t *testing.T) {
	cause := fmt.Errorf("read failed")
	err := Wrap(ErrCodeFileBusy, cause)

	require.NotNil(t, err)
	assert.Equal(t, "read failed", err.Message)
	assert.Equal(t, cause, err.Cause)
	assert.True(t, err.Retryable)
}

func TestWithDetail_Chains(t *testing.T) {
	err := New(ErrCodeFileNotFound, "missing", nil).
		WithDetail("path", "/logs/a.jsonl").
		WithSuggestion("check the watched roots configuration")

	assert.Equal(t, "/logs/a.jsonl", err.Details["path"])
	assert.Equal(t, "check the watched roots configuration", err.Suggestion)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(ErrCodeFileBusy, "locked", nil)))
	assert.False(t, IsRetryable(New(ErrCodeEmptyContent, "empty", nil)))
	assert.False(t, IsRetryable(stderrors.New("plain error")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(New(ErrCodeStoreCorrupt, "bad json", nil)))
	assert.False(t, IsFatal(New(ErrCodeInvalidInput, "", nil)))
	assert.False(t, IsFatal(nil))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeBackupFailed, GetCode(New(ErrCodeBackupFailed, "", nil)))
	assert.Equal(t, "", GetCode(stderrors.New("plain")))
}
