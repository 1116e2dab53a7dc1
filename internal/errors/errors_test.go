package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindFromCode(t *testing.T) {
	tests := []struct {
		code string
		want Kind
	}{
		{ErrCodeInvalidInput, KindInvalidArgs},
		{ErrCodeQueryEmpty, KindInvalidArgs},
		{ErrCodeFileNotFound, KindNotFound},
		{ErrCodePackExpired, KindNotFound},
		{ErrCodeSensitiveFile, KindBlocked},
		{ErrCodeBudgetExceeded, KindBlocked},
		{ErrCodeResolveTimeout, KindTimeout},
		{ErrCodeAmbiguousMatch, KindAmbiguousMatch},
		{ErrCodeNoMatch, KindNoMatch},
		{ErrCodeHashMismatch, KindHashMismatch},
		{ErrCodeIndexStale, KindIndexStale},
		{ErrCodeFallbackUsed, KindFallbackUsed},
		{ErrCodeCorruptIndex, KindFatal},
		{"ERR_999_UNKNOWN", KindFatal},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, kindFromCode(tt.code))
		})
	}
}

func TestErrorWrappingChain(t *testing.T) {
	cause := stderrors.New("disk full")
	err := New(ErrCodeStorageFailed, "persist failed", cause)

	assert.ErrorIs(t, err, New(ErrCodeStorageFailed, "other message", nil))
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.Contains(t, err.Error(), ErrCodeStorageFailed)

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, KindFatal, KindOf(wrapped))
	assert.Equal(t, ErrCodeStorageFailed, GetCode(wrapped))
}

func TestSeverityAndRetry(t *testing.T) {
	assert.True(t, IsFatal(Fatal("corrupt", nil)))
	assert.False(t, IsFatal(InvalidArgs("bad")))

	assert.True(t, IsRetryable(Timeout("resolve", nil)))
	assert.False(t, IsRetryable(Blocked("denied")))
	assert.False(t, IsRetryable(stderrors.New("plain")))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := NotFound("pack", "abc123").
		WithDetail("hint", "rebuild").
		WithSuggestion("re-run the query")

	require.Equal(t, "abc123", err.Details["id"])
	assert.Equal(t, "rebuild", err.Details["hint"])
	assert.Equal(t, "re-run the query", err.Suggestion)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindFatal, KindOf(stderrors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
