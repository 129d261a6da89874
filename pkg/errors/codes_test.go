package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allCodes = []ErrorCode{
	ErrTimeout,
	ErrContextCancelled,
	ErrRateLimit,
	ErrUpstreamUnavailable,
	ErrUnauthorizedToken,
	ErrParseError,
	ErrSchemaUnavailable,
	ErrNoSuggestions,
	ErrApplyRejected,
	ErrMisconfigured,
	ErrProcessingError,
}

func TestErrorCodeRegistry_Completeness(t *testing.T) {
	for _, code := range allCodes {
		t.Run(string(code), func(t *testing.T) {
			info, ok := ErrorCodeRegistry[code]
			assert.True(t, ok, "ErrorCode %s should be in registry", code)
			assert.Equal(t, code, info.Code, "Registry entry should have matching code")
			assert.NotEmpty(t, info.Description, "Description should not be empty")
			assert.NotEmpty(t, info.SuggestedAction, "SuggestedAction should not be empty")
		})
	}
	assert.Len(t, ErrorCodeRegistry, len(allCodes))
}

func TestIsRetryable_ErrorCode(t *testing.T) {
	tests := []struct {
		code     ErrorCode
		expected bool
	}{
		{ErrTimeout, true},
		{ErrRateLimit, true},
		{ErrUpstreamUnavailable, true},
		{ErrSchemaUnavailable, true},
		{ErrContextCancelled, false},
		{ErrUnauthorizedToken, false},
		{ErrParseError, false},
		{ErrNoSuggestions, false},
		{ErrApplyRejected, false},
		{ErrMisconfigured, false},
		{ErrProcessingError, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.code))
		})
	}
}

func TestUnknownCode(t *testing.T) {
	unknown := ErrorCode("nope")
	assert.False(t, IsRetryable(unknown))
	assert.Equal(t, "Unknown error", GetDescription(unknown))
	assert.Equal(t, "Check logs for the delivery id", GetSuggestedAction(unknown))
}
