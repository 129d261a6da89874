package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError_Nil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil, "fetch"))
}

func TestClassifyError_Context(t *testing.T) {
	pe := ClassifyError(fmt.Errorf("extract: %w", context.DeadlineExceeded), "fetch")
	require.NotNil(t, pe)
	assert.Equal(t, ErrTimeout, pe.Code)
	assert.Equal(t, "fetch", pe.Stage)
	assert.Equal(t, "operation timed out", pe.Message)
	assert.True(t, IsTimeout(pe))

	pe = ClassifyError(context.Canceled, "apply")
	assert.Equal(t, ErrContextCancelled, pe.Code)
	assert.Equal(t, "operation cancelled", pe.Message)
}

func TestClassifyError_BridgeKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"schema", SchemaFetch("k", errors.New("503")), ErrSchemaUnavailable},
		{"suggestion", SuggestionUnavailable("1", "k", "", nil), ErrNoSuggestions},
		{"apply", Apply("create", "1", "k", errors.New("400")), ErrApplyRejected},
		{"config", Configuration("PORT"), ErrMisconfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err, "stage").Code)
		})
	}
}

func TestClassifyError_Patterns(t *testing.T) {
	tests := []struct {
		msg  string
		want ErrorCode
	}{
		{"invalid character 'x' looking for beginning of value", ErrParseError},
		{"unexpected end of JSON input", ErrParseError},
		{"box api: status 429 Too Many Requests", ErrRateLimit},
		{"box api: status 401", ErrUnauthorizedToken},
		{"dial tcp: connection refused", ErrUpstreamUnavailable},
		{"status 503 service unavailable", ErrUpstreamUnavailable},
		{"something odd", ErrProcessingError},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			pe := ClassifyError(errors.New(tt.msg), "stage")
			assert.Equal(t, tt.want, pe.Code)
			assert.Equal(t, tt.msg, pe.Message)
		})
	}

	assert.Equal(t, ErrUnauthorizedToken, ClassifyError(fmt.Errorf("get: %w", ErrUnauthorized), "s").Code)
}

func TestPipelineError_Error(t *testing.T) {
	pe := &PipelineError{Code: ErrTimeout, Stage: "apply", Duration: 61 * time.Second, Timeout: 60 * time.Second}
	assert.Equal(t, "timeout: apply timed out after 1m1s (limit: 1m0s)", pe.Error())

	pe = &PipelineError{Code: ErrParseError, Stage: "webhook", Message: "bad json"}
	assert.Equal(t, "parse_error: webhook: bad json", pe.Error())

	pe = &PipelineError{Code: ErrProcessingError, Message: "x"}
	assert.Equal(t, "processing_error: x", pe.Error())
}

func TestIsErrorRetryable(t *testing.T) {
	assert.True(t, IsErrorRetryable(ClassifyError(errors.New("429"), "s")))
	assert.False(t, IsErrorRetryable(ClassifyError(errors.New("odd"), "s")))
	assert.False(t, IsErrorRetryable(errors.New("plain")))
}
