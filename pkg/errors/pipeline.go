package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified failure reported by workers and metrics.
type ErrorCode string

const (
	ErrTimeout             ErrorCode = "timeout"
	ErrContextCancelled    ErrorCode = "context_cancelled"
	ErrRateLimit           ErrorCode = "rate_limit"
	ErrUpstreamUnavailable ErrorCode = "upstream_unavailable"
	ErrUnauthorizedToken   ErrorCode = "unauthorized_token"
	ErrParseError          ErrorCode = "parse_error"
	ErrSchemaUnavailable   ErrorCode = "schema_unavailable"
	ErrNoSuggestions       ErrorCode = "no_suggestions"
	ErrApplyRejected       ErrorCode = "apply_rejected"
	ErrMisconfigured       ErrorCode = "misconfigured"
	ErrProcessingError     ErrorCode = "processing_error"
)

// PipelineError is a structured error for a failed pipeline step.
type PipelineError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Timeout  time.Duration
	Cause    error
}

func (e *PipelineError) Error() string {
	if e.Timeout > 0 && e.Duration > 0 {
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)", e.Code, e.Stage, e.Duration.Truncate(time.Second), e.Timeout.Truncate(time.Second))
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

var kindCodes = map[Kind]ErrorCode{
	KindSchemaFetch:           ErrSchemaUnavailable,
	KindSuggestionUnavailable: ErrNoSuggestions,
	KindApply:                 ErrApplyRejected,
	KindConfiguration:         ErrMisconfigured,
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// Context errors win over everything else, then the BridgeError kind, then
// message patterns from the HTTP layer.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	pe := &PipelineError{
		Stage:   stage,
		Cause:   err,
		Message: err.Error(),
	}

	if errors.Is(err, context.DeadlineExceeded) {
		pe.Code = ErrTimeout
		pe.Message = "operation timed out"
		return pe
	}
	if errors.Is(err, context.Canceled) {
		pe.Code = ErrContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	if code, ok := kindCodes[KindOf(err)]; ok {
		pe.Code = code
		return pe
	}

	if IsUnauthorized(err) {
		pe.Code = ErrUnauthorizedToken
		return pe
	}

	lower := strings.ToLower(err.Error())

	if strings.Contains(lower, "invalid character") || strings.Contains(lower, "unexpected end of json") || strings.Contains(lower, "cannot unmarshal") {
		pe.Code = ErrParseError
		return pe
	}

	if strings.Contains(lower, "rate limit") || strings.Contains(lower, "429") || strings.Contains(lower, "too many requests") {
		pe.Code = ErrRateLimit
		return pe
	}

	if strings.Contains(lower, "401") || strings.Contains(lower, "unauthorized") {
		pe.Code = ErrUnauthorizedToken
		return pe
	}

	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host") ||
		strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "504") ||
		strings.Contains(lower, "service unavailable") {
		pe.Code = ErrUpstreamUnavailable
		return pe
	}

	pe.Code = ErrProcessingError
	return pe
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrTimeout
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying.
func IsErrorRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return IsRetryable(pe.Code)
	}
	return false
}
