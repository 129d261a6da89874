package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrTimeout: {
		Code:            ErrTimeout,
		Retryable:       true,
		Description:     "Box or Salesforce call exceeded its time limit",
		SuggestedAction: "Raise box.request_timeout or pipeline.deadline in config.yaml",
	},
	ErrContextCancelled: {
		Code:            ErrContextCancelled,
		Retryable:       false,
		Description:     "Processing cancelled, usually by shutdown",
		SuggestedAction: "Re-run the file with: boxbridge process <file-id>",
	},
	ErrRateLimit: {
		Code:            ErrRateLimit,
		Retryable:       true,
		Description:     "Box API rate limit exceeded",
		SuggestedAction: "Lower box.rate_limit or wait for the quota window to reset",
	},
	ErrUpstreamUnavailable: {
		Code:            ErrUpstreamUnavailable,
		Retryable:       true,
		Description:     "Box or Salesforce endpoint unreachable",
		SuggestedAction: "Check network access and the configured base URLs",
	},
	ErrUnauthorizedToken: {
		Code:            ErrUnauthorizedToken,
		Retryable:       false,
		Description:     "Access token rejected",
		SuggestedAction: "Refresh the token: boxbridge auth set box|salesforce",
	},
	ErrParseError: {
		Code:            ErrParseError,
		Retryable:       false,
		Description:     "Payload could not be decoded",
		SuggestedAction: "Inspect the webhook body or API response in debug logs",
	},
	ErrSchemaUnavailable: {
		Code:            ErrSchemaUnavailable,
		Retryable:       true,
		Description:     "Metadata template schema could not be fetched",
		SuggestedAction: "Verify the template exists: boxbridge templates schema <key>",
	},
	ErrNoSuggestions: {
		Code:            ErrNoSuggestions,
		Retryable:       false,
		Description:     "AI extraction returned no suggestions for the template",
		SuggestedAction: "No action needed; the template does not fit this file",
	},
	ErrApplyRejected: {
		Code:            ErrApplyRejected,
		Retryable:       false,
		Description:     "Box rejected the metadata create or update",
		SuggestedAction: "Check the attempted payload in logs and the history: boxbridge history <file-id>",
	},
	ErrMisconfigured: {
		Code:            ErrMisconfigured,
		Retryable:       false,
		Description:     "Required configuration is missing or invalid",
		SuggestedAction: "Set the missing environment variables or run: boxbridge auth set",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check logs for the delivery id",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check logs for the delivery id"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
