package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a BridgeError.
type Kind string

const (
	// KindSchemaFetch means a template schema could not be retrieved.
	KindSchemaFetch Kind = "schema_fetch"
	// KindSuggestionUnavailable means the AI provider returned nothing usable.
	KindSuggestionUnavailable Kind = "suggestion_unavailable"
	// KindApply means a metadata create or update was rejected.
	KindApply Kind = "apply"
	// KindConfiguration means required settings are missing or invalid.
	KindConfiguration Kind = "configuration"
)

// BridgeError describes a failure in one step of the enrichment pipeline.
type BridgeError struct {
	Kind        Kind
	Op          string
	TemplateKey string
	FileID      string
	RequestID   string
	Err         error
}

func (e *BridgeError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.TemplateKey != "" {
		fmt.Fprintf(&b, " template=%s", e.TemplateKey)
	}
	if e.FileID != "" {
		fmt.Fprintf(&b, " file=%s", e.FileID)
	}
	if e.RequestID != "" {
		fmt.Fprintf(&b, " request_id=%s", e.RequestID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// SchemaFetch wraps err as a schema fetch failure for templateKey.
func SchemaFetch(templateKey string, err error) *BridgeError {
	return &BridgeError{Kind: KindSchemaFetch, Op: "get template schema", TemplateKey: templateKey, Err: err}
}

// SuggestionUnavailable records that no suggestions exist for a file and template.
func SuggestionUnavailable(fileID, templateKey, requestID string, err error) *BridgeError {
	return &BridgeError{
		Kind:        KindSuggestionUnavailable,
		Op:          "fetch suggestions",
		FileID:      fileID,
		TemplateKey: templateKey,
		RequestID:   requestID,
		Err:         err,
	}
}

// Apply wraps a rejected metadata write.
func Apply(op, fileID, templateKey string, err error) *BridgeError {
	return &BridgeError{Kind: KindApply, Op: op, FileID: fileID, TemplateKey: templateKey, Err: err}
}

// Configuration reports missing or invalid settings. Missing names are listed in the message.
func Configuration(missing ...string) *BridgeError {
	return &BridgeError{
		Kind: KindConfiguration,
		Op:   "validate",
		Err:  fmt.Errorf("missing required settings: %s", strings.Join(missing, ", ")),
	}
}

// KindOf returns the Kind of the first BridgeError in err's chain, or "".
func KindOf(err error) Kind {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// IsSchemaFetch reports whether err is a schema fetch failure.
func IsSchemaFetch(err error) bool {
	return KindOf(err) == KindSchemaFetch
}

// IsSuggestionUnavailable reports whether err is a suggestion-unavailable outcome.
func IsSuggestionUnavailable(err error) bool {
	return KindOf(err) == KindSuggestionUnavailable
}

// IsApply reports whether err is an apply failure.
func IsApply(err error) bool {
	return KindOf(err) == KindApply
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool {
	return KindOf(err) == KindConfiguration
}

// InvalidConfiguration reports a setting that is present but unusable.
func InvalidConfiguration(err error) *BridgeError {
	return &BridgeError{Kind: KindConfiguration, Op: "validate", Err: err}
}
