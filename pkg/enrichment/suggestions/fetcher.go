// Package suggestions asks Box AI for metadata suggestions for one file and
// one template at a time.
package suggestions

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// Mode selects how suggestions are requested.
type Mode string

const (
	// ModeStructured extracts against the template itself.
	ModeStructured Mode = "structured"
	// ModeFreeform sends a prompt built from the template schema.
	ModeFreeform Mode = "freeform"
)

// ParseMode validates a configured mode. Empty means structured.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeStructured:
		return ModeStructured, nil
	case ModeFreeform:
		return ModeFreeform, nil
	}
	return "", fmt.Errorf("unknown extraction mode %q (want structured or freeform)", s)
}

// Provider is the Box AI surface the fetcher needs. *box.Client satisfies it.
type Provider interface {
	ExtractStructured(ctx context.Context, fileID, scope, templateKey string) (*box.ExtractResult, error)
	ExtractFreeform(ctx context.Context, fileID, prompt string) (*box.ExtractResult, error)
}

// Fetcher returns suggestion sets. It never fails on provider errors: a
// template the provider cannot fill simply contributes nothing.
type Fetcher struct {
	provider Provider
	scope    string
	mode     Mode
	logger   logging.Logger
	metrics  *observability.BridgeMetrics
	tracer   *observability.Tracer
}

// Option configures the fetcher.
type Option func(*Fetcher)

// WithMode sets the request mode.
func WithMode(mode Mode) Option {
	return func(f *Fetcher) {
		f.mode = mode
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// WithMetrics records suggestion outcomes.
func WithMetrics(m *observability.BridgeMetrics) Option {
	return func(f *Fetcher) {
		f.metrics = m
	}
}

// New creates a fetcher for templates in scope.
func New(provider Provider, scope string, opts ...Option) *Fetcher {
	f := &Fetcher{
		provider: provider,
		scope:    scope,
		mode:     ModeStructured,
		logger:   logging.NewNopLogger(),
		tracer:   observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(logging.F("component", "suggestion_fetcher"))
	return f
}

// Mode returns the configured request mode.
func (f *Fetcher) Mode() Mode {
	return f.mode
}

// Fetch requests suggestions for fileID against templateKey. It returns
// false when the provider has nothing, answers non-2xx or cannot be reached.
// schema is only used to build the freeform prompt.
func (f *Fetcher) Fetch(ctx context.Context, fileID, templateKey string, schema enrichment.Schema) (enrichment.SuggestionSet, bool) {
	ctx, span := f.tracer.StartTemplateSpan(ctx, templateKey)
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	log := f.logger.WithContext(ctx).With(logging.FileID(fileID), logging.TemplateKey(templateKey))

	var (
		res *box.ExtractResult
		err error
	)
	switch f.mode {
	case ModeFreeform:
		var prompt string
		prompt, err = BuildPrompt(schema)
		if err == nil {
			res, err = f.provider.ExtractFreeform(ctx, fileID, prompt)
		}
	default:
		res, err = f.provider.ExtractStructured(ctx, fileID, f.scope, templateKey)
	}

	if err != nil {
		unavailable := bberrors.SuggestionUnavailable(fileID, templateKey, box.RequestIDOf(err), err)
		log.Warn("No suggestions from Box AI",
			logging.F("request_id", unavailable.RequestID),
			logging.F("status", box.StatusOf(err)),
			logging.Err(err))
		spanHelper.SetError(unavailable, string(bberrors.KindSuggestionUnavailable), false)
		f.metrics.RecordSuggestions(templateKey, observability.OutcomeFailure)
		return nil, false
	}

	spanHelper.SetRequestID(res.RequestID)
	if len(res.Fields) == 0 {
		log.Info("Box AI returned no suggestions", logging.F("request_id", res.RequestID))
		f.metrics.RecordSuggestions(templateKey, observability.OutcomeEmpty)
		return nil, false
	}

	log.Info("Fetched suggestions",
		logging.F("request_id", res.RequestID),
		logging.F("count", len(res.Fields)))
	spanHelper.SetSuccess()
	f.metrics.RecordSuggestions(templateKey, observability.OutcomeSuccess)
	return enrichment.SuggestionSet(res.Fields), true
}

type promptField struct {
	Type        string `json:"type"`
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
	Prompt      string `json:"prompt"`
}

// BuildPrompt renders the freeform extraction prompt for a schema: one
// string field per schema field, described by its display name.
func BuildPrompt(schema enrichment.Schema) (string, error) {
	if schema.Empty() {
		return "", fmt.Errorf("template %s has no fields to prompt for", schema.TemplateKey)
	}
	fields := make([]promptField, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		fields = append(fields, promptField{
			Type:        "string",
			Key:         f.Key,
			DisplayName: f.DisplayName,
			Description: "The " + strings.ToLower(f.DisplayName) + " in the document",
			Prompt:      f.DisplayName + " is in the document",
		})
	}
	data, err := json.Marshal(map[string]any{"fields": fields})
	if err != nil {
		return "", err
	}
	return string(data), nil
}
