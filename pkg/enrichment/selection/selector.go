// Package selection decides which metadata templates to apply to a file.
package selection

import (
	"context"

	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/extraction"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// DefaultThreshold is the fill score at which a template is applied even
// when it is not the best match.
const DefaultThreshold enrichment.FillScore = 0.50

// SchemaSource returns template schemas. *schemas.Cache satisfies it.
type SchemaSource interface {
	Get(ctx context.Context, templateKey string) (enrichment.Schema, error)
}

// SuggestionSource returns AI suggestions. *suggestions.Fetcher satisfies it.
type SuggestionSource interface {
	Fetch(ctx context.Context, fileID, templateKey string, schema enrichment.Schema) (enrichment.SuggestionSet, bool)
}

// Candidate is a template that produced suggestions for the file.
type Candidate struct {
	TemplateKey string
	Schema      enrichment.Schema
	Suggestions enrichment.SuggestionSet
	Score       enrichment.FillScore
	Extractor   extraction.Extractor
}

// Selection is the outcome of Select.
type Selection struct {
	// Apply lists the templates to apply in input order, except that Best
	// always comes last. No template appears twice.
	Apply []*Candidate
	// Best is the strictly highest scoring template, first seen on ties.
	// nil when no template scored above zero.
	Best *Candidate
	// Scores holds the fill score of every template that returned
	// suggestions.
	Scores map[string]enrichment.FillScore
}

// Selector scores templates against a file.
type Selector struct {
	schemas     SchemaSource
	suggestions SuggestionSource
	registry    *extraction.Registry
	threshold   enrichment.FillScore
	logger      logging.Logger
	metrics     *observability.BridgeMetrics
}

// Option configures the selector.
type Option func(*Selector)

// WithThreshold overrides DefaultThreshold.
func WithThreshold(t enrichment.FillScore) Option {
	return func(s *Selector) {
		s.threshold = t
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Selector) {
		s.logger = logger
	}
}

// WithMetrics records fill scores.
func WithMetrics(m *observability.BridgeMetrics) Option {
	return func(s *Selector) {
		s.metrics = m
	}
}

// New creates a selector.
func New(schemas SchemaSource, suggestions SuggestionSource, registry *extraction.Registry, opts ...Option) *Selector {
	s := &Selector{
		schemas:     schemas,
		suggestions: suggestions,
		registry:    registry,
		threshold:   DefaultThreshold,
		logger:      logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "template_selector"))
	return s
}

// Threshold returns the configured apply threshold.
func (s *Selector) Threshold() enrichment.FillScore {
	return s.threshold
}

// Select fetches and scores suggestions for each template key in order.
// Templates without an extractor, with an unusable schema or without
// suggestions are skipped. An empty result is not an error.
func (s *Selector) Select(ctx context.Context, fileID string, templateKeys []string) Selection {
	sel := Selection{Scores: make(map[string]enrichment.FillScore)}
	log := s.logger.WithContext(ctx).With(logging.FileID(fileID))

	for _, key := range templateKeys {
		if ctx.Err() != nil {
			log.Warn("Stopping template selection", logging.Err(ctx.Err()))
			break
		}

		extractor, ok := s.registry.Get(key)
		if !ok {
			log.Debug("No extractor registered, skipping template", logging.TemplateKey(key))
			continue
		}

		schema, err := s.schemas.Get(ctx, key)
		if err != nil || schema.Empty() {
			log.Debug("Template schema unusable, skipping", logging.TemplateKey(key), logging.Err(err))
			continue
		}

		set, ok := s.suggestions.Fetch(ctx, fileID, key, schema)
		if !ok {
			continue
		}

		score := enrichment.Score(set, schema)
		s.metrics.RecordFillScore(key, float64(score))
		sel.Scores[key] = score

		c := &Candidate{
			TemplateKey: key,
			Schema:      schema,
			Suggestions: set,
			Score:       score,
			Extractor:   extractor,
		}
		log.Info("Scored template",
			logging.TemplateKey(key),
			logging.F("fill_score", float64(score)))

		if score > 0 && (sel.Best == nil || score > sel.Best.Score) {
			sel.Best = c
		}
		if score >= s.threshold {
			sel.Apply = append(sel.Apply, c)
		}
	}

	if sel.Best != nil {
		sel.Apply = append(without(sel.Apply, sel.Best), sel.Best)
	}
	return sel
}

func without(list []*Candidate, c *Candidate) []*Candidate {
	out := list[:0]
	for _, x := range list {
		if x != c {
			out = append(out, x)
		}
	}
	return out
}
