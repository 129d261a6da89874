// Package extraction maps AI suggestions onto a template's internal keys.
package extraction

import (
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// Extractor turns a suggestion set into an attribute map for one template.
// Implementations iterate the schema, never the suggestions, so a key outside
// the schema's internal keys can never reach Box.
type Extractor interface {
	// Name identifies the strategy in logs and config.
	Name() string
	// Extract returns one attribute per handled schema field, in schema
	// order. Fields without a suggestion carry a nil value.
	Extract(set enrichment.SuggestionSet, schema enrichment.Schema) enrichment.AttributeMap
}

// Strategy names accepted in configuration.
const (
	StrategyGeneric   = "generic"
	StrategyFieldList = "field_list"
)

// GenericExtractor fills every schema field from the suggestion whose key
// normalizes to the field's display name or internal key.
type GenericExtractor struct{}

// Name implements Extractor.
func (GenericExtractor) Name() string { return StrategyGeneric }

// Extract implements Extractor.
func (GenericExtractor) Extract(set enrichment.SuggestionSet, schema enrichment.Schema) enrichment.AttributeMap {
	idx := set.Index()
	out := make(enrichment.AttributeMap, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		v, _ := enrichment.Match(idx, f)
		out = append(out, enrichment.Attribute{Key: f.Key, Value: v})
	}
	return out
}

// FieldSpec lists one field handled by a FieldListExtractor.
type FieldSpec struct {
	// Field is the schema display name or internal key.
	Field string `yaml:"field" json:"field"`
	// Sources are extra suggestion keys to try when the field's own name
	// has no suggestion, in order.
	Sources []string `yaml:"sources,omitempty" json:"sources,omitempty"`
}

// FieldListExtractor handles only the listed fields of a template, with
// optional source aliases per field. Schema fields that are not listed are
// left untouched on the instance.
type FieldListExtractor struct {
	name   string
	fields []FieldSpec
	logger logging.Logger
}

// NewFieldListExtractor creates an extractor for the given field list.
func NewFieldListExtractor(name string, fields []FieldSpec, logger logging.Logger) *FieldListExtractor {
	if name == "" {
		name = StrategyFieldList
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FieldListExtractor{name: name, fields: fields, logger: logger}
}

// Name implements Extractor.
func (e *FieldListExtractor) Name() string { return e.name }

// Fields returns the configured field list.
func (e *FieldListExtractor) Fields() []FieldSpec {
	return e.fields
}

// Extract implements Extractor. Listed fields the schema does not define are
// logged and skipped.
func (e *FieldListExtractor) Extract(set enrichment.SuggestionSet, schema enrichment.Schema) enrichment.AttributeMap {
	specs := make(map[enrichment.NormalizedKey]FieldSpec, len(e.fields))
	for _, spec := range e.fields {
		specs[enrichment.Normalize(spec.Field)] = spec
	}

	idx := set.Index()
	matched := make(map[enrichment.NormalizedKey]bool, len(specs))
	out := make(enrichment.AttributeMap, 0, len(e.fields))
	for _, f := range schema.Fields {
		spec, ok := specs[enrichment.Normalize(f.DisplayName)]
		if ok {
			matched[enrichment.Normalize(f.DisplayName)] = true
		} else if spec, ok = specs[enrichment.Normalize(f.Key)]; ok {
			matched[enrichment.Normalize(f.Key)] = true
		}
		if !ok {
			continue
		}

		v, found := enrichment.Match(idx, f)
		for _, src := range spec.Sources {
			if found {
				break
			}
			if alias := idx[enrichment.Normalize(src)]; alias != nil {
				v, found = alias, true
			}
		}
		out = append(out, enrichment.Attribute{Key: f.Key, Value: v})
	}

	for nk, spec := range specs {
		if !matched[nk] {
			e.logger.Warn("Configured field not in template schema",
				logging.TemplateKey(schema.TemplateKey),
				logging.F("extractor", e.name),
				logging.F("field", spec.Field))
		}
	}
	return out
}

var (
	_ Extractor = GenericExtractor{}
	_ Extractor = (*FieldListExtractor)(nil)
)
