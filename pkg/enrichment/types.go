// Package enrichment holds the data model shared by the metadata enrichment
// pipeline: template schemas, AI suggestion sets, normalized keys, ordered
// attribute maps and fill scores.
package enrichment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Field is one entry of a metadata template schema.
type Field struct {
	// DisplayName is the human label with surrounding whitespace removed.
	DisplayName string `json:"displayName" yaml:"display_name"`
	// Key is the internal attribute key Box stores values under.
	Key string `json:"key" yaml:"key"`
	// Type is the Box field type (string, float, date, enum...).
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Schema is the ordered field list of one metadata template.
type Schema struct {
	TemplateKey string  `json:"templateKey" yaml:"template_key"`
	Fields      []Field `json:"fields" yaml:"fields"`
}

// Empty reports whether the schema has no fields.
func (s Schema) Empty() bool {
	return len(s.Fields) == 0
}

// Keys returns the internal keys in schema order.
func (s Schema) Keys() []string {
	keys := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		keys[i] = f.Key
	}
	return keys
}

// KeyFor returns the internal key for a display name, as the template defines it.
func (s Schema) KeyFor(displayName string) (string, bool) {
	for _, f := range s.Fields {
		if f.DisplayName == displayName {
			return f.Key, true
		}
	}
	return "", false
}

// NormalizedKey is a key after Normalize. Only Normalize should produce one.
type NormalizedKey string

// Normalize canonicalizes a key so that display names, internal keys and AI
// suggestion keys compare equal: trim, lower-case, drop spaces and hyphens.
func Normalize(key string) NormalizedKey {
	// Casers carry state and must not be shared between goroutines.
	lowered := cases.Lower(language.Und).String(strings.TrimSpace(key))
	return NormalizedKey(strings.NewReplacer(" ", "", "-", "").Replace(lowered))
}

// SuggestionSet maps AI suggestion keys to values. A nil value means the
// provider could not fill the field.
type SuggestionSet map[string]any

// Index returns the suggestion values keyed by normalized key. When several
// raw keys collapse to one normalized key, keys are visited in sorted order
// and the first non-null value wins.
func (s SuggestionSet) Index() map[NormalizedKey]any {
	raw := make([]string, 0, len(s))
	for k := range s {
		raw = append(raw, k)
	}
	sort.Strings(raw)

	idx := make(map[NormalizedKey]any, len(s))
	for _, k := range raw {
		nk := Normalize(k)
		if existing, ok := idx[nk]; ok && existing != nil {
			continue
		}
		idx[nk] = s[k]
	}
	return idx
}

// Match looks up a schema field in a normalized suggestion index, first by
// display name and then by internal key. Empty strings count as matches.
func Match(idx map[NormalizedKey]any, f Field) (any, bool) {
	if v := idx[Normalize(f.DisplayName)]; v != nil {
		return v, true
	}
	if v := idx[Normalize(f.Key)]; v != nil {
		return v, true
	}
	return nil, false
}

// Attribute is one key/value pair of an AttributeMap. A nil Value means the
// field should be absent from the instance.
type Attribute struct {
	Key   string
	Value any
}

// AttributeMap is an ordered attribute list keyed by schema internal key.
type AttributeMap []Attribute

// Compact returns the attributes with nil values dropped.
func (m AttributeMap) Compact() AttributeMap {
	out := make(AttributeMap, 0, len(m))
	for _, a := range m {
		if a.Value != nil {
			out = append(out, a)
		}
	}
	return out
}

// Get returns the value stored for key.
func (m AttributeMap) Get(key string) (any, bool) {
	for _, a := range m {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

// Keys returns the attribute keys in order.
func (m AttributeMap) Keys() []string {
	keys := make([]string, len(m))
	for i, a := range m {
		keys[i] = a.Key
	}
	return keys
}

// Summary renders non-nil attributes as "k: v, k2: v2" in order.
func (m AttributeMap) Summary() string {
	parts := make([]string, 0, len(m))
	for _, a := range m {
		if a.Value == nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %v", a.Key, a.Value))
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON encodes the map as a JSON object preserving attribute order.
func (m AttributeMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(a.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(a.Value)
		if err != nil {
			return nil, fmt.Errorf("marshal attribute %q: %w", a.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
