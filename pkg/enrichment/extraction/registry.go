package extraction

import (
	"fmt"
	"sort"
	"sync"

	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// Registry maps template keys to extractors. Templates without an extractor
// are skipped by the selector.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
	fallback   Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register binds an extractor to a template key.
func (r *Registry) Register(templateKey string, e Extractor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if templateKey == "" {
		return fmt.Errorf("extractor %s: empty template key", e.Name())
	}
	if existing, exists := r.extractors[templateKey]; exists {
		return fmt.Errorf("template %s already has extractor %s, cannot register %s",
			templateKey, existing.Name(), e.Name())
	}
	r.extractors[templateKey] = e
	return nil
}

// SetFallback sets the extractor used for templates not registered
// explicitly. nil disables the fallback.
func (r *Registry) SetFallback(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = e
}

// Get returns the extractor for a template key.
func (r *Registry) Get(templateKey string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.extractors[templateKey]; ok {
		return e, true
	}
	if r.fallback != nil {
		return r.fallback, true
	}
	return nil, false
}

// Has reports whether templateKey can be extracted.
func (r *Registry) Has(templateKey string) bool {
	_, ok := r.Get(templateKey)
	return ok
}

// Keys returns the explicitly registered template keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.extractors))
	for k := range r.extractors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// TemplateConfig configures the extractor of one template.
type TemplateConfig struct {
	TemplateKey string      `yaml:"template_key" json:"template_key"`
	Strategy    string      `yaml:"strategy" json:"strategy"`
	Fields      []FieldSpec `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Config is the extraction section of the service configuration.
type Config struct {
	// AllTemplates registers the generic extractor for every template not
	// listed in Templates.
	AllTemplates bool             `yaml:"all_templates" json:"all_templates"`
	Templates    []TemplateConfig `yaml:"templates" json:"templates"`
}

// DefaultConfig returns the built-in template configuration.
func DefaultConfig() Config {
	return Config{
		AllTemplates: true,
		Templates: []TemplateConfig{
			{
				TemplateKey: "autoPolicy",
				Strategy:    StrategyFieldList,
				Fields: fieldList(
					"policyNumber",
					"Policy Holder Name",
					"Policy Effective Start Date",
					"Policy Effective End Date",
					"Agency Providing Coverage",
					"Policy Type",
					"Coverage for State Property and Casualty Insurance Guaranty",
					"Bodily Injury Liability",
					"Are Uninsured Motorists Covered",
					"Is Hail Damage Covered",
					"Loss of Clothing Payment",
					"Right to Appraisal",
					"What is this document about",
				),
			},
			{
				TemplateKey: "nikeplayercontrat",
				Strategy:    StrategyFieldList,
				Fields: append(fieldList(
					"Contract Date",
					"Agreement Terms",
					"Commission on Players Signature Products",
					"Can Use Players Name and Likeness",
					"Termination",
					"Payment Terms",
					"Contract Start Date",
					"Contract End Date",
				),
					FieldSpec{Field: "Contract Recipiant", Sources: []string{"Athlete Name"}},
					FieldSpec{Field: "Total Contract Value", Sources: []string{"Compensation"}},
				),
			},
		},
	}
}

func fieldList(names ...string) []FieldSpec {
	specs := make([]FieldSpec, len(names))
	for i, n := range names {
		specs[i] = FieldSpec{Field: n}
	}
	return specs
}

// BuildRegistry creates the registry described by cfg.
func BuildRegistry(cfg Config, logger logging.Logger) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	r := NewRegistry()
	for _, tc := range cfg.Templates {
		var e Extractor
		switch tc.Strategy {
		case "", StrategyGeneric:
			e = GenericExtractor{}
		case StrategyFieldList:
			if len(tc.Fields) == 0 {
				return nil, fmt.Errorf("template %s: field_list strategy needs fields", tc.TemplateKey)
			}
			e = NewFieldListExtractor(tc.TemplateKey, tc.Fields, logger)
		default:
			return nil, fmt.Errorf("template %s: unknown extraction strategy %q", tc.TemplateKey, tc.Strategy)
		}
		if err := r.Register(tc.TemplateKey, e); err != nil {
			return nil, err
		}
	}
	if cfg.AllTemplates {
		r.SetFallback(GenericExtractor{})
	}
	return r, nil
}
