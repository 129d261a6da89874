// Package schemas caches metadata template schemas for the life of the process.
package schemas

import (
	"context"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// Registry fetches a template schema. *box.Client satisfies it.
type Registry interface {
	GetTemplateSchema(ctx context.Context, scope, templateKey string) (*box.TemplateSchema, error)
}

// Cache memoizes template schemas by template key. Only successful fetches
// are stored; a failed fetch is retried on the next Get.
type Cache struct {
	registry Registry
	scope    string
	logger   logging.Logger
	metrics  *observability.BridgeMetrics

	mu      sync.RWMutex
	schemas map[string]enrichment.Schema
	group   singleflight.Group
}

// Option configures the cache.
type Option func(*Cache)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics records hits and misses.
func WithMetrics(m *observability.BridgeMetrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates an empty cache for templates in the given enterprise scope.
func New(registry Registry, scope string, opts ...Option) *Cache {
	c := &Cache{
		registry: registry,
		scope:    scope,
		logger:   logging.NewNopLogger(),
		schemas:  make(map[string]enrichment.Schema),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(logging.F("component", "schema_cache"))
	return c
}

// Get returns the schema for templateKey, fetching it on first use. On
// failure it returns an empty schema and a SchemaFetch error; callers skip
// the template.
func (c *Cache) Get(ctx context.Context, templateKey string) (enrichment.Schema, error) {
	c.mu.RLock()
	schema, ok := c.schemas[templateKey]
	c.mu.RUnlock()
	if ok {
		c.metrics.RecordSchemaLookup(true)
		return schema, nil
	}
	c.metrics.RecordSchemaLookup(false)

	v, err, _ := c.group.Do(templateKey, func() (interface{}, error) {
		c.mu.RLock()
		cached, ok := c.schemas[templateKey]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		raw, err := c.registry.GetTemplateSchema(ctx, c.scope, templateKey)
		if err != nil {
			return nil, err
		}
		fetched := fromBox(templateKey, raw)

		c.mu.Lock()
		c.schemas[templateKey] = fetched
		c.mu.Unlock()

		c.logger.Debug("Cached template schema",
			logging.TemplateKey(templateKey),
			logging.F("fields", len(fetched.Fields)))
		return fetched, nil
	})
	if err != nil {
		c.logger.Warn("Failed to fetch template schema",
			logging.TemplateKey(templateKey),
			logging.F("request_id", box.RequestIDOf(err)),
			logging.Err(err))
		return enrichment.Schema{TemplateKey: templateKey}, bberrors.SchemaFetch(templateKey, err)
	}
	return v.(enrichment.Schema), nil
}

// Len returns the number of cached schemas.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.schemas)
}

// Keys returns the cached template keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.schemas))
	for k := range c.schemas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// fromBox converts a Box schema, trimming display names. Fields without a
// key cannot be stored and are dropped.
func fromBox(templateKey string, raw *box.TemplateSchema) enrichment.Schema {
	schema := enrichment.Schema{TemplateKey: templateKey}
	if raw == nil {
		return schema
	}
	for _, f := range raw.Fields {
		if f.Key == "" {
			continue
		}
		schema.Fields = append(schema.Fields, enrichment.Field{
			DisplayName: strings.TrimSpace(f.DisplayName),
			Key:         f.Key,
			Type:        f.Type,
		})
	}
	return schema
}
