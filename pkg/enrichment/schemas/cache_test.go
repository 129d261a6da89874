package schemas

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
)

type fakeRegistry struct {
	calls   atomic.Int32
	delay   time.Duration
	fail    atomic.Bool
	schemas map[string]*box.TemplateSchema
}

func (f *fakeRegistry) GetTemplateSchema(ctx context.Context, scope, templateKey string) (*box.TemplateSchema, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail.Load() {
		return nil, &box.APIError{StatusCode: 503, Message: "unavailable", RequestID: "req-1"}
	}
	s, ok := f.schemas[templateKey]
	if !ok {
		return nil, &box.APIError{StatusCode: 404, Message: "not found"}
	}
	return s, nil
}

func invoiceRegistry() *fakeRegistry {
	return &fakeRegistry{schemas: map[string]*box.TemplateSchema{
		"invoiceAi": {
			TemplateKey: "invoiceAi",
			Fields: []box.SchemaField{
				{Type: "string", Key: "invoiceNumber", DisplayName: " Invoice Number "},
				{Type: "float", Key: "total", DisplayName: "Total"},
				{Type: "string", DisplayName: "No Key"},
			},
		},
	}}
}

func TestCache_GetFetchesOnce(t *testing.T) {
	reg := invoiceRegistry()
	cache := New(reg, "enterprise_1")

	first, err := cache.Get(context.Background(), "invoiceAi")
	require.NoError(t, err)
	assert.Equal(t, []enrichment.Field{
		{DisplayName: "Invoice Number", Key: "invoiceNumber", Type: "string"},
		{DisplayName: "Total", Key: "total", Type: "float"},
	}, first.Fields)

	second, err := cache.Get(context.Background(), "invoiceAi")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), reg.calls.Load())
	assert.Equal(t, 1, cache.Len())
	assert.Equal(t, []string{"invoiceAi"}, cache.Keys())
}

func TestCache_FailureIsNotMemoized(t *testing.T) {
	reg := invoiceRegistry()
	reg.fail.Store(true)
	cache := New(reg, "enterprise_1")

	schema, err := cache.Get(context.Background(), "invoiceAi")
	require.Error(t, err)
	assert.True(t, bberrors.IsSchemaFetch(err))
	assert.True(t, schema.Empty())
	assert.Equal(t, "invoiceAi", schema.TemplateKey)
	assert.Equal(t, 0, cache.Len())

	reg.fail.Store(false)
	schema, err = cache.Get(context.Background(), "invoiceAi")
	require.NoError(t, err)
	assert.Len(t, schema.Fields, 2)
	assert.Equal(t, int32(2), reg.calls.Load())
}

func TestCache_UnknownTemplate(t *testing.T) {
	cache := New(invoiceRegistry(), "enterprise_1")

	_, err := cache.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, bberrors.IsNotFound(err))
}

func TestCache_ConcurrentFirstFetch(t *testing.T) {
	reg := invoiceRegistry()
	reg.delay = 20 * time.Millisecond
	cache := New(reg, "enterprise_1")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			schema, err := cache.Get(context.Background(), "invoiceAi")
			assert.NoError(t, err)
			assert.Len(t, schema.Fields, 2)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), reg.calls.Load())
}

func TestCache_IsolatedInstances(t *testing.T) {
	reg := invoiceRegistry()
	a := New(reg, "enterprise_1")
	b := New(reg, "enterprise_1")

	_, err := a.Get(context.Background(), "invoiceAi")
	require.NoError(t, err)
	assert.Equal(t, 0, b.Len())
}

func TestFromBox_Nil(t *testing.T) {
	assert.True(t, fromBox("x", nil).Empty())
}
