package selection

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/extraction"
)

type fakeSchemas map[string]enrichment.Schema

func (f fakeSchemas) Get(ctx context.Context, key string) (enrichment.Schema, error) {
	s, ok := f[key]
	if !ok {
		return enrichment.Schema{TemplateKey: key}, errors.New("schema fetch failed")
	}
	return s, nil
}

type fakeSuggestions struct {
	sets  map[string]enrichment.SuggestionSet
	calls []string
}

func (f *fakeSuggestions) Fetch(ctx context.Context, fileID, key string, schema enrichment.Schema) (enrichment.SuggestionSet, bool) {
	f.calls = append(f.calls, key)
	s, ok := f.sets[key]
	if !ok || len(s) == 0 {
		return nil, false
	}
	return s, true
}

// tenFields builds a schema with fields f0..f9 and a suggestion set filling
// the first n of them.
func tenFields(key string, n int) (enrichment.Schema, enrichment.SuggestionSet) {
	schema := enrichment.Schema{TemplateKey: key}
	set := enrichment.SuggestionSet{}
	for i := 0; i < 10; i++ {
		k := string(rune('a'+i)) + "Field"
		schema.Fields = append(schema.Fields, enrichment.Field{DisplayName: k, Key: k})
		if i < n {
			set[k] = "v"
		} else {
			set[k] = nil
		}
	}
	return schema, set
}

func genericRegistry(t *testing.T) *extraction.Registry {
	t.Helper()
	r, err := extraction.BuildRegistry(extraction.Config{AllTemplates: true}, nil)
	require.NoError(t, err)
	return r
}

func TestSelect_ThresholdAndBest(t *testing.T) {
	high, highSet := tenFields("high", 9)
	mid, midSet := tenFields("mid", 6)
	low, lowSet := tenFields("low", 3)

	sugg := &fakeSuggestions{sets: map[string]enrichment.SuggestionSet{"high": highSet, "mid": midSet, "low": lowSet}}
	s := New(fakeSchemas{"high": high, "mid": mid, "low": low}, sugg, genericRegistry(t))

	sel := s.Select(context.Background(), "42", []string{"high", "mid", "low"})

	require.NotNil(t, sel.Best)
	assert.Equal(t, "high", sel.Best.TemplateKey)
	assert.InDelta(t, 0.9, float64(sel.Best.Score), 1e-9)

	keys := make([]string, len(sel.Apply))
	for i, c := range sel.Apply {
		keys[i] = c.TemplateKey
	}
	assert.Equal(t, []string{"mid", "high"}, keys)
	assert.Len(t, sel.Scores, 3)
	assert.InDelta(t, 0.3, float64(sel.Scores["low"]), 1e-9)
}

func TestSelect_BestBelowThresholdIsApplied(t *testing.T) {
	a, aSet := tenFields("a", 2)
	b, bSet := tenFields("b", 4)
	c, cSet := tenFields("c", 4)

	sugg := &fakeSuggestions{sets: map[string]enrichment.SuggestionSet{"a": aSet, "b": bSet, "c": cSet}}
	sel := New(fakeSchemas{"a": a, "b": b, "c": c}, sugg, genericRegistry(t)).
		Select(context.Background(), "42", []string{"a", "b", "c"})

	require.NotNil(t, sel.Best)
	assert.Equal(t, "b", sel.Best.TemplateKey, "first seen wins ties")
	require.Len(t, sel.Apply, 1)
	assert.Same(t, sel.Best, sel.Apply[0])
}

func TestSelect_NoSuggestions(t *testing.T) {
	schema, _ := tenFields("invoiceAi", 0)
	sel := New(fakeSchemas{"invoiceAi": schema}, &fakeSuggestions{}, genericRegistry(t)).
		Select(context.Background(), "42", []string{"invoiceAi"})

	assert.Empty(t, sel.Apply)
	assert.Nil(t, sel.Best)
}

func TestSelect_EmptyInput(t *testing.T) {
	sel := New(fakeSchemas{}, &fakeSuggestions{}, genericRegistry(t)).Select(context.Background(), "42", nil)
	assert.Empty(t, sel.Apply)
	assert.Nil(t, sel.Best)
}

func TestSelect_ZeroScoreIsNeverBest(t *testing.T) {
	schema, set := tenFields("t", 0)
	sugg := &fakeSuggestions{sets: map[string]enrichment.SuggestionSet{"t": set}}
	sel := New(fakeSchemas{"t": schema}, sugg, genericRegistry(t)).Select(context.Background(), "42", []string{"t"})

	assert.Nil(t, sel.Best)
	assert.Empty(t, sel.Apply)
	assert.Contains(t, sel.Scores, "t")
}

func TestSelect_SkipsUnregisteredAndUnusable(t *testing.T) {
	good, goodSet := tenFields("good", 10)
	registry := extraction.NewRegistry()
	require.NoError(t, registry.Register("good", extraction.GenericExtractor{}))
	require.NoError(t, registry.Register("broken", extraction.GenericExtractor{}))

	sugg := &fakeSuggestions{sets: map[string]enrichment.SuggestionSet{"good": goodSet, "unregistered": goodSet}}
	sel := New(fakeSchemas{"good": good}, sugg, registry).
		Select(context.Background(), "42", []string{"unregistered", "broken", "good"})

	assert.Equal(t, []string{"good"}, sugg.calls)
	require.Len(t, sel.Apply, 1)
	assert.Equal(t, "good", sel.Apply[0].TemplateKey)
	assert.Equal(t, extraction.StrategyGeneric, sel.Apply[0].Extractor.Name())
}

func TestSelect_CustomThreshold(t *testing.T) {
	a, aSet := tenFields("a", 3)
	b, bSet := tenFields("b", 5)

	sugg := &fakeSuggestions{sets: map[string]enrichment.SuggestionSet{"a": aSet, "b": bSet}}
	s := New(fakeSchemas{"a": a, "b": b}, sugg, genericRegistry(t), WithThreshold(0.25))
	assert.Equal(t, enrichment.FillScore(0.25), s.Threshold())

	sel := s.Select(context.Background(), "42", []string{"b", "a"})
	require.Len(t, sel.Apply, 2)
	assert.Equal(t, "a", sel.Apply[0].TemplateKey)
	assert.Equal(t, "b", sel.Apply[1].TemplateKey)
}

func TestSelect_StopsOnCancelledContext(t *testing.T) {
	a, aSet := tenFields("a", 10)
	sugg := &fakeSuggestions{sets: map[string]enrichment.SuggestionSet{"a": aSet}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sel := New(fakeSchemas{"a": a}, sugg, genericRegistry(t)).Select(ctx, "42", []string{"a"})

	assert.Empty(t, sel.Apply)
	assert.Empty(t, sugg.calls)
}
