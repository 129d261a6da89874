package enrichment

// FillScore is the fraction of schema fields a suggestion set fills, in [0,1].
type FillScore float64

// Score returns |{f in schema : Match(f) != nil}| / |schema|. An empty
// schema scores 0.
func Score(set SuggestionSet, schema Schema) FillScore {
	if len(schema.Fields) == 0 {
		return 0
	}
	idx := set.Index()
	filled := 0
	for _, f := range schema.Fields {
		if _, ok := Match(idx, f); ok {
			filled++
		}
	}
	return FillScore(float64(filled) / float64(len(schema.Fields)))
}
