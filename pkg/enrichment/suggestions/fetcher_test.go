package suggestions

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
)

var invoiceSchema = enrichment.Schema{
	TemplateKey: "invoiceAi",
	Fields: []enrichment.Field{
		{DisplayName: "Invoice Number", Key: "invoiceNumber"},
		{DisplayName: "Total", Key: "total"},
	},
}

func boxServer(t *testing.T, handler http.HandlerFunc) *box.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := box.New(&box.Options{BaseURL: srv.URL, Token: "tok", Timeout: 5 * time.Second})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestFetch_Structured(t *testing.T) {
	client := boxServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ai/extract_structured", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		tmpl := body["metadata_template"].(map[string]any)
		assert.Equal(t, "metadata_template", tmpl["type"])
		assert.Equal(t, "enterprise_1", tmpl["scope"])
		assert.Equal(t, "invoiceAi", tmpl["template_key"])
		items := body["items"].([]any)
		assert.Equal(t, map[string]any{"type": "file", "id": "42"}, items[0])

		w.Header().Set(box.HeaderRequestID, "req-ok")
		writeJSON(w, http.StatusOK, map[string]any{
			"suggestions": map[string]any{"invoice number": "INV-1", "total": "500"},
		})
	})

	f := New(client, "enterprise_1")
	set, ok := f.Fetch(context.Background(), "42", "invoiceAi", invoiceSchema)
	require.True(t, ok)
	assert.Equal(t, enrichment.SuggestionSet{"invoice number": "INV-1", "total": "500"}, set)
}

func TestFetch_StructuredAnswerFallback(t *testing.T) {
	client := boxServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"answer": map[string]any{"Total": "12"}})
	})

	set, ok := New(client, "enterprise_1").Fetch(context.Background(), "42", "invoiceAi", invoiceSchema)
	require.True(t, ok)
	assert.Equal(t, "12", set["Total"])
}

func TestFetch_NoSuggestions(t *testing.T) {
	client := boxServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": map[string]any{}})
	})

	set, ok := New(client, "enterprise_1").Fetch(context.Background(), "42", "invoiceAi", invoiceSchema)
	assert.False(t, ok)
	assert.Nil(t, set)
}

func TestFetch_ErrorStatusIsAbsent(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError} {
		client := boxServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(box.HeaderAltRequestID, "req-alt")
			writeJSON(w, status, map[string]any{"code": "bad_request", "message": "nope"})
		})

		set, ok := New(client, "enterprise_1").Fetch(context.Background(), "42", "invoiceAi", invoiceSchema)
		assert.False(t, ok, "status %d", status)
		assert.Nil(t, set)
	}
}

func TestFetch_TransportFailureIsAbsent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	client, err := box.New(&box.Options{BaseURL: url, Token: "tok", Timeout: time.Second})
	require.NoError(t, err)

	_, ok := New(client, "enterprise_1").Fetch(context.Background(), "42", "invoiceAi", invoiceSchema)
	assert.False(t, ok)
}

func TestFetch_Freeform(t *testing.T) {
	client := boxServer(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/ai/extract", r.URL.Path)

		var body struct {
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Prompt, `"displayName":"Invoice Number"`)

		writeJSON(w, http.StatusOK, map[string]any{"answer": `{"invoiceNumber": "INV-9"}`})
	})

	f := New(client, "enterprise_1", WithMode(ModeFreeform))
	assert.Equal(t, ModeFreeform, f.Mode())

	set, ok := f.Fetch(context.Background(), "42", "invoiceAi", invoiceSchema)
	require.True(t, ok)
	assert.Equal(t, "INV-9", set["invoiceNumber"])
}

func TestFetch_FreeformEmptySchema(t *testing.T) {
	called := false
	client := boxServer(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	_, ok := New(client, "enterprise_1", WithMode(ModeFreeform)).
		Fetch(context.Background(), "42", "empty", enrichment.Schema{TemplateKey: "empty"})
	assert.False(t, ok)
	assert.False(t, called)
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(invoiceSchema)
	require.NoError(t, err)

	var decoded struct {
		Fields []map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal([]byte(prompt), &decoded))
	require.Len(t, decoded.Fields, 2)
	assert.Equal(t, map[string]string{
		"type":        "string",
		"key":         "invoiceNumber",
		"displayName": "Invoice Number",
		"description": "The invoice number in the document",
		"prompt":      "Invoice Number is in the document",
	}, decoded.Fields[0])
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeStructured, m)

	m, err = ParseMode(" Freeform ")
	require.NoError(t, err)
	assert.Equal(t, ModeFreeform, m)

	_, err = ParseMode("magic")
	assert.Error(t, err)
}
