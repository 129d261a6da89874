package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/apply"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/audit"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/extraction"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/schemas"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/selection"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/suggestions"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

const scope = "enterprise_1"

// boxServer fakes the Box endpoints the pipeline touches.
type boxServer struct {
	mu          sync.Mutex
	templates   []string
	listStatus  int
	schemas     map[string]map[string]string
	suggestions map[string]map[string]any
	instances   map[string]map[string]any
	metadataOps []string
}

func newBoxServer() *boxServer {
	return &boxServer{
		schemas:     map[string]map[string]string{},
		suggestions: map[string]map[string]any{},
		instances:   map[string]map[string]any{},
	}
}

func (b *boxServer) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /metadata_templates/{scope}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.listStatus != 0 {
			writeJSON(w, b.listStatus, map[string]any{"message": "boom"})
			return
		}
		var entries []box.Template
		for _, k := range b.templates {
			entries = append(entries, box.Template{TemplateKey: k, Scope: r.PathValue("scope")})
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	})

	mux.HandleFunc("GET /metadata_templates/{scope}/{key}/schema", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		fields, ok := b.schemas[r.PathValue("key")]
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]any{"code": "not_found"})
			return
		}
		var out []box.SchemaField
		for display, key := range fields {
			out = append(out, box.SchemaField{Type: "string", Key: key, DisplayName: display})
		}
		writeJSON(w, http.StatusOK, box.TemplateSchema{TemplateKey: r.PathValue("key"), Fields: out})
	})

	mux.HandleFunc("POST /ai/extract_structured", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			MetadataTemplate struct {
				TemplateKey string `json:"template_key"`
			} `json:"metadata_template"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		b.mu.Lock()
		defer b.mu.Unlock()
		set, ok := b.suggestions[body.MetadataTemplate.TemplateKey]
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"suggestions": map[string]any{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"suggestions": set})
	})

	mux.HandleFunc("/files/{id}/metadata/{scope}/{key}", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.metadataOps = append(b.metadataOps, r.Method)
		path := r.URL.Path

		switch r.Method {
		case http.MethodGet:
			inst, ok := b.instances[path]
			if !ok {
				writeJSON(w, http.StatusNotFound, map[string]any{"code": "instance_not_found"})
				return
			}
			writeJSON(w, http.StatusOK, inst)
		case http.MethodPost:
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			b.instances[path] = body
			writeJSON(w, http.StatusCreated, body)
		case http.MethodPut:
			var ops []box.PatchOp
			require.NoError(t, json.NewDecoder(r.Body).Decode(&ops))
			inst := b.instances[path]
			for _, op := range ops {
				field := strings.TrimPrefix(op.Path, "/")
				switch op.Op {
				case box.OpAdd, box.OpReplace:
					inst[field] = op.Value
				case box.OpRemove:
					delete(inst, field)
				}
			}
			writeJSON(w, http.StatusOK, inst)
		}
	})

	return mux
}

func (b *boxServer) ops() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.metadataOps...)
}

func (b *boxServer) instance(fileID, templateKey string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.instances["/files/"+fileID+"/metadata/"+scope+"/"+templateKey]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type memoryRecorder struct {
	mu   sync.Mutex
	runs []audit.Run
}

func (m *memoryRecorder) Record(_ context.Context, run audit.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func newPipeline(t *testing.T, b *boxServer, opts ...Option) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)

	client, err := box.New(&box.Options{BaseURL: srv.URL, Token: "tok", Timeout: 5 * time.Second})
	require.NoError(t, err)

	registry, err := extraction.BuildRegistry(extraction.DefaultConfig(), logging.NewNopLogger())
	require.NoError(t, err)

	selector := selection.New(
		schemas.New(client, scope),
		suggestions.New(client, scope),
		registry,
	)
	opts = append([]Option{WithScope(scope), WithLogger(logging.NewNopLogger())}, opts...)
	return New(client, selector, apply.New(client, scope), opts...)
}

func invoiceServer() *boxServer {
	b := newBoxServer()
	b.templates = []string{"invoiceAi"}
	b.schemas["invoiceAi"] = map[string]string{"Invoice Number": "invoiceNumber", "Total": "total"}
	b.suggestions["invoiceAi"] = map[string]any{"invoice number": "INV-1", "total": "500"}
	return b
}

func TestProcess_InvoiceCreatedThenUpdated(t *testing.T) {
	b := invoiceServer()
	rec := &memoryRecorder{}
	p := newPipeline(t, b, WithRecorder(rec))

	summary, err := p.Process(context.Background(), Request{FileID: "42"})
	require.NoError(t, err)

	assert.Equal(t, "invoiceAi", summary.TemplateKey)
	assert.Equal(t, "invoiceNumber: INV-1, total: 500", summary.Attributes)
	assert.Equal(t, enrichment.FillScore(1.0), summary.Scores["invoiceAi"])
	require.Len(t, summary.Results, 1)
	assert.Equal(t, apply.OperationCreate, summary.Results[0].Operation)
	assert.Equal(t, map[string]any{"invoiceNumber": "INV-1", "total": "500"}, b.instance("42", "invoiceAi"))

	summary, err = p.Process(context.Background(), Request{FileID: "42"})
	require.NoError(t, err)
	require.Len(t, summary.Results, 1)
	assert.Equal(t, apply.OperationUpdate, summary.Results[0].Operation)
	assert.Equal(t, "invoiceAi", summary.TemplateKey)
	assert.Equal(t, map[string]any{"invoiceNumber": "INV-1", "total": "500"}, b.instance("42", "invoiceAi"))

	require.Len(t, rec.runs, 2)
	assert.Equal(t, audit.StatusApplied, rec.runs[0].Status)
	assert.Equal(t, "create", rec.runs[0].Operation)
	assert.Equal(t, "update", rec.runs[1].Operation)
	assert.Equal(t, 1.0, rec.runs[1].Score)
}

func TestProcess_NoSuggestionsMakesNoMetadataCalls(t *testing.T) {
	b := invoiceServer()
	delete(b.suggestions, "invoiceAi")
	rec := &memoryRecorder{}
	p := newPipeline(t, b, WithRecorder(rec))

	summary, err := p.Process(context.Background(), Request{FileID: "42"})
	require.NoError(t, err)

	assert.Empty(t, summary.TemplateKey)
	assert.Empty(t, summary.Attributes)
	assert.Empty(t, summary.Results)
	assert.Empty(t, summary.Scores)
	assert.Empty(t, b.ops())
	assert.Empty(t, rec.runs)
}

func TestProcess_ExplicitTemplateKeysSkipListing(t *testing.T) {
	b := invoiceServer()
	b.listStatus = http.StatusInternalServerError
	p := newPipeline(t, b)

	summary, err := p.Process(context.Background(), Request{FileID: "42", TemplateKeys: []string{"invoiceAi"}})
	require.NoError(t, err)
	assert.Equal(t, "invoiceAi", summary.TemplateKey)
}

func TestProcess_ListFailureIsEmpty(t *testing.T) {
	b := invoiceServer()
	b.listStatus = http.StatusForbidden
	p := newPipeline(t, b)

	summary, err := p.Process(context.Background(), Request{FileID: "42"})
	require.NoError(t, err)
	assert.Empty(t, summary.Results)
	assert.Empty(t, b.ops())
}

func TestProcess_BestAppliedLast(t *testing.T) {
	b := newBoxServer()
	b.templates = []string{"invoiceAi", "receipt"}
	b.schemas["invoiceAi"] = map[string]string{"Invoice Number": "invoiceNumber", "Total": "total"}
	b.schemas["receipt"] = map[string]string{"Total": "total", "Store": "store", "Date": "date", "Clerk": "clerk"}
	b.suggestions["invoiceAi"] = map[string]any{"Invoice Number": "INV-1", "Total": "500"}
	b.suggestions["receipt"] = map[string]any{"Total": "500", "Store": "Shop", "Date": nil, "Clerk": nil}
	p := newPipeline(t, b)

	summary, err := p.Process(context.Background(), Request{FileID: "42"})
	require.NoError(t, err)

	require.Len(t, summary.Results, 2)
	assert.Equal(t, "receipt", summary.Results[0].TemplateKey)
	assert.Equal(t, "invoiceAi", summary.Results[1].TemplateKey)
	assert.Equal(t, "invoiceAi", summary.TemplateKey)
	assert.Equal(t, enrichment.FillScore(0.5), summary.Scores["receipt"])
	assert.Equal(t, map[string]any{"total": "500", "store": "Shop"}, b.instance("42", "receipt"))
}

type stubSelector struct {
	sel selection.Selection
}

func (s stubSelector) Select(context.Context, string, []string) selection.Selection {
	return s.sel
}

type failingUpserter struct{}

func (failingUpserter) Upsert(_ context.Context, fileID, templateKey string, attrs enrichment.AttributeMap) (*apply.Result, error) {
	err := bberrors.Apply("create", fileID, templateKey, errors.New("box down"))
	return &apply.Result{TemplateKey: templateKey, Operation: apply.OperationCreate, Attributes: attrs, Err: err}, err
}

type noTemplates struct{}

func (noTemplates) ListTemplates(context.Context, string) ([]box.Template, error) {
	return nil, nil
}

func TestProcess_ApplyFailureIsRecordedNotFatal(t *testing.T) {
	schema := enrichment.Schema{TemplateKey: "invoiceAi", Fields: []enrichment.Field{{DisplayName: "Total", Key: "total"}}}
	c := &selection.Candidate{
		TemplateKey: "invoiceAi",
		Schema:      schema,
		Suggestions: enrichment.SuggestionSet{"Total": "500"},
		Score:       1,
		Extractor:   extraction.GenericExtractor{},
	}
	rec := &memoryRecorder{}
	p := New(noTemplates{}, stubSelector{sel: selection.Selection{Apply: []*selection.Candidate{c}, Best: c}},
		failingUpserter{}, WithRecorder(rec), WithLogger(logging.NewNopLogger()))

	summary, err := p.Process(context.Background(), Request{FileID: "42"})
	require.NoError(t, err)

	require.Len(t, summary.Results, 1)
	assert.True(t, bberrors.IsApply(summary.Results[0].Err))
	assert.Empty(t, summary.TemplateKey)
	assert.Equal(t, 1, summary.Failed())
	assert.Equal(t, 0, summary.Applied())

	require.Len(t, rec.runs, 1)
	assert.Equal(t, audit.StatusFailed, rec.runs[0].Status)
	assert.Contains(t, rec.runs[0].Error, "box down")
}

func TestProcess_RequiresFileID(t *testing.T) {
	p := New(noTemplates{}, stubSelector{}, failingUpserter{}, WithLogger(logging.NewNopLogger()))

	_, err := p.Process(context.Background(), Request{})
	assert.ErrorIs(t, err, bberrors.ErrValidation)
}

func TestProcess_CancelledContext(t *testing.T) {
	p := New(noTemplates{}, stubSelector{}, failingUpserter{}, WithLogger(logging.NewNopLogger()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := p.Process(ctx, Request{FileID: "42"})
	require.Error(t, err)
	assert.NotNil(t, summary)

	var pe *bberrors.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, bberrors.ErrContextCancelled, pe.Code)
}
