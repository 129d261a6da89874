package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/boxbridge/config"
)

// newBoxServer serves the template endpoints the templates command uses.
func newBoxServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/metadata_templates/enterprise", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer box-test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[
			{"templateKey":"invoice","displayName":"Invoice","scope":"enterprise_1164695563","hidden":false},
			{"templateKey":"legacyContract","displayName":"Legacy Contract","scope":"enterprise_1164695563","hidden":true}
		],"next_marker":""}`))
	})
	mux.HandleFunc("/metadata_templates/enterprise/invoice/schema", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"templateKey":"invoice","displayName":"Invoice","scope":"enterprise_1164695563","fields":[
			{"type":"string","key":"invoiceNumber","displayName":"Invoice Number","hidden":false},
			{"type":"float","key":"total","displayName":"Total","hidden":false}
		]}`))
	})
	mux.HandleFunc("/metadata_templates/schema", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"entries":[
			{"templateKey":"invoice","displayName":"Invoice","scope":"enterprise_1164695563","fields":[{"type":"string","key":"invoiceNumber"}]},
			{"templateKey":"properties","displayName":"Properties","scope":"global","fields":[]}
		]}`))
	})
	mux.HandleFunc("/metadata_templates/enterprise/missing/schema", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"type":"error","status":404,"code":"not_found","message":"Template not found"}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func templatesTestSetup(t *testing.T) (*config.Config, *Deps) {
	t.Helper()
	srv := newBoxServer(t)
	cfg := mockConfig()
	cfg.Box.BaseURL = srv.URL
	return cfg, createTestDeps(cfg)
}

func TestNewTemplatesCommand(t *testing.T) {
	cmd := NewTemplatesCommand(createTestDeps(mockConfig()))

	assert.Equal(t, "templates", cmd.Use)
	assert.Contains(t, cmd.Aliases, "tpl")

	for _, name := range []string{"list", "schema"} {
		sub, _, err := cmd.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}

	list, _, _ := cmd.Find([]string{"list"})
	assert.NotNil(t, list.Flags().Lookup("scope"))
	assert.NotNil(t, list.Flags().Lookup("all"))
}

func TestTemplatesList_Text(t *testing.T) {
	_, deps := templatesTestSetup(t)

	out, err := executeCommand(t, NewTemplatesCommand(deps), "list")
	require.NoError(t, err)

	assert.Contains(t, out, "KEY")
	assert.Contains(t, out, "invoice")
	assert.Contains(t, out, "Legacy Contract")
	assert.Contains(t, out, "true")
}

func TestTemplatesList_JSON(t *testing.T) {
	cfg, deps := templatesTestSetup(t)
	cfg.Output = config.OutputFormatJSON

	out, err := executeCommand(t, NewTemplatesCommand(deps), "list")
	require.NoError(t, err)

	var rows []templateRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "invoice", rows[0].TemplateKey)
	assert.True(t, rows[1].Hidden)
	assert.Nil(t, rows[0].Fields)
}

func TestTemplatesList_All(t *testing.T) {
	cfg, deps := templatesTestSetup(t)
	cfg.Output = config.OutputFormatYAML

	out, err := executeCommand(t, NewTemplatesCommand(deps), "list", "--all")
	require.NoError(t, err)

	var rows []templateRow
	require.NoError(t, yaml.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	require.NotNil(t, rows[0].Fields)
	assert.Equal(t, 1, *rows[0].Fields)
	assert.Equal(t, "global", rows[1].Scope)
}

func TestTemplatesSchema(t *testing.T) {
	_, deps := templatesTestSetup(t)

	out, err := executeCommand(t, NewTemplatesCommand(deps), "schema", "invoice")
	require.NoError(t, err)

	assert.Contains(t, out, "Template: invoice (Invoice)")
	assert.Contains(t, out, "invoiceNumber")
	assert.Contains(t, out, "float")
}

func TestTemplatesSchema_NotFound(t *testing.T) {
	_, deps := templatesTestSetup(t)

	_, err := executeCommand(t, NewTemplatesCommand(deps), "schema", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestTemplatesSchema_RequiresArg(t *testing.T) {
	_, deps := templatesTestSetup(t)

	_, err := executeCommand(t, NewTemplatesCommand(deps), "schema")
	require.Error(t, err)
}

func TestTemplates_RequiresBoxToken(t *testing.T) {
	cfg, deps := templatesTestSetup(t)
	cfg.Box.Token = ""

	_, err := executeCommand(t, NewTemplatesCommand(deps), "list")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), config.EnvBoxAPIToken))
}
