package box

import (
	"context"
	"strconv"
)

// Template is an entry of the enterprise metadata template list.
type Template struct {
	TemplateKey string `json:"templateKey"`
	DisplayName string `json:"displayName"`
	Scope       string `json:"scope"`
	Hidden      bool   `json:"hidden"`
}

// SchemaField is one field of a template schema as Box returns it.
type SchemaField struct {
	Type        string `json:"type"`
	Key         string `json:"key"`
	DisplayName string `json:"displayName"`
	Hidden      bool   `json:"hidden"`
}

// TemplateSchema is a full metadata template definition.
type TemplateSchema struct {
	TemplateKey string        `json:"templateKey"`
	Scope       string        `json:"scope"`
	DisplayName string        `json:"displayName"`
	Fields      []SchemaField `json:"fields"`
}

type templatePage struct {
	Entries    []Template `json:"entries"`
	NextMarker string     `json:"next_marker"`
}

const templatePageSize = 100

// ListTemplates returns every template in scope, following marker pagination.
func (c *Client) ListTemplates(ctx context.Context, scope string) ([]Template, error) {
	var all []Template
	marker := ""
	for {
		var page templatePage
		req := c.request(ctx).
			SetPathParam("scope", scope).
			SetQueryParam("limit", strconv.Itoa(templatePageSize)).
			SetResult(&page)
		if marker != "" {
			req.SetQueryParam("marker", marker)
		}

		resp, err := req.Get("/metadata_templates/{scope}")
		if err := check(resp, err, "list metadata templates"); err != nil {
			return nil, err
		}

		all = append(all, page.Entries...)
		if page.NextMarker == "" || page.NextMarker == marker {
			return all, nil
		}
		marker = page.NextMarker
	}
}

// GetTemplateSchema returns the schema of one template.
func (c *Client) GetTemplateSchema(ctx context.Context, scope, templateKey string) (*TemplateSchema, error) {
	var schema TemplateSchema
	resp, err := c.request(ctx).
		SetPathParams(map[string]string{"scope": scope, "templateKey": templateKey}).
		SetResult(&schema).
		Get("/metadata_templates/{scope}/{templateKey}/schema")
	if err := check(resp, err, "get template schema"); err != nil {
		return nil, err
	}
	return &schema, nil
}

// ListAllTemplateSchemas returns the template schema listing visible to the token.
func (c *Client) ListAllTemplateSchemas(ctx context.Context) ([]TemplateSchema, error) {
	var out struct {
		Entries []TemplateSchema `json:"entries"`
	}
	resp, err := c.request(ctx).
		SetResult(&out).
		Get("/metadata_templates/schema")
	if err := check(resp, err, "list template schemas"); err != nil {
		return nil, err
	}
	return out.Entries, nil
}
