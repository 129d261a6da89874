package box

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractResult is what the AI extraction endpoints returned for one file.
type ExtractResult struct {
	// Fields holds the suggestions keyed as the provider returned them.
	Fields map[string]any
	// RequestID is the Box request id of the call.
	RequestID string
}

type itemRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type templateRef struct {
	Type        string `json:"type"`
	Scope       string `json:"scope"`
	TemplateKey string `json:"template_key"`
}

type structuredRequest struct {
	MetadataTemplate templateRef `json:"metadata_template"`
	Items            []itemRef   `json:"items"`
}

type freeformRequest struct {
	Prompt string    `json:"prompt"`
	Items  []itemRef `json:"items"`
}

type extractResponse struct {
	Suggestions json.RawMessage `json:"suggestions"`
	Answer      json.RawMessage `json:"answer"`
}

// ExtractStructured asks Box AI to fill a metadata template for a file.
func (c *Client) ExtractStructured(ctx context.Context, fileID, scope, templateKey string) (*ExtractResult, error) {
	body := structuredRequest{
		MetadataTemplate: templateRef{Type: "metadata_template", Scope: scope, TemplateKey: templateKey},
		Items:            []itemRef{{Type: "file", ID: fileID}},
	}

	var out extractResponse
	resp, err := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/ai/extract_structured")
	if err := check(resp, err, "extract structured"); err != nil {
		return nil, err
	}

	fields, err := decodeFields(out.Suggestions, out.Answer)
	if err != nil {
		return nil, fmt.Errorf("extract structured: %w", err)
	}
	return &ExtractResult{Fields: fields, RequestID: requestID(resp)}, nil
}

// ExtractFreeform sends a prompt to the freeform extraction endpoint. The
// answer is expected to carry a JSON object.
func (c *Client) ExtractFreeform(ctx context.Context, fileID, prompt string) (*ExtractResult, error) {
	body := freeformRequest{
		Prompt: prompt,
		Items:  []itemRef{{Type: "file", ID: fileID}},
	}

	var out extractResponse
	resp, err := c.request(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post("/ai/extract")
	if err := check(resp, err, "extract freeform"); err != nil {
		return nil, err
	}

	fields, err := decodeFields(out.Answer, out.Suggestions)
	if err != nil {
		return nil, fmt.Errorf("extract freeform: %w", err)
	}
	return &ExtractResult{Fields: fields, RequestID: requestID(resp)}, nil
}

// decodeFields returns the first candidate that holds an object, either
// directly or as a JSON string.
func decodeFields(candidates ...json.RawMessage) (map[string]any, error) {
	for _, raw := range candidates {
		trimmed := strings.TrimSpace(string(raw))
		if trimmed == "" || trimmed == "null" {
			continue
		}

		if strings.HasPrefix(trimmed, `"`) {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, err
			}
			trimmed = strings.TrimSpace(s)
			if trimmed == "" {
				continue
			}
		}

		var fields map[string]any
		if err := json.Unmarshal([]byte(trimmed), &fields); err != nil {
			return nil, fmt.Errorf("decode answer: %w", err)
		}
		return fields, nil
	}
	return nil, nil
}
