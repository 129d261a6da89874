package box

import (
	"context"

	"github.com/go-resty/resty/v2"
)

// PatchOp is one JSON-patch operation against a metadata instance.
type PatchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// JSON-patch operation names accepted by Box.
const (
	OpAdd     = "add"
	OpReplace = "replace"
	OpRemove  = "remove"
	OpTest    = "test"
)

const contentTypeJSONPatch = "application/json-patch+json"

func (c *Client) instanceRequest(ctx context.Context, fileID, scope, templateKey string) *resty.Request {
	return c.request(ctx).SetPathParams(map[string]string{
		"fileID":      fileID,
		"scope":       scope,
		"templateKey": templateKey,
	})
}

const instancePath = "/files/{fileID}/metadata/{scope}/{templateKey}"

// GetMetadata returns the metadata instance of templateKey on a file. A
// missing instance yields an error matching errors.ErrNotFound.
func (c *Client) GetMetadata(ctx context.Context, fileID, scope, templateKey string) (map[string]any, error) {
	var out map[string]any
	resp, err := c.instanceRequest(ctx, fileID, scope, templateKey).
		SetResult(&out).
		Get(instancePath)
	if err := check(resp, err, "get metadata"); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateMetadata creates a metadata instance. body must encode as a JSON object.
func (c *Client) CreateMetadata(ctx context.Context, fileID, scope, templateKey string, body any) (map[string]any, error) {
	var out map[string]any
	resp, err := c.instanceRequest(ctx, fileID, scope, templateKey).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		SetResult(&out).
		Post(instancePath)
	if err := check(resp, err, "create metadata"); err != nil {
		return nil, err
	}
	return out, nil
}

// PatchMetadata applies JSON-patch operations to an existing instance. Box
// applies the list atomically.
func (c *Client) PatchMetadata(ctx context.Context, fileID, scope, templateKey string, ops []PatchOp) (map[string]any, error) {
	var out map[string]any
	resp, err := c.instanceRequest(ctx, fileID, scope, templateKey).
		SetHeader("Content-Type", contentTypeJSONPatch).
		SetBody(ops).
		SetResult(&out).
		Put(instancePath)
	if err := check(resp, err, "update metadata"); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPreviewCount returns the preview_count statistic of a file.
func (c *Client) GetPreviewCount(ctx context.Context, fileID string) (int, error) {
	var out struct {
		PreviewCount int `json:"preview_count"`
	}
	resp, err := c.request(ctx).
		SetPathParam("fileID", fileID).
		SetResult(&out).
		Get("/file_access_stats/{fileID}")
	if err := check(resp, err, "get file access stats"); err != nil {
		return 0, err
	}
	return out.PreviewCount, nil
}
