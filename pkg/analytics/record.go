// Package analytics builds the per-event record sent to the Salesforce Data
// Cloud ingestion endpoint and posts it.
package analytics

import (
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/pipeline"
)

// DefaultEnterpriseID is reported when none is configured.
const DefaultEnterpriseID int64 = 1164695563

// Record is one analytics row. The metadata fields are only set when a
// template was applied to the file.
type Record struct {
	BoxUserID      string `json:"Boxuserid"`
	ItemID         string `json:"itemID"`
	BoxFilename    string `json:"BoxFilename"`
	BoxFileID      string `json:"BoxFileID"`
	BoxFileIDText  string `json:"BoxFileID_Text"`
	EnterpriseID   int64  `json:"Boxenterpriseid"`
	PreviewCount   int    `json:"BoxCountOfPreviews"`
	Template       string `json:"BoxMetadatatemplate,omitempty"`
	Attributes     string `json:"BoxMetadataAttribute,omitempty"`
	BoxFolderID    string `json:"BoxFolderID,omitempty"`
	BoxFolderIDTxt string `json:"BoxFolderID_Text,omitempty"`
	BoxFoldername  string `json:"BoxFoldername,omitempty"`
	BoxUser        string `json:"Boxuser,omitempty"`
}

// Source describes the file and user an event is about.
type Source struct {
	UserID     string
	UserLogin  string
	FileID     string
	FileName   string
	FolderID   string
	FolderName string
}

// Build returns the record for an event. summary may be nil, as it is for
// events that do not run the pipeline.
func Build(src Source, enterpriseID int64, previews int, summary *pipeline.Summary) Record {
	r := Record{
		BoxUserID:     src.UserID,
		ItemID:        src.FileID,
		BoxFilename:   src.FileName,
		BoxFileID:     src.FileID,
		BoxFileIDText: src.FileID,
		EnterpriseID:  enterpriseID,
		PreviewCount:  previews,
	}
	if summary == nil || summary.TemplateKey == "" {
		return r
	}

	r.Template = summary.TemplateKey
	r.Attributes = summary.Attributes
	r.BoxFolderID = src.FolderID
	r.BoxFolderIDTxt = src.FolderID
	r.BoxFoldername = src.FolderName
	r.BoxUser = src.UserLogin
	return r
}
