// Package webhook receives Box webhook deliveries, queues them, and
// dispatches queued events to the enrichment pipeline and analytics sink.
package webhook

import (
	"errors"
	"time"

	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/queues"
)

// Box webhook triggers the bridge reacts to.
const (
	TriggerFilePreviewed  = "FILE.PREVIEWED"
	TriggerFileUploaded   = "FILE.UPLOADED"
	TriggerMetadataUpdate = "METADATA.UPDATE"
)

// HeaderDeliveryID is set by Box on every webhook delivery.
const HeaderDeliveryID = "Box-Delivery-Id"

// ErrMissingSource is returned for an event without a source file id.
var ErrMissingSource = errors.New("webhook event has no source id")

// User is the created_by block of an event.
type User struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

// Folder is the parent folder of the event source.
type Folder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Source is the file the event is about.
type Source struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Parent Folder `json:"parent"`
}

// Event is a Box webhook v2 payload.
type Event struct {
	ID        string `json:"id"`
	Trigger   string `json:"trigger"`
	CreatedBy User   `json:"created_by"`
	Source    Source `json:"source"`
	CreatedAt string `json:"created_at"`
}

// Validate checks the fields the dispatcher needs.
func (e *Event) Validate() error {
	if e.Source.ID == "" {
		return ErrMissingSource
	}
	return nil
}

// Message converts the event into a queue message. deliveryID falls back
// to the event id when empty.
func (e *Event) Message(deliveryID string, receivedAt time.Time) *queues.FileEventMessage {
	if deliveryID == "" {
		deliveryID = e.ID
	}
	return &queues.FileEventMessage{
		DeliveryID: deliveryID,
		Trigger:    e.Trigger,
		FileID:     e.Source.ID,
		FileName:   e.Source.Name,
		FolderID:   e.Source.Parent.ID,
		FolderName: e.Source.Parent.Name,
		UserID:     e.CreatedBy.ID,
		UserLogin:  e.CreatedBy.Login,
		CreatedAt:  e.CreatedAt,
		ReceivedAt: receivedAt,
	}
}
