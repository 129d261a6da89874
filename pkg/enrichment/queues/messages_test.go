package queues

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileEventMessage_Interface(t *testing.T) {
	msg := &FileEventMessage{DeliveryID: "d-1", Trigger: "FILE.UPLOADED", FileID: "42"}

	assert.Equal(t, "42", msg.GetFileID())
	assert.Equal(t, "d-1", msg.GetDeliveryID())
	assert.Equal(t, MessageTypeFileEvent, msg.GetMessageType())
}

func TestReprocessMessage_Interface(t *testing.T) {
	msg := &ReprocessMessage{FileID: "7", TemplateKeys: []string{"invoiceAi"}}

	assert.Equal(t, "7", msg.GetFileID())
	assert.Equal(t, "", msg.GetDeliveryID())
	assert.Equal(t, MessageTypeReprocess, msg.GetMessageType())
}

func TestQueuedMessage_ParseMessage(t *testing.T) {
	original := &FileEventMessage{
		DeliveryID: "d-1",
		Trigger:    "FILE.PREVIEWED",
		FileID:     "42",
		FileName:   "invoice.pdf",
		FolderID:   "7",
		FolderName: "Invoices",
		UserID:     "99",
		UserLogin:  "a@b.com",
		ReceivedAt: time.Now().UTC().Truncate(time.Second),
	}
	qm, err := newQueuedMessage("id-1", original, time.Now())
	require.NoError(t, err)

	parsed, err := qm.ParseMessage()
	require.NoError(t, err)
	got, ok := parsed.(*FileEventMessage)
	require.True(t, ok)
	assert.Equal(t, original, got)
}

func TestQueuedMessage_ParseReprocess(t *testing.T) {
	qm, err := newQueuedMessage("id-2", &ReprocessMessage{FileID: "5", TemplateKeys: []string{"a", "b"}}, time.Now())
	require.NoError(t, err)

	parsed, err := qm.ParseMessage()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, parsed.(*ReprocessMessage).TemplateKeys)
}

func TestQueuedMessage_ParseErrors(t *testing.T) {
	tests := []struct {
		name string
		qm   QueuedMessage
		want error
	}{
		{"unknown type", QueuedMessage{MessageType: "nope", Message: json.RawMessage(`{}`)}, ErrUnknownMessageType},
		{"missing file id", QueuedMessage{MessageType: MessageTypeFileEvent, Message: json.RawMessage(`{"trigger":"FILE.UPLOADED"}`)}, ErrInvalidMessage},
		{"reprocess missing file id", QueuedMessage{MessageType: MessageTypeReprocess, Message: json.RawMessage(`{}`)}, ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.qm.ParseMessage()
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	bad := QueuedMessage{MessageType: MessageTypeFileEvent, Message: json.RawMessage(`{`)}
	_, err := bad.ParseMessage()
	assert.Error(t, err)
}

func TestProcessingError(t *testing.T) {
	cause := errors.New("503")
	transient := NewTransientError(ErrorCodeServiceUnavailable, "box down", cause)
	assert.True(t, transient.IsRetryable())
	assert.Equal(t, "box down: 503", transient.Error())
	assert.ErrorIs(t, transient, cause)

	assert.True(t, NewDependencyError(ErrorCodeExternalAPI, "x", nil).IsRetryable())
	permanent := NewPermanentError(ErrorCodeParseError, "bad payload", nil)
	assert.False(t, permanent.IsRetryable())
	assert.Equal(t, "bad payload", permanent.Error())
}
