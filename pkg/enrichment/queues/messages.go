// Package queues hands webhook events from the HTTP endpoint to the workers
// that run the enrichment pipeline.
package queues

import (
	"encoding/json"
	"time"
)

// MessageType identifies the type of queue message.
type MessageType string

const (
	// MessageTypeFileEvent carries one Box webhook delivery.
	MessageTypeFileEvent MessageType = "file_event"
	// MessageTypeReprocess asks for the pipeline to run on a file outside of a webhook.
	MessageTypeReprocess MessageType = "reprocess"
)

// Message is the base interface for all queue messages.
type Message interface {
	// GetFileID returns the Box file id the message is about.
	GetFileID() string
	// GetMessageType returns the message type.
	GetMessageType() MessageType
	// GetDeliveryID returns the webhook delivery id, if any.
	GetDeliveryID() string
}

// FileEventMessage is a parsed Box webhook event.
type FileEventMessage struct {
	DeliveryID string            `json:"delivery_id"`
	Trigger    string            `json:"trigger"`
	FileID     string            `json:"file_id"`
	FileName   string            `json:"file_name"`
	FolderID   string            `json:"folder_id,omitempty"`
	FolderName string            `json:"folder_name,omitempty"`
	UserID     string            `json:"user_id,omitempty"`
	UserLogin  string            `json:"user_login,omitempty"`
	CreatedAt  string            `json:"created_at,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
	Trace      map[string]string `json:"trace,omitempty"`
}

func (m *FileEventMessage) GetFileID() string           { return m.FileID }
func (m *FileEventMessage) GetMessageType() MessageType { return MessageTypeFileEvent }
func (m *FileEventMessage) GetDeliveryID() string       { return m.DeliveryID }

// ReprocessMessage re-runs extraction for a file, optionally limited to some templates.
type ReprocessMessage struct {
	FileID       string    `json:"file_id"`
	TemplateKeys []string  `json:"template_keys,omitempty"`
	RequestedBy  string    `json:"requested_by,omitempty"`
	RequestedAt  time.Time `json:"requested_at"`
}

func (m *ReprocessMessage) GetFileID() string           { return m.FileID }
func (m *ReprocessMessage) GetMessageType() MessageType { return MessageTypeReprocess }
func (m *ReprocessMessage) GetDeliveryID() string       { return "" }

// QueuedMessage wraps a message with queue metadata.
type QueuedMessage struct {
	ID           string          `json:"id"`
	Message      json.RawMessage `json:"message"`
	MessageType  MessageType     `json:"message_type"`
	RetryCount   int             `json:"retry_count"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
	VisibleAfter time.Time       `json:"visible_after,omitempty"`
}

// ParseMessage parses the raw message based on message type.
func (qm *QueuedMessage) ParseMessage() (Message, error) {
	switch qm.MessageType {
	case MessageTypeFileEvent:
		var msg FileEventMessage
		if err := json.Unmarshal(qm.Message, &msg); err != nil {
			return nil, err
		}
		if msg.FileID == "" {
			return nil, ErrInvalidMessage
		}
		return &msg, nil
	case MessageTypeReprocess:
		var msg ReprocessMessage
		if err := json.Unmarshal(qm.Message, &msg); err != nil {
			return nil, err
		}
		if msg.FileID == "" {
			return nil, ErrInvalidMessage
		}
		return &msg, nil
	default:
		return nil, ErrUnknownMessageType
	}
}

// newQueuedMessage wraps msg for storage.
func newQueuedMessage(id string, msg Message, now time.Time) (*QueuedMessage, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return &QueuedMessage{
		ID:          id,
		Message:     raw,
		MessageType: msg.GetMessageType(),
		EnqueuedAt:  now,
	}, nil
}

// Stats is a point-in-time view of a queue.
type Stats struct {
	Name       string `json:"name" yaml:"name"`
	Backend    string `json:"backend" yaml:"backend"`
	Pending    int64  `json:"pending" yaml:"pending"`
	Processing int64  `json:"processing" yaml:"processing"`
	DeadLetter int64  `json:"dead_letter" yaml:"dead_letter"`
}

// Queue defines the interface for a message queue.
type Queue interface {
	// Name returns the queue name.
	Name() string

	// Enqueue adds a message to the queue.
	Enqueue(msg Message) error

	// EnqueueBatch adds multiple messages to the queue.
	EnqueueBatch(msgs []Message) error

	// Dequeue retrieves messages from the queue.
	// Returns up to maxMessages, blocks for timeout.
	Dequeue(maxMessages int, timeout time.Duration) ([]*QueuedMessage, error)

	// Ack acknowledges successful processing of a message.
	Ack(messageID string) error

	// Nack indicates processing failure, message will be retried.
	Nack(messageID string) error

	// MoveToDeadLetter moves a message to the dead letter queue.
	MoveToDeadLetter(messageID string, reason string) error

	// Depth returns the number of messages waiting to be picked up.
	Depth() (int64, error)

	// Stats returns pending, in-flight and dead-lettered counts.
	Stats() (Stats, error)

	// Close closes the queue connection.
	Close() error
}

// QueueConfig configures queue behavior.
type QueueConfig struct {
	Name              string        `yaml:"name"`
	VisibilityTimeout time.Duration `yaml:"visibility_timeout"`
	RetentionPeriod   time.Duration `yaml:"retention_period"`
	Retry             RetryPolicy   `yaml:"retry"`
}

// DefaultQueueName is the queue webhook events go through.
const DefaultQueueName = "boxbridge:file-events"

// DefaultQueueConfig returns the configuration of the file event queue.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Name:              DefaultQueueName,
		VisibilityTimeout: 15 * time.Minute,
		RetentionPeriod:   24 * time.Hour,
		Retry:             DefaultRetryPolicy(),
	}
}

// Verify interface compliance
var _ Message = (*FileEventMessage)(nil)
var _ Message = (*ReprocessMessage)(nil)
