// Package observability provides event schemas, metrics and tracing for the
// metadata enrichment pipeline.
package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event channels for Redis pub/sub
const (
	ChannelTemplateApplied = "events.boxbridge.template_applied"
	ChannelFileProcessed   = "events.boxbridge.file_processed"
	ChannelError           = "events.boxbridge.error"
)

// TemplateAppliedEvent is emitted after each metadata upsert attempt.
type TemplateAppliedEvent struct {
	EventID     string    `json:"event_id"`
	FileID      string    `json:"file_id"`
	TemplateKey string    `json:"template_key"`
	Operation   string    `json:"operation"`
	Status      string    `json:"status"`
	Score       float64   `json:"score"`
	TraceID     string    `json:"trace_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// Apply status values
const (
	StatusApplied = "applied"
	StatusFailed  = "failed"
)

// NewTemplateAppliedEvent creates an apply event with a generated ID.
func NewTemplateAppliedEvent(fileID, templateKey, operation, status string, score float64) *TemplateAppliedEvent {
	return &TemplateAppliedEvent{
		EventID:     uuid.New().String(),
		FileID:      fileID,
		TemplateKey: templateKey,
		Operation:   operation,
		Status:      status,
		Score:       score,
		Timestamp:   time.Now(),
	}
}

// FileProcessedEvent summarizes one pipeline run.
type FileProcessedEvent struct {
	EventID      string             `json:"event_id"`
	FileID       string             `json:"file_id"`
	TemplateKey  string             `json:"template_key,omitempty"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	AppliedCount int                `json:"applied_count"`
	FailedCount  int                `json:"failed_count"`
	DurationMs   int64              `json:"duration_ms"`
	TraceID      string             `json:"trace_id,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// NewFileProcessedEvent creates a run summary event with a generated ID.
func NewFileProcessedEvent(fileID, templateKey string, scores map[string]float64, applied, failed int, durationMs int64) *FileProcessedEvent {
	return &FileProcessedEvent{
		EventID:      uuid.New().String(),
		FileID:       fileID,
		TemplateKey:  templateKey,
		Scores:       scores,
		AppliedCount: applied,
		FailedCount:  failed,
		DurationMs:   durationMs,
		Timestamp:    time.Now(),
	}
}

// ErrorEvent is emitted when a pipeline step fails.
type ErrorEvent struct {
	EventID      string    `json:"event_id"`
	FileID       string    `json:"file_id"`
	TemplateKey  string    `json:"template_key,omitempty"`
	Stage        string    `json:"stage"`
	ErrorType    string    `json:"error_type"`
	ErrorMessage string    `json:"error_message"`
	Retryable    bool      `json:"retryable"`
	TraceID      string    `json:"trace_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewErrorEvent creates an error event with a generated ID.
func NewErrorEvent(fileID, templateKey, stage, errorType, errorMsg string, retryable bool) *ErrorEvent {
	return &ErrorEvent{
		EventID:      uuid.New().String(),
		FileID:       fileID,
		TemplateKey:  templateKey,
		Stage:        stage,
		ErrorType:    errorType,
		ErrorMessage: errorMsg,
		Retryable:    retryable,
		Timestamp:    time.Now(),
	}
}

// EventPublisher publishes events to Redis channels.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, event interface{}) error
	Close() error
}

// RedisEventPublisher publishes JSON-encoded events through a Redis publish function.
type RedisEventPublisher struct {
	publish func(ctx context.Context, channel string, message interface{}) error
}

// NewRedisEventPublisher creates a publisher using a Redis publish function.
func NewRedisEventPublisher(publishFn func(ctx context.Context, channel string, message interface{}) error) *RedisEventPublisher {
	return &RedisEventPublisher{publish: publishFn}
}

// Publish publishes an event to a Redis channel.
func (p *RedisEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.publish(ctx, channel, data)
}

// Close is a no-op for Redis publisher.
func (p *RedisEventPublisher) Close() error {
	return nil
}

// NoOpEventPublisher discards all events.
type NoOpEventPublisher struct{}

// Publish does nothing.
func (p *NoOpEventPublisher) Publish(ctx context.Context, channel string, event interface{}) error {
	return nil
}

// Close does nothing.
func (p *NoOpEventPublisher) Close() error {
	return nil
}

// EventEmitter stamps trace ids on events and publishes them on their channels.
type EventEmitter struct {
	publisher EventPublisher
}

// NewEventEmitter creates an emitter. A nil publisher discards events.
func NewEventEmitter(publisher EventPublisher) *EventEmitter {
	if publisher == nil {
		publisher = &NoOpEventPublisher{}
	}
	return &EventEmitter{publisher: publisher}
}

// EmitTemplateApplied publishes an apply event.
func (e *EventEmitter) EmitTemplateApplied(ctx context.Context, event *TemplateAppliedEvent) error {
	event.TraceID = GetTraceID(ctx)
	return e.publisher.Publish(ctx, ChannelTemplateApplied, event)
}

// EmitFileProcessed publishes a run summary.
func (e *EventEmitter) EmitFileProcessed(ctx context.Context, event *FileProcessedEvent) error {
	event.TraceID = GetTraceID(ctx)
	return e.publisher.Publish(ctx, ChannelFileProcessed, event)
}

// EmitError publishes an error event.
func (e *EventEmitter) EmitError(ctx context.Context, event *ErrorEvent) error {
	event.TraceID = GetTraceID(ctx)
	return e.publisher.Publish(ctx, ChannelError, event)
}

// Close closes the underlying publisher.
func (e *EventEmitter) Close() error {
	return e.publisher.Close()
}
