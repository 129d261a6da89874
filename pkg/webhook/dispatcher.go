package webhook

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/boxbridge/pkg/analytics"
	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/pipeline"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/queues"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// Processor runs the enrichment pipeline. *pipeline.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Summary, error)
}

// PreviewCounter reads a file's preview count. *box.Client satisfies it.
type PreviewCounter interface {
	GetPreviewCount(ctx context.Context, fileID string) (int, error)
}

// Dispatcher routes queued webhook events by trigger.
type Dispatcher struct {
	processor    Processor
	previews     PreviewCounter
	sink         analytics.Sink
	enterpriseID int64
	logger       logging.Logger
	metrics      *observability.BridgeMetrics
	tracer       *observability.Tracer
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithEnterpriseID sets the enterprise id reported to analytics.
func WithEnterpriseID(id int64) DispatcherOption {
	return func(d *Dispatcher) {
		d.enterpriseID = id
	}
}

// WithDispatcherLogger sets a custom logger.
func WithDispatcherLogger(logger logging.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithDispatcherMetrics records dispatched events.
func WithDispatcherMetrics(m *observability.BridgeMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// NewDispatcher creates a dispatcher. A nil sink discards analytics records.
func NewDispatcher(processor Processor, previews PreviewCounter, sink analytics.Sink, opts ...DispatcherOption) *Dispatcher {
	if sink == nil {
		sink = analytics.DiscardSink{}
	}
	d := &Dispatcher{
		processor:    processor,
		previews:     previews,
		sink:         sink,
		enterpriseID: analytics.DefaultEnterpriseID,
		logger:       logging.NewNopLogger(),
		tracer:       observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(logging.F("component", "webhook_dispatcher"))
	return d
}

// Handle processes one queue message. It has the signature of a worker
// message handler. Only malformed messages produce an error: pipeline and
// analytics failures are logged and the message is settled.
func (d *Dispatcher) Handle(ctx context.Context, msg queues.Message) error {
	switch m := msg.(type) {
	case *queues.FileEventMessage:
		return d.handleEvent(ctx, m)
	case *queues.ReprocessMessage:
		return d.handleReprocess(ctx, m)
	default:
		return queues.NewPermanentError(queues.ErrorCodeInvalidInput,
			fmt.Sprintf("unsupported message type %s", msg.GetMessageType()), queues.ErrUnknownMessageType)
	}
}

func (d *Dispatcher) handleEvent(ctx context.Context, m *queues.FileEventMessage) error {
	if m.FileID == "" {
		return queues.NewPermanentError(queues.ErrorCodeInvalidInput, "no file id", queues.ErrInvalidMessage)
	}

	ctx, span := d.tracer.StartDispatchSpan(ctx, m.Trigger, m.FileID)
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	log := d.logger.WithContext(ctx).With(
		logging.FileID(m.FileID),
		logging.F("trigger", m.Trigger),
		logging.F("webhook_trace_id", m.Trace["trace_id"]))

	src := analytics.Source{
		UserID:     m.UserID,
		UserLogin:  m.UserLogin,
		FileID:     m.FileID,
		FileName:   m.FileName,
		FolderID:   m.FolderID,
		FolderName: m.FolderName,
	}

	var (
		previews int
		summary  *pipeline.Summary
	)
	switch m.Trigger {
	case TriggerFilePreviewed:
		previews = d.previewCount(ctx, m.FileID, log)
		log.Info("File previewed",
			logging.F("user_id", m.UserID),
			logging.F("file_name", m.FileName),
			logging.F("preview_count", previews))
		summary = d.process(ctx, pipeline.Request{FileID: m.FileID}, log)
	case TriggerFileUploaded:
		log.Info("File uploaded",
			logging.F("user_id", m.UserID),
			logging.F("file_name", m.FileName))
		summary = d.process(ctx, pipeline.Request{FileID: m.FileID}, log)
	case TriggerMetadataUpdate:
		// Our own applies raise this trigger, so it never runs extraction.
		log.Info("Metadata updated, sending analytics only")
	default:
		log.Warn("No handler for trigger")
		d.metrics.RecordWebhookEvent(m.Trigger, observability.OutcomeSkipped)
		spanHelper.SetSuccess()
		return nil
	}

	rec := analytics.Build(src, d.enterpriseID, previews, summary)
	if err := d.sink.Send(ctx, rec); err != nil {
		log.Error("Analytics record not delivered", logging.Err(err))
		d.metrics.RecordWebhookEvent(m.Trigger, observability.OutcomeFailure)
		spanHelper.SetError(err, "analytics", false)
		return nil
	}

	d.metrics.RecordWebhookEvent(m.Trigger, observability.OutcomeSuccess)
	spanHelper.SetSuccess()
	return nil
}

func (d *Dispatcher) handleReprocess(ctx context.Context, m *queues.ReprocessMessage) error {
	if m.FileID == "" {
		return queues.NewPermanentError(queues.ErrorCodeInvalidInput, "no file id", queues.ErrInvalidMessage)
	}
	log := d.logger.WithContext(ctx).With(logging.FileID(m.FileID), logging.F("requested_by", m.RequestedBy))
	log.Info("Reprocessing file", logging.F("templates", m.TemplateKeys))
	d.process(ctx, pipeline.Request{FileID: m.FileID, TemplateKeys: m.TemplateKeys}, log)
	return nil
}

// previewCount returns the upstream preview count, 0 when it cannot be read.
func (d *Dispatcher) previewCount(ctx context.Context, fileID string, log logging.Logger) int {
	n, err := d.previews.GetPreviewCount(ctx, fileID)
	if err != nil {
		log.Error("Failed to read preview count",
			logging.F("request_id", box.RequestIDOf(err)), logging.Err(err))
		return 0
	}
	return n
}

func (d *Dispatcher) process(ctx context.Context, req pipeline.Request, log logging.Logger) *pipeline.Summary {
	summary, err := d.processor.Process(ctx, req)
	if err != nil {
		log.Error("Enrichment pipeline failed", logging.Err(err))
	}
	return summary
}
