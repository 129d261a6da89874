package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// TracerName is the name of the tracer for bridge operations.
	TracerName = "boxbridge"
)

// Span attribute keys
const (
	AttrFileID      = "box.file_id"
	AttrScope       = "box.scope"
	AttrTemplateKey = "box.template_key"
	AttrRequestID   = "box.request_id"
	AttrTrigger     = "box.trigger"
	AttrFillScore   = "fill_score"
	AttrOperation   = "operation"
	AttrCandidates  = "candidates"
	AttrErrorType   = "error_type"
	AttrRetryable   = "retryable"
)

// Span names
const (
	SpanProcessFile   = "boxbridge.process_file"
	SpanFetchTemplate = "boxbridge.fetch_template"
	SpanApplyMetadata = "boxbridge.apply_metadata"
	SpanAnalyticsPost = "boxbridge.analytics_post"
	SpanDispatchEvent = "boxbridge.dispatch_event"
)

// Tracer provides distributed tracing for bridge operations.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global otel provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(TracerName),
	}
}

// StartProcessSpan starts the root span for one pipeline run.
func (t *Tracer) StartProcessSpan(ctx context.Context, fileID, scope string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanProcessFile,
		trace.WithAttributes(
			attribute.String(AttrFileID, fileID),
			attribute.String(AttrScope, scope),
		),
	)
}

// StartTemplateSpan starts a span for fetching schema and suggestions of one template.
func (t *Tracer) StartTemplateSpan(ctx context.Context, templateKey string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanFetchTemplate,
		trace.WithAttributes(
			attribute.String(AttrTemplateKey, templateKey),
		),
	)
}

// StartApplySpan starts a span for one metadata upsert.
func (t *Tracer) StartApplySpan(ctx context.Context, fileID, templateKey string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanApplyMetadata,
		trace.WithAttributes(
			attribute.String(AttrFileID, fileID),
			attribute.String(AttrTemplateKey, templateKey),
		),
	)
}

// StartAnalyticsSpan starts a span for an analytics post.
func (t *Tracer) StartAnalyticsSpan(ctx context.Context, fileID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanAnalyticsPost,
		trace.WithAttributes(
			attribute.String(AttrFileID, fileID),
		),
	)
}

// StartDispatchSpan starts a span for handling one webhook event.
func (t *Tracer) StartDispatchSpan(ctx context.Context, trigger, fileID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, SpanDispatchEvent,
		trace.WithAttributes(
			attribute.String(AttrTrigger, trigger),
			attribute.String(AttrFileID, fileID),
		),
	)
}

// SpanHelper provides convenient methods for working with the current span.
type SpanHelper struct {
	span trace.Span
}

// NewSpanHelper creates a new span helper for the given span.
func NewSpanHelper(span trace.Span) *SpanHelper {
	return &SpanHelper{span: span}
}

// SetScore records a template fill score.
func (h *SpanHelper) SetScore(score float64) {
	h.span.SetAttributes(attribute.Float64(AttrFillScore, score))
}

// SetRequestID records the Box request id of the last call.
func (h *SpanHelper) SetRequestID(id string) {
	if id != "" {
		h.span.SetAttributes(attribute.String(AttrRequestID, id))
	}
}

// SetOperation records the apply operation (create, update, noop).
func (h *SpanHelper) SetOperation(op string) {
	h.span.SetAttributes(attribute.String(AttrOperation, op))
}

// SetCandidates records how many templates were selected for apply.
func (h *SpanHelper) SetCandidates(n int) {
	h.span.SetAttributes(attribute.Int(AttrCandidates, n))
}

// SetError records an error on the span.
func (h *SpanHelper) SetError(err error, errorType string, retryable bool) {
	h.span.SetStatus(codes.Error, err.Error())
	h.span.SetAttributes(
		attribute.String(AttrErrorType, errorType),
		attribute.Bool(AttrRetryable, retryable),
	)
	h.span.RecordError(err)
}

// SetSuccess marks the span as successful.
func (h *SpanHelper) SetSuccess() {
	h.span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().HasTraceID() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// InjectTraceContext returns trace identifiers for propagation into queue messages.
func InjectTraceContext(ctx context.Context) map[string]string {
	headers := make(map[string]string)
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.HasTraceID() {
		headers["trace_id"] = sc.TraceID().String()
	}
	if sc.HasSpanID() {
		headers["span_id"] = sc.SpanID().String()
	}
	return headers
}
