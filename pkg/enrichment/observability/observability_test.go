package observability

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTemplateAppliedEvent(t *testing.T) {
	event := NewTemplateAppliedEvent("42", "invoiceAi", "create", StatusApplied, 1.0)

	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, "42", event.FileID)
	assert.Equal(t, "invoiceAi", event.TemplateKey)
	assert.Equal(t, "create", event.Operation)
	assert.Equal(t, StatusApplied, event.Status)
	assert.Equal(t, 1.0, event.Score)
	assert.False(t, event.Timestamp.IsZero())
}

func TestNewFileProcessedEvent(t *testing.T) {
	event := NewFileProcessedEvent("42", "invoiceAi", map[string]float64{"invoiceAi": 1}, 1, 0, 120)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, 1, event.AppliedCount)
	assert.Equal(t, int64(120), event.DurationMs)
}

type capturePublisher struct {
	channel string
	data    []byte
}

func (c *capturePublisher) publish(_ context.Context, channel string, message interface{}) error {
	c.channel = channel
	c.data = message.([]byte)
	return nil
}

func TestEventEmitter_RedisPublisher(t *testing.T) {
	capture := &capturePublisher{}
	emitter := NewEventEmitter(NewRedisEventPublisher(capture.publish))

	err := emitter.EmitError(context.Background(), NewErrorEvent("42", "invoiceAi", "apply", "apply_rejected", "400", false))
	require.NoError(t, err)
	assert.Equal(t, ChannelError, capture.channel)

	var decoded ErrorEvent
	require.NoError(t, json.Unmarshal(capture.data, &decoded))
	assert.Equal(t, "42", decoded.FileID)
	assert.Equal(t, "apply", decoded.Stage)
	assert.NoError(t, emitter.Close())
}

func TestEventEmitter_NilPublisher(t *testing.T) {
	emitter := NewEventEmitter(nil)
	assert.NoError(t, emitter.EmitTemplateApplied(context.Background(), NewTemplateAppliedEvent("1", "k", "noop", StatusApplied, 0)))
	assert.NoError(t, emitter.EmitFileProcessed(context.Background(), NewFileProcessedEvent("1", "", nil, 0, 0, 1)))
}

func TestBridgeMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewBridgeMetrics(reg)

	m.RecordWebhookEvent("FILE.UPLOADED", "accepted")
	m.RecordApply("invoiceAi", "create", OutcomeSuccess)
	m.RecordApply("invoiceAi", "create", OutcomeSuccess)
	m.RecordSuggestions("invoiceAi", OutcomeEmpty)
	m.RecordFillScore("invoiceAi", 0.5)
	m.RecordQueueDepth("file-events", 3)
	m.RecordSchemaLookup(true)
	m.RecordAnalyticsPost(OutcomeFailure)
	m.RecordPipelineLatency(1.2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ApplyTotal.WithLabelValues("invoiceAi", "create", OutcomeSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebhookEventsTotal.WithLabelValues("FILE.UPLOADED", "accepted")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth.WithLabelValues("file-events")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SchemaCacheLookupsTotal.WithLabelValues("hit")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FillScore))
}

func TestBridgeMetrics_NilSafe(t *testing.T) {
	var m *BridgeMetrics
	assert.NotPanics(t, func() {
		m.RecordApply("k", "create", OutcomeSuccess)
		m.RecordWebhookEvent("x", "y")
		m.RecordSchemaLookup(false)
	})
}

func TestSpanHelpers_NoProvider(t *testing.T) {
	tracer := NewTracer()
	ctx, span := tracer.StartProcessSpan(context.Background(), "42", "enterprise_1")
	defer span.End()

	h := NewSpanHelper(span)
	h.SetScore(0.5)
	h.SetRequestID("r")
	h.SetOperation("create")
	h.SetCandidates(2)
	h.SetError(errors.New("x"), "apply_rejected", false)
	h.SetSuccess()

	// The default global provider is a no-op, so no ids are propagated.
	assert.Equal(t, "", GetTraceID(ctx))
	assert.Empty(t, InjectTraceContext(ctx))
}
