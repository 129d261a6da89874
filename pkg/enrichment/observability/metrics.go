package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared by several metrics.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeEmpty   = "empty"
	OutcomeSkipped = "skipped"
)

// BridgeMetrics holds all Prometheus metrics for the bridge.
type BridgeMetrics struct {
	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Queue metrics
	QueueItemsTotal  *prometheus.CounterVec
	QueueDepth       *prometheus.GaugeVec
	QueueWaitSeconds *prometheus.HistogramVec
	DLQItemsTotal    *prometheus.CounterVec

	// Pipeline metrics
	SuggestionsTotal        *prometheus.CounterVec
	FillScore               *prometheus.HistogramVec
	ApplyTotal              *prometheus.CounterVec
	PipelineSeconds         prometheus.Histogram
	SchemaCacheLookupsTotal *prometheus.CounterVec

	// Analytics metrics
	AnalyticsPostsTotal *prometheus.CounterVec
}

// NewBridgeMetrics registers the bridge metrics with reg.
func NewBridgeMetrics(reg prometheus.Registerer) *BridgeMetrics {
	factory := promauto.With(reg)

	return &BridgeMetrics{
		WebhookEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxbridge_webhook_events_total",
				Help: "Webhook events received by trigger",
			},
			[]string{"trigger", "status"},
		),

		QueueItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxbridge_queue_items_total",
				Help: "Total items entering each queue",
			},
			[]string{"queue"},
		),
		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "boxbridge_queue_depth",
				Help: "Current queue depth",
			},
			[]string{"queue"},
		),
		QueueWaitSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boxbridge_queue_wait_seconds",
				Help:    "Time spent in queue before pickup",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"queue"},
		),
		DLQItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxbridge_dlq_items_total",
				Help: "Total items moved to the dead letter queue",
			},
			[]string{"queue", "error_type"},
		),

		SuggestionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxbridge_suggestions_total",
				Help: "AI suggestion fetches by outcome",
			},
			[]string{"template_key", "outcome"},
		),
		FillScore: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "boxbridge_fill_score",
				Help:    "Fill score per scored template",
				Buckets: []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
			},
			[]string{"template_key"},
		),
		ApplyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxbridge_apply_total",
				Help: "Metadata apply attempts by operation and outcome",
			},
			[]string{"template_key", "operation", "outcome"},
		),
		PipelineSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "boxbridge_pipeline_seconds",
				Help:    "End-to-end pipeline latency per file event",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300, 600},
			},
		),
		SchemaCacheLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxbridge_schema_cache_lookups_total",
				Help: "Template schema cache lookups by result",
			},
			[]string{"result"},
		),

		AnalyticsPostsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "boxbridge_analytics_posts_total",
				Help: "Analytics record posts by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordWebhookEvent counts a received webhook event.
func (m *BridgeMetrics) RecordWebhookEvent(trigger, status string) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(trigger, status).Inc()
}

// RecordQueueEnqueue records an item entering a queue.
func (m *BridgeMetrics) RecordQueueEnqueue(queue string) {
	if m == nil {
		return
	}
	m.QueueItemsTotal.WithLabelValues(queue).Inc()
}

// RecordQueueDepth sets the current queue depth.
func (m *BridgeMetrics) RecordQueueDepth(queue string, depth float64) {
	if m == nil {
		return
	}
	m.QueueDepth.WithLabelValues(queue).Set(depth)
}

// RecordQueueWait records the time an item spent in the queue.
func (m *BridgeMetrics) RecordQueueWait(queue string, seconds float64) {
	if m == nil {
		return
	}
	m.QueueWaitSeconds.WithLabelValues(queue).Observe(seconds)
}

// RecordDLQItem records an item added to the dead letter queue.
func (m *BridgeMetrics) RecordDLQItem(queue, errorType string) {
	if m == nil {
		return
	}
	m.DLQItemsTotal.WithLabelValues(queue, errorType).Inc()
}

// RecordSuggestions records the outcome of a suggestion fetch.
func (m *BridgeMetrics) RecordSuggestions(templateKey, outcome string) {
	if m == nil {
		return
	}
	m.SuggestionsTotal.WithLabelValues(templateKey, outcome).Inc()
}

// RecordFillScore observes a template fill score.
func (m *BridgeMetrics) RecordFillScore(templateKey string, score float64) {
	if m == nil {
		return
	}
	m.FillScore.WithLabelValues(templateKey).Observe(score)
}

// RecordApply records a metadata apply attempt.
func (m *BridgeMetrics) RecordApply(templateKey, operation, outcome string) {
	if m == nil {
		return
	}
	m.ApplyTotal.WithLabelValues(templateKey, operation, outcome).Inc()
}

// RecordPipelineLatency observes one pipeline run.
func (m *BridgeMetrics) RecordPipelineLatency(seconds float64) {
	if m == nil {
		return
	}
	m.PipelineSeconds.Observe(seconds)
}

// RecordSchemaLookup counts a schema cache hit or miss.
func (m *BridgeMetrics) RecordSchemaLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.SchemaCacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordAnalyticsPost records an analytics sink post.
func (m *BridgeMetrics) RecordAnalyticsPost(outcome string) {
	if m == nil {
		return
	}
	m.AnalyticsPostsTotal.WithLabelValues(outcome).Inc()
}
