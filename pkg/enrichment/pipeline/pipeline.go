// Package pipeline provides the metadata enrichment pipeline orchestrator.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/apply"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/audit"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/selection"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// DefaultDeadline bounds a single Process run.
const DefaultDeadline = 10 * time.Minute

// TemplateLister lists the enterprise's metadata templates. *box.Client satisfies it.
type TemplateLister interface {
	ListTemplates(ctx context.Context, scope string) ([]box.Template, error)
}

// Selector picks the templates to apply. *selection.Selector satisfies it.
type Selector interface {
	Select(ctx context.Context, fileID string, templateKeys []string) selection.Selection
}

// Upserter writes a metadata instance. *apply.Applier satisfies it.
type Upserter interface {
	Upsert(ctx context.Context, fileID, templateKey string, attrs enrichment.AttributeMap) (*apply.Result, error)
}

// Request is one file to enrich.
type Request struct {
	FileID string
	// Scope is the enterprise scope to list templates in. Empty means the
	// pipeline's scope.
	Scope string
	// TemplateKeys restricts the run to these templates. nil lists every
	// template in scope.
	TemplateKeys []string
}

// Summary is the applied-metadata summary of a run.
type Summary struct {
	FileID string `json:"file_id"`
	// TemplateKey and Attributes describe the last template whose instance
	// now holds a value, empty when none does.
	TemplateKey string                          `json:"template_key"`
	Attributes  string                          `json:"attributes"`
	Results     []apply.Result                  `json:"results"`
	Scores      map[string]enrichment.FillScore `json:"scores"`
	Duration    time.Duration                   `json:"duration"`
}

// Applied returns how many templates were created or updated.
func (s *Summary) Applied() int {
	n := 0
	for i := range s.Results {
		if s.Results[i].Applied() {
			n++
		}
	}
	return n
}

// Failed returns how many upserts failed.
func (s *Summary) Failed() int {
	n := 0
	for i := range s.Results {
		if s.Results[i].Err != nil {
			n++
		}
	}
	return n
}

// Pipeline orchestrates template selection, extraction and apply for a file.
type Pipeline struct {
	lister   TemplateLister
	selector Selector
	applier  Upserter
	scope    string
	deadline time.Duration
	recorder audit.Recorder
	events   *observability.EventEmitter
	metrics  *observability.BridgeMetrics
	tracer   *observability.Tracer
	logger   logging.Logger
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithScope sets the default enterprise scope.
func WithScope(scope string) Option {
	return func(p *Pipeline) {
		p.scope = scope
	}
}

// WithDeadline bounds each Process run.
func WithDeadline(d time.Duration) Option {
	return func(p *Pipeline) {
		p.deadline = d
	}
}

// WithRecorder records every apply outcome.
func WithRecorder(r audit.Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithEvents publishes apply and run events.
func WithEvents(e *observability.EventEmitter) Option {
	return func(p *Pipeline) {
		p.events = e
	}
}

// WithMetrics records pipeline latency.
func WithMetrics(m *observability.BridgeMetrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// New creates a new enrichment pipeline.
func New(lister TemplateLister, selector Selector, applier Upserter, opts ...Option) *Pipeline {
	p := &Pipeline{
		lister:   lister,
		selector: selector,
		applier:  applier,
		scope:    "enterprise",
		deadline: DefaultDeadline,
		recorder: audit.NopRecorder{},
		events:   observability.NewEventEmitter(nil),
		tracer:   observability.NewTracer(),
		logger:   logging.MustGlobal(),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With(logging.F("component", "enrichment_pipeline"))
	return p
}

// Process enriches one file. Per-template failures are logged, recorded
// and reported in the Summary; an error is returned only for an invalid
// request or when the run deadline cut it short.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Summary, error) {
	if req.FileID == "" {
		return nil, fmt.Errorf("file id is required: %w", bberrors.ErrValidation)
	}
	scope := req.Scope
	if scope == "" {
		scope = p.scope
	}

	start := time.Now()
	if p.deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deadline)
		defer cancel()
	}

	ctx, span := p.tracer.StartProcessSpan(ctx, req.FileID, scope)
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	log := p.logger.WithContext(ctx).With(logging.FileID(req.FileID))
	log.Info("Starting enrichment pipeline", logging.F("scope", scope))

	keys := req.TemplateKeys
	if keys == nil {
		keys = p.listTemplates(ctx, scope, log)
	}

	sel := p.selector.Select(ctx, req.FileID, keys)
	spanHelper.SetCandidates(len(sel.Apply))

	summary := &Summary{
		FileID: req.FileID,
		Scores: sel.Scores,
	}
	for _, c := range sel.Apply {
		if ctx.Err() != nil {
			break
		}
		res := p.applyCandidate(ctx, req.FileID, c, log)
		summary.Results = append(summary.Results, *res)
		if attrs := res.Attributes.Summary(); res.Err == nil && attrs != "" {
			summary.TemplateKey = res.TemplateKey
			summary.Attributes = attrs
		}
	}
	summary.Duration = time.Since(start)
	p.metrics.RecordPipelineLatency(summary.Duration.Seconds())

	p.emitProcessed(ctx, summary, log)

	if err := ctx.Err(); err != nil {
		pe := bberrors.ClassifyError(err, "process")
		pe.Duration = summary.Duration
		pe.Timeout = p.deadline
		spanHelper.SetError(pe, string(pe.Code), bberrors.IsRetryable(pe.Code))
		log.Error("Enrichment pipeline cut short", logging.Err(pe),
			logging.F("applied", summary.Applied()))
		return summary, pe
	}

	spanHelper.SetSuccess()
	log.Info("Enrichment pipeline completed",
		logging.TemplateKey(summary.TemplateKey),
		logging.F("candidates", len(sel.Apply)),
		logging.F("applied", summary.Applied()),
		logging.F("failed", summary.Failed()),
		logging.F("duration", summary.Duration))

	return summary, nil
}

// listTemplates returns every template key in scope. A listing failure
// yields an empty list.
func (p *Pipeline) listTemplates(ctx context.Context, scope string, log logging.Logger) []string {
	templates, err := p.lister.ListTemplates(ctx, scope)
	if err != nil {
		log.Error("Failed to list metadata templates",
			logging.F("request_id", box.RequestIDOf(err)), logging.Err(err))
		return []string{}
	}

	keys := make([]string, 0, len(templates))
	for _, t := range templates {
		keys = append(keys, t.TemplateKey)
	}
	log.Debug("Listed metadata templates", logging.F("count", len(keys)))
	return keys
}

func (p *Pipeline) applyCandidate(ctx context.Context, fileID string, c *selection.Candidate, log logging.Logger) *apply.Result {
	attrs := c.Extractor.Extract(c.Suggestions, c.Schema)

	res, err := p.applier.Upsert(ctx, fileID, c.TemplateKey, attrs)
	if res == nil {
		res = &apply.Result{TemplateKey: c.TemplateKey, Attributes: attrs, Err: err}
	}
	if err != nil {
		log.Warn("Template not applied", logging.TemplateKey(c.TemplateKey), logging.Err(err))
	}

	run := audit.FromResult(fileID, float64(c.Score), res)
	if recErr := p.recorder.Record(ctx, run); recErr != nil {
		log.Warn("Failed to record apply run", logging.TemplateKey(c.TemplateKey), logging.Err(recErr))
	}

	status := observability.StatusApplied
	if res.Err != nil {
		status = observability.StatusFailed
	}
	event := observability.NewTemplateAppliedEvent(fileID, c.TemplateKey, string(res.Operation), status, float64(c.Score))
	if emitErr := p.events.EmitTemplateApplied(ctx, event); emitErr != nil {
		log.Debug("Failed to publish apply event", logging.Err(emitErr))
	}
	if res.Err != nil {
		pe := bberrors.ClassifyError(res.Err, "apply")
		errEvent := observability.NewErrorEvent(fileID, c.TemplateKey, "apply", string(pe.Code), res.Err.Error(), false)
		if emitErr := p.events.EmitError(ctx, errEvent); emitErr != nil {
			log.Debug("Failed to publish error event", logging.Err(emitErr))
		}
	}

	return res
}

func (p *Pipeline) emitProcessed(ctx context.Context, s *Summary, log logging.Logger) {
	scores := make(map[string]float64, len(s.Scores))
	for k, v := range s.Scores {
		scores[k] = float64(v)
	}
	event := observability.NewFileProcessedEvent(s.FileID, s.TemplateKey, scores,
		s.Applied(), s.Failed(), s.Duration.Milliseconds())
	if err := p.events.EmitFileProcessed(ctx, event); err != nil {
		log.Debug("Failed to publish run event", logging.Err(err))
	}
}
