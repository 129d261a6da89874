// Package apply creates or updates metadata template instances on Box files.
package apply

import (
	"context"
	"strings"

	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	bberrors "github.com/otherjamesbrown/boxbridge/pkg/errors"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// Store is the Box metadata surface the applier needs. *box.Client satisfies it.
type Store interface {
	GetMetadata(ctx context.Context, fileID, scope, templateKey string) (map[string]any, error)
	CreateMetadata(ctx context.Context, fileID, scope, templateKey string, body any) (map[string]any, error)
	PatchMetadata(ctx context.Context, fileID, scope, templateKey string, ops []box.PatchOp) (map[string]any, error)
}

// Instance is the stored field values of a template on a file, without the
// $-prefixed system keys.
type Instance map[string]any

func newInstance(raw map[string]any) Instance {
	inst := make(Instance, len(raw))
	for k, v := range raw {
		if strings.HasPrefix(k, "$") {
			continue
		}
		inst[k] = v
	}
	return inst
}

// Operation is what Upsert did.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationNoop   Operation = "noop"
)

// Result describes one Upsert.
type Result struct {
	TemplateKey string                  `json:"template_key"`
	Operation   Operation               `json:"operation"`
	Attributes  enrichment.AttributeMap `json:"attributes"`
	Ops         []box.PatchOp           `json:"ops,omitempty"`
	Err         error                   `json:"-"`
}

// Applied reports whether the instance now holds the attributes.
func (r *Result) Applied() bool {
	return r.Err == nil && r.Operation != OperationNoop
}

// Applier performs idempotent create-or-update of metadata instances.
type Applier struct {
	store   Store
	scope   string
	logger  logging.Logger
	metrics *observability.BridgeMetrics
	tracer  *observability.Tracer
}

// Option configures the applier.
type Option func(*Applier)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(a *Applier) {
		a.logger = logger
	}
}

// WithMetrics records apply outcomes.
func WithMetrics(m *observability.BridgeMetrics) Option {
	return func(a *Applier) {
		a.metrics = m
	}
}

// New creates an applier for templates in scope.
func New(store Store, scope string, opts ...Option) *Applier {
	a := &Applier{
		store:  store,
		scope:  scope,
		logger: logging.NewNopLogger(),
		tracer: observability.NewTracer(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(logging.F("component", "metadata_applier"))
	return a
}

// IsApplied reports whether templateKey has an instance on the file, and
// returns it when it does. A 404 is not an error.
func (a *Applier) IsApplied(ctx context.Context, fileID, templateKey string) (bool, Instance, error) {
	raw, err := a.store.GetMetadata(ctx, fileID, a.scope, templateKey)
	if bberrors.IsNotFound(err) {
		return false, nil, nil
	}
	if err != nil {
		return false, nil, err
	}
	return true, newInstance(raw), nil
}

// Upsert writes attrs to the file's templateKey instance: a create with the
// non-nil attributes when there is none, a JSON-patch otherwise. Failures
// come back as an Apply error and are also set on the Result.
func (a *Applier) Upsert(ctx context.Context, fileID, templateKey string, attrs enrichment.AttributeMap) (*Result, error) {
	ctx, span := a.tracer.StartApplySpan(ctx, fileID, templateKey)
	defer span.End()
	spanHelper := observability.NewSpanHelper(span)

	log := a.logger.WithContext(ctx).With(logging.FileID(fileID), logging.TemplateKey(templateKey))
	res := &Result{TemplateKey: templateKey, Attributes: attrs}

	applied, inst, err := a.IsApplied(ctx, fileID, templateKey)
	if err != nil {
		log.Error("Failed to read metadata instance, assuming none",
			logging.F("request_id", box.RequestIDOf(err)), logging.Err(err))
	}

	if !applied {
		created, createErr := a.create(ctx, fileID, templateKey, attrs, res, log)
		if created || createErr != nil {
			return a.finish(res, createErr, spanHelper)
		}
		// Someone created the instance first. Patch it instead.
		if _, inst, err = a.IsApplied(ctx, fileID, templateKey); err != nil {
			return a.finish(res, bberrors.Apply("reload after conflict", fileID, templateKey, err), spanHelper)
		}
	}

	return a.finish(res, a.update(ctx, fileID, templateKey, attrs, inst, res, log), spanHelper)
}

// create posts the instance. It returns false without error when the
// instance already exists.
func (a *Applier) create(ctx context.Context, fileID, templateKey string, attrs enrichment.AttributeMap, res *Result, log logging.Logger) (bool, error) {
	body := EscapeAll(attrs.Compact())
	if len(body) == 0 {
		res.Operation = OperationNoop
		log.Info("Nothing to create, no attribute has a value")
		return true, nil
	}

	res.Operation = OperationCreate
	if _, err := a.store.CreateMetadata(ctx, fileID, a.scope, templateKey, body); err != nil {
		if bberrors.IsConflict(err) {
			log.Info("Metadata instance created concurrently, updating instead")
			return false, nil
		}
		log.Error("Failed to create metadata instance",
			logging.F("request_id", box.RequestIDOf(err)),
			logging.F("payload", body),
			logging.Err(err))
		return false, bberrors.Apply("create", fileID, templateKey, err)
	}

	log.Info("Created metadata instance", logging.F("attributes", len(body)))
	return true, nil
}

func (a *Applier) update(ctx context.Context, fileID, templateKey string, attrs enrichment.AttributeMap, inst Instance, res *Result, log logging.Logger) error {
	ops := BuildPatch(attrs, inst)
	res.Ops = ops
	if len(ops) == 0 {
		res.Operation = OperationNoop
		log.Info("Metadata instance already up to date")
		return nil
	}

	res.Operation = OperationUpdate
	if _, err := a.store.PatchMetadata(ctx, fileID, a.scope, templateKey, ops); err != nil {
		log.Error("Failed to update metadata instance",
			logging.F("request_id", box.RequestIDOf(err)),
			logging.F("payload", ops),
			logging.Err(err))
		return bberrors.Apply("update", fileID, templateKey, err)
	}

	log.Info("Updated metadata instance", logging.F("ops", len(ops)))
	return nil
}

func (a *Applier) finish(res *Result, err error, span *observability.SpanHelper) (*Result, error) {
	span.SetOperation(string(res.Operation))
	outcome := observability.OutcomeSuccess
	if err != nil {
		res.Err = err
		outcome = observability.OutcomeFailure
		span.SetError(err, string(bberrors.KindApply), false)
	} else {
		span.SetSuccess()
	}
	if res.Operation == OperationNoop {
		outcome = observability.OutcomeSkipped
	}
	a.metrics.RecordApply(res.TemplateKey, string(res.Operation), outcome)
	return res, err
}
