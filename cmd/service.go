package cmd

import (
	"context"
	"fmt"

	"github.com/otherjamesbrown/boxbridge/config"
	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/db"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/apply"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/audit"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/extraction"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/pipeline"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/schemas"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/selection"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/suggestions"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// buildPipeline wires the schema cache, suggestion fetcher, selector and
// applier around one Box client.
func buildPipeline(cfg *config.Config, client *box.Client, logger logging.Logger, metrics *observability.BridgeMetrics, opts ...pipeline.Option) (*pipeline.Pipeline, error) {
	registry, err := extraction.BuildRegistry(cfg.Extraction, logger)
	if err != nil {
		return nil, fmt.Errorf("building extractor registry: %w", err)
	}
	mode, err := suggestions.ParseMode(cfg.Pipeline.SuggestionMode)
	if err != nil {
		return nil, err
	}
	scope := cfg.Box.Scope

	cache := schemas.New(client, scope,
		schemas.WithLogger(logger),
		schemas.WithMetrics(metrics))
	fetcher := suggestions.New(client, scope,
		suggestions.WithMode(mode),
		suggestions.WithLogger(logger),
		suggestions.WithMetrics(metrics))
	selector := selection.New(cache, fetcher, registry,
		selection.WithThreshold(enrichment.FillScore(cfg.Pipeline.Threshold)),
		selection.WithLogger(logger),
		selection.WithMetrics(metrics))
	applier := apply.New(client, scope,
		apply.WithLogger(logger),
		apply.WithMetrics(metrics))

	base := []pipeline.Option{
		pipeline.WithScope(scope),
		pipeline.WithDeadline(cfg.Pipeline.Deadline),
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(metrics),
	}
	return pipeline.New(client, selector, applier, append(base, opts...)...), nil
}

// openHistory connects the audit repository when a database is configured,
// running pending migrations first when migrate is set. It returns a nil
// repository and a no-op close function when history is disabled.
func openHistory(ctx context.Context, cfg *config.Config, deps *Deps, migrate bool, logger logging.Logger) (db.Conn, *audit.Repository, func(), error) {
	if !cfg.Database.Enabled() {
		return nil, nil, func() {}, nil
	}
	conn, closeFn, err := deps.ConnectDB(ctx, cfg.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to database %s: %w", cfg.Database.Redacted(), err)
	}
	if migrate {
		if err := migrateDatabase(ctx, conn, logger); err != nil {
			closeFn()
			return nil, nil, nil, err
		}
	}
	return conn, audit.NewRepository(conn), closeFn, nil
}

// recorderFor returns repo as a Recorder, or a no-op recorder when nil.
func recorderFor(repo *audit.Repository) audit.Recorder {
	if repo == nil {
		return audit.NopRecorder{}
	}
	return repo
}

func migrateDatabase(ctx context.Context, conn db.Conn, logger logging.Logger) error {
	res, err := db.RunMigrations(ctx, conn, db.Migrations)
	if err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	if len(res.Applied) > 0 {
		logger.Info("Applied database migrations", logging.F("versions", res.Applied))
	}
	return nil
}
