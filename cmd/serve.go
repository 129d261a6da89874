package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/otherjamesbrown/boxbridge/config"
	"github.com/otherjamesbrown/boxbridge/pkg/analytics"
	"github.com/otherjamesbrown/boxbridge/pkg/box"
	"github.com/otherjamesbrown/boxbridge/pkg/buildinfo"
	"github.com/otherjamesbrown/boxbridge/pkg/db"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/pipeline"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/workers"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
	"github.com/otherjamesbrown/boxbridge/pkg/webhook"
)

// metricsNamespace prefixes the database pool collector.
const metricsNamespace = "boxbridge"

// NewServeCommand creates the serve command.
func NewServeCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive Box webhooks and enrich files",
		Long: `Run the webhook receiver and the enrichment workers.

serve listens for Box webhook deliveries, acknowledges each with 202 once it
is queued, and processes queued events in the background:

  FILE.PREVIEWED   read the preview count, run the pipeline, post analytics
  FILE.UPLOADED    run the pipeline, post analytics
  METADATA.UPDATE  post analytics only

Required settings (environment, .env or the credential store):
  BOX_API_TOKEN, SALESFORCE_DATA_CLOUD_ENDPOINT, SALESFORCE_ACCESS_TOKEN

Endpoints:
  POST /box-webhook   webhook receiver (server.path)
  GET  /healthz       queue, worker and dependency health
  GET  /metrics       Prometheus metrics
  GET  /version       build information

Examples:
  boxbridge serve
  PORT=8080 boxbridge serve --config ./boxbridge.yaml`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(c.Context(), cfg, deps)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, deps *Deps) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := newLogger(cfg, os.Stdout)
	logging.SetGlobal(logger)
	gin.SetMode(gin.ReleaseMode)

	logger.Info("Starting boxbridge",
		logging.F("version", buildinfo.Version),
		logging.F("commit", buildinfo.Commit),
		logging.F("config", cfg.Path),
		logging.F("queue_backend", cfg.Queue.Backend))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewBridgeMetrics(reg)

	client, err := deps.NewBox(cfg)
	if err != nil {
		return fmt.Errorf("creating box client: %w", err)
	}
	logTemplateSchemas(ctx, client, logger)

	var serverOpts []webhook.ServerOption

	conn, repo, closeDB, err := openHistory(ctx, cfg, deps, true, logger)
	if err != nil {
		return err
	}
	defer closeDB()
	if pool, ok := conn.(*pgxpool.Pool); ok {
		if err := db.RegisterPoolStats(reg, pool, metricsNamespace); err != nil {
			logger.Warn("Failed to register database pool metrics", logging.Err(err))
		}
		serverOpts = append(serverOpts, webhook.WithHealthCheck("database", databaseCheck(pool)))
	}
	if repo != nil {
		logger.Info("Apply history enabled", logging.F("database", cfg.Database.Redacted()))
	}

	queue, rdb, err := openQueue(ctx, cfg, deps)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer queue.Close()

	events := observability.NewEventEmitter(nil)
	if rdb != nil {
		defer rdb.Close()
		serverOpts = append(serverOpts, webhook.WithHealthCheck("redis", redisCheck(rdb)))
		if cfg.Queue.PublishEvents {
			events = observability.NewEventEmitter(observability.NewRedisEventPublisher(
				func(ctx context.Context, channel string, message interface{}) error {
					return rdb.Publish(ctx, channel, message).Err()
				}))
		}
	}

	p, err := buildPipeline(cfg, client, logger, metrics,
		pipeline.WithRecorder(recorderFor(repo)),
		pipeline.WithEvents(events))
	if err != nil {
		return err
	}

	sink, err := analytics.NewSalesforceSink(cfg.Analytics.Endpoint, cfg.Analytics.Token,
		analytics.WithLogger(logger),
		analytics.WithMetrics(metrics),
		analytics.WithTimeout(cfg.Analytics.Timeout))
	if err != nil {
		return err
	}

	dispatcher := webhook.NewDispatcher(p, client, sink,
		webhook.WithEnterpriseID(cfg.Analytics.EnterpriseID),
		webhook.WithDispatcherLogger(logger),
		webhook.WithDispatcherMetrics(metrics))

	pool := workers.NewPool(cfg.Workers, queue, dispatcher.Handle, logger, metrics)
	pool.Start(ctx)
	defer pool.Stop()

	serverOpts = append(serverOpts,
		webhook.WithGatherer(reg),
		webhook.WithServerLogger(logger),
		webhook.WithServerMetrics(metrics),
		webhook.WithHealthCheck("workers", func(context.Context) (any, error) {
			return pool.Stats(), nil
		}))
	server := webhook.NewServer(cfg.Server, queue, serverOpts...)

	err = server.Run(ctx)
	logger.Info("boxbridge stopped")
	return err
}

// logTemplateSchemas lists every template schema once at startup so the
// operator can verify the token and scope before events arrive.
func logTemplateSchemas(ctx context.Context, client *box.Client, logger logging.Logger) {
	all, err := client.ListAllTemplateSchemas(ctx)
	if err != nil {
		logger.Warn("Could not list metadata template schemas",
			logging.F("request_id", box.RequestIDOf(err)), logging.Err(err))
		return
	}
	keys := make([]string, 0, len(all))
	for _, t := range all {
		keys = append(keys, t.TemplateKey)
	}
	logger.Info("Metadata templates available", logging.F("count", len(all)), logging.F("templates", keys))
}

func databaseCheck(pool *pgxpool.Pool) webhook.HealthCheck {
	return func(ctx context.Context) (any, error) {
		status := db.Check(ctx, pool)
		if !status.Healthy {
			return status, errors.New(status.Error)
		}
		return status, nil
	}
}

func redisCheck(client redis.UniversalClient) webhook.HealthCheck {
	return func(ctx context.Context) (any, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, err
		}
		return "ok", nil
	}
}
