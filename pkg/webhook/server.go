package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/otherjamesbrown/boxbridge/pkg/buildinfo"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/queues"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// Default server settings.
const (
	DefaultPort            = 5000
	DefaultPath            = "/box-webhook"
	DefaultShutdownTimeout = 10 * time.Second
)

// Config configures the HTTP server.
type Config struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Path            string        `yaml:"path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns the server configuration used by serve.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            DefaultPort,
		Path:            DefaultPath,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Address returns host:port.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HealthCheck reports the state of an optional dependency for /healthz.
type HealthCheck func(ctx context.Context) (any, error)

// Server accepts webhook deliveries and hands them to the queue.
type Server struct {
	cfg      Config
	queue    queues.Queue
	gatherer prometheus.Gatherer
	checks   map[string]HealthCheck
	logger   logging.Logger
	metrics  *observability.BridgeMetrics
	router   *gin.Engine
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithGatherer exposes metrics from g at /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, check HealthCheck) ServerOption {
	return func(s *Server) {
		s.checks[name] = check
	}
}

// WithServerLogger sets a custom logger.
func WithServerLogger(logger logging.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerMetrics records received events.
func WithServerMetrics(m *observability.BridgeMetrics) ServerOption {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates the server and its routes.
func NewServer(cfg Config, queue queues.Queue, opts ...ServerOption) *Server {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	s := &Server{
		cfg:      cfg,
		queue:    queue,
		gatherer: prometheus.DefaultGatherer,
		checks:   make(map[string]HealthCheck),
		logger:   logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logging.F("component", "webhook_server"))
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	router.GET("/", s.index)
	router.GET("/favicon.ico", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/healthz", s.healthz)
	router.GET("/version", gin.WrapF(buildinfo.Handler()))
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	router.POST(s.cfg.Path, s.receive)
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			logging.F("method", c.Request.Method),
			logging.F("path", c.Request.URL.Path),
			logging.F("status", c.Writer.Status()),
			logging.F("latency", time.Since(start)),
			logging.F("client_ip", c.ClientIP()))
	}
}

func (s *Server) index(c *gin.Context) {
	c.String(http.StatusOK, "boxbridge is up")
}

// receive parses a delivery, queues it and acknowledges with 202 before
// any processing happens.
func (s *Server) receive(c *gin.Context) {
	var event Event
	if err := json.NewDecoder(c.Request.Body).Decode(&event); err != nil {
		s.logger.Warn("Rejecting webhook with invalid JSON", logging.Err(err))
		s.metrics.RecordWebhookEvent("", "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if err := event.Validate(); err != nil {
		s.logger.Warn("Rejecting webhook", logging.F("trigger", event.Trigger), logging.Err(err))
		s.metrics.RecordWebhookEvent(event.Trigger, "invalid")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	deliveryID := c.GetHeader(HeaderDeliveryID)
	if deliveryID == "" && event.ID == "" {
		deliveryID = uuid.New().String()
	}
	msg := event.Message(deliveryID, time.Now().UTC())
	msg.Trace = observability.InjectTraceContext(c.Request.Context())

	log := s.logger.With(logging.F("delivery_id", msg.DeliveryID), logging.FileID(msg.FileID))
	if err := s.queue.Enqueue(msg); err != nil {
		log.Error("Failed to queue webhook event", logging.F("trigger", event.Trigger), logging.Err(err))
		s.metrics.RecordWebhookEvent(event.Trigger, "queue_error")
		status := http.StatusInternalServerError
		if errors.Is(err, queues.ErrQueueClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "could not queue event"})
		return
	}
	s.metrics.RecordQueueEnqueue(s.queue.Name())

	log.Info("Webhook received", logging.F("trigger", event.Trigger))
	c.JSON(http.StatusAccepted, gin.H{"status": "Webhook received"})
}

func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok", "version": buildinfo.Version}

	stats, err := s.queue.Stats()
	if err != nil {
		status = http.StatusServiceUnavailable
		body["queue"] = gin.H{"error": err.Error()}
	} else {
		body["queue"] = stats
	}

	for name, check := range s.checks {
		result, err := check(c.Request.Context())
		if err != nil {
			status = http.StatusServiceUnavailable
			body[name] = gin.H{"error": err.Error()}
			continue
		}
		body[name] = result
	}

	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server",
			logging.F("address", s.cfg.Address()),
			logging.F("webhook_path", s.cfg.Path))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
