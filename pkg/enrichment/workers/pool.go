// Package workers drains the file event queue into the enrichment pipeline.
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/observability"
	"github.com/otherjamesbrown/boxbridge/pkg/enrichment/queues"
	"github.com/otherjamesbrown/boxbridge/pkg/logging"
)

// WorkerStatus represents the worker's current status.
type WorkerStatus string

const (
	WorkerStatusStarting WorkerStatus = "starting"
	WorkerStatusHealthy  WorkerStatus = "healthy"
	WorkerStatusDraining WorkerStatus = "draining"
	WorkerStatusStopped  WorkerStatus = "stopped"
)

// MessageHandler processes a queue message.
type MessageHandler func(ctx context.Context, msg queues.Message) error

// Config configures a worker pool.
type Config struct {
	Count           int           `yaml:"count"`
	BatchSize       int           `yaml:"batch_size"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RecoverInterval time.Duration `yaml:"recover_interval"`
}

// DefaultConfig returns the pool configuration used by serve.
func DefaultConfig() Config {
	return Config{
		Count:           4,
		BatchSize:       1,
		PollInterval:    1 * time.Second,
		HandlerTimeout:  14 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		RecoverInterval: 1 * time.Minute,
	}
}

// StaleRecoverer is implemented by queues whose in-flight messages can be
// stranded by a crashed worker.
type StaleRecoverer interface {
	RecoverStaleMessages() (int, error)
}

// Worker represents a single worker processing messages.
type Worker struct {
	ID      string
	Config  Config
	Queue   queues.Queue
	Handler MessageHandler

	status       atomic.Value
	lastActivity atomic.Int64

	ProcessedCount atomic.Int64
	FailedCount    atomic.Int64

	logger  logging.Logger
	metrics *observability.BridgeMetrics

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewWorker creates a new worker.
func NewWorker(parent context.Context, config Config, queue queues.Queue, handler MessageHandler, logger logging.Logger, metrics *observability.BridgeMetrics) *Worker {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()
	w := &Worker{
		ID:         id,
		Config:     config,
		Queue:      queue,
		Handler:    handler,
		logger:     logger.With(logging.F("worker_id", id)),
		metrics:    metrics,
		ctx:        ctx,
		cancelFunc: cancel,
	}
	w.status.Store(WorkerStatusStarting)
	return w
}

// Status returns the worker's current status.
func (w *Worker) Status() WorkerStatus {
	return w.status.Load().(WorkerStatus)
}

// LastActivity returns when the worker last picked up a message.
func (w *Worker) LastActivity() time.Time {
	ns := w.lastActivity.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Start begins processing messages.
func (w *Worker) Start() {
	w.status.Store(WorkerStatusHealthy)
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		w.processLoop()
	}()
}

// Stop cancels the worker and waits for the current message, bounded by
// the shutdown timeout.
func (w *Worker) Stop() {
	w.status.Store(WorkerStatusDraining)
	w.cancelFunc()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.Config.ShutdownTimeout):
		w.logger.Warn("Worker did not stop before shutdown timeout")
	}
	w.status.Store(WorkerStatusStopped)
}

func (w *Worker) processLoop() {
	for {
		if w.ctx.Err() != nil {
			return
		}

		messages, err := w.Queue.Dequeue(w.Config.BatchSize, w.Config.PollInterval)
		if err != nil {
			if errors.Is(err, queues.ErrQueueClosed) || w.ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to dequeue", logging.Err(err))
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(w.Config.PollInterval):
			}
			continue
		}

		for _, qm := range messages {
			w.processMessage(qm)
		}
	}
}

func (w *Worker) processMessage(qm *queues.QueuedMessage) {
	w.lastActivity.Store(time.Now().UnixNano())
	queueName := w.Queue.Name()
	w.metrics.RecordQueueWait(queueName, time.Since(qm.EnqueuedAt).Seconds())

	msg, err := qm.ParseMessage()
	if err != nil {
		w.logger.Error("Dropping unreadable message",
			logging.F("message_id", qm.ID), logging.Err(err))
		if dlqErr := w.Queue.MoveToDeadLetter(qm.ID, fmt.Sprintf("parse error: %v", err)); dlqErr != nil {
			w.logger.Error("Failed to dead-letter message", logging.F("message_id", qm.ID), logging.Err(dlqErr))
		}
		w.metrics.RecordDLQItem(queueName, queues.ErrorCodeParseError)
		w.FailedCount.Add(1)
		return
	}

	// Detached from the worker context: Stop lets the current file finish.
	ctx := logging.ContextWithDeliveryID(context.Background(), msg.GetDeliveryID())
	ctx, cancel := context.WithTimeout(ctx, w.Config.HandlerTimeout)
	defer cancel()

	log := w.logger.WithContext(ctx).With(logging.FileID(msg.GetFileID()), logging.F("message_id", qm.ID))

	if err := w.Handler(ctx, msg); err != nil {
		w.FailedCount.Add(1)
		w.settleFailure(qm, err, log)
		return
	}

	if err := w.Queue.Ack(qm.ID); err != nil {
		log.Warn("Failed to ack message", logging.Err(err))
	}
	w.ProcessedCount.Add(1)
}

func (w *Worker) settleFailure(qm *queues.QueuedMessage, err error, log logging.Logger) {
	var procErr *queues.ProcessingError
	if errors.As(err, &procErr) && !procErr.IsRetryable() {
		log.Error("Message failed permanently", logging.F("code", procErr.Code), logging.Err(err))
		if dlqErr := w.Queue.MoveToDeadLetter(qm.ID, procErr.Error()); dlqErr != nil {
			log.Error("Failed to dead-letter message", logging.Err(dlqErr))
		}
		w.metrics.RecordDLQItem(w.Queue.Name(), procErr.Code)
		return
	}

	log.Warn("Message failed, will retry", logging.F("retry_count", qm.RetryCount), logging.Err(err))
	if nackErr := w.Queue.Nack(qm.ID); nackErr != nil {
		log.Error("Failed to nack message", logging.Err(nackErr))
	}
}

// Pool runs a fixed number of workers against one queue.
type Pool struct {
	Config  Config
	Queue   queues.Queue
	Handler MessageHandler

	logger  logging.Logger
	metrics *observability.BridgeMetrics

	mu      sync.RWMutex
	workers []*Worker
	cancel  context.CancelFunc
	bg      sync.WaitGroup
}

// NewPool creates a new worker pool. metrics may be nil.
func NewPool(config Config, queue queues.Queue, handler MessageHandler, logger logging.Logger, metrics *observability.BridgeMetrics) *Pool {
	if config.Count <= 0 {
		config.Count = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 1
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Pool{
		Config:  config,
		Queue:   queue,
		Handler: handler,
		logger:  logger.With(logging.F("queue", queue.Name())),
		metrics: metrics,
	}
}

// Start starts all workers in the pool, plus the stale message recovery
// loop when the queue supports it.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.Config.Count; i++ {
		worker := NewWorker(ctx, p.Config, p.Queue, p.Handler, p.logger, p.metrics)
		worker.Start()
		p.workers = append(p.workers, worker)
	}

	p.bg.Add(1)
	go func() {
		defer p.bg.Done()
		p.maintain(ctx)
	}()

	p.logger.Info("Worker pool started", logging.F("workers", p.Config.Count))
}

func (p *Pool) maintain(ctx context.Context) {
	interval := p.Config.RecoverInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	recoverer, canRecover := p.Queue.(StaleRecoverer)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if depth, err := p.Queue.Depth(); err == nil {
				p.metrics.RecordQueueDepth(p.Queue.Name(), float64(depth))
			}
			if !canRecover {
				continue
			}
			n, err := recoverer.RecoverStaleMessages()
			if err != nil {
				p.logger.Error("Failed to recover stale messages", logging.Err(err))
				continue
			}
			if n > 0 {
				p.logger.Warn("Recovered stale messages", logging.F("count", n))
			}
		}
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	var wg sync.WaitGroup
	for _, worker := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			w.Stop()
		}(worker)
	}
	wg.Wait()
	p.bg.Wait()
	p.logger.Info("Worker pool stopped")
}

// PoolStats contains pool statistics.
type PoolStats struct {
	Queue       string `json:"queue"`
	WorkerCount int    `json:"worker_count"`
	ActiveCount int    `json:"active_count"`
	Processed   int64  `json:"processed"`
	Failed      int64  `json:"failed"`
}

// Stats returns pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := PoolStats{
		Queue:       p.Queue.Name(),
		WorkerCount: len(p.workers),
	}
	for _, w := range p.workers {
		if w.Status() == WorkerStatusHealthy {
			stats.ActiveCount++
		}
		stats.Processed += w.ProcessedCount.Load()
		stats.Failed += w.FailedCount.Load()
	}
	return stats
}
