package queues

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is an in-process Queue. Messages are lost when the process
// exits, so delivery is at most once across restarts.
type MemoryQueue struct {
	name   string
	config QueueConfig

	mu         sync.Mutex
	ready      []*QueuedMessage
	processing map[string]*QueuedMessage
	dead       []DeadLetter
	notify     chan struct{}
	closed     chan struct{}
	closeOnce  sync.Once
	now        func() time.Time
}

// NewMemoryQueue creates an empty in-process queue.
func NewMemoryQueue(config QueueConfig) *MemoryQueue {
	if config.Name == "" {
		config.Name = DefaultQueueName
	}
	return &MemoryQueue{
		name:       config.Name,
		config:     config,
		processing: make(map[string]*QueuedMessage),
		notify:     make(chan struct{}, 1),
		closed:     make(chan struct{}),
		now:        time.Now,
	}
}

// Name returns the queue name.
func (q *MemoryQueue) Name() string {
	return q.name
}

// Enqueue adds a message to the queue.
func (q *MemoryQueue) Enqueue(msg Message) error {
	return q.EnqueueBatch([]Message{msg})
}

// EnqueueBatch adds multiple messages to the queue.
func (q *MemoryQueue) EnqueueBatch(msgs []Message) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	now := q.now()
	wrapped := make([]*QueuedMessage, 0, len(msgs))
	for _, msg := range msgs {
		qm, err := newQueuedMessage(uuid.New().String(), msg, now)
		if err != nil {
			return err
		}
		qm.VisibleAfter = now
		wrapped = append(wrapped, qm)
	}

	q.mu.Lock()
	q.ready = append(q.ready, wrapped...)
	q.mu.Unlock()
	q.signal()
	return nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Dequeue returns up to maxMessages visible messages, waiting at most timeout.
func (q *MemoryQueue) Dequeue(maxMessages int, timeout time.Duration) ([]*QueuedMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if msgs := q.take(maxMessages); len(msgs) > 0 {
			return msgs, nil
		}

		select {
		case <-q.closed:
			return nil, ErrQueueClosed
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		case <-time.After(pollInterval):
			// Delayed retries become visible without a signal.
		}
	}
}

func (q *MemoryQueue) take(maxMessages int) []*QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	var out []*QueuedMessage
	remaining := q.ready[:0]
	for _, qm := range q.ready {
		if len(out) < maxMessages && !qm.VisibleAfter.After(now) {
			qm.VisibleAfter = now.Add(q.config.VisibilityTimeout)
			q.processing[qm.ID] = qm
			out = append(out, qm)
			continue
		}
		remaining = append(remaining, qm)
	}
	q.ready = remaining
	return out
}

// Ack acknowledges successful processing of a message.
func (q *MemoryQueue) Ack(messageID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processing[messageID]; !ok {
		return ErrMessageNotFound
	}
	delete(q.processing, messageID)
	return nil
}

// Nack schedules a retry with backoff or dead-letters the message.
func (q *MemoryQueue) Nack(messageID string) error {
	q.mu.Lock()
	qm, ok := q.processing[messageID]
	if !ok {
		q.mu.Unlock()
		return ErrMessageNotFound
	}
	delete(q.processing, messageID)

	qm.RetryCount++
	if q.config.Retry.Exhausted(qm.RetryCount) {
		q.dead = append(q.dead, q.deadLetter(qm, "max retries exceeded"))
		q.mu.Unlock()
		return nil
	}
	qm.VisibleAfter = q.now().Add(q.config.Retry.CalculateBackoff(qm.RetryCount - 1))
	q.ready = append(q.ready, qm)
	sort.SliceStable(q.ready, func(i, j int) bool {
		return q.ready[i].VisibleAfter.Before(q.ready[j].VisibleAfter)
	})
	q.mu.Unlock()
	q.signal()
	return nil
}

// MoveToDeadLetter moves an in-flight message to the dead letter list.
func (q *MemoryQueue) MoveToDeadLetter(messageID string, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	qm, ok := q.processing[messageID]
	if !ok {
		return ErrMessageNotFound
	}
	delete(q.processing, messageID)
	q.dead = append(q.dead, q.deadLetter(qm, reason))
	return nil
}

func (q *MemoryQueue) deadLetter(qm *QueuedMessage, reason string) DeadLetter {
	return DeadLetter{
		Message:   string(qm.Message),
		Reason:    reason,
		MovedAt:   q.now().UTC(),
		QueueName: q.name,
	}
}

// DeadLetters returns dead-lettered entries, newest first.
func (q *MemoryQueue) DeadLetters(limit int64) ([]DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, 0, len(q.dead))
	for i := len(q.dead) - 1; i >= 0; i-- {
		if limit > 0 && int64(len(out)) >= limit {
			break
		}
		out = append(out, q.dead[i])
	}
	return out, nil
}

// Depth returns the number of messages waiting, including delayed retries.
func (q *MemoryQueue) Depth() (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.ready)), nil
}

// Stats returns queue counters.
func (q *MemoryQueue) Stats() (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Name:       q.name,
		Backend:    "memory",
		Pending:    int64(len(q.ready)),
		Processing: int64(len(q.processing)),
		DeadLetter: int64(len(q.dead)),
	}, nil
}

// Close wakes blocked dequeues and rejects further enqueues.
func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.closed) })
	return nil
}

// Verify interface compliance
var _ Queue = (*MemoryQueue)(nil)
