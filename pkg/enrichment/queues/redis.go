package queues

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue using Redis sorted sets. Messages survive
// restarts and are delivered at least once.
type RedisQueue struct {
	client     redis.UniversalClient
	name       string
	config     QueueConfig
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// NewRedisQueue creates a new Redis-backed queue.
func NewRedisQueue(client redis.UniversalClient, config QueueConfig) *RedisQueue {
	if config.Name == "" {
		config.Name = DefaultQueueName
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		client:     client,
		name:       config.Name,
		config:     config,
		ctx:        ctx,
		cancelFunc: cancel,
	}
}

// Redis key prefixes
const (
	keyPrefixQueue      = "queue:"      // Ready messages, scored by visibility time (ms)
	keyPrefixProcessing = "processing:" // In-flight messages, scored by visibility deadline (ms)
	keyPrefixMessage    = "msg:"        // Message data
	keyPrefixDLQ        = "dlq:"        // Dead letter queue
)

const pollInterval = 100 * time.Millisecond

func (q *RedisQueue) queueKey() string      { return keyPrefixQueue + q.name }
func (q *RedisQueue) processingKey() string { return keyPrefixProcessing + q.name }
func (q *RedisQueue) dlqKey() string        { return keyPrefixDLQ + q.name }
func (q *RedisQueue) msgKey(id string) string {
	return keyPrefixMessage + q.name + ":" + id
}

func msScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

// Name returns the queue name.
func (q *RedisQueue) Name() string {
	return q.name
}

// Enqueue adds a message to the queue.
func (q *RedisQueue) Enqueue(msg Message) error {
	return q.EnqueueBatch([]Message{msg})
}

// EnqueueBatch adds multiple messages to the queue in one transaction.
func (q *RedisQueue) EnqueueBatch(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if q.ctx.Err() != nil {
		return ErrQueueClosed
	}

	now := time.Now()
	pipe := q.client.TxPipeline()
	for _, msg := range msgs {
		qm, err := newQueuedMessage(uuid.New().String(), msg, now)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		data, err := json.Marshal(qm)
		if err != nil {
			return fmt.Errorf("failed to marshal queued message: %w", err)
		}
		pipe.Set(q.ctx, q.msgKey(qm.ID), data, q.config.RetentionPeriod)
		pipe.ZAdd(q.ctx, q.queueKey(), redis.Z{Score: msScore(now), Member: qm.ID})
	}

	if _, err := pipe.Exec(q.ctx); err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	return nil
}

// Dequeue claims up to maxMessages visible messages, waiting at most timeout.
func (q *RedisQueue) Dequeue(maxMessages int, timeout time.Duration) ([]*QueuedMessage, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}
	deadline := time.Now().Add(timeout)

	var messages []*QueuedMessage
	for len(messages) < maxMessages {
		qm, err := q.claimOne()
		if err != nil {
			return messages, err
		}
		if qm != nil {
			messages = append(messages, qm)
			continue
		}
		if len(messages) > 0 || !time.Now().Before(deadline) {
			break
		}

		select {
		case <-time.After(pollInterval):
		case <-q.ctx.Done():
			return messages, q.ctx.Err()
		}
	}
	return messages, nil
}

// claimOne moves the oldest visible message to the processing set. Claiming
// is decided by ZREM so concurrent workers never receive the same message.
func (q *RedisQueue) claimOne() (*QueuedMessage, error) {
	now := time.Now()
	for {
		ids, err := q.client.ZRangeByScore(q.ctx, q.queueKey(), &redis.ZRangeBy{
			Min:   "-inf",
			Max:   strconv.FormatFloat(msScore(now), 'f', 0, 64),
			Count: 1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read queue: %w", err)
		}
		if len(ids) == 0 {
			return nil, nil
		}
		id := ids[0]

		removed, err := q.client.ZRem(q.ctx, q.queueKey(), id).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to claim message: %w", err)
		}
		if removed == 0 {
			// Another worker won the race.
			continue
		}

		data, err := q.client.Get(q.ctx, q.msgKey(id)).Bytes()
		if errors.Is(err, redis.Nil) {
			// Expired past retention.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get message data: %w", err)
		}

		var qm QueuedMessage
		if err := json.Unmarshal(data, &qm); err != nil {
			_ = q.deadLetterRaw(id, data, "unreadable queue entry")
			continue
		}

		qm.VisibleAfter = now.Add(q.config.VisibilityTimeout)
		updated, _ := json.Marshal(qm)
		pipe := q.client.TxPipeline()
		pipe.Set(q.ctx, q.msgKey(id), updated, q.config.RetentionPeriod)
		pipe.ZAdd(q.ctx, q.processingKey(), redis.Z{Score: msScore(qm.VisibleAfter), Member: id})
		if _, err := pipe.Exec(q.ctx); err != nil {
			return nil, fmt.Errorf("failed to move to processing: %w", err)
		}
		return &qm, nil
	}
}

// Ack acknowledges successful processing of a message.
func (q *RedisQueue) Ack(messageID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(q.ctx, q.processingKey(), messageID)
	pipe.Del(q.ctx, q.msgKey(messageID))
	if _, err := pipe.Exec(q.ctx); err != nil {
		return fmt.Errorf("failed to ack message: %w", err)
	}
	return nil
}

// Nack schedules a retry with exponential backoff, or dead-letters the
// message once the retry policy is exhausted.
func (q *RedisQueue) Nack(messageID string) error {
	qm, err := q.load(messageID)
	if err != nil {
		return err
	}
	return q.requeue(qm, "max retries exceeded")
}

func (q *RedisQueue) requeue(qm *QueuedMessage, exhaustedReason string) error {
	qm.RetryCount++
	if q.config.Retry.Exhausted(qm.RetryCount) {
		return q.MoveToDeadLetter(qm.ID, exhaustedReason)
	}

	qm.VisibleAfter = time.Now().Add(q.config.Retry.CalculateBackoff(qm.RetryCount - 1))
	updated, _ := json.Marshal(qm)

	pipe := q.client.TxPipeline()
	pipe.ZRem(q.ctx, q.processingKey(), qm.ID)
	pipe.Set(q.ctx, q.msgKey(qm.ID), updated, q.config.RetentionPeriod)
	pipe.ZAdd(q.ctx, q.queueKey(), redis.Z{Score: msScore(qm.VisibleAfter), Member: qm.ID})
	if _, err := pipe.Exec(q.ctx); err != nil {
		return fmt.Errorf("failed to requeue message: %w", err)
	}
	return nil
}

func (q *RedisQueue) load(messageID string) (*QueuedMessage, error) {
	data, err := q.client.Get(q.ctx, q.msgKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	var qm QueuedMessage
	if err := json.Unmarshal(data, &qm); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &qm, nil
}

// DeadLetter is an entry of the dead letter queue.
type DeadLetter struct {
	Message   string    `json:"message"`
	Reason    string    `json:"reason"`
	MovedAt   time.Time `json:"moved_at"`
	QueueName string    `json:"queue_name"`
}

// MoveToDeadLetter moves a message to the dead letter queue.
func (q *RedisQueue) MoveToDeadLetter(messageID string, reason string) error {
	data, err := q.client.Get(q.ctx, q.msgKey(messageID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMessageNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get message: %w", err)
	}
	return q.deadLetterRaw(messageID, data, reason)
}

func (q *RedisQueue) deadLetterRaw(messageID string, data []byte, reason string) error {
	now := time.Now()
	entry, _ := json.Marshal(DeadLetter{
		Message:   string(data),
		Reason:    reason,
		MovedAt:   now.UTC(),
		QueueName: q.name,
	})

	pipe := q.client.TxPipeline()
	pipe.ZRem(q.ctx, q.processingKey(), messageID)
	pipe.ZRem(q.ctx, q.queueKey(), messageID)
	pipe.Del(q.ctx, q.msgKey(messageID))
	pipe.ZAdd(q.ctx, q.dlqKey(), redis.Z{Score: msScore(now), Member: string(entry)})
	if _, err := pipe.Exec(q.ctx); err != nil {
		return fmt.Errorf("failed to move to DLQ: %w", err)
	}
	return nil
}

// DeadLetters returns the most recent dead-lettered entries, newest first.
func (q *RedisQueue) DeadLetters(limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 20
	}
	raw, err := q.client.ZRevRange(q.ctx, q.dlqKey(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read DLQ: %w", err)
	}

	out := make([]DeadLetter, 0, len(raw))
	for _, r := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(r), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Depth returns the number of messages waiting, including delayed retries.
func (q *RedisQueue) Depth() (int64, error) {
	return q.client.ZCard(q.ctx, q.queueKey()).Result()
}

// Stats returns queue counters.
func (q *RedisQueue) Stats() (Stats, error) {
	pipe := q.client.Pipeline()
	pending := pipe.ZCard(q.ctx, q.queueKey())
	processing := pipe.ZCard(q.ctx, q.processingKey())
	dead := pipe.ZCard(q.ctx, q.dlqKey())
	if _, err := pipe.Exec(q.ctx); err != nil {
		return Stats{}, fmt.Errorf("failed to read queue stats: %w", err)
	}
	return Stats{
		Name:       q.name,
		Backend:    "redis",
		Pending:    pending.Val(),
		Processing: processing.Val(),
		DeadLetter: dead.Val(),
	}, nil
}

// Close stops blocking dequeues. The Redis client is owned by the caller.
func (q *RedisQueue) Close() error {
	q.cancelFunc()
	return nil
}

// RecoverStaleMessages returns in-flight messages whose visibility timeout
// expired (a worker crashed or hung) to the queue. It reports how many
// messages were recovered. Should be called periodically.
func (q *RedisQueue) RecoverStaleMessages() (int, error) {
	stale, err := q.client.ZRangeByScore(q.ctx, q.processingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(msScore(time.Now()), 'f', 0, 64),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to find stale messages: %w", err)
	}

	recovered := 0
	for _, id := range stale {
		qm, err := q.load(id)
		if errors.Is(err, ErrMessageNotFound) {
			q.client.ZRem(q.ctx, q.processingKey(), id)
			continue
		}
		if err != nil {
			continue
		}
		if err := q.requeue(qm, "visibility timeout exceeded"); err != nil {
			return recovered, err
		}
		recovered++
	}
	return recovered, nil
}

// Verify interface compliance
var _ Queue = (*RedisQueue)(nil)
