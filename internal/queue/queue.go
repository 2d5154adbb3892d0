package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/redis"
	"github.com/pkg/errors"
)

var (
	ErrNameRequired    = errors.New("queue name is required")
	ErrHandlerRequired = errors.New("message handler is required")
	ErrStopTimeout     = errors.New("timeout waiting for queue to stop")
)

const (
	fieldData        = "data"
	fieldPublishedAt = "published_at"
	metaPrefix       = "meta_"
	dlqSuffix        = ":dlq"
)

// Message is one outbox entry. Attempts counts deliveries including the
// current one.
type Message struct {
	ID          string
	Data        []byte
	Metadata    map[string]string
	PublishedAt time.Time
	Attempts    int64
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// MessageHandler returning nil acks the entry. An error leaves it pending
// until the visibility timeout passes and another poll reclaims it.
type MessageHandler func(ctx context.Context, msg *Message) error

type QueueConfig struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Queue is a Redis Streams backed outbox with one consumer group. Entries
// that fail MaxRetries deliveries are copied to "<name>:dlq" and acked.
type Queue struct {
	adapter redis.RedisAdapter
	config  QueueConfig
	handler MessageHandler
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type QueueStats struct {
	TotalMessages      int64
	PendingMessages    int64
	ConsumerCount      int64
	DeadLetterMessages int64
}

func NewQueue(ctx context.Context, adapter redis.RedisAdapter, config QueueConfig) (*Queue, error) {
	if config.Name == "" {
		return nil, ErrNameRequired
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}

	q := &Queue{adapter: adapter, config: config}
	if err := adapter.XGroupCreateMkStream(ctx, config.Name, config.ConsumerGroup, "0"); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return nil, errors.Wrapf(err, "create consumer group %s", config.ConsumerGroup)
		}
	}
	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

// Publish appends data to the stream and trims it to MaxLen.
func (q *Queue) Publish(ctx context.Context, data []byte, metadata map[string]string) (string, error) {
	values := map[string]interface{}{
		fieldData:        string(data),
		fieldPublishedAt: time.Now().UnixMilli(),
	}
	for k, v := range metadata {
		values[metaPrefix+k] = v
	}

	id, err := q.adapter.XAdd(ctx, q.config.Name, values)
	if err != nil {
		return "", errors.Wrap(err, "publish to outbox")
	}
	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(ctx, q.config.Name, q.config.MaxLen); err != nil {
			logger.Warn("outbox trim failed", "queue", q.config.Name, "error", err)
		}
	}
	return id, nil
}

func (q *Queue) PublishJSON(ctx context.Context, v any, metadata map[string]string) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", errors.Wrap(err, "encode outbox message")
	}
	return q.Publish(ctx, data, metadata)
}

// Consume polls the stream in the background until ctx is cancelled or Stop
// is called.
func (q *Queue) Consume(ctx context.Context, handler MessageHandler) error {
	if handler == nil {
		return ErrHandlerRequired
	}
	q.handler = handler

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.consumeLoop(loopCtx)
	return nil
}

func (q *Queue) consumeLoop(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.readNew(ctx)
			q.reclaimStuck(ctx)
		}
	}
}

func (q *Queue) readNew(ctx context.Context) {
	entries, err := q.adapter.XReadGroup(ctx, q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", q.config.BatchSize)
	if err != nil {
		if !errors.Is(err, redis.NilError) && ctx.Err() == nil {
			logger.Warn("outbox read failed", "queue", q.config.Name, "error", err)
		}
		return
	}
	for _, entry := range entries {
		msg := toMessage(entry)
		msg.Attempts = 1
		q.handle(ctx, msg)
	}
}

// reclaimStuck takes over entries idle past the visibility timeout. Entries
// that already used their deliveries go to the dead letter stream.
func (q *Queue) reclaimStuck(ctx context.Context) {
	pending, err := q.adapter.XPendingExt(ctx, q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pending) == 0 {
		return
	}

	var reclaim []string
	deliveries := make(map[string]int64, len(pending))
	for _, p := range pending {
		if p.Idle < q.config.VisibilityTimeout {
			continue
		}
		deliveries[p.ID] = p.RetryCount
		reclaim = append(reclaim, p.ID)
	}
	if len(reclaim) == 0 {
		return
	}

	entries, err := q.adapter.XClaim(ctx, q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, reclaim...)
	if err != nil {
		logger.Warn("outbox reclaim failed", "queue", q.config.Name, "error", err)
		return
	}
	for _, entry := range entries {
		msg := toMessage(entry)
		if deliveries[msg.ID] >= int64(q.config.MaxRetries) {
			msg.Attempts = deliveries[msg.ID]
			q.deadLetter(ctx, msg)
			continue
		}
		msg.Attempts = deliveries[msg.ID] + 1
		q.handle(ctx, msg)
	}
}

func (q *Queue) handle(ctx context.Context, msg *Message) {
	hctx, cancel := context.WithTimeout(ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(hctx, msg); err != nil {
		logger.Warn("outbox handler failed, entry stays pending",
			"queue", q.config.Name, "id", msg.ID, "attempts", msg.Attempts, "error", err)
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *Queue) ack(ctx context.Context, id string) {
	if err := q.adapter.XAck(ctx, q.config.Name, q.config.ConsumerGroup, id); err != nil {
		logger.Warn("outbox ack failed", "queue", q.config.Name, "id", id, "error", err)
	}
}

func (q *Queue) deadLetter(ctx context.Context, msg *Message) {
	if q.config.EnableDLQ {
		values := map[string]interface{}{
			fieldData:        string(msg.Data),
			fieldPublishedAt: msg.PublishedAt.UnixMilli(),
			"original_id":    msg.ID,
			"attempts":       msg.Attempts,
			"failed_at":      time.Now().UnixMilli(),
		}
		for k, v := range msg.Metadata {
			values[metaPrefix+k] = v
		}
		if _, err := q.adapter.XAdd(ctx, q.config.Name+dlqSuffix, values); err != nil {
			logger.Error("outbox dead letter write failed", "queue", q.config.Name, "id", msg.ID, "error", err)
			return
		}
	}
	logger.Warn("outbox entry gave up", "queue", q.config.Name, "id", msg.ID, "attempts", msg.Attempts, "dlq", q.config.EnableDLQ)
	q.ack(ctx, msg.ID)
}

func toMessage(entry redis.StreamMessage) *Message {
	msg := &Message{ID: entry.ID, Metadata: make(map[string]string)}
	for k, v := range entry.Values {
		s, ok := v.(string)
		if !ok {
			continue
		}
		switch {
		case k == fieldData:
			msg.Data = []byte(s)
		case k == fieldPublishedAt:
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.PublishedAt = time.UnixMilli(ms)
			}
		case strings.HasPrefix(k, metaPrefix):
			msg.Metadata[strings.TrimPrefix(k, metaPrefix)] = s
		}
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}
	return msg
}

func (q *Queue) Stop(timeout time.Duration) error {
	if q.cancel != nil {
		q.cancel()
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrStopTimeout
	}
}

func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	total, err := q.adapter.XLen(ctx, q.config.Name)
	if err != nil {
		return nil, err
	}
	stats := &QueueStats{TotalMessages: total}

	if pending, err := q.adapter.XPending(ctx, q.config.Name, q.config.ConsumerGroup); err == nil && pending != nil {
		stats.PendingMessages = pending.Count
		stats.ConsumerCount = int64(len(pending.Consumers))
	}
	if q.config.EnableDLQ {
		if n, err := q.adapter.XLen(ctx, q.config.Name+dlqSuffix); err == nil {
			stats.DeadLetterMessages = n
		}
	}
	return stats, nil
}
