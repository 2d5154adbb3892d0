package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/queue"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/redis"
	"github.com/nimasrn/voucher-gateway/pkg/worker"
	"github.com/pkg/errors"
)

const ShutdownTimeout = time.Minute

// Processor handles one outbox message. A nil return acks it.
type Processor interface {
	Process(ctx context.Context, message *queue.Message) error
	GetType() string
}

type ServiceConfig struct {
	Queue             queue.QueueConfig
	Consumers         int
	Workers           int
	ProcessingTimeout time.Duration
	MetricsInterval   time.Duration
	HealthInterval    time.Duration
	LagWarnThreshold  int64
}

// ProcessorService runs outbox consumers that hand messages to a worker pool
// and wait for the result before acking.
type ProcessorService struct {
	adapter   redis.RedisAdapter
	config    ServiceConfig
	processor Processor
	queues    []*queue.Queue
	metrics   *ServiceMetrics
	worker    *worker.WorkerManager
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewProcessorService(adapter redis.RedisAdapter, processor Processor, config ServiceConfig) *ProcessorService {
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.ProcessingTimeout <= 0 {
		config.ProcessingTimeout = 30 * time.Second
	}
	if config.MetricsInterval <= 0 {
		config.MetricsInterval = 30 * time.Second
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = 30 * time.Second
	}
	if config.LagWarnThreshold <= 0 {
		config.LagWarnThreshold = 1000
	}

	return &ProcessorService{
		adapter:   adapter,
		config:    config,
		processor: processor,
		metrics:   NewServiceMetrics(),
		worker:    worker.NewWorkerManager(config.Workers*4, config.Workers, nil),
	}
}

func (s *ProcessorService) Metrics() *ServiceMetrics {
	return s.metrics
}

func (s *ProcessorService) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	logger.Info("starting outbox processor", "type", s.processor.GetType(), "queue", s.config.Queue.Name)

	s.worker.SetWorker(s.workerHandler)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.worker.Start(); err != nil && !errors.Is(err, worker.ErrWorkersTerminated) {
			logger.Error("worker manager stopped", "error", err)
		}
	}()

	for i := 0; i < s.config.Consumers; i++ {
		qc := s.config.Queue
		if qc.ConsumerName == "" {
			qc.ConsumerName = "consumer"
		}
		qc.ConsumerName = fmt.Sprintf("%s-%d", qc.ConsumerName, i)

		q, err := queue.NewQueue(s.ctx, s.adapter, qc)
		if err != nil {
			return errors.Wrapf(err, "create outbox consumer %d", i)
		}
		if err := q.Consume(s.ctx, s.messageHandler); err != nil {
			return errors.Wrapf(err, "start outbox consumer %d", i)
		}
		s.queues = append(s.queues, q)
	}

	s.wg.Add(2)
	go s.every(s.config.MetricsInterval, s.reportMetrics)
	go s.every(s.config.HealthInterval, s.performHealthCheck)

	logger.Info("outbox processor started", "consumers", len(s.queues), "workers", s.config.Workers)
	return nil
}

func (s *ProcessorService) every(interval time.Duration, fn func()) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *ProcessorService) reportMetrics() {
	stats := s.metrics.GetStats()
	logger.Info("outbox metrics", "total_processed", stats["total_processed"], "total_failed", stats["total_failed"],
		"rate_per_second", stats["rate_per_second"], "avg_duration_ms", stats["avg_duration_ms"], "uptime_seconds", stats["uptime_seconds"])

	if len(s.queues) > 0 {
		if qs, err := s.queues[0].GetStats(context.WithoutCancel(s.ctx)); err == nil {
			logger.Info("outbox stats", "total", qs.TotalMessages, "pending", qs.PendingMessages, "dead_letters", qs.DeadLetterMessages)
		}
	}
}

func (s *ProcessorService) performHealthCheck() {
	if err := s.adapter.Ping(s.ctx); err != nil {
		logger.Error("health check failed: redis unreachable", "error", err)
		return
	}
	if len(s.queues) == 0 {
		return
	}
	stats, err := s.queues[0].GetStats(s.ctx)
	if err != nil {
		logger.Warn("health check: outbox stats unavailable", "error", err)
		return
	}
	if stats.PendingMessages > s.config.LagWarnThreshold {
		logger.Warn("health check: outbox lag is high", "pending_messages", stats.PendingMessages)
	}
}

func (s *ProcessorService) Stop() {
	logger.Info("shutting down outbox processor")
	if s.cancel != nil {
		s.cancel()
	}

	var stopWg sync.WaitGroup
	for i, q := range s.queues {
		stopWg.Add(1)
		go func(index int, q *queue.Queue) {
			defer stopWg.Done()
			if err := q.Stop(ShutdownTimeout); err != nil {
				logger.Error("error stopping outbox consumer", "consumer", index, "error", err)
			}
		}(i, q)
	}
	stopWg.Wait()

	s.worker.Exit()
	s.wg.Wait()
	s.reportMetrics()
	logger.Info("outbox processor stopped")
}

type jobResult struct {
	msg        *queue.Message
	resultChan chan error
	ctx        context.Context
}

// messageHandler blocks the consumer until a worker has processed msg, so
// the ack reflects the real outcome.
func (s *ProcessorService) messageHandler(ctx context.Context, msg *queue.Message) error {
	msgCtx, cancel := context.WithTimeout(ctx, s.config.ProcessingTimeout)
	defer cancel()

	job := &jobResult{msg: msg, resultChan: make(chan error, 1), ctx: msgCtx}
	if err := s.worker.EnqueueContext(msgCtx, job); err != nil {
		return errors.Wrap(err, "worker pool busy")
	}

	select {
	case err := <-job.resultChan:
		return err
	case <-msgCtx.Done():
		return errors.Wrap(msgCtx.Err(), "timeout waiting for worker")
	}
}

func (s *ProcessorService) workerHandler(workerIndex int, job interface{}) {
	jobRes, ok := job.(*jobResult)
	if !ok {
		logger.Error("invalid job type in worker", "worker", workerIndex)
		return
	}

	select {
	case <-jobRes.ctx.Done():
		logger.Warn("job expired before processing started", "worker", workerIndex, "id", jobRes.msg.ID)
		return
	default:
	}

	start := time.Now()
	err := s.processor.Process(jobRes.ctx, jobRes.msg)
	if err != nil {
		s.metrics.RecordFailure()
		logger.Warn("failed to process outbox message", "worker", workerIndex, "id", jobRes.msg.ID, "attempts", jobRes.msg.Attempts, "error", err)
	} else {
		s.metrics.RecordSuccess(time.Since(start))
	}

	// resultChan is buffered; the waiting handler may already have timed out
	jobRes.resultChan <- err
}
