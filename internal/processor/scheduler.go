package processor

import (
	"context"
	"sync"
	"time"

	"github.com/nimasrn/voucher-gateway/internal/model"
	"github.com/nimasrn/voucher-gateway/internal/services"
	"github.com/nimasrn/voucher-gateway/pkg/logger"
	"github.com/nimasrn/voucher-gateway/pkg/prom"
	"github.com/nimasrn/voucher-gateway/pkg/worker"
	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

type PendingSource interface {
	ListPending(ctx context.Context, limit int) ([]model.PendingRef, error)
	CountPendingByProvider(ctx context.Context) (map[model.Provider]int64, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, id string) (*services.ReconcileResult, error)
}

type Leaser interface {
	Acquire(ctx context.Context, id string) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

type SchedulerConfig struct {
	Interval            time.Duration
	AttemptTimeout      time.Duration
	BatchLimit          int
	ProviderConcurrency int64
	Workers             int
}

// TickStats summarizes one scheduling pass.
type TickStats struct {
	Pending    int
	Dispatched int
	Skipped    int
}

type reconcileJob struct {
	ctx   context.Context
	ref   model.PendingRef
	lease *Lease
	slot  *semaphore.Weighted
}

// ReconcileScheduler periodically re-derives the Pending set from the store
// and runs one reconciliation attempt per transaction, never two at once for
// the same id and never more than ProviderConcurrency per provider.
//
// A provider slot is taken before the lease, so a leased job never waits for
// capacity and the lease only has to outlive AttemptTimeout.
type ReconcileScheduler struct {
	pending    PendingSource
	reconciler Reconciler
	leases     Leaser
	config     SchedulerConfig
	pool       *worker.WorkerManager
	metrics    *ServiceMetrics

	semMu sync.Mutex
	sems  map[model.Provider]*semaphore.Weighted
}

func NewReconcileScheduler(pending PendingSource, reconciler Reconciler, leases Leaser, config SchedulerConfig) *ReconcileScheduler {
	if config.Interval <= 0 {
		config.Interval = time.Minute
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = 30 * time.Second
	}
	if config.BatchLimit <= 0 {
		config.BatchLimit = 500
	}
	if config.ProviderConcurrency <= 0 {
		config.ProviderConcurrency = 5
	}
	if config.Workers <= 0 {
		config.Workers = 16
	}
	// every slot holder must find a free worker
	if slots := int(config.ProviderConcurrency) * len(model.Providers); config.Workers < slots {
		config.Workers = slots
	}

	s := &ReconcileScheduler{
		pending:    pending,
		reconciler: reconciler,
		leases:     leases,
		config:     config,
		pool:       worker.NewWorkerManager(config.BatchLimit, config.Workers, nil),
		metrics:    NewServiceMetrics(),
		sems:       make(map[model.Provider]*semaphore.Weighted),
	}
	s.pool.SetWorker(s.work)
	return s
}

func (s *ReconcileScheduler) Metrics() *ServiceMetrics {
	return s.metrics
}

// Run ticks once immediately and then every Interval until ctx is done.
func (s *ReconcileScheduler) Run(ctx context.Context) error {
	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		_ = s.pool.Start()
	}()

	logger.Info("reconcile scheduler started", "interval", s.config.Interval, "workers", s.config.Workers,
		"provider_concurrency", s.config.ProviderConcurrency)

	s.Tick(ctx)
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.pool.Exit()
			<-poolDone
			logger.Info("reconcile scheduler stopped")
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick dispatches every Pending transaction that has no attempt in flight.
func (s *ReconcileScheduler) Tick(ctx context.Context) TickStats {
	var stats TickStats

	refs, err := s.pending.ListPending(ctx, s.config.BatchLimit)
	if err != nil {
		logger.Error("failed to list pending transactions", "error", err)
		return stats
	}
	stats.Pending = len(refs)
	s.reportPending(ctx)

	for _, ref := range refs {
		slot := s.providerSlots(ref.Provider)
		if !slot.TryAcquire(1) {
			stats.Skipped++
			s.metrics.RecordSkipped()
			continue
		}

		lease, err := s.leases.Acquire(ctx, ref.ID)
		if err != nil {
			slot.Release(1)
			if !errors.Is(err, ErrLeaseHeld) {
				logger.Warn("reconcile lease unavailable", "ref_id", ref.ID, "provider", ref.Provider, "error", err)
			}
			stats.Skipped++
			s.metrics.RecordSkipped()
			continue
		}

		if !s.pool.TryEnqueue(&reconcileJob{ctx: ctx, ref: ref, lease: lease, slot: slot}) {
			_ = s.leases.Release(ctx, lease)
			slot.Release(1)
			stats.Skipped++
			s.metrics.RecordSkipped()
			logger.Warn("reconcile pool full, attempt deferred to next tick", "ref_id", ref.ID, "provider", ref.Provider)
			continue
		}
		stats.Dispatched++
	}

	if stats.Pending > 0 {
		logger.Info("reconcile tick", "pending", stats.Pending, "dispatched", stats.Dispatched, "skipped", stats.Skipped,
			"backlog", s.pool.GetUnreadCount())
	}
	return stats
}

func (s *ReconcileScheduler) reportPending(ctx context.Context) {
	counts, err := s.pending.CountPendingByProvider(ctx)
	if err != nil {
		logger.Warn("failed to count pending transactions", "error", err)
		return
	}
	for _, p := range model.Providers {
		prom.SetPendingTransactions(string(p), int(counts[p]))
	}
}

func (s *ReconcileScheduler) providerSlots(p model.Provider) *semaphore.Weighted {
	s.semMu.Lock()
	defer s.semMu.Unlock()
	sem, ok := s.sems[p]
	if !ok {
		sem = semaphore.NewWeighted(s.config.ProviderConcurrency)
		s.sems[p] = sem
	}
	return sem
}

// work runs one attempt. The lease and provider slot are released whatever
// the outcome.
func (s *ReconcileScheduler) work(workerIndex int, job interface{}) {
	j, ok := job.(*reconcileJob)
	if !ok {
		logger.Error("invalid reconcile job", "worker", workerIndex)
		return
	}
	defer func() {
		_ = s.leases.Release(context.WithoutCancel(j.ctx), j.lease)
		j.slot.Release(1)
	}()
	log := logger.With("ref_id", j.ref.ID, "provider", j.ref.Provider, "worker", workerIndex)

	if j.ctx.Err() != nil {
		s.metrics.RecordSkipped()
		return
	}

	attemptCtx, cancel := context.WithTimeout(j.ctx, s.config.AttemptTimeout)
	defer cancel()

	start := time.Now()
	result, err := s.reconciler.Reconcile(attemptCtx, j.ref.ID)
	if err != nil {
		s.metrics.RecordFailure()
		if errors.Is(err, services.ErrReconcileFailed) || errors.Is(err, context.DeadlineExceeded) {
			log.Info("reconcile attempt failed, will retry next tick", "error", err)
			return
		}
		log.Warn("reconcile attempt errored", "error", err)
		return
	}

	s.metrics.RecordSuccess(time.Since(start))
	if result.Transitioned {
		s.metrics.RecordSettled()
		log.Info("pending transaction settled by scheduler", "status", result.Transaction.Status)
	}
}
