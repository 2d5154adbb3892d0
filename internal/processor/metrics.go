package processor

import (
	"sync/atomic"
	"time"
)

// ServiceMetrics are in-process counters reported to the log on an interval.
// The scheduler and the notification consumer each own one.
type ServiceMetrics struct {
	processed  atomic.Int64
	failed     atomic.Int64
	skipped    atomic.Int64
	settled    atomic.Int64
	durationNs atomic.Int64
	since      atomic.Int64
}

func NewServiceMetrics() *ServiceMetrics {
	m := &ServiceMetrics{}
	m.since.Store(time.Now().UnixNano())
	return m
}

func (m *ServiceMetrics) RecordSuccess(duration time.Duration) {
	m.processed.Add(1)
	m.durationNs.Add(int64(duration))
}

func (m *ServiceMetrics) RecordFailure() {
	m.failed.Add(1)
}

// RecordSkipped counts work not started, e.g. a lease already held or a full pool.
func (m *ServiceMetrics) RecordSkipped() {
	m.skipped.Add(1)
}

// RecordSettled counts attempts that moved a transaction out of Pending.
func (m *ServiceMetrics) RecordSettled() {
	m.settled.Add(1)
}

func (m *ServiceMetrics) GetStats() map[string]interface{} {
	processed := m.processed.Load()
	elapsed := time.Since(time.Unix(0, m.since.Load())).Seconds()

	rate := 0.0
	if elapsed > 0 {
		rate = float64(processed) / elapsed
	}
	var avg time.Duration
	if processed > 0 {
		avg = time.Duration(m.durationNs.Load() / processed)
	}

	return map[string]interface{}{
		"total_processed": processed,
		"total_failed":    m.failed.Load(),
		"total_skipped":   m.skipped.Load(),
		"total_settled":   m.settled.Load(),
		"rate_per_second": rate,
		"avg_duration_ms": avg.Milliseconds(),
		"uptime_seconds":  elapsed,
	}
}
