package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
)

// Dispatcher polls the queue, leases ready jobs and hands them to the pool.
// It also re-queues jobs whose lease expired because their process died.
type Dispatcher struct {
	queue           JobQueue
	pool            *Pool
	metrics         *metrics.Metrics
	logger          *slog.Logger
	pollInterval    time.Duration
	recoverInterval time.Duration
	batchSize       int
}

func NewDispatcher(q JobQueue, pool *Pool, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:           q,
		pool:            pool,
		metrics:         m,
		logger:          logger,
		pollInterval:    100 * time.Millisecond,
		recoverInterval: 30 * time.Second,
		batchSize:       10,
	}
}

// Start runs the polling loop until ctx is cancelled. Once it returns no
// more jobs are submitted to the pool.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started")
	d.recover(ctx)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(d.recoverInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-sweep.C:
			d.recover(ctx)
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll leases no more jobs than the pool can accept right now, so a leased
// job never waits behind a full channel.
func (d *Dispatcher) poll(ctx context.Context) {
	n := min(d.batchSize, d.pool.Capacity())
	if n <= 0 {
		return
	}

	jobs, err := d.queue.Reserve(ctx, n)
	if err != nil {
		d.logger.Error("failed to reserve jobs", "error", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	for _, job := range jobs {
		d.pool.Submit(job)
	}
	d.RefreshDepth(ctx)
}

func (d *Dispatcher) recover(ctx context.Context) {
	if _, err := d.queue.RecoverExpired(ctx); err != nil {
		d.logger.Error("failed to recover expired jobs", "error", err)
	}
}

// RefreshDepth publishes the current queue counts as gauges.
func (d *Dispatcher) RefreshDepth(ctx context.Context) {
	counts, err := d.queue.Counts(ctx)
	if err != nil {
		d.logger.Warn("failed to read queue counts", "error", err)
		return
	}
	d.metrics.SetQueueDepth("waiting", counts.Waiting)
	d.metrics.SetQueueDepth("active", counts.Active)
	d.metrics.SetQueueDepth("delayed", counts.Delayed)
	d.metrics.SetQueueDepth("completed", counts.Completed)
	d.metrics.SetQueueDepth("failed", counts.Failed)
	d.metrics.SetQueueDepth("dlq", counts.DLQWaiting)
}
