package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/Priya8975/fastweigh-event-gateway/internal/metrics"
	"github.com/Priya8975/fastweigh-event-gateway/internal/queue"
)

// JobProcessor is satisfied by *Processor.
type JobProcessor interface {
	Process(ctx context.Context, job domain.QueueJob) (domain.HistoryStatus, error)
}

// JobQueue is the subset of *queue.Queue the pool and dispatcher use.
type JobQueue interface {
	Reserve(ctx context.Context, count int) ([]*queue.Job, error)
	Complete(ctx context.Context, job *queue.Job) error
	Fail(ctx context.Context, job *queue.Job, cause error) (queue.Outcome, error)
	Release(ctx context.Context, job *queue.Job) error
	Extend(ctx context.Context, job *queue.Job) error
	Lease() time.Duration
	RecoverExpired(ctx context.Context) (int, error)
	Counts(ctx context.Context) (queue.Counts, error)
}

// Pool manages a fixed number of worker goroutines that process reserved jobs
// and report each outcome back to the queue.
type Pool struct {
	numWorkers int
	jobs       chan *queue.Job
	processor  JobProcessor
	queue      JobQueue
	history    HistoryRecorder
	metrics    *metrics.Metrics
	logger     *slog.Logger
	wg         sync.WaitGroup
	stopping   atomic.Bool
}

// NewPool creates a worker pool with the given number of workers.
func NewPool(numWorkers int, processor JobProcessor, q JobQueue, history HistoryRecorder, m *metrics.Metrics, logger *slog.Logger) *Pool {
	return &Pool{
		numWorkers: numWorkers,
		jobs:       make(chan *queue.Job, numWorkers*2),
		processor:  processor,
		queue:      q,
		history:    history,
		metrics:    m,
		logger:     logger,
	}
}

// Start launches all worker goroutines. ctx is used for processing and
// should outlive the dispatcher so in-flight jobs can finish.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "num_workers", p.numWorkers)
}

// Submit sends a reserved job to the pool.
func (p *Pool) Submit(job *queue.Job) {
	p.jobs <- job
}

// Capacity is how many more jobs can be submitted without blocking.
func (p *Pool) Capacity() int {
	return cap(p.jobs) - len(p.jobs)
}

// Stop waits for in-flight jobs and releases jobs that were reserved but
// never started. The dispatcher must be stopped first.
func (p *Pool) Stop() {
	p.stopping.Store(true)
	close(p.jobs)
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for job := range p.jobs {
		if p.stopping.Load() || ctx.Err() != nil {
			p.release(job)
			continue
		}
		p.handle(ctx, job, id)
	}
}

func (p *Pool) release(job *queue.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := p.queue.Release(ctx, job); err != nil {
		p.logger.Warn("failed to release job", "job_id", job.ID, "event_id", job.Data.EventID, "error", err)
		return
	}
	p.logger.Info("released unstarted job", "job_id", job.ID, "event_id", job.Data.EventID)
}

// heartbeat extends the job's lease every third of the lease period until the
// returned stop func is called, so the recovery sweep never re-queues a job
// that is still being processed.
func (p *Pool) heartbeat(ctx context.Context, job *queue.Job) func() {
	interval := p.queue.Lease() / 3
	if interval <= 0 {
		return func() {}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := p.queue.Extend(hbCtx, job)
				switch {
				case errors.Is(err, queue.ErrLeaseLost):
					p.logger.Warn("job lease lost while processing", "job_id", job.ID, "event_id", job.Data.EventID)
					return
				case err != nil && hbCtx.Err() == nil:
					p.logger.Warn("failed to extend job lease", "job_id", job.ID, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (p *Pool) handle(ctx context.Context, job *queue.Job, workerID int) {
	start := time.Now()
	stopHeartbeat := p.heartbeat(ctx, job)
	status, err := p.processor.Process(ctx, job.Data)
	stopHeartbeat()
	elapsed := time.Since(start)

	if err == nil {
		p.metrics.TrackWorkerJob(string(status), elapsed)
		if cerr := p.queue.Complete(ctx, job); cerr != nil {
			p.logger.Warn("failed to complete job", "job_id", job.ID, "error", cerr)
		}
		return
	}

	p.metrics.TrackWorkerJob("failure", elapsed)
	outcome, ferr := p.queue.Fail(ctx, job, err)
	switch {
	case errors.Is(ferr, queue.ErrLeaseLost):
		p.logger.Warn("job lease lost before failure was recorded", "job_id", job.ID, "event_id", job.Data.EventID)
	case ferr != nil:
		p.logger.Error("failed to record job failure", "job_id", job.ID, "error", ferr)
	case outcome.DeadLettered:
		p.logger.Error("job dead-lettered",
			"job_id", job.ID,
			"event_id", job.Data.EventID,
			"attempts", outcome.AttemptsMade,
			"error", err,
		)
		p.history.RecordQuietly(ctx, domain.EventHistoryRecord{
			Timestamp: time.Now().UTC(),
			Status:    domain.HistoryFailed,
			EventID:   job.Data.EventID,
			AuditID:   job.Data.AuditID,
			Detail:    fmt.Sprintf("moved to dead-letter queue after %d attempts: %v", outcome.AttemptsMade, err),
		})
	default:
		p.logger.Warn("job failed, retry scheduled",
			"worker_id", workerID,
			"job_id", job.ID,
			"event_id", job.Data.EventID,
			"attempts", outcome.AttemptsMade,
			"next_retry_in", outcome.Delay.String(),
			"error", err,
		)
	}
}
