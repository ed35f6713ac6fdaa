package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// JobName is the only job kind carried by the event queue.
	JobName = "process-event"

	maxRetryDelay = 24 * time.Hour
)

// Queue event kinds reported to the Tracker.
const (
	EventEnqueued             = "enqueued"
	EventRetry                = "retry"
	EventDeadLettered         = "dlq"
	EventDLQReplay            = "dlq_replay"
	EventReconciliationReplay = "reconciliation_replay"
)

// ErrLeaseLost is returned when a job is no longer active for this worker,
// e.g. its lease expired and it was recovered by another process.
var ErrLeaseLost = errors.New("job is no longer active")

// Job is the queue envelope around a domain.QueueJob.
type Job struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         domain.QueueJob `json:"data"`
	AttemptsMade int             `json:"attempts_made"`
	MaxAttempts  int             `json:"max_attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	FailedReason string          `json:"failed_reason,omitempty"`
}

// Options configures retry and retention behaviour.
type Options struct {
	Name          string
	MaxAttempts   int
	Backoff       time.Duration
	Lease         time.Duration
	KeepCompleted int64
	KeepFailed    int64
}

// Tracker receives queue lifecycle events, typically for metrics.
type Tracker interface {
	TrackQueueEvent(kind string)
}

// Counts is a snapshot of queue depth by state.
type Counts struct {
	Waiting    int64 `json:"waiting"`
	Active     int64 `json:"active"`
	Delayed    int64 `json:"delayed"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	DLQWaiting int64 `json:"dlq_waiting"`
}

// Outcome describes what Fail did with a job.
type Outcome struct {
	DeadLettered bool
	Delay        time.Duration
	AttemptsMade int
}

type keys struct {
	jobs, wait, active, completed, failed string
	dlqJobs, dlqIndex                     string
}

func newKeys(name string) keys {
	return keys{
		jobs:      name + ":jobs",
		wait:      name + ":wait",
		active:    name + ":active",
		completed: name + ":completed",
		failed:    name + ":failed",
		dlqJobs:   name + "-dlq:jobs",
		dlqIndex:  name + "-dlq:index",
	}
}

// Queue is a durable job queue on Redis with exponential retry and a
// dead-letter queue. Ready jobs live in a sorted set scored by the time they
// become runnable; active jobs are leased until a deadline.
type Queue struct {
	redisClient *redis.Client
	opts        Options
	keys        keys
	tracker     Tracker
	logger      *slog.Logger
	now         func() time.Time
}

func NewQueue(redisClient *redis.Client, opts Options, tracker Tracker, logger *slog.Logger) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Lease <= 0 {
		opts.Lease = 5 * time.Minute
	}
	if opts.KeepCompleted <= 0 {
		opts.KeepCompleted = 5000
	}
	if opts.KeepFailed <= 0 {
		opts.KeepFailed = 5000
	}
	return &Queue{
		redisClient: redisClient,
		opts:        opts,
		keys:        newKeys(opts.Name),
		tracker:     tracker,
		logger:      logger,
		now:         time.Now,
	}
}

func (q *Queue) Name() string {
	return q.opts.Name
}

func (q *Queue) track(kind string) {
	if q.tracker != nil {
		q.tracker.TrackQueueEvent(kind)
	}
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// RetryDelay is the wait before the next attempt after attemptsMade failures:
// base * 2^(attemptsMade-1), without jitter.
func RetryDelay(base time.Duration, attemptsMade int) time.Duration {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = maxRetryDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	delay := bo.NextBackOff()
	for i := 1; i < attemptsMade; i++ {
		delay = bo.NextBackOff()
	}
	return delay
}

// Enqueue adds a new job that is ready immediately.
func (q *Queue) Enqueue(ctx context.Context, data domain.QueueJob) (*Job, error) {
	job := &Job{
		ID:          uuid.NewString(),
		Name:        JobName,
		Data:        data,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   q.now().UTC(),
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshaling job: %w", err)
	}

	_, err = q.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.keys.jobs, job.ID, payload)
		pipe.ZAdd(ctx, q.keys.wait, redis.Z{Score: float64(q.now().UnixMilli()), Member: job.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("enqueuing job for event %s: %w", data.EventID, err)
	}

	q.track(EventEnqueued)
	q.logger.Debug("job enqueued", "job_id", job.ID, "event_id", data.EventID, "replay_reason", data.ReplayReason)
	return job, nil
}

// Reserve leases up to count ready jobs to the caller.
func (q *Queue) Reserve(ctx context.Context, count int) ([]*Job, error) {
	now := q.now()
	deadline := now.Add(q.opts.Lease)

	items, err := reserveScript.Run(ctx, q.redisClient,
		[]string{q.keys.wait, q.keys.active, q.keys.jobs},
		millis(now), millis(deadline), count,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("reserving jobs: %w", err)
	}

	jobs := make([]*Job, 0, len(items))
	for _, item := range items {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			q.logger.Error("failed to unmarshal job", "error", err)
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, nil
}

// Complete marks an active job as succeeded.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}

	done, err := completeScript.Run(ctx, q.redisClient,
		[]string{q.keys.active, q.keys.jobs, q.keys.completed},
		job.ID, payload, q.opts.KeepCompleted,
	).Int64()
	if err != nil {
		return fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	if done == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Fail records a failed attempt. The job is scheduled for retry with
// exponential backoff until MaxAttempts failures, then moved verbatim to the
// dead-letter queue.
func (q *Queue) Fail(ctx context.Context, job *Job, cause error) (Outcome, error) {
	failed := *job
	failed.AttemptsMade++
	failed.FailedReason = cause.Error()

	payload, err := json.Marshal(failed)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshaling job: %w", err)
	}

	now := q.now()
	if failed.AttemptsMade < failed.MaxAttempts {
		delay := RetryDelay(q.opts.Backoff, failed.AttemptsMade)
		moved, err := retryScript.Run(ctx, q.redisClient,
			[]string{q.keys.active, q.keys.jobs, q.keys.wait},
			job.ID, payload, millis(now.Add(delay)),
		).Int64()
		if err != nil {
			return Outcome{}, fmt.Errorf("scheduling retry for job %s: %w", job.ID, err)
		}
		if moved == 0 {
			return Outcome{}, ErrLeaseLost
		}
		q.track(EventRetry)
		return Outcome{Delay: delay, AttemptsMade: failed.AttemptsMade}, nil
	}

	letter := DeadLetter{
		ID:           job.ID,
		Job:          failed,
		FailedReason: failed.FailedReason,
		FailedAt:     now.UTC(),
	}
	letterPayload, err := json.Marshal(letter)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshaling dead letter: %w", err)
	}

	moved, err := deadLetterScript.Run(ctx, q.redisClient,
		[]string{q.keys.active, q.keys.jobs, q.keys.failed, q.keys.dlqJobs, q.keys.dlqIndex},
		job.ID, payload, q.opts.KeepFailed, letterPayload, millis(now),
	).Int64()
	if err != nil {
		return Outcome{}, fmt.Errorf("dead-lettering job %s: %w", job.ID, err)
	}
	if moved == 0 {
		return Outcome{}, ErrLeaseLost
	}
	q.track(EventDeadLettered)
	return Outcome{DeadLettered: true, AttemptsMade: failed.AttemptsMade}, nil
}

// Release hands an active job back to the queue without consuming an attempt.
// Used for jobs reserved but never started before shutdown.
func (q *Queue) Release(ctx context.Context, job *Job) error {
	moved, err := releaseScript.Run(ctx, q.redisClient,
		[]string{q.keys.active, q.keys.wait},
		job.ID, millis(q.now()),
	).Int64()
	if err != nil {
		return fmt.Errorf("releasing job %s: %w", job.ID, err)
	}
	if moved == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Lease is how long a reserved job stays active without an Extend.
func (q *Queue) Lease() time.Duration {
	return q.opts.Lease
}

// Extend pushes an active job's lease deadline out by a full lease. It
// returns ErrLeaseLost if the job is no longer active.
func (q *Queue) Extend(ctx context.Context, job *Job) error {
	extended, err := extendScript.Run(ctx, q.redisClient,
		[]string{q.keys.active},
		job.ID, millis(q.now().Add(q.opts.Lease)),
	).Int64()
	if err != nil {
		return fmt.Errorf("extending lease for job %s: %w", job.ID, err)
	}
	if extended == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RecoverExpired moves active jobs whose lease has passed back to wait.
// These are jobs abandoned by a crashed or killed process.
func (q *Queue) RecoverExpired(ctx context.Context) (int, error) {
	n, err := recoverScript.Run(ctx, q.redisClient,
		[]string{q.keys.active, q.keys.wait},
		millis(q.now()),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("recovering expired jobs: %w", err)
	}
	if n > 0 {
		q.logger.Warn("recovered jobs with expired leases", "count", n)
	}
	return n, nil
}

// Counts reports queue depth by state.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	now := millis(q.now())

	pipe := q.redisClient.Pipeline()
	waiting := pipe.ZCount(ctx, q.keys.wait, "-inf", now)
	delayed := pipe.ZCount(ctx, q.keys.wait, "("+now, "+inf")
	active := pipe.ZCard(ctx, q.keys.active)
	completed := pipe.LLen(ctx, q.keys.completed)
	failed := pipe.LLen(ctx, q.keys.failed)
	dlq := pipe.ZCard(ctx, q.keys.dlqIndex)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, fmt.Errorf("reading queue counts: %w", err)
	}

	return Counts{
		Waiting:    waiting.Val(),
		Active:     active.Val(),
		Delayed:    delayed.Val(),
		Completed:  completed.Val(),
		Failed:     failed.Val(),
		DLQWaiting: dlq.Val(),
	}, nil
}

// GetJob returns a job that is waiting, delayed or active.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	data, err := q.redisClient.HGet(ctx, q.keys.jobs, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading job %s: %w", id, err)
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decoding job %s: %w", id, err)
	}
	return &job, nil
}
