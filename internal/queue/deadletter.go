package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DeadLetter is a job that exhausted its attempts. Job holds the payload verbatim.
type DeadLetter struct {
	ID           string    `json:"id"`
	Job          Job       `json:"job"`
	FailedReason string    `json:"failed_reason"`
	FailedAt     time.Time `json:"failed_at"`
}

// DeadLetters lists dead letters, newest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		return []DeadLetter{}, nil
	}

	ids, err := q.redisClient.ZRevRange(ctx, q.keys.dlqIndex, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing dead letters: %w", err)
	}
	if len(ids) == 0 {
		return []DeadLetter{}, nil
	}

	values, err := q.redisClient.HMGet(ctx, q.keys.dlqJobs, ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("reading dead letters: %w", err)
	}

	letters := make([]DeadLetter, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var letter DeadLetter
		if err := json.Unmarshal([]byte(raw), &letter); err != nil {
			q.logger.Warn("skipping malformed dead letter", "job_id", ids[i], "error", err)
			continue
		}
		letters = append(letters, letter)
	}
	return letters, nil
}

// GetDeadLetter returns a single dead letter, or nil if it does not exist.
func (q *Queue) GetDeadLetter(ctx context.Context, id string) (*DeadLetter, error) {
	raw, err := q.redisClient.HGet(ctx, q.keys.dlqJobs, id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading dead letter %s: %w", id, err)
	}
	var letter DeadLetter
	if err := json.Unmarshal(raw, &letter); err != nil {
		return nil, fmt.Errorf("decoding dead letter %s: %w", id, err)
	}
	return &letter, nil
}

// ReplayDeadLetter re-enqueues the dead letter's job data with a replay reason
// and removes it from the dead-letter queue. Both happen atomically; a
// concurrent replay of the same id sees not-found.
func (q *Queue) ReplayDeadLetter(ctx context.Context, id, reason string) (*Job, *DeadLetter, error) {
	letter, err := q.GetDeadLetter(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if letter == nil {
		return nil, nil, domain.NewNotFoundError(
			fmt.Sprintf("dead letter %s not found", id),
			map[string]any{"job_id": id},
		)
	}

	data := letter.Job.Data
	data.ReplayReason = reason
	job := &Job{
		ID:          uuid.NewString(),
		Name:        JobName,
		Data:        data,
		MaxAttempts: q.opts.MaxAttempts,
		CreatedAt:   q.now().UTC(),
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling job: %w", err)
	}

	moved, err := replayScript.Run(ctx, q.redisClient,
		[]string{q.keys.dlqJobs, q.keys.dlqIndex, q.keys.jobs, q.keys.wait},
		id, job.ID, payload, millis(q.now()),
	).Int64()
	if err != nil {
		return nil, nil, fmt.Errorf("replaying dead letter %s: %w", id, err)
	}
	if moved == 0 {
		return nil, nil, domain.NewNotFoundError(
			fmt.Sprintf("dead letter %s not found", id),
			map[string]any{"job_id": id},
		)
	}

	q.track(EventDLQReplay)
	q.logger.Info("dead letter replayed",
		"dead_letter_id", id,
		"job_id", job.ID,
		"event_id", data.EventID,
		"replay_reason", reason,
	)
	return job, letter, nil
}
