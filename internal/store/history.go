package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	recentEventsKey  = "tracking:events:recent"
	recentFailureKey = "tracking:events:failures"
)

// Broadcaster receives every recorded history entry, e.g. the dashboard hub.
type Broadcaster interface {
	BroadcastHistory(record domain.EventHistoryRecord)
}

// HistoryStore keeps capped, newest-first lists of recent events and failures.
// It is observational only.
type HistoryStore struct {
	redisClient *redis.Client
	limit       int64
	broadcaster Broadcaster
	logger      *slog.Logger
}

func NewHistoryStore(redisClient *redis.Client, limit int, broadcaster Broadcaster, logger *slog.Logger) *HistoryStore {
	return &HistoryStore{
		redisClient: redisClient,
		limit:       int64(limit),
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Record appends the entry to the recent list, and also to the failures list
// when its status is failed.
func (h *HistoryStore) Record(ctx context.Context, record domain.EventHistoryRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshaling history record: %w", err)
	}

	_, err = h.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, recentEventsKey, data)
		pipe.LTrim(ctx, recentEventsKey, 0, h.limit-1)
		if record.Status == domain.HistoryFailed {
			pipe.LPush(ctx, recentFailureKey, data)
			pipe.LTrim(ctx, recentFailureKey, 0, h.limit-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", record.EventID, err)
	}

	if h.broadcaster != nil {
		h.broadcaster.BroadcastHistory(record)
	}
	return nil
}

// RecordQuietly records the entry and logs instead of returning an error.
func (h *HistoryStore) RecordQuietly(ctx context.Context, record domain.EventHistoryRecord) {
	if err := h.Record(ctx, record); err != nil {
		h.logger.Warn("failed to record event history",
			"error", err,
			"event_id", record.EventID,
			"status", record.Status,
		)
	}
}

func (h *HistoryStore) Recent(ctx context.Context, limit int) ([]domain.EventHistoryRecord, error) {
	return h.list(ctx, recentEventsKey, limit)
}

func (h *HistoryStore) Failures(ctx context.Context, limit int) ([]domain.EventHistoryRecord, error) {
	return h.list(ctx, recentFailureKey, limit)
}

func (h *HistoryStore) list(ctx context.Context, key string, limit int) ([]domain.EventHistoryRecord, error) {
	if limit <= 0 {
		return []domain.EventHistoryRecord{}, nil
	}

	items, err := h.redisClient.LRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", key, err)
	}

	records := make([]domain.EventHistoryRecord, 0, len(items))
	for _, item := range items {
		var record domain.EventHistoryRecord
		if err := json.Unmarshal([]byte(item), &record); err != nil {
			h.logger.Warn("skipping malformed history entry", "key", key, "error", err)
			continue
		}
		records = append(records, record)
	}
	return records, nil
}
