package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Priya8975/fastweigh-event-gateway/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	canonicalKeyPrefix = "event-store:canonical:"
	CanonicalTTL       = 30 * 24 * time.Hour
)

// EventStore keeps the canonical record of every verified event so queue jobs
// only need to carry the event id.
type EventStore struct {
	redisClient *redis.Client
}

func NewEventStore(redisClient *redis.Client) *EventStore {
	return &EventStore{redisClient: redisClient}
}

func canonicalKey(eventID string) string {
	return canonicalKeyPrefix + eventID
}

// Store writes the record once. It returns false when a record for the same
// event id already exists; the stored record is never overwritten.
func (s *EventStore) Store(ctx context.Context, record domain.CanonicalEventRecord) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshaling canonical record: %w", err)
	}

	created, err := s.redisClient.SetNX(ctx, canonicalKey(record.Event.EventID), data, CanonicalTTL).Result()
	if err != nil {
		return false, fmt.Errorf("storing canonical record %s: %w", record.Event.EventID, err)
	}
	return created, nil
}

// Get returns the canonical record, or a not-found error once it has expired.
func (s *EventStore) Get(ctx context.Context, eventID string) (*domain.CanonicalEventRecord, error) {
	data, err := s.redisClient.Get(ctx, canonicalKey(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.NewNotFoundError(
			fmt.Sprintf("canonical event %s not found", eventID),
			map[string]any{"event_id": eventID},
		)
	}
	if err != nil {
		return nil, fmt.Errorf("reading canonical record %s: %w", eventID, err)
	}

	var record domain.CanonicalEventRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding canonical record %s: %w", eventID, err)
	}
	return &record, nil
}
