package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EventTicketTTL     = 14 * 24 * time.Hour
	ConnectorTicketTTL = 30 * 24 * time.Hour

	eventKeyPrefix     = "idempotency:fw-event:"
	resourceKeyPrefix  = "idempotency:fw-resource-version:"
	connectorKeyPrefix = "idempotency:connector-delivery:"
	intakeKeyPrefix    = "idempotency:intake:"
)

// claimAllScript wins every ticket in KEYS or none of them.
// Each ticket stores the claiming event id so it can be released by its owner.
var claimAllScript = redis.NewScript(`
for i = 1, #KEYS do
    if redis.call('EXISTS', KEYS[i]) == 1 then
        return 0
    end
end
for i = 1, #KEYS do
    redis.call('SET', KEYS[i], ARGV[1], 'EX', ARGV[2])
end
return 1
`)

// releaseOwnedScript deletes the tickets in KEYS that are still held by ARGV[1].
var releaseOwnedScript = redis.NewScript(`
local released = 0
for i = 1, #KEYS do
    if redis.call('GET', KEYS[i]) == ARGV[1] then
        redis.call('DEL', KEYS[i])
        released = released + 1
    end
end
return released
`)

// Engine hands out exclusive, TTL-bounded tickets stored in Redis.
type Engine struct {
	redisClient *redis.Client
	logger      *slog.Logger
}

func NewEngine(redisClient *redis.Client, logger *slog.Logger) *Engine {
	return &Engine{redisClient: redisClient, logger: logger}
}

func eventKey(eventID string) string {
	return eventKeyPrefix + eventID
}

func resourceKey(resourceID, version string) string {
	return fmt.Sprintf("%s%s:%s", resourceKeyPrefix, resourceID, version)
}

func connectorKey(connector, eventID string) string {
	return fmt.Sprintf("%s%s:%s", connectorKeyPrefix, connector, eventID)
}

func intakeKey(eventID string) string {
	return intakeKeyPrefix + eventID
}

func eventTickets(eventID, resourceID, version string) []string {
	keys := []string{eventKey(eventID)}
	if resourceID != "" && version != "" {
		keys = append(keys, resourceKey(resourceID, version))
	}
	return keys
}

// ClaimEvent atomically wins the event ticket and, when both resourceID and
// version are set, the resource-version ticket. It returns true only if every
// required ticket was newly won; otherwise nothing is written.
func (e *Engine) ClaimEvent(ctx context.Context, eventID, resourceID, version string) (bool, error) {
	keys := eventTickets(eventID, resourceID, version)

	won, err := claimAllScript.Run(ctx, e.redisClient, keys, eventID, int64(EventTicketTTL.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("claiming event %s: %w", eventID, err)
	}
	if won == 0 {
		e.logger.Debug("event claim lost",
			"event_id", eventID,
			"resource_id", resourceID,
			"resource_version", version,
		)
	}
	return won == 1, nil
}

// ReleaseEvent gives back the tickets won by ClaimEvent for this event id so a
// retry can claim them again. Tickets held by another event are left alone.
func (e *Engine) ReleaseEvent(ctx context.Context, eventID, resourceID, version string) error {
	keys := eventTickets(eventID, resourceID, version)
	if err := releaseOwnedScript.Run(ctx, e.redisClient, keys, eventID).Err(); err != nil {
		return fmt.Errorf("releasing event %s: %w", eventID, err)
	}
	return nil
}

// ClaimConnectorDelivery guards the side effect of one connector for one event.
func (e *Engine) ClaimConnectorDelivery(ctx context.Context, connector, eventID string) (bool, error) {
	ok, err := e.redisClient.SetNX(ctx, connectorKey(connector, eventID), eventID, ConnectorTicketTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claiming connector %s for event %s: %w", connector, eventID, err)
	}
	return ok, nil
}

// ReleaseConnectorDelivery is called when a claimed delivery did not succeed.
func (e *Engine) ReleaseConnectorDelivery(ctx context.Context, connector, eventID string) error {
	keys := []string{connectorKey(connector, eventID)}
	if err := releaseOwnedScript.Run(ctx, e.redisClient, keys, eventID).Err(); err != nil {
		return fmt.Errorf("releasing connector %s for event %s: %w", connector, eventID, err)
	}
	return nil
}

// ClaimIntake dedupes webhook redeliveries at the HTTP boundary. It lives in
// its own key space so the worker's event claim is still won later.
func (e *Engine) ClaimIntake(ctx context.Context, eventID string) (bool, error) {
	ok, err := e.redisClient.SetNX(ctx, intakeKey(eventID), eventID, EventTicketTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claiming intake for event %s: %w", eventID, err)
	}
	return ok, nil
}

// ReleaseIntake lets an upstream redelivery be accepted after intake failed
// part way through.
func (e *Engine) ReleaseIntake(ctx context.Context, eventID string) error {
	keys := []string{intakeKey(eventID)}
	if err := releaseOwnedScript.Run(ctx, e.redisClient, keys, eventID).Err(); err != nil {
		return fmt.Errorf("releasing intake for event %s: %w", eventID, err)
	}
	return nil
}
