package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Circuit breaker states
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

const (
	defaultFailureThreshold = 5
	defaultCooldown         = 30 * time.Second
)

// CircuitBreaker is a per-connector breaker shared by every worker through Redis.
//
//   - Closed: deliveries proceed, consecutive failures are counted.
//   - Open: deliveries are refused until the cooldown elapses.
//   - Half-Open: a trial delivery is allowed. Success closes, failure re-opens.
type CircuitBreaker struct {
	redisClient      *redis.Client
	logger           *slog.Logger
	failureThreshold int
	cooldownPeriod   time.Duration
	now              func() time.Time
}

// BreakerState is the externally visible state of one connector's circuit.
type BreakerState struct {
	Connector    string `json:"connector"`
	State        string `json:"state"`
	Failures     int    `json:"failures"`
	LastFailedAt string `json:"last_failed_at,omitempty"`
}

// recordFailureScript increments the failure count and decides the next
// state in one step so concurrent workers cannot interleave the transition.
// Returns {state, failures}.
var recordFailureScript = redis.NewScript(`
local key = KEYS[1]
local now = ARGV[1]
local threshold = tonumber(ARGV[2])

local failures = redis.call('HINCRBY', key, 'failures', 1)
redis.call('HSET', key, 'last_failed_at', now)

local state = redis.call('HGET', key, 'state')
if state == 'half-open' or failures >= threshold then
    state = 'open'
elseif not state then
    state = 'closed'
end
redis.call('HSET', key, 'state', state)
return {state, failures}
`)

func NewCircuitBreaker(redisClient *redis.Client, logger *slog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		redisClient:      redisClient,
		logger:           logger,
		failureThreshold: defaultFailureThreshold,
		cooldownPeriod:   defaultCooldown,
		now:              time.Now,
	}
}

func cbKey(connector string) string {
	return fmt.Sprintf("cb:connector:%s", connector)
}

func (cb *CircuitBreaker) cooledDown(lastFailedAt int64) bool {
	return cb.now().Unix()-lastFailedAt >= int64(cb.cooldownPeriod.Seconds())
}

// Allow reports whether a delivery to the connector may proceed. Redis errors
// fail open so a store outage does not halt every connector.
func (cb *CircuitBreaker) Allow(ctx context.Context, connector string) (string, bool) {
	key := cbKey(connector)

	data, err := cb.redisClient.HGetAll(ctx, key).Result()
	if err != nil {
		cb.logger.Error("circuit breaker lookup failed", "connector", connector, "error", err)
		return StateClosed, true
	}
	if len(data) == 0 {
		return StateClosed, true
	}

	switch data["state"] {
	case StateOpen:
		lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
		if !cb.cooledDown(lastFailedAt) {
			return StateOpen, false
		}
		cb.redisClient.HSet(ctx, key, "state", StateHalfOpen)
		cb.logger.Info("circuit breaker half-open", "connector", connector)
		return StateHalfOpen, true
	case StateHalfOpen:
		return StateHalfOpen, true
	default:
		return StateClosed, true
	}
}

// RecordSuccess closes the circuit and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess(ctx context.Context, connector string) {
	key := cbKey(connector)

	previous, _ := cb.redisClient.HGet(ctx, key, "state").Result()
	if previous == "" || (previous == StateClosed && cb.failures(ctx, key) == 0) {
		return
	}

	if err := cb.redisClient.HSet(ctx, key, "state", StateClosed, "failures", 0).Err(); err != nil {
		cb.logger.Error("failed to reset circuit breaker", "connector", connector, "error", err)
		return
	}
	if previous == StateHalfOpen {
		cb.logger.Info("circuit breaker closed (recovered)", "connector", connector)
	}
}

func (cb *CircuitBreaker) failures(ctx context.Context, key string) int {
	n, _ := cb.redisClient.HGet(ctx, key, "failures").Int()
	return n
}

// RecordFailure counts a failed delivery, opening the circuit at the threshold
// or immediately when a half-open trial fails.
func (cb *CircuitBreaker) RecordFailure(ctx context.Context, connector string) {
	res, err := recordFailureScript.Run(ctx, cb.redisClient, []string{cbKey(connector)},
		cb.now().Unix(), cb.failureThreshold,
	).Slice()
	if err != nil || len(res) != 2 {
		cb.logger.Error("failed to record circuit breaker failure", "connector", connector, "error", err)
		return
	}

	state, _ := res[0].(string)
	failures, _ := res[1].(int64)
	if state == StateOpen {
		cb.logger.Warn("circuit breaker open",
			"connector", connector,
			"failures", failures,
			"threshold", cb.failureThreshold,
		)
	}
}

// State returns the connector's circuit, reporting an open circuit whose
// cooldown has elapsed as half-open.
func (cb *CircuitBreaker) State(ctx context.Context, connector string) BreakerState {
	result := BreakerState{Connector: connector, State: StateClosed}

	data, err := cb.redisClient.HGetAll(ctx, cbKey(connector)).Result()
	if err != nil || len(data) == 0 {
		return result
	}

	result.Failures, _ = strconv.Atoi(data["failures"])
	if s := data["state"]; s != "" {
		result.State = s
	}

	lastFailedAt, _ := strconv.ParseInt(data["last_failed_at"], 10, 64)
	if result.State == StateOpen && cb.cooledDown(lastFailedAt) {
		result.State = StateHalfOpen
	}
	if lastFailedAt > 0 {
		result.LastFailedAt = time.Unix(lastFailedAt, 0).UTC().Format(time.RFC3339)
	}
	return result
}

// States returns the circuit of each named connector, in order.
func (cb *CircuitBreaker) States(ctx context.Context, connectors []string) []BreakerState {
	out := make([]BreakerState, len(connectors))
	for i, name := range connectors {
		out[i] = cb.State(ctx, name)
	}
	return out
}
