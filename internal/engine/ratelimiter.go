package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a sliding-window limiter for inbound webhook traffic, shared
// across gateway instances through Redis. Each accepted request is a member of
// a sorted set scored by its arrival time in milliseconds.
type RateLimiter struct {
	redisClient *redis.Client
	logger      *slog.Logger
	window      time.Duration
	now         func() time.Time
}

// Trims the window, then admits the request only if the remaining count is
// under the limit. Returns 1 when admitted.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)

if redis.call('ZCARD', key) >= limit then
    return 0
end

redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window + 1000)
return 1
`)

func NewRateLimiter(redisClient *redis.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		redisClient: redisClient,
		logger:      logger,
		window:      time.Second,
		now:         time.Now,
	}
}

func rlKey(source string) string {
	return fmt.Sprintf("rl:webhook:%s", source)
}

// Allow reports whether another request from source fits in the current
// window. A non-positive limit disables limiting. Redis errors fail open.
func (rl *RateLimiter) Allow(ctx context.Context, source string, limit int) bool {
	if limit <= 0 {
		return true
	}

	admitted, err := slidingWindowScript.Run(ctx, rl.redisClient, []string{rlKey(source)},
		rl.now().UnixMilli(), rl.window.Milliseconds(), limit, uuid.NewString(),
	).Int64()
	if err != nil {
		rl.logger.Error("rate limiter script failed", "source", source, "error", err)
		return true
	}

	if admitted == 0 {
		rl.logger.Debug("webhook rate limited", "source", source, "limit", limit)
		return false
	}
	return true
}
