package queue

import "github.com/redis/go-redis/v9"

// reserveScript moves up to ARGV[3] ready jobs from wait to active.
// KEYS: wait, active, jobs. ARGV: now, lease deadline, count.
var reserveScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
local out = {}
for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    local data = redis.call('HGET', KEYS[3], id)
    if data then
        redis.call('ZADD', KEYS[2], ARGV[2], id)
        table.insert(out, data)
    end
end
return out
`)

// completeScript finishes an active job.
// KEYS: active, jobs, completed. ARGV: id, job json, keep.
var completeScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[2])
redis.call('LTRIM', KEYS[3], 0, tonumber(ARGV[3]) - 1)
return 1
`)

// retryScript puts a failed active job back on wait with a future ready time.
// KEYS: active, jobs, wait. ARGV: id, job json, ready at.
var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call('HSET', KEYS[2], ARGV[1], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
return 1
`)

// deadLetterScript moves an exhausted active job into the dead-letter queue.
// KEYS: active, jobs, failed, dlq jobs, dlq index.
// ARGV: id, job json, keep, dead letter json, failed at.
var deadLetterScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('LPUSH', KEYS[3], ARGV[2])
redis.call('LTRIM', KEYS[3], 0, tonumber(ARGV[3]) - 1)
redis.call('HSET', KEYS[4], ARGV[1], ARGV[4])
redis.call('ZADD', KEYS[5], ARGV[5], ARGV[1])
return 1
`)

// releaseScript returns an active job to wait without consuming an attempt.
// KEYS: active, wait. ARGV: id, ready at.
var releaseScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// extendScript moves an active job's lease deadline.
// KEYS: active. ARGV: id, new deadline.
var extendScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then
    return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
return 1
`)

// recoverScript re-queues active jobs whose lease has expired.
// KEYS: active, wait. ARGV: now.
var recoverScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
    redis.call('ZREM', KEYS[1], id)
    redis.call('ZADD', KEYS[2], ARGV[1], id)
end
return #ids
`)

// replayScript removes a dead letter and enqueues its replacement job in one step.
// KEYS: dlq jobs, dlq index, jobs, wait. ARGV: dead letter id, new id, new job json, ready at.
var replayScript = redis.NewScript(`
if redis.call('HDEL', KEYS[1], ARGV[1]) == 0 then
    return 0
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[2], ARGV[3])
redis.call('ZADD', KEYS[4], ARGV[4], ARGV[2])
return 1
`)
