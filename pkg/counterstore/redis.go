package counterstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript runs the full read-refill-consume-persist cycle inside
// Redis. On denial the bucket state is still persisted with last_update=now
// so that partial refill is not double counted by the next call.
//
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, fractional)
// ARGV[5] = key TTL in seconds
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "last_update")
local tokens = tonumber(state[1])
local last_update = tonumber(state[2])

if not tokens or not last_update then
    tokens = capacity
    last_update = now
end

local elapsed = now - last_update
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HMSET", key, "tokens", tostring(tokens), "last_update", tostring(now))
redis.call("EXPIRE", key, ttl)

return {allowed, tostring(tokens)}
`)

// slidingWindowScript trims expired events, counts the remainder, and admits
// the call iff the count is below the limit. Scores are microsecond
// timestamps; members are nanosecond timestamps to stay unique under
// concurrent admits within the same microsecond.
//
// KEYS[1] = window key
// ARGV[1] = minimum score still inside the window
// ARGV[2] = limit
// ARGV[3] = score of this event
// ARGV[4] = member of this event
// ARGV[5] = key TTL in milliseconds
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local min_score = ARGV[1]
local limit = tonumber(ARGV[2])

redis.call("ZREMRANGEBYSCORE", key, "-inf", min_score)
local count = redis.call("ZCARD", key)

if count < limit then
    redis.call("ZADD", key, ARGV[3], ARGV[4])
    redis.call("PEXPIRE", key, ARGV[5])
    return {1, limit - count - 1}
end

redis.call("PEXPIRE", key, ARGV[5])
return {0, 0}
`)

// RedisStore executes counter operations as Lua scripts on a Redis server,
// giving linearisable updates across all PDP replicas sharing the server.
type RedisStore struct {
	client        *redis.Client
	scriptTimeout time.Duration
}

// NewRedisStore connects to the Redis URL (redis://host:port/db) and bounds
// every script call by scriptTimeout.
func NewRedisStore(url string, scriptTimeout time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts), scriptTimeout: scriptTimeout}, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client, scriptTimeout time.Duration) *RedisStore {
	return &RedisStore{client: client, scriptTimeout: scriptTimeout}
}

func (s *RedisStore) TokenBucket(ctx context.Context, key string, requested int, maxTokens, refillRate float64, now time.Time) (bool, float64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.scriptTimeout)
	defer cancel()

	nowSec := float64(now.UnixMicro()) / 1e6
	ttl := int(maxTokens/refillRate) + 60

	res, err := tokenBucketScript.Run(ctx, s.client, []string{key},
		refillRate, maxTokens, requested, nowSec, ttl).Result()
	if err != nil {
		return false, 0, fmt.Errorf("token bucket script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("token bucket script: unexpected reply %T", res)
	}
	allowed, _ := vals[0].(int64)
	remaining, err := replyFloat(vals[1])
	if err != nil {
		return false, 0, fmt.Errorf("token bucket script: %w", err)
	}
	return allowed == 1, remaining, nil
}

func (s *RedisStore) SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (bool, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.scriptTimeout)
	defer cancel()

	minScore := now.Add(-window).UnixMicro()
	res, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		minScore, limit, now.UnixMicro(), strconv.FormatInt(now.UnixNano(), 10),
		(2 * window).Milliseconds()).Result()
	if err != nil {
		return false, 0, fmt.Errorf("sliding window script: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return false, 0, fmt.Errorf("sliding window script: unexpected reply %T", res)
	}
	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	return allowed == 1, remaining, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func replyFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case string:
		return strconv.ParseFloat(t, 64)
	case int64:
		return float64(t), nil
	default:
		return 0, fmt.Errorf("unexpected numeric reply %T", v)
	}
}
