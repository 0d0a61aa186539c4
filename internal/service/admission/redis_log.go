package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisLog is an AttemptLog backed by one Redis sorted set per identity key,
// scored by attempt time in unix milliseconds. It shares attempt state
// across instances and lets Redis expire idle keys, so it has none of the
// unbounded-growth caveat of MemoryLog.
//
// Trim-and-count runs as a single Lua script so that concurrent checks for
// the same identity observe a consistent view (same pattern as a GET → check
// → INCR race, which a plain pipeline would not close).
type RedisLog struct {
	client     *redis.Client
	keyPrefix  string
	keyTTL     time.Duration
	countSince *redis.Script
}

// Lua script: remove members at or before the window start, then return the
// retained cardinality and the oldest retained score.
const countSinceLuaScript = `
local key = KEYS[1]
local windowStart = tonumber(ARGV[1])

redis.call("ZREMRANGEBYSCORE", key, "-inf", windowStart)

local count = redis.call("ZCARD", key)
if count == 0 then
    return {0, 0}
end

local oldest = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
return {count, tonumber(oldest[2])}
`

// NewRedisLog creates a Redis-backed attempt log. keyTTL bounds how long an
// idle identity's set survives; it should exceed the admission window.
func NewRedisLog(client *redis.Client, keyTTL time.Duration) *RedisLog {
	if keyTTL <= 0 {
		keyTTL = 2 * time.Hour
	}
	return &RedisLog{
		client:     client,
		keyPrefix:  "attempts:",
		keyTTL:     keyTTL,
		countSince: redis.NewScript(countSinceLuaScript),
	}
}

// NewRedisLogFromURL connects to Redis and returns a log, verifying the
// connection with a bounded ping.
func NewRedisLogFromURL(redisURL string, keyTTL time.Duration) (*RedisLog, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisLog(client, keyTTL), nil
}

// Client exposes the underlying Redis client so other components (locks)
// can share the connection pool.
func (l *RedisLog) Client() *redis.Client { return l.client }

func (l *RedisLog) RecordAttempt(ctx context.Context, key string, t time.Time) error {
	rkey := l.keyPrefix + key
	// Member carries a nonce so two attempts in the same millisecond both count.
	member := fmt.Sprintf("%d-%s", t.UnixMilli(), uuid.NewString()[:8])

	pipe := l.client.TxPipeline()
	pipe.ZAdd(ctx, rkey, redis.Z{Score: float64(t.UnixMilli()), Member: member})
	pipe.Expire(ctx, rkey, l.keyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	return nil
}

func (l *RedisLog) CountSince(ctx context.Context, key string, since time.Time) (int, time.Time, error) {
	result, err := l.countSince.Run(ctx, l.client,
		[]string{l.keyPrefix + key},
		since.UnixMilli(),
	).Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("count attempts: %w", err)
	}

	count := int(result[0].(int64))
	if count == 0 {
		return 0, time.Time{}, nil
	}
	oldestMs := result[1].(int64)
	return count, time.UnixMilli(oldestMs), nil
}

// Close closes the underlying Redis connection.
func (l *RedisLog) Close() error {
	return l.client.Close()
}
