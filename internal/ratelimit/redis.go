package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisWindowScript evicts, counts and optionally records in one round trip.
// KEYS[1] log key; ARGV: now ms, cutoff ms, limit, member, window ms, record flag.
// Returns {allowed, count, oldest score}.
var redisWindowScript = redis.NewScript(`
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[2])
local count = redis.call("ZCARD", KEYS[1])
local limit = tonumber(ARGV[3])
local allowed = 0
if count < limit then
  allowed = 1
  if ARGV[6] == "1" then
    redis.call("ZADD", KEYS[1], ARGV[1], ARGV[4])
    redis.call("PEXPIRE", KEYS[1], ARGV[5])
    count = count + 1
  end
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
local oldestScore = tonumber(ARGV[1])
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// RedisLimiter implements a sliding-window log backed by Redis sorted sets.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter constructs a RedisLimiter.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	return &RedisLimiter{
		client: client,
		prefix: strings.TrimSpace(prefix),
	}
}

// Allow records now for key when fewer than limit calls fall in the window.
func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	return l.run(ctx, key, limit, window, now, true)
}

// Peek reports the current window state for key without recording.
func (l *RedisLimiter) Peek(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Result, error) {
	return l.run(ctx, key, limit, window, now, false)
}

func (l *RedisLimiter) run(ctx context.Context, key string, limit int, window time.Duration, now time.Time, record bool) (Result, error) {
	if limit <= 0 || window <= 0 || key == "" || l == nil || l.client == nil {
		return Result{Allowed: true}, nil
	}
	nowMs := now.UnixMilli()
	windowMs := window.Milliseconds()
	recordFlag := "0"
	if record {
		recordFlag = "1"
	}
	args := []any{
		strconv.FormatInt(nowMs, 10),
		strconv.FormatInt(nowMs-windowMs, 10),
		strconv.Itoa(limit),
		strconv.FormatInt(nowMs, 10) + "-" + uuid.NewString(),
		strconv.FormatInt(windowMs, 10),
		recordFlag,
	}
	res, errEval := redisWindowScript.Run(ctx, l.client, []string{l.buildKey(key)}, args...).Result()
	if errEval != nil {
		return Result{}, errEval
	}
	values, ok := res.([]any)
	if !ok || len(values) != 3 {
		return Result{}, errors.New("rate limit redis: unexpected response shape")
	}
	allowed, errAllowed := toInt64(values[0])
	count, errCount := toInt64(values[1])
	oldestMs, errOldest := toInt64(values[2])
	if err := errors.Join(errAllowed, errCount, errOldest); err != nil {
		return Result{}, err
	}

	oldest := time.UnixMilli(oldestMs)
	result := Result{
		Allowed: allowed == 1,
		Limit:   limit,
		Reset:   oldest.Add(window),
	}
	if result.Allowed {
		result.Remaining = limit - int(count)
		if result.Remaining < 0 {
			result.Remaining = 0
		}
		return result, nil
	}
	result.RetryAfter = retryAfter(oldest, window, now)
	return result, nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case uint64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("rate limit redis: unexpected value type %T", v)
	}
}

func (l *RedisLimiter) buildKey(key string) string {
	prefix := strings.TrimSpace(l.prefix)
	if prefix == "" {
		return key
	}
	return prefix + ":" + key
}
