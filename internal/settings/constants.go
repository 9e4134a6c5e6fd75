package settings

// DB config keys for runtime-tunable settings.
const (
	// RateLimitMaxCallsKey overrides the per-user call budget per window.
	RateLimitMaxCallsKey = "RATE_LIMIT_MAX_CALLS"
	// RateLimitWindowMinutesKey overrides the rolling window length in minutes.
	RateLimitWindowMinutesKey = "RATE_LIMIT_WINDOW_MINUTES"
	// RateLimitRedisEnabledKey toggles Redis-backed rate limiting.
	RateLimitRedisEnabledKey = "RATE_LIMIT_REDIS_ENABLED"
	// RateLimitRedisAddrKey defines the Redis address for rate limiting.
	RateLimitRedisAddrKey = "RATE_LIMIT_REDIS_ADDR"
	// RateLimitRedisPasswordKey defines the Redis password for rate limiting.
	RateLimitRedisPasswordKey = "RATE_LIMIT_REDIS_PASSWORD"
	// RateLimitRedisDBKey defines the Redis DB index for rate limiting.
	RateLimitRedisDBKey = "RATE_LIMIT_REDIS_DB"
	// RateLimitRedisPrefixKey defines the Redis key prefix for rate limiting.
	RateLimitRedisPrefixKey = "RATE_LIMIT_REDIS_PREFIX"
)
