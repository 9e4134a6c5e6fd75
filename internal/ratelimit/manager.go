package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/raevmood/devicefinder/internal/apperr"
	"github.com/raevmood/devicefinder/internal/config"
	"github.com/raevmood/devicefinder/internal/metrics"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const redisBreakerDuration = 30 * time.Second

// SettingsProvider supplies the latest settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

type redisConfig struct {
	addr     string
	password string
	prefix   string
	db       int
}

// Manager selects a limiter backend and enforces per-user call budgets.
type Manager struct {
	provider       SettingsProvider
	nowFn          func() time.Time
	memoryLimiter  *MemoryLimiter
	newRedisClient RedisClientFactory
	mu             sync.Mutex
	redisLimiter   *RedisLimiter
	redisCfg       redisConfig
	breakerUntil   time.Time
}

// NewManager constructs a Manager with default dependencies when nil.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newRedisClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = NewSettingsProvider(SettingsConfig{
			Limit:  config.DefaultMaxCalls,
			Window: time.Duration(config.DefaultWindowMinutes) * time.Minute,
		})
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newRedisClient == nil {
		newRedisClient = redis.NewClient
	}
	return &Manager{
		provider:       provider,
		nowFn:          nowFn,
		memoryLimiter:  NewMemoryLimiter(),
		newRedisClient: newRedisClient,
	}
}

// Admit records one outbound model call for userID when the rolling window
// has room. A denied Result carries RetryAfter.
func (m *Manager) Admit(ctx context.Context, userID uint64) (Result, error) {
	return m.check(ctx, KeyForUser(userID), true)
}

// Require admits userID or returns *apperr.RateLimitError.
func (m *Manager) Require(ctx context.Context, userID uint64) error {
	if userID == 0 {
		return apperr.ErrUnauthenticated
	}
	result, errAdmit := m.Admit(ctx, userID)
	if errAdmit != nil {
		return errAdmit
	}
	if !result.Allowed {
		return apperr.NewRateLimitError(result.RetryAfter)
	}
	return nil
}

// Status reports userID's remaining budget without recording a call.
func (m *Manager) Status(ctx context.Context, userID uint64) (Result, error) {
	return m.check(ctx, KeyForUser(userID), false)
}

func (m *Manager) check(ctx context.Context, key string, record bool) (Result, error) {
	if m == nil || key == "" {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()
	cfg := m.provider()
	if cfg.Limit <= 0 {
		return Result{Allowed: true}, nil
	}

	if cfg.RedisEnabled {
		if result, ok := m.checkRedis(ctx, key, now, cfg, record); ok {
			observe("redis", result, record)
			return result, nil
		}
	}
	// The memory log does not see Redis admissions, so the limit holds per
	// backend across a breaker transition.
	var (
		result   Result
		errCheck error
	)
	if record {
		result, errCheck = m.memoryLimiter.Allow(ctx, key, cfg.Limit, cfg.Window, now)
	} else {
		result, errCheck = m.memoryLimiter.Peek(ctx, key, cfg.Limit, cfg.Window, now)
	}
	if errCheck == nil {
		observe("memory", result, record)
	}
	return result, errCheck
}

func observe(backend string, result Result, record bool) {
	if !record {
		return
	}
	outcome := "allowed"
	if !result.Allowed {
		outcome = "denied"
	}
	metrics.RateLimitDecisions.WithLabelValues(backend, outcome).Inc()
}

// StartSweeper periodically forgets idle in-memory keys until ctx ends.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	if m == nil {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cfg := m.provider()
				if removed := m.memoryLimiter.Sweep(cfg.Window, m.nowFn()); removed > 0 {
					log.Debugf("rate limit: swept %d idle keys", removed)
				}
			}
		}
	}()
}

func (m *Manager) checkRedis(ctx context.Context, key string, now time.Time, cfg SettingsConfig, record bool) (Result, bool) {
	if m.isBreakerActive(now) {
		return Result{}, false
	}
	limiter, errEnsure := m.ensureRedis(ctx, cfg, now)
	if errEnsure != nil {
		m.tripBreaker(errEnsure, now)
		return Result{}, false
	}
	if limiter == nil {
		return Result{}, false
	}
	var (
		result   Result
		errCheck error
	)
	if record {
		result, errCheck = limiter.Allow(ctx, key, cfg.Limit, cfg.Window, now)
	} else {
		result, errCheck = limiter.Peek(ctx, key, cfg.Limit, cfg.Window, now)
	}
	if errCheck != nil {
		m.tripBreaker(errCheck, now)
		return Result{}, false
	}
	return result, true
}

func (m *Manager) isBreakerActive(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.breakerUntil.IsZero() {
		return false
	}
	if now.Before(m.breakerUntil) {
		return true
	}
	m.breakerUntil = time.Time{}
	return false
}

func (m *Manager) tripBreaker(err error, now time.Time) {
	if err == nil || m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.breakerUntil.IsZero() && now.Before(m.breakerUntil) {
		return
	}
	m.breakerUntil = now.Add(redisBreakerDuration)
	log.WithError(err).Warn("rate limit: redis unavailable, falling back to memory")
}

func (m *Manager) ensureRedis(ctx context.Context, cfg SettingsConfig, _ time.Time) (*RedisLimiter, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	nextCfg := redisConfig{
		addr:     addr,
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if nextCfg.db < 0 {
		nextCfg.db = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.redisLimiter != nil && m.redisCfg == nextCfg {
		return m.redisLimiter, nil
	}
	if m.redisLimiter != nil {
		_ = m.redisLimiter.client.Close()
		m.redisLimiter = nil
	}

	client := m.newRedisClient(&redis.Options{
		Addr:     nextCfg.addr,
		Password: nextCfg.password,
		DB:       nextCfg.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.redisLimiter = NewRedisLimiter(client, nextCfg.prefix)
	m.redisCfg = nextCfg
	return m.redisLimiter, nil
}

// Close releases the Redis client, if one was opened.
func (m *Manager) Close() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.redisLimiter == nil {
		return nil
	}
	errClose := m.redisLimiter.client.Close()
	m.redisLimiter = nil
	return errClose
}
