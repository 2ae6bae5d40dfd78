package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// redisCooldown is how long rate checks stay on the in-process fallback
// after a Redis fault before Redis is tried again.
const redisCooldown = 30 * time.Second

// SettingsProvider supplies the latest rate limit settings snapshot.
type SettingsProvider func() SettingsConfig

// RedisClientFactory constructs a Redis client for the given options.
type RedisClientFactory func(options *redis.Options) *redis.Client

// redisOpts is the comparable subset of settings the Redis backend is built
// from; a change in any field forces a reconnect.
type redisOpts struct {
	addr     string
	password string
	prefix   string
	db       int
}

func optsFromSettings(cfg SettingsConfig) redisOpts {
	opts := redisOpts{
		addr:     strings.TrimSpace(cfg.RedisAddr),
		password: strings.TrimSpace(cfg.RedisPassword),
		prefix:   strings.TrimSpace(cfg.RedisPrefix),
		db:       cfg.RedisDB,
	}
	if opts.db < 0 {
		opts.db = 0
	}
	return opts
}

// Manager picks the limiter backend for each rate check. Redis is preferred
// when the settings enable it so app servers share windows; any Redis fault
// starts a cooldown during which checks run against the in-process limiter
// instead of failing the request path.
type Manager struct {
	provider  SettingsProvider
	nowFn     func() time.Time
	fallback  Limiter
	newClient RedisClientFactory

	mu           sync.Mutex
	backend      *RedisLimiter
	backendOpts  redisOpts
	cooldownOver time.Time
}

// NewManager constructs a Manager. Nil arguments select the DB-backed
// settings snapshot, the wall clock, and the stock Redis client.
func NewManager(provider SettingsProvider, nowFn func() time.Time, newClient RedisClientFactory) *Manager {
	if provider == nil {
		provider = LoadSettingsConfig
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if newClient == nil {
		newClient = redis.NewClient
	}
	return &Manager{
		provider:  provider,
		nowFn:     nowFn,
		fallback:  NewMemoryLimiter(),
		newClient: newClient,
	}
}

// Allow counts one hit for the key against the best available backend.
func (m *Manager) Allow(ctx context.Context, key string, limit int) (Result, error) {
	if m == nil || key == "" || limit <= 0 {
		return Result{Allowed: true}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	now := m.nowFn()
	cfg := m.provider()

	if cfg.RedisEnabled && !m.coolingDown(now) {
		if backend, errBackend := m.redisBackend(ctx, cfg); errBackend != nil {
			m.startCooldown(errBackend, now)
		} else if result, errAllow := backend.Allow(ctx, key, limit, now); errAllow != nil {
			m.startCooldown(errAllow, now)
		} else {
			return result, nil
		}
	}
	return m.fallback.Allow(ctx, key, limit, now)
}

func (m *Manager) coolingDown(now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cooldownOver.IsZero() {
		return false
	}
	if now.Before(m.cooldownOver) {
		return true
	}
	m.cooldownOver = time.Time{}
	return false
}

func (m *Manager) startCooldown(cause error, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.cooldownOver.IsZero() && now.Before(m.cooldownOver) {
		return
	}
	m.cooldownOver = now.Add(redisCooldown)
	log.WithError(cause).Warn("rate limit: redis unavailable, falling back to memory")
}

// redisBackend returns a limiter connected per the current settings, reusing
// the existing client until the settings change.
func (m *Manager) redisBackend(ctx context.Context, cfg SettingsConfig) (*RedisLimiter, error) {
	opts := optsFromSettings(cfg)
	if opts.addr == "" {
		return nil, errors.New("rate limit redis: missing address")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend != nil && m.backendOpts == opts {
		return m.backend, nil
	}
	if m.backend != nil {
		_ = m.backend.client.Close()
		m.backend = nil
	}

	client := m.newClient(&redis.Options{
		Addr:     opts.addr,
		Password: opts.password,
		DB:       opts.db,
	})
	ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if errPing := client.Ping(ctxPing).Err(); errPing != nil {
		_ = client.Close()
		return nil, errPing
	}
	m.backend = NewRedisLimiter(client, opts.prefix)
	m.backendOpts = opts
	return m.backend, nil
}
