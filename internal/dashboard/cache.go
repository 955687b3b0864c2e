package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/fraudscope/internal/circuitbreaker"
	"github.com/mbd888/fraudscope/internal/logging"
	"github.com/mbd888/fraudscope/internal/metrics"
	"github.com/mbd888/fraudscope/internal/retry"
	"github.com/redis/go-redis/v9"
)

// Cache holds serialized aggregates. Invalidate drops every entry; it is
// called after each stored prediction.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Invalidate(ctx context.Context)
}

// MemoryCache is an in-process Cache with a fixed TTL.
type MemoryCache struct {
	ttl     time.Duration
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache creates a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte) error {
	if c.ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Invalidate(context.Context) {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// redisBreakerKey names the Redis circuit in metrics and logs.
const redisBreakerKey = "dashboard_redis"

// RedisCache shares aggregates between replicas. Calls go through a circuit
// breaker so an unreachable Redis costs nothing while the circuit is open.
// Invalidations that could not reach Redis are replayed before the next read.
type RedisCache struct {
	rdb     *redis.Client
	prefix  string
	ttl     time.Duration
	logger  *slog.Logger
	breaker *circuitbreaker.Breaker
	stale   atomic.Bool
}

// RedisOption configures a RedisCache.
type RedisOption func(*RedisCache)

// WithPrefix sets the key prefix (default "fraudscope:dashboard").
func WithPrefix(prefix string) RedisOption {
	return func(c *RedisCache) { c.prefix = strings.Trim(prefix, ":") }
}

// WithBreaker replaces the default breaker (5 failures, 30s cooldown).
func WithBreaker(b *circuitbreaker.Breaker) RedisOption {
	return func(c *RedisCache) { c.breaker = b }
}

// NewRedisCache wraps an existing client.
func NewRedisCache(rdb *redis.Client, ttl time.Duration, logger *slog.Logger, opts ...RedisOption) *RedisCache {
	c := &RedisCache{rdb: rdb, prefix: "fraudscope:dashboard", ttl: ttl, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = circuitbreaker.New(5, 30*time.Second)
	}
	c.breaker.OnTransition(func(key string, from, to circuitbreaker.State) {
		c.logger.Warn("redis circuit changed state", "key", key, "from", from.String(), "to", to.String())
	})
	return c
}

// DialRedis parses a redis:// URL and pings the server, retrying while it
// comes up.
func DialRedis(ctx context.Context, url string, logger *slog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	err = retry.Connect(func(attempt int, err error, wait time.Duration) {
		logger.Warn("redis not reachable, retrying", "attempt", attempt, "wait", wait, "error", err)
	}).Do(ctx, func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *RedisCache) key(k string) string { return c.prefix + ":" + k }
func (c *RedisCache) indexKey() string    { return c.prefix + ":keys" }

func isMiss(err error) bool { return errors.Is(err, redis.Nil) }

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.stale.Load() {
		if err := c.breaker.Do(redisBreakerKey, func() error { return c.invalidate(ctx) }); err != nil {
			return nil, false, err
		}
		c.stale.Store(false)
		return nil, false, nil
	}

	var v []byte
	err := c.breaker.Do(redisBreakerKey, func() error {
		var err error
		v, err = c.rdb.Get(ctx, c.key(key)).Bytes()
		return err
	}, isMiss)
	if isMiss(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) error {
	if c.ttl <= 0 || c.stale.Load() {
		return nil
	}
	return c.breaker.Do(redisBreakerKey, func() error {
		pipe := c.rdb.Pipeline()
		pipe.Set(ctx, c.key(key), value, c.ttl)
		pipe.SAdd(ctx, c.indexKey(), c.key(key))
		_, err := pipe.Exec(ctx)
		return err
	})
}

func (c *RedisCache) Invalidate(ctx context.Context) {
	err := c.breaker.Do(redisBreakerKey, func() error { return c.invalidate(ctx) })
	if err != nil {
		c.stale.Store(true)
		if !errors.Is(err, circuitbreaker.ErrOpen) {
			c.logger.Warn("dashboard cache invalidate failed", "error", err)
		}
	}
}

func (c *RedisCache) invalidate(ctx context.Context) error {
	keys, err := c.rdb.SMembers(ctx, c.indexKey()).Result()
	if err != nil {
		return err
	}
	keys = append(keys, c.indexKey())
	return c.rdb.Del(ctx, keys...).Err()
}

// Ping reports whether Redis is reachable. It bypasses the breaker so the
// health check sees the real state.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// cached returns the value under key, computing and storing it on a miss.
// Cache failures fall through to compute.
func cached(ctx context.Context, c Cache, key string, compute func() ([]byte, error)) ([]byte, error) {
	if c == nil {
		return compute()
	}
	v, ok, err := c.Get(ctx, key)
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.DashboardCacheTotal.WithLabelValues("bypass").Inc()
	case err != nil:
		metrics.DashboardCacheTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Warn("dashboard cache read failed", "key", key, "error", err)
	case ok:
		metrics.DashboardCacheTotal.WithLabelValues("hit").Inc()
		return v, nil
	default:
		metrics.DashboardCacheTotal.WithLabelValues("miss").Inc()
	}

	v, err = compute()
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, v); err != nil && !errors.Is(err, circuitbreaker.ErrOpen) {
		metrics.DashboardCacheTotal.WithLabelValues("error").Inc()
		logging.L(ctx).Warn("dashboard cache write failed", "key", key, "error", err)
	}
	return v, nil
}
