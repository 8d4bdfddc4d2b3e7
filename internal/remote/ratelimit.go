package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimiter decides whether a request from key may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// InMemoryRateLimiter keeps one token bucket per key. Suitable for a single instance.
type InMemoryRateLimiter struct {
	rate  rate.Limit
	burst int

	limiters   sync.Map // map[string]*rate.Limiter
	lastAccess sync.Map // map[string]time.Time
	maxAge     time.Duration
}

// NewInMemoryRateLimiter creates a limiter allowing rps requests per second per key with
// bursts up to burst.
func NewInMemoryRateLimiter(rps float64, burst int) *InMemoryRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &InMemoryRateLimiter{rate: rate.Limit(rps), burst: burst, maxAge: 10 * time.Minute}
}

// Allow reports whether key may make another request now.
func (l *InMemoryRateLimiter) Allow(ctx context.Context, key string) bool {
	now := time.Now().UTC()
	l.lastAccess.Store(key, now)
	return l.getLimiter(key).AllowN(now, 1)
}

func (l *InMemoryRateLimiter) getLimiter(key string) *rate.Limiter {
	if limiter, ok := l.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	return actual.(*rate.Limiter)
}

// Sweep drops limiters idle for longer than ten minutes.
func (l *InMemoryRateLimiter) Sweep() int {
	cutoff := time.Now().UTC().Add(-l.maxAge)
	removed := 0
	l.lastAccess.Range(func(key, value any) bool {
		if value.(time.Time).Before(cutoff) {
			l.limiters.Delete(key)
			l.lastAccess.Delete(key)
			removed++
		}
		return true
	})
	return removed
}

// RedisRateLimiter shares a fixed one-second window per key across server instances.
type RedisRateLimiter struct {
	client *redis.Client
	limit  int64
	prefix string
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisRateLimiter connects to redisURL and allows limit requests per key per second.
func NewRedisRateLimiter(ctx context.Context, redisURL string, limit int, logger *slog.Logger) (*RedisRateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			_ = cerr
		}
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisRateLimiter{client: client, limit: int64(limit), prefix: "drillog:rl:", logger: logger, now: time.Now}, nil
}

// Allow counts the request in the current window. Redis errors let the request through.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	window := l.now().Unix()
	k := l.prefix + key + ":" + strconv.FormatInt(window, 10)

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		l.logger.Warn("rate limit check failed", "error", err)
		return true
	}
	return incr.Val() <= l.limit
}

// Close closes the Redis client.
func (l *RedisRateLimiter) Close() error {
	return l.client.Close()
}
