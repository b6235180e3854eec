// Package ratelimit provides fixed-window request limiting backed by Redis,
// with an in-process fallback.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/diagnosis/museum-visits/internal/http/response"
	"github.com/diagnosis/museum-visits/pkg/logger"
)

type Limiter interface {
	// Allow counts one hit against key and reports whether it is within limit for the window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Config defines one limited route group.
type Config struct {
	Requests int
	Window   time.Duration
	Prefix   string                         // namespaces keys, e.g. "login"
	KeyFunc  func(r *http.Request) []string // defaults to the client IP
	SkipFunc func(r *http.Request) bool
}

// Middleware rejects requests over the limit with 429. Limiter errors fail open.
func Middleware(l Limiter, cfg Config) func(http.Handler) http.Handler {
	keyFunc := cfg.KeyFunc
	if keyFunc == nil {
		keyFunc = func(r *http.Request) []string { return []string{"ip:" + ClientIP(r)} }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if l == nil || (cfg.SkipFunc != nil && cfg.SkipFunc(r)) {
				next.ServeHTTP(w, r)
				return
			}
			for _, key := range keyFunc(r) {
				ok, err := l.Allow(r.Context(), cfg.Prefix+":"+key, cfg.Requests, cfg.Window)
				if err != nil {
					logger.WarnContext(r.Context(), "Rate limit check failed", "error", err)
					continue
				}
				if !ok {
					w.Header().Set("Retry-After", fmt.Sprintf("%d", int(cfg.Window.Seconds())))
					response.WriteError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", "rate_limited")
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the caller address, preferring proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func hashKey(key string) string {
	return fmt.Sprintf("ratelimit:%x", sha256.Sum256([]byte(key)))
}

type RedisLimiter struct {
	rdb *redis.Client
}

func NewRedis(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	k := hashKey(key)
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, fmt.Errorf("rate limit check: %w", err)
	}
	return incr.Val() <= int64(limit), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return l.rdb.Del(ctx, hashKey(key)).Err()
}

// MemoryLimiter keeps windows in process. Counts are per instance.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]window
	now     func() time.Time
}

type window struct {
	start time.Time
	count int
}

func NewMemory() *MemoryLimiter {
	return &MemoryLimiter{windows: make(map[string]window), now: time.Now}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int, win time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w := l.windows[key]
	if now.Sub(w.start) >= win {
		w = window{start: now}
	}
	w.count++
	l.windows[key] = w

	// drop stale windows once the map grows
	if len(l.windows) > 10000 {
		for k, v := range l.windows {
			if now.Sub(v.start) >= win {
				delete(l.windows, k)
			}
		}
	}
	return w.count <= limit, nil
}

// Connect returns a Redis limiter when url is reachable and an in-process one otherwise.
func Connect(ctx context.Context, url, password string, db int) (Limiter, func()) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		logger.Warn("Invalid REDIS_URL, using in-process rate limiting", "error", err)
		return NewMemory(), func() {}
	}
	if password != "" {
		opts.Password = password
	}
	opts.DB = db
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		logger.Warn("Redis unavailable, using in-process rate limiting", "error", err)
		return NewMemory(), func() {}
	}
	return NewRedis(rdb), func() { _ = rdb.Close() }
}
