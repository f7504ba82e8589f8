// Rate limiting for the buy endpoint. Keys are client IPs; the in-memory
// limiter serves a single process and the Redis limiter shares buckets
// across replicas.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether a request keyed by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// MemoryLimiter keeps a token bucket per key.
type MemoryLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	ttl      time.Duration
	done     chan struct{}
	once     sync.Once
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter allows perMinute requests per key with the given burst.
func NewMemoryLimiter(perMinute, burst int) *MemoryLimiter {
	if burst < 1 {
		burst = 1
	}
	ml := &MemoryLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		ttl:      10 * time.Minute,
		done:     make(chan struct{}),
	}
	go ml.cleanupLoop()
	return ml
}

// Allow consumes one token for key.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	ml.mu.Lock()
	v, ok := ml.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(ml.limit, ml.burst)}
		ml.visitors[key] = v
	}
	v.lastSeen = time.Now()
	ml.mu.Unlock()
	return v.limiter.Allow(), nil
}

// Close stops the background cleanup.
func (ml *MemoryLimiter) Close() {
	ml.once.Do(func() { close(ml.done) })
}

func (ml *MemoryLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ml.done:
			return
		case <-ticker.C:
			ml.cleanup(time.Now())
		}
	}
}

func (ml *MemoryLimiter) cleanup(now time.Time) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	for key, v := range ml.visitors {
		if now.Sub(v.lastSeen) > ml.ttl {
			delete(ml.visitors, key)
		}
	}
}

// tokenBucketScript refills and consumes a bucket atomically.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, microsecond precision)
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, math.ceil(capacity / rate) + 60)
return allowed
`)

// RedisLimiter keeps token buckets in Redis.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	rate   float64 // tokens per second
	burst  int
	now    func() time.Time
}

// NewRedisLimiter allows perMinute requests per key with the given burst.
func NewRedisLimiter(client redis.Scripter, perMinute, burst int) *RedisLimiter {
	r := float64(perMinute) / 60.0
	if r <= 0 {
		r = 1.0 / 60.0
	}
	if burst < 1 {
		burst = 1
	}
	return &RedisLimiter{client: client, prefix: "outposts:buy:", rate: r, burst: burst, now: time.Now}
}

// Allow runs the bucket script for key.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(rl.now().UnixMicro()) / 1e6
	res, err := tokenBucketScript.Run(ctx, rl.client, []string{rl.prefix + key}, rl.rate, rl.burst, now).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return res == 1, nil
}

// clientIP returns the first X-Forwarded-For hop, else the remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}

// RateLimitMiddleware wraps a handler with rate limiting. Returns 429 if
// exceeded. A failing limiter lets the request through.
func RateLimitMiddleware(l Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		ok, err := l.Allow(r.Context(), ip)
		if err != nil {
			slog.Warn("rate limiter unavailable", "error", err)
			next(w, r)
			return
		}
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(60))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "RateLimited", Message: "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}
