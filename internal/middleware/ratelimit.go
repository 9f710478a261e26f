package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/agents-liminals/liminal/internal/metrics"
)

// slidingWindowScript records a hit unless the window is full.
// KEYS[1] window key. ARGV: now ms, window ms, max, member.
// Returns {allowed, count after, oldest score in window}.
var slidingWindowScript = redis.NewScript(`
local key    = KEYS[1]
local now    = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max    = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, window + 1000)

local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then
  oldest = tonumber(first[2])
end
return {allowed, count, oldest}
`)

// KeyFunc picks the identity a request is counted under.
type KeyFunc func(r *http.Request) string

// RateLimiter is a Redis sliding-window limiter. Each limiter has a
// scope so independent limits never share keys. Only admitted requests
// occupy the window.
type RateLimiter struct {
	client    redis.Scripter
	scope     string
	maxReqs   int
	windowSec int
	key       KeyFunc
	now       func() time.Time
}

// RateLimiterOption configures a RateLimiter.
type RateLimiterOption func(*RateLimiter)

// WithKeyFunc counts requests per key instead of per client IP. An
// empty key falls back to the IP.
func WithKeyFunc(fn KeyFunc) RateLimiterOption {
	return func(rl *RateLimiter) { rl.key = fn }
}

// NewRateLimiter allows maxReqs per windowSec seconds for each client
// within scope.
func NewRateLimiter(client redis.Scripter, scope string, maxReqs, windowSec int, opts ...RateLimiterOption) *RateLimiter {
	rl := &RateLimiter{
		client:    client,
		scope:     scope,
		maxReqs:   maxReqs,
		windowSec: windowSec,
		key:       ClientIP,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

type windowState struct {
	allowed    bool
	remaining  int
	retryAfter time.Duration
}

// Middleware enforces the limit. When Redis fails the request is let
// through.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := rl.key(r)
		if id == "" {
			id = ClientIP(r)
		}

		state, err := rl.hit(r.Context(), "liminal:ratelimit:"+rl.scope+":"+id)
		if err != nil {
			slog.Warn("rate limiter: redis error, failing open", "error", err, "scope", rl.scope)
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.maxReqs))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(state.remaining))

		if !state.allowed {
			metrics.RateLimitedTotal.WithLabelValues(rl.scope).Inc()
			secs := int(math.Ceil(state.retryAfter.Seconds()))
			w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests","reason":"rate_limited"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) hit(ctx context.Context, key string) (windowState, error) {
	now := rl.now().UnixMilli()
	window := int64(rl.windowSec) * 1000
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()

	res, err := slidingWindowScript.Run(ctx, rl.client, []string{key}, now, window, rl.maxReqs, member).Int64Slice()
	if err != nil {
		return windowState{}, fmt.Errorf("running rate limit script: %w", err)
	}
	if len(res) != 3 {
		return windowState{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}

	return windowState{
		allowed:    res[0] == 1,
		remaining:  max(rl.maxReqs-int(res[1]), 0),
		retryAfter: time.Duration(res[2]+window-now) * time.Millisecond,
	}, nil
}

// ClientIP returns the caller's address. Behind RealIP that is the
// address a trusted proxy reported, otherwise the TCP peer.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
