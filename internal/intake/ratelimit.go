package intake

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter caps per-IP chunk uploads.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// RedisRateLimiter is a sliding-window limiter over a Redis sorted set,
// adapted from file.cheap's internal/api/ratelimit.go.
type RedisRateLimiter struct {
	client *redis.Client
	rate   int
	window time.Duration
	prefix string
}

func NewRedisRateLimiter(client *redis.Client, rate int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		rate:   rate,
		window: window,
		prefix: "intake:ratelimit:",
	}
}

var _ RateLimiter = (*RedisRateLimiter)(nil)

// Allow fails open: if Redis is unavailable the request proceeds, because
// the rate limiter must not cause the primary path to fail.
func (rl *RedisRateLimiter) Allow(ctx context.Context, key string) bool {
	if rl.client == nil {
		return true
	}

	now := time.Now().UnixNano()
	windowStart := now - int64(rl.window)
	redisKey := fmt.Sprintf("%s%s", rl.prefix, key)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart))
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now), Member: now})
	countCmd := pipe.ZCard(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return true
	}

	return countCmd.Val() <= int64(rl.rate)
}

// Middleware returns 429 once the caller's remote address trips the limit.
func Middleware(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(r.Context(), remoteIP(r)) {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	return r.RemoteAddr
}
