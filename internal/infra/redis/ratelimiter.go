package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/campaign-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultSendsPerWindow int64 = 30
	defaultWindow               = time.Second

	limiterNamespace = "campaign-engine:throttle"
	minRetryDelay    = 5 * time.Millisecond
)

// reserveScript counts one send against the current window. It returns -1
// when the send fits, otherwise the milliseconds left until the window key
// expires.
var reserveScript = goredis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
if used <= tonumber(ARGV[1]) then
  return -1
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  return 0
end
return ttl
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter caps sends per transport across every worker process that
// shares the Redis instance. Windows are fixed and aligned to the clock.
type RedisRateLimiter struct {
	client *goredis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), defaultWindow, time.Now, sleepWithContext)
}

func newRedisRateLimiter(
	client *goredis.Client,
	limit int64,
	window time.Duration,
	nowFn func() time.Time,
	sleepFn func(ctx context.Context, d time.Duration) error,
) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if limit <= 0 {
		limit = defaultSendsPerWindow
	}
	if window < time.Millisecond {
		window = defaultWindow
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}

	return &RedisRateLimiter{
		client: client,
		limit:  limit,
		window: window,
		now:    nowFn,
		sleep:  sleepFn,
	}, nil
}

func (r *RedisRateLimiter) Allow(ctx context.Context, transport string) (bool, error) {
	delay, err := r.reserve(ctx, transport)
	if err != nil {
		return false, err
	}
	return delay < 0, nil
}

// Wait blocks until a send slot is free in the current window, sleeping for
// whatever remains of a full window between attempts.
func (r *RedisRateLimiter) Wait(ctx context.Context, transport string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		delay, err := r.reserve(ctx, transport)
		if err != nil {
			return err
		}
		if delay < 0 {
			return nil
		}

		if err := r.sleep(ctx, r.clampDelay(delay)); err != nil {
			return err
		}
	}
}

// reserve returns a negative duration when the send was admitted.
func (r *RedisRateLimiter) reserve(ctx context.Context, transport string) (time.Duration, error) {
	if r == nil || r.client == nil {
		return 0, fmt.Errorf("rate limiter is not initialized")
	}

	name := normalizeTransport(transport)
	if name == "" {
		return 0, fmt.Errorf("rate limit key is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	key := r.windowKey(name, r.now())
	remaining, err := reserveScript.Run(ctx, r.client, []string{key}, r.limit, r.window.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to evaluate rate limit for %s: %w", name, err)
	}
	if remaining < 0 {
		return -1, nil
	}
	return time.Duration(remaining) * time.Millisecond, nil
}

func (r *RedisRateLimiter) clampDelay(d time.Duration) time.Duration {
	if d < minRetryDelay {
		return minRetryDelay
	}
	if d > r.window {
		return r.window
	}
	return d
}

func (r *RedisRateLimiter) windowKey(transport string, now time.Time) string {
	slot := now.UTC().UnixMilli() / r.window.Milliseconds()
	return fmt.Sprintf("%s:%s:%d", limiterNamespace, transport, slot)
}

func normalizeTransport(transport string) string {
	return strings.ToLower(strings.TrimSpace(transport))
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
