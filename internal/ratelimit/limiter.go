package ratelimit

import "context"

// RateLimiter throttles outbound sends per transport key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
