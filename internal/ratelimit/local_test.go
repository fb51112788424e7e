package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalRateLimiterAllowBurst(t *testing.T) {
	t.Parallel()

	limiter := NewLocalRateLimiter(2)

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(context.Background(), "telegram")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("call %d should be allowed", i+1)
		}
	}

	allowed, err := limiter.Allow(context.Background(), "telegram")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Fatal("third call should be rejected")
	}
}

func TestLocalRateLimiterKeysAreIndependent(t *testing.T) {
	t.Parallel()

	limiter := NewLocalRateLimiter(1)

	if allowed, _ := limiter.Allow(context.Background(), "telegram"); !allowed {
		t.Fatal("telegram should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), " Webhook "); !allowed {
		t.Fatal("webhook should be allowed")
	}
	if allowed, _ := limiter.Allow(context.Background(), "TELEGRAM"); allowed {
		t.Fatal("telegram second call should be rejected")
	}
}

func TestLocalRateLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()

	limiter := NewLocalRateLimiter(1)
	if err := limiter.Wait(context.Background(), "telegram"); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := limiter.Wait(ctx, "telegram"); err == nil {
		t.Fatal("expected Wait() to fail before the next token")
	}
}

func TestLocalRateLimiterRejectsEmptyKey(t *testing.T) {
	t.Parallel()

	limiter := NewLocalRateLimiter(1)
	if _, err := limiter.Allow(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := limiter.Wait(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
