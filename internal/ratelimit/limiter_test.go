package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testLimiter(t *testing.T, capacity int, refill float64) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, capacity, refill, time.Minute), mr
}

func TestLimiterAllowsBurstThenRejects(t *testing.T) {
	limiter, _ := testLimiter(t, 3, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.Allow(ctx, "client-a")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}

	allowed, remaining, err := limiter.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("allow after burst: %v", err)
	}
	if allowed {
		t.Error("request beyond capacity should be rejected")
	}
	if remaining >= 1 {
		t.Errorf("remaining = %v, want < 1", remaining)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter, _ := testLimiter(t, 1, 0)
	ctx := context.Background()

	if allowed, _, _ := limiter.Allow(ctx, "client-a"); !allowed {
		t.Fatal("first request for client-a should pass")
	}
	if allowed, _, _ := limiter.Allow(ctx, "client-a"); allowed {
		t.Fatal("second request for client-a should be rejected")
	}
	if allowed, _, _ := limiter.Allow(ctx, "client-b"); !allowed {
		t.Fatal("client-b has its own bucket")
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	limiter, _ := testLimiter(t, 1, 10)
	ctx := context.Background()

	if allowed, _, _ := limiter.Allow(ctx, "client-a"); !allowed {
		t.Fatal("first request should pass")
	}
	if allowed, _, _ := limiter.Allow(ctx, "client-a"); allowed {
		t.Fatal("bucket should be empty")
	}

	// 10 tokens/sec: 200ms restores the single-token capacity.
	time.Sleep(210 * time.Millisecond)

	if allowed, _, _ := limiter.Allow(ctx, "client-a"); !allowed {
		t.Fatal("bucket should have refilled")
	}
}
