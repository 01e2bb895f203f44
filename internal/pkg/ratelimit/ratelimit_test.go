package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestLimiter_OnePerInterval(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	base := time.Now()
	now := base
	limiter := NewIntervalLimiter(rdb, "test:interval:", 2*time.Second)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	allowed, _, err := limiter.Allow(ctx, "client-a")
	if err != nil || !allowed {
		t.Fatalf("first request should pass: allowed=%v err=%v", allowed, err)
	}

	now = base.Add(500 * time.Millisecond)
	allowed, wait, err := limiter.Allow(ctx, "client-a")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if allowed {
		t.Fatalf("second request within 2s should be rejected")
	}
	if wait < time.Second || wait > 2*time.Second {
		t.Fatalf("unexpected retry-after %v", wait)
	}

	now = base.Add(2100 * time.Millisecond)
	allowed, _, err = limiter.Allow(ctx, "client-a")
	if err != nil || !allowed {
		t.Fatalf("request after interval should pass: allowed=%v err=%v", allowed, err)
	}
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewIntervalLimiter(rdb, "test:keys:", 2*time.Second)
	ctx := context.Background()

	for _, key := range []string{"client-a", "client-b"} {
		allowed, _, err := limiter.Allow(ctx, key)
		if err != nil || !allowed {
			t.Fatalf("%s first request should pass: allowed=%v err=%v", key, allowed, err)
		}
	}
	if allowed, _, _ := limiter.Allow(ctx, "client-a"); allowed {
		t.Fatalf("client-a should be limited")
	}
}

func TestLimiter_DisabledWhenRateZero(t *testing.T) {
	limiter := NewIntervalLimiter(nil, "", 0)
	for i := 0; i < 5; i++ {
		allowed, _, err := limiter.Allow(context.Background(), "any")
		if err != nil || !allowed {
			t.Fatalf("disabled limiter must always allow")
		}
	}
}

func TestLimiter_ConcurrentBurst(t *testing.T) {
	rdb := newMiniRedis(t)
	defer closeRedis(t, rdb)

	limiter := NewRedisRateLimiter(rdb, "test:burst:", 0.001, 5)
	var wg sync.WaitGroup
	var mu sync.Mutex
	success := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed, _, err := limiter.Allow(context.Background(), "shared")
			if err != nil {
				t.Errorf("allow: %v", err)
				return
			}
			if allowed {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 5 {
		t.Fatalf("expected exactly 5 admitted, got %d", success)
	}
}

func TestLimiter_RedisDown(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr(), MaxRetries: -1})
	defer closeRedis(t, rdb)
	s.Close()

	limiter := NewIntervalLimiter(rdb, "test:down:", time.Second)
	if _, _, err := limiter.Allow(context.Background(), "k"); err == nil {
		t.Fatalf("expected error when redis is unreachable")
	}
}

func newMiniRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	return redis.NewClient(&redis.Options{Addr: s.Addr()})
}

func closeRedis(t *testing.T, rdb *redis.Client) {
	t.Helper()
	if err := rdb.Close(); err != nil {
		t.Fatalf("close redis: %v", err)
	}
}
