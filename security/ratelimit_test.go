package security

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// newTestRateLimiter returns a limiter driven by a manual clock
func newTestRateLimiter(t *testing.T, cfg RateLimitConfig) (*RateLimiter, *time.Time) {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	return rl, &now
}

func TestNewRateLimiter_Defaults(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 10})
	defer rl.Stop()

	if rl.burst != 1 {
		t.Errorf("burst = %d, want 1", rl.burst)
	}
	if rl.maxEntries != DefaultRateLimitMaxEntries {
		t.Errorf("maxEntries = %d, want %d", rl.maxEntries, DefaultRateLimitMaxEntries)
	}
	if rl.idleTimeout != DefaultRateLimitIdleTimeout {
		t.Errorf("idleTimeout = %v, want %v", rl.idleTimeout, DefaultRateLimitIdleTimeout)
	}
	if rl.logger == nil {
		t.Error("logger should not be nil")
	}
}

func TestRateLimiter_Allow(t *testing.T) {
	rl, now := newTestRateLimiter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 3})

	for i := 0; i < 3; i++ {
		if ok, _ := rl.Allow("10.0.0.1"); !ok {
			t.Fatalf("Allow() request %d should be allowed", i+1)
		}
	}

	ok, retryAfter := rl.Allow("10.0.0.1")
	if ok {
		t.Fatal("Allow() should return false once the burst is spent")
	}
	if retryAfter <= 0 || retryAfter > time.Second {
		t.Errorf("retryAfter = %v, want (0, 1s]", retryAfter)
	}

	// A rejected request must not consume a token
	*now = now.Add(time.Second)
	if ok, _ := rl.Allow("10.0.0.1"); !ok {
		t.Error("Allow() should succeed after the bucket refills")
	}
}

func TestRateLimiter_SeparateIdentifiers(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 1})

	if ok, _ := rl.Allow("a"); !ok {
		t.Fatal("first request for a should be allowed")
	}
	if ok, _ := rl.Allow("a"); ok {
		t.Error("second request for a should be limited")
	}
	if ok, _ := rl.Allow("b"); !ok {
		t.Error("b has its own bucket")
	}
}

func TestRateLimiter_LRUEviction(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 1, MaxEntries: 3})

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("ip-%d", i))
	}

	stats := rl.Stats()
	if stats.CurrentEntries != 3 {
		t.Errorf("CurrentEntries = %d, want 3", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 2 {
		t.Errorf("TotalEvictions = %d, want 2", stats.TotalEvictions)
	}

	// ip-0 was evicted, so it starts with a fresh bucket
	if ok, _ := rl.Allow("ip-0"); !ok {
		t.Error("evicted identifier should get a fresh bucket")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl, now := newTestRateLimiter(t, RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             1,
		IdleTimeout:       time.Minute,
	})

	rl.Allow("old")
	*now = now.Add(2 * time.Minute)
	rl.Allow("fresh")

	rl.Cleanup()

	stats := rl.Stats()
	if stats.CurrentEntries != 1 {
		t.Errorf("CurrentEntries = %d, want 1", stats.CurrentEntries)
	}
	if stats.TotalCleanups != 1 {
		t.Errorf("TotalCleanups = %d, want 1", stats.TotalCleanups)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1})
	rl.Stop()
	rl.Stop()
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl, _ := newTestRateLimiter(t, RateLimitConfig{RequestsPerSecond: 1, Burst: 10})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := rl.Allow("shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 10 {
		t.Errorf("allowed = %d, want 10", allowed)
	}
}
