package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLimiter_Allow(t *testing.T) {
	limiter := NewLimiter(2.0, 2) // 2 RPS, burst of 2

	if !limiter.Allow("feed.example.com") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("feed.example.com") {
		t.Error("Second request should be allowed")
	}

	// Third request should be blocked (no tokens available)
	if limiter.Allow("feed.example.com") {
		t.Error("Third request should be blocked")
	}
}

func TestLimiter_MultipleHosts(t *testing.T) {
	limiter := NewLimiter(1.0, 1)

	// Each host gets its own bucket.
	if !limiter.Allow("bars.example.com") {
		t.Error("First request to bars host should be allowed")
	}
	if !limiter.Allow("news.example.com") {
		t.Error("First request to news host should be allowed")
	}

	if limiter.Allow("bars.example.com") {
		t.Error("Second request to bars host should be blocked")
	}
	if limiter.Allow("news.example.com") {
		t.Error("Second request to news host should be blocked")
	}
}

func TestLimiter_WaitTimeout(t *testing.T) {
	limiter := NewLimiter(0.1, 1) // 10 second refill
	limiter.Allow("feed.example.com")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := limiter.Wait(ctx, "feed.example.com")
	elapsed := time.Since(start)

	if err == nil {
		t.Error("Wait should fail when the context expires first")
	}
	if elapsed > 150*time.Millisecond {
		t.Errorf("Wait should return with the context, took %v", elapsed)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	limiter := NewLimiter(100.0, 10)
	host := "feed.example.com"

	const numGoroutines = 50
	const requestsPerGoroutine = 5

	var allowed, blocked int64
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < requestsPerGoroutine; j++ {
				if limiter.Allow(host) {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&blocked, 1)
				}
			}
		}()
	}

	wg.Wait()

	total := allowed + blocked
	if total != int64(numGoroutines*requestsPerGoroutine) {
		t.Errorf("Total requests %d != expected %d", total, numGoroutines*requestsPerGoroutine)
	}
	if allowed < 10 {
		t.Errorf("Should allow at least the burst amount, allowed %d", allowed)
	}
	if blocked == 0 {
		t.Error("Should block some requests under this load")
	}
}

func TestLimiter_Stats(t *testing.T) {
	limiter := NewLimiter(5.0, 10)
	host := "feed.example.com"

	limiter.Allow(host)
	limiter.Allow(host)

	stats := limiter.Stats()
	hostStats, exists := stats[host]
	if !exists {
		t.Fatal("Stats should include the host")
	}
	if hostStats.Host != host {
		t.Errorf("Host stats should be for %s, got %s", host, hostStats.Host)
	}
	if hostStats.RPS != 5.0 {
		t.Errorf("RPS should be 5.0, got %f", hostStats.RPS)
	}
	if hostStats.Burst != 10 {
		t.Errorf("Burst should be 10, got %d", hostStats.Burst)
	}
	if hostStats.TokensAvailable >= 10 {
		t.Errorf("Tokens available should be < 10 after usage, got %f", hostStats.TokensAvailable)
	}
}
