// Package ratelimit paces outbound calls to the market-data and news
// feeds with per-host token buckets, so one hot host cannot starve the
// others and the feeds never see us above their documented limits.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps one token bucket per upstream host.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	rps      float64
	burst    int
}

// NewLimiter returns a limiter that grants rps sustained requests per
// second with the given burst capacity, per host.
func NewLimiter(rps float64, burst int) *Limiter {
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
		burst:    burst,
	}
}

func (l *Limiter) hostLimiter(host string) *rate.Limiter {
	l.mu.RLock()
	limiter, ok := l.limiters[host]
	l.mu.RUnlock()
	if ok {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check after taking the write lock.
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	limiter = rate.NewLimiter(rate.Limit(l.rps), l.burst)
	l.limiters[host] = limiter
	return limiter
}

// Allow reports whether a request to the host may proceed right now.
func (l *Limiter) Allow(host string) bool {
	return l.hostLimiter(host).Allow()
}

// Wait blocks until a request to the host is allowed or the context is
// cancelled.
func (l *Limiter) Wait(ctx context.Context, host string) error {
	return l.hostLimiter(host).Wait(ctx)
}

// HostStats is the pacing state of one host bucket.
type HostStats struct {
	Host            string        `json:"host"`
	RPS             float64       `json:"rps"`
	Burst           int           `json:"burst"`
	TokensAvailable float64       `json:"tokens_available"`
	Delay           time.Duration `json:"delay"`
}

// Throttled reports whether the next request would have to wait.
func (s HostStats) Throttled() bool {
	return s.Delay > 0
}

// Stats returns the current state of every host bucket.
func (l *Limiter) Stats() map[string]HostStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := make(map[string]HostStats, len(l.limiters))
	for host, limiter := range l.limiters {
		// Reserve and immediately cancel to read the current delay
		// without consuming a token.
		res := limiter.Reserve()
		delay := res.Delay()
		res.Cancel()

		stats[host] = HostStats{
			Host:            host,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			Delay:           delay,
		}
	}
	return stats
}
