// Package circuit puts a failure breaker in front of each upstream
// feed. A feed that keeps erroring trips its breaker and every call
// fails fast until the probe window reopens, which downstream code
// surfaces as data unavailability rather than a stalled scan.
package circuit

import (
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// minRequests is the sample size required before the error-rate trip
// condition applies.
const minRequests = 10

// Config tunes one breaker.
type Config struct {
	Name string `yaml:"name"`
	// MaxRequests is how many probe calls may pass while half-open.
	MaxRequests uint32 `yaml:"max_requests"`
	// Interval is the closed-state window over which counts accumulate
	// before resetting.
	Interval time.Duration `yaml:"interval"`
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `yaml:"timeout"`
	// ErrorRatePct trips the breaker once at least minRequests calls
	// have been seen in the window.
	ErrorRatePct float64 `yaml:"error_rate_pct"`
	// ConsecutiveFailures trips the breaker outright.
	ConsecutiveFailures uint32 `yaml:"consecutive_failures"`
}

// DefaultConfig returns the settings used for the production feeds.
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxRequests:         5,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ErrorRatePct:        30.0,
		ConsecutiveFailures: 3,
	}
}

// Breaker wraps calls to one upstream feed.
type Breaker struct {
	cb *gobreaker.CircuitBreaker
}

func New(cfg Config) *Breaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests >= minRequests {
				errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
				if errorRate >= cfg.ErrorRatePct {
					return true
				}
			}
			return counts.ConsecutiveFailures >= cfg.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit state changed")
		},
	}
	return &Breaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs fn through the breaker. While open it fails immediately
// and Unavailable(err) reports true for the returned error.
func (b *Breaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return b.cb.Execute(fn)
}

// Do is Execute for calls without a result.
func (b *Breaker) Do(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// Open reports whether the breaker currently rejects calls.
func (b *Breaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// Unavailable reports whether err came from the breaker itself rather
// than the wrapped call.
func Unavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// Status is a point-in-time view of one breaker for the status API.
type Status struct {
	Name                string  `json:"name"`
	State               string  `json:"state"`
	Requests            uint32  `json:"requests"`
	TotalFailures       uint32  `json:"total_failures"`
	ConsecutiveFailures uint32  `json:"consecutive_failures"`
	ErrorRatePct        float64 `json:"error_rate_pct"`
}

func (b *Breaker) Status() Status {
	counts := b.cb.Counts()
	var errorRate float64
	if counts.Requests > 0 {
		errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
	}
	return Status{
		Name:                b.cb.Name(),
		State:               b.cb.State().String(),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		ErrorRatePct:        errorRate,
	}
}
