package regime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/market"
)

// IndexSource provides the latest readings for the tracked broad-market
// and volatility proxies. Implementations must return a typed error for
// unavailable or incomplete data rather than partial results.
type IndexSource interface {
	IndexReadings(ctx context.Context) (map[string]market.IndexReading, error)
}

// Config holds the regime classification thresholds.
type Config struct {
	// Indices are the broad-market proxies that must all read bullish
	// for a bullish composite.
	Indices []string `yaml:"indices"`

	// VolatilityProxy is the fear-gauge symbol whose level can force
	// the composite bearish.
	VolatilityProxy string `yaml:"volatility_proxy"`

	// MinChangePct is the day change (percent) at or above which an
	// index reads bullish; its negation reads bearish.
	MinChangePct float64 `yaml:"min_change_pct" validate:"gt=0"`

	// VolCeiling forces the composite bearish whenever the volatility
	// proxy level meets or exceeds it, regardless of index changes.
	VolCeiling float64 `yaml:"vol_ceiling" validate:"gt=0"`
}

// DefaultConfig returns the production thresholds: SPY and QQQ at
// +-0.30%, bearish override at VIX 25.
func DefaultConfig() Config {
	return Config{
		Indices:         []string{"SPY", "QQQ"},
		VolatilityProxy: "VIX",
		MinChangePct:    0.30,
		VolCeiling:      25.0,
	}
}

// Evaluator computes the market-wide regime snapshot once per scan
// cycle. The latest snapshot is retained for monitor-side reads.
type Evaluator struct {
	config Config
	source IndexSource

	mu      sync.RWMutex
	current *Snapshot
	history []Change
}

// NewEvaluator creates a regime evaluator over the given index source.
func NewEvaluator(source IndexSource, config Config) *Evaluator {
	return &Evaluator{
		config: config,
		source: source,
	}
}

// Evaluate fetches the tracked proxies and classifies the composite
// regime. A missing index or volatility reading is an error; the caller
// treats that cycle as fail-closed.
func (e *Evaluator) Evaluate(ctx context.Context) (*Snapshot, error) {
	readings, err := e.source.IndexReadings(ctx)
	if err != nil {
		return nil, fmt.Errorf("regime index readings: %w", err)
	}

	vol, ok := readings[e.config.VolatilityProxy]
	if !ok {
		return nil, fmt.Errorf("regime readings missing volatility proxy %s", e.config.VolatilityProxy)
	}

	snap := &Snapshot{
		Indices:  make(map[string]IndexState, len(e.config.Indices)),
		VolLevel: vol.Level,
		At:       time.Now().UTC(),
	}

	allBullish := true
	anyBearish := false
	for _, symbol := range e.config.Indices {
		reading, ok := readings[symbol]
		if !ok {
			return nil, fmt.Errorf("regime readings missing index %s", symbol)
		}
		state := e.classifyIndex(reading)
		snap.Indices[symbol] = state
		if state.Regime != Bullish {
			allBullish = false
		}
		if state.Regime == Bearish {
			anyBearish = true
		}
	}

	// The volatility override wins over any price action: ties at the
	// ceiling count as exceeded.
	snap.VolOverride = !market.Beneath(vol.Level, e.config.VolCeiling)

	switch {
	case snap.VolOverride:
		snap.Composite = Bearish
	case anyBearish:
		snap.Composite = Bearish
	case allBullish:
		snap.Composite = Bullish
	default:
		snap.Composite = Neutral
	}

	e.record(snap)

	log.Debug().
		Str("composite", snap.Composite.String()).
		Float64("vol_level", snap.VolLevel).
		Bool("vol_override", snap.VolOverride).
		Msg("Regime snapshot computed")

	return snap, nil
}

// Current returns the most recent snapshot, or nil before the first
// evaluation. Monitor ticks read this without forcing a refresh.
func (e *Evaluator) Current() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

// History returns recorded composite transitions, oldest first.
func (e *Evaluator) History() []Change {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Change, len(e.history))
	copy(out, e.history)
	return out
}

// TrackedSymbols lists every proxy the evaluator needs, volatility
// proxy included, sorted for deterministic fetching.
func (e *Evaluator) TrackedSymbols() []string {
	symbols := make([]string, 0, len(e.config.Indices)+1)
	symbols = append(symbols, e.config.Indices...)
	symbols = append(symbols, e.config.VolatilityProxy)
	sort.Strings(symbols)
	return symbols
}

func (e *Evaluator) classifyIndex(r market.IndexReading) IndexState {
	state := IndexState{Symbol: r.Symbol, ChangePct: r.ChangePct, Regime: Neutral}
	if !market.Beneath(r.ChangePct, e.config.MinChangePct) {
		state.Regime = Bullish
	} else if !market.Above(r.ChangePct, -e.config.MinChangePct) {
		state.Regime = Bearish
	}
	return state
}

func (e *Evaluator) record(snap *Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current != nil && e.current.Composite != snap.Composite {
		e.history = append(e.history, Change{
			At:   snap.At,
			From: e.current.Composite,
			To:   snap.Composite,
		})
		log.Info().
			Str("from", e.current.Composite.String()).
			Str("to", snap.Composite.String()).
			Msg("Regime transition")
	}
	e.current = snap
}
