package sector

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/indicator"
	"github.com/sawpanic/equityrun/internal/market"
)

// BarSource provides daily bars for the sector proxy ETFs.
type BarSource interface {
	LatestBars(ctx context.Context, symbol string, interval market.Interval, n int) ([]market.Bar, error)
}

// Config holds the sector classification thresholds.
type Config struct {
	// Proxies maps sector identifier to its proxy ETF symbol.
	Proxies map[string]string `yaml:"proxies"`

	// MinChangePct is the day change (percent) at or above which a
	// sector reads bullish.
	MinChangePct float64 `yaml:"min_change_pct" validate:"gt=0"`

	// MinVolumeRatio is the required proxy volume versus its trailing
	// average; a rally nobody participates in does not count.
	MinVolumeRatio float64 `yaml:"min_volume_ratio" validate:"gt=0"`

	// VolumeLookback is the trailing-average window in daily bars.
	VolumeLookback int `yaml:"volume_lookback" validate:"gt=0"`
}

// DefaultConfig returns the production thresholds: +0.50% day change,
// 1.2x volume versus the trailing 20 days.
func DefaultConfig() Config {
	return Config{
		Proxies:        DefaultProxies(),
		MinChangePct:   0.50,
		MinVolumeRatio: 1.2,
		VolumeLookback: 20,
	}
}

// Evaluator computes the per-sector regime snapshot once per scan
// cycle from proxy ETF bars.
type Evaluator struct {
	config Config
	source BarSource

	mu      sync.RWMutex
	current *Snapshot
}

// NewEvaluator creates a sector evaluator over the given bar source.
func NewEvaluator(source BarSource, config Config) *Evaluator {
	return &Evaluator{config: config, source: source}
}

// Evaluate classifies every configured sector. Sectors whose proxy data
// is unavailable are left out of the snapshot and logged; they read as
// rejects downstream. The whole evaluation errors only when not a
// single proxy could be read.
func (e *Evaluator) Evaluate(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Sectors: make(map[string]State, len(e.config.Proxies)),
		At:      time.Now().UTC(),
	}

	for _, sec := range e.sortedSectors() {
		proxy := e.config.Proxies[sec]
		state, err := e.evaluateProxy(ctx, sec, proxy)
		if err != nil {
			log.Warn().Err(err).Str("sector", sec).Str("proxy", proxy).Msg("Sector proxy unavailable")
			continue
		}
		snap.Sectors[sec] = state
	}

	if len(snap.Sectors) == 0 {
		return nil, fmt.Errorf("no sector proxy data available for %d sectors", len(e.config.Proxies))
	}

	e.mu.Lock()
	e.current = snap
	e.mu.Unlock()

	log.Debug().Int("sectors", len(snap.Sectors)).Msg("Sector snapshot computed")
	return snap, nil
}

// Current returns the most recent snapshot, or nil before the first
// evaluation.
func (e *Evaluator) Current() *Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.current
}

func (e *Evaluator) evaluateProxy(ctx context.Context, sec, proxy string) (State, error) {
	bars, err := e.source.LatestBars(ctx, proxy, market.IntervalDaily, e.config.VolumeLookback+1)
	if err != nil {
		return State{}, fmt.Errorf("proxy bars: %w", err)
	}

	ratio, err := indicator.VolumeRatio(bars, e.config.VolumeLookback)
	if err != nil {
		return State{}, fmt.Errorf("proxy volume ratio: %w", err)
	}

	change := bars[len(bars)-1].ChangePct()
	state := State{
		Sector:      sec,
		Proxy:       proxy,
		ChangePct:   change,
		VolumeRatio: ratio,
	}
	state.Bullish = !market.Beneath(change, e.config.MinChangePct) &&
		!market.Beneath(ratio, e.config.MinVolumeRatio)
	return state, nil
}

func (e *Evaluator) sortedSectors() []string {
	sectors := make([]string, 0, len(e.config.Proxies))
	for sec := range e.config.Proxies {
		sectors = append(sectors, sec)
	}
	sort.Strings(sectors)
	return sectors
}
