// Package breakout confirms resistance breaks on volume together with a
// supportive top-of-book. Everything is recomputed from the bar window
// and quote passed in; the detector holds no state across cycles.
package breakout

import (
	"fmt"

	"github.com/sawpanic/equityrun/internal/indicator"
	"github.com/sawpanic/equityrun/internal/market"
)

// Config holds the confirmation thresholds.
type Config struct {
	// Lookback is the trailing window, excluding the current bar, that
	// defines resistance, support, and the volume average.
	Lookback int `yaml:"lookback" validate:"gte=5"`
	// MinVolumeRatio is the minimum current-bar volume over the
	// trailing average for a break to count.
	MinVolumeRatio float64 `yaml:"min_volume_ratio" validate:"gt=0"`
	// MinBidPressure is the minimum bidSize/(bidSize+askSize).
	MinBidPressure float64 `yaml:"min_bid_pressure" validate:"gt=0,lt=1"`
	// MaxSpreadPct is the maximum (ask-bid)/mid, as a fraction.
	MaxSpreadPct float64 `yaml:"max_spread_pct" validate:"gt=0"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Lookback:       20,
		MinVolumeRatio: 1.5,
		MinBidPressure: 0.55,
		MaxSpreadPct:   0.005,
	}
}

// Reason tokens for the first failing condition.
const (
	ReasonBelowResistance = "below_resistance"
	ReasonRedCandle       = "red_candle"
	ReasonLowVolume       = "low_volume"
	ReasonWeakBid         = "weak_bid"
	ReasonWideSpread      = "wide_spread"
)

// Confirmation is one full breakout assessment. The price and ratio
// fields are populated whether or not the break confirmed, so callers
// can log what was actually seen.
type Confirmation struct {
	Confirmed   bool    `json:"confirmed"`
	Resistance  float64 `json:"resistance"`
	Support     float64 `json:"support"`
	Close       float64 `json:"close"`
	BreakoutPct float64 `json:"breakout_pct"`
	VolumeRatio float64 `json:"volume_ratio"`
	BidPressure float64 `json:"bid_pressure"`
	SpreadPct   float64 `json:"spread_pct"`
	Reason      string  `json:"reason,omitempty"`
}

// Detector assesses bar windows against the configured thresholds.
type Detector struct {
	cfg Config
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Assess checks the final bar of the window against the trailing
// resistance and the quote against the order-book thresholds. The close
// must clear resistance outright; the volume multiple, bid pressure,
// and spread comparisons tolerate exact threshold equality. An error
// means the inputs could not support a verdict at all, which callers
// treat the same as a failed confirmation.
func (d *Detector) Assess(bars []market.Bar, quote market.Quote) (Confirmation, error) {
	resistance, err := indicator.TrailingHigh(bars, d.cfg.Lookback)
	if err != nil {
		return Confirmation{}, err
	}
	support, err := indicator.TrailingLow(bars, d.cfg.Lookback)
	if err != nil {
		return Confirmation{}, err
	}
	ratio, err := indicator.VolumeRatio(bars, d.cfg.Lookback)
	if err != nil {
		return Confirmation{}, err
	}
	if resistance <= 0 {
		return Confirmation{}, fmt.Errorf("trailing window for %s has no usable resistance", bars[len(bars)-1].Symbol)
	}
	if !quote.Valid() {
		return Confirmation{}, fmt.Errorf("order book snapshot for %s is unusable", quote.Symbol)
	}

	last := bars[len(bars)-1]
	c := Confirmation{
		Resistance:  resistance,
		Support:     support,
		Close:       last.Close,
		BreakoutPct: (last.Close - resistance) / resistance * 100,
		VolumeRatio: ratio,
		BidPressure: quote.BidPressure(),
		SpreadPct:   quote.SpreadPct(),
	}

	switch {
	case !market.Above(last.Close, resistance):
		c.Reason = ReasonBelowResistance
	case !last.Bullish():
		c.Reason = ReasonRedCandle
	case market.Beneath(ratio, d.cfg.MinVolumeRatio):
		c.Reason = ReasonLowVolume
	case market.Beneath(c.BidPressure, d.cfg.MinBidPressure):
		c.Reason = ReasonWeakBid
	case market.Above(c.SpreadPct, d.cfg.MaxSpreadPct):
		c.Reason = ReasonWideSpread
	default:
		c.Confirmed = true
	}
	return c, nil
}
