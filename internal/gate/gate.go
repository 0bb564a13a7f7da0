// Package gate implements the ordered admission pipeline. Every
// candidate passes through a fixed gate chain; the verdict is the AND of
// all gates and evaluation stops at the first failure, which is reported
// as the rejection reason. A gate whose external data is unavailable
// fails closed, never skips.
package gate

import (
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/equityrun/internal/breakout"
	"github.com/sawpanic/equityrun/internal/market"
	"github.com/sawpanic/equityrun/internal/pattern"
)

// Gate identifiers, in pipeline order.
const (
	GateMembership    = "membership"
	GateNotExcluded   = "not_excluded"
	GateTradingWindow = "trading_window"
	GateEarnings      = "earnings"
	GateMarketRegime  = "market_regime"
	GateSectorRegime  = "sector_regime"
	GateCandleQuality = "candle_quality"
	GateNegativeNews  = "negative_news"
	GateDowngrade     = "downgrade"
	GateSpread        = "spread"
	GatePattern       = "pattern"
	GateBreakout      = "breakout"
)

// Order lists the gates in evaluation order.
func Order() []string {
	return []string{
		GateMembership, GateNotExcluded, GateTradingWindow, GateEarnings,
		GateMarketRegime, GateSectorRegime, GateCandleQuality,
		GateNegativeNews, GateDowngrade, GateSpread, GatePattern,
		GateBreakout,
	}
}

// Check is the outcome of one gate for one candidate.
type Check struct {
	Gate      string `json:"gate"`
	Passed    bool   `json:"passed"`
	Value     string `json:"value,omitempty"`
	Threshold string `json:"threshold,omitempty"`
	Detail    string `json:"detail,omitempty"`

	// Unavailable marks a failure caused by missing external data
	// rather than a threshold miss.
	Unavailable bool `json:"unavailable,omitempty"`
}

// Decision is one pipeline run for one candidate. A rejected candidate
// carries the checks up to and including the first failing gate; an
// admitted one carries all of them plus the Signal.
type Decision struct {
	Symbol      string    `json:"symbol"`
	At          time.Time `json:"at"`
	Admitted    bool      `json:"admitted"`
	Checks      []Check   `json:"checks"`
	FirstFailed string    `json:"first_failed,omitempty"`
	Signal      *Signal   `json:"signal,omitempty"`
	ElapsedMs   int64     `json:"elapsed_ms"`
}

// Unavailable reports whether the rejection was caused by missing
// external data rather than a threshold miss.
func (d Decision) Unavailable() bool {
	if d.Admitted || len(d.Checks) == 0 {
		return false
	}
	last := d.Checks[len(d.Checks)-1]
	return !last.Passed && last.Unavailable
}

// Signal is an admitted candidate, ready for authorization. Immutable,
// consumed once by the entry decision, never persisted beyond it.
type Signal struct {
	ID       uuid.UUID             `json:"id"`
	Symbol   string                `json:"symbol"`
	At       time.Time             `json:"at"`
	Pattern  pattern.Detection     `json:"pattern"`
	Breakout breakout.Confirmation `json:"breakout"`
	Quote    market.Quote          `json:"quote"`

	// Close is the latest bar close, the sizing and bracket reference.
	Close float64 `json:"close"`
	Score int     `json:"score"`

	Checks []Check `json:"checks"`
}

func passCheck(gate, value, threshold string) Check {
	return Check{Gate: gate, Passed: true, Value: value, Threshold: threshold}
}

func failCheck(gate, value, threshold, detail string) Check {
	return Check{Gate: gate, Value: value, Threshold: threshold, Detail: detail}
}

func unavailableCheck(gate string, err error) Check {
	return Check{Gate: gate, Detail: "data unavailable: " + err.Error(), Unavailable: true}
}
