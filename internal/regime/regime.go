package regime

import "time"

// Regime classifies broad-market conditions for the admission pipeline.
type Regime int

const (
	Neutral Regime = iota
	Bullish
	Bearish
)

func (r Regime) String() string {
	switch r {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	case Neutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// IndexState is the per-index classification inside a snapshot.
type IndexState struct {
	Symbol    string  `json:"symbol"`
	ChangePct float64 `json:"change_pct"`
	Regime    Regime  `json:"regime"`
}

// Snapshot is one cycle's market-regime reading. It is computed once
// per scan cycle, read-only afterwards, and superseded (never mutated)
// by the next cycle's snapshot.
type Snapshot struct {
	Indices     map[string]IndexState `json:"indices"`
	VolLevel    float64               `json:"vol_level"`
	VolOverride bool                  `json:"vol_override"`
	Composite   Regime                `json:"composite"`
	At          time.Time             `json:"at"`
}

// Change records one composite-regime transition for stability tracking.
type Change struct {
	At   time.Time `json:"at"`
	From Regime    `json:"from"`
	To   Regime    `json:"to"`
}
