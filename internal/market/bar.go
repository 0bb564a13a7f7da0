package market

import "time"

// Interval identifies the fixed sampling interval of a bar series.
type Interval string

const (
	IntervalMinute Interval = "1m"
	Interval5Min   Interval = "5m"
	IntervalDaily  Interval = "1d"
)

// Bar is one OHLCV sample for an instrument. Bars are immutable once
// recorded; a series is an ordered, append-only slice per instrument.
type Bar struct {
	Symbol string    `json:"symbol"`
	Start  time.Time `json:"start"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Range returns the full high-low extent of the bar.
func (b Bar) Range() float64 {
	return b.High - b.Low
}

// Body returns the absolute open-close distance.
func (b Bar) Body() float64 {
	if b.Close >= b.Open {
		return b.Close - b.Open
	}
	return b.Open - b.Close
}

// UpperShadow returns the distance from the body top to the high.
func (b Bar) UpperShadow() float64 {
	if b.Close >= b.Open {
		return b.High - b.Close
	}
	return b.High - b.Open
}

// LowerShadow returns the distance from the low to the body bottom.
func (b Bar) LowerShadow() float64 {
	if b.Close >= b.Open {
		return b.Open - b.Low
	}
	return b.Close - b.Low
}

// Bullish reports whether the bar closed above its open.
func (b Bar) Bullish() bool {
	return b.Close > b.Open
}

// Bearish reports whether the bar closed below its open.
func (b Bar) Bearish() bool {
	return b.Close < b.Open
}

// ChangePct returns the close-over-open percent change of the bar.
func (b Bar) ChangePct() float64 {
	if b.Open == 0 {
		return 0
	}
	return (b.Close - b.Open) / b.Open * 100.0
}

// IndexReading is the latest state of a broad-market or volatility proxy.
// ChangePct is the day-over-day percent change; Level is the raw quote
// level, which only matters for volatility proxies.
type IndexReading struct {
	Symbol    string    `json:"symbol"`
	ChangePct float64   `json:"change_pct"`
	Level     float64   `json:"level"`
	At        time.Time `json:"at"`
}
