package sector

import (
	"strings"
	"time"
)

// State is the per-sector classification inside a snapshot. Absence of
// a sector from the snapshot means its proxy data was unavailable that
// cycle, which downstream gates treat as a reject.
type State struct {
	Sector      string  `json:"sector"`
	Proxy       string  `json:"proxy"`
	ChangePct   float64 `json:"change_pct"`
	VolumeRatio float64 `json:"volume_ratio"`
	Bullish     bool    `json:"bullish"`
}

// Snapshot is one cycle's sector-regime reading, keyed by sector
// identifier. Same lifecycle as the market regime snapshot: computed
// once per cycle, read-only, superseded by the next cycle.
type Snapshot struct {
	Sectors map[string]State `json:"sectors"`
	At      time.Time        `json:"at"`
}

// State returns the sector state and whether it is present.
func (s *Snapshot) State(sector string) (State, bool) {
	if s == nil {
		return State{}, false
	}
	st, ok := s.Sectors[sector]
	return st, ok
}

// DefaultProxies maps each tracked sector to its SPDR-style proxy ETF.
func DefaultProxies() map[string]string {
	return map[string]string{
		"technology":             "XLK",
		"financials":             "XLF",
		"energy":                 "XLE",
		"healthcare":             "XLV",
		"industrials":            "XLI",
		"consumer_discretionary": "XLY",
		"consumer_staples":       "XLP",
		"utilities":              "XLU",
		"materials":              "XLB",
		"real_estate":            "XLRE",
		"communications":         "XLC",
	}
}

// Membership maps instrument symbols to sector identifiers. Symbols
// absent from the table read as unknown, which the sector gate rejects.
type Membership map[string]string

// Sector resolves a symbol, case-insensitively.
func (m Membership) Sector(symbol string) (string, bool) {
	sec, ok := m[strings.ToUpper(symbol)]
	return sec, ok
}

// DefaultMembership covers the default watchlist universe.
func DefaultMembership() Membership {
	return Membership{
		"AAPL": "technology", "MSFT": "technology", "NVDA": "technology",
		"AMD": "technology", "META": "technology", "GOOGL": "technology",
		"AVGO": "technology", "ADBE": "technology",
		"AMZN": "consumer_discretionary", "TSLA": "consumer_discretionary",
		"HD": "consumer_discretionary", "NKE": "consumer_discretionary",
		"SBUX": "consumer_discretionary", "MCD": "consumer_discretionary",
		"LOW": "consumer_discretionary",
		"UNH": "healthcare", "JNJ": "healthcare", "LLY": "healthcare",
		"ABBV": "healthcare", "TMO": "healthcare",
		"XOM": "energy", "CVX": "energy", "COP": "energy", "SLB": "energy",
		"JPM": "financials", "BAC": "financials", "GS": "financials",
	}
}
