package market

import "time"

// Quote is a top-of-book snapshot for an instrument.
type Quote struct {
	Symbol  string    `json:"symbol"`
	Bid     float64   `json:"bid"`
	BidSize int64     `json:"bid_size"`
	Ask     float64   `json:"ask"`
	AskSize int64     `json:"ask_size"`
	Last    float64   `json:"last"`
	At      time.Time `json:"at"`
}

// Mid returns the bid/ask midpoint.
func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2.0
}

// Spread returns the absolute ask-bid distance.
func (q Quote) Spread() float64 {
	return q.Ask - q.Bid
}

// SpreadPct returns the spread as a fraction of the midpoint.
func (q Quote) SpreadPct() float64 {
	mid := q.Mid()
	if mid <= 0 {
		return 0
	}
	return q.Spread() / mid
}

// BidPressure returns bidSize/(bidSize+askSize), the share of displayed
// top-of-book size sitting on the bid. Returns 0 when the book is empty.
func (q Quote) BidPressure() float64 {
	total := q.BidSize + q.AskSize
	if total == 0 {
		return 0
	}
	return float64(q.BidSize) / float64(total)
}

// Valid reports whether the snapshot carries a usable two-sided book.
func (q Quote) Valid() bool {
	return q.Bid > 0 && q.Ask > 0 && q.Ask >= q.Bid
}
