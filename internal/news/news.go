// Package news exposes the earnings calendar, headline feed, and
// analyst-rating feed the admission gates and the emergency-exit check
// consult. The feed itself lives behind the Source interface; this
// package adds the negative-headline classification on top.
package news

import (
	"context"
	"strings"
	"time"
)

// Item is one published article attributed to an instrument.
type Item struct {
	Symbol   string    `json:"symbol"`
	Headline string    `json:"headline"`
	Body     string    `json:"body"`
	At       time.Time `json:"at"`
}

// RatingDirection is the side of an analyst rating change.
type RatingDirection string

const (
	Upgrade   RatingDirection = "upgrade"
	Downgrade RatingDirection = "downgrade"
)

// RatingChange is one analyst action on an instrument.
type RatingChange struct {
	Symbol    string          `json:"symbol"`
	Direction RatingDirection `json:"direction"`
	Firm      string          `json:"firm,omitempty"`
	At        time.Time       `json:"at"`
}

// Source is the upstream news/earnings feed. Implementations must
// return an error rather than partial results when the feed is down;
// callers treat any error as fail-closed.
type Source interface {
	// EarningsWithin reports whether the instrument announces results
	// inside the window starting now.
	EarningsWithin(ctx context.Context, symbol string, window time.Duration) (bool, error)
	// RecentNews returns articles published for the instrument inside
	// the trailing window, newest last.
	RecentNews(ctx context.Context, symbol string, window time.Duration) ([]Item, error)
	// RecentRatingChanges returns analyst actions inside the trailing
	// window, newest last.
	RecentRatingChanges(ctx context.Context, symbol string, window time.Duration) ([]RatingChange, error)
}

// DefaultNegativeKeywords returns the stock keyword list used to flag
// an article as negative.
func DefaultNegativeKeywords() []string {
	return []string{
		"downgrade",
		"lawsuit",
		"investigation",
		"recall",
		"fraud",
		"bankruptcy",
		"miss",
		"below expectations",
		"disappointing",
		"weak",
		"loss",
		"decline",
	}
}

// Monitor answers the gate-level questions over a Source: negative
// news, recent downgrades, imminent earnings.
type Monitor struct {
	src      Source
	keywords []string
}

// NewMonitor wraps src with the given keyword list. An empty list
// falls back to DefaultNegativeKeywords.
func NewMonitor(src Source, keywords []string) *Monitor {
	if len(keywords) == 0 {
		keywords = DefaultNegativeKeywords()
	}
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &Monitor{src: src, keywords: lowered}
}

// Negative reports whether the article matches any configured keyword,
// case-insensitively, in headline or body.
func (m *Monitor) Negative(item Item) bool {
	text := strings.ToLower(item.Headline) + " " + strings.ToLower(item.Body)
	for _, k := range m.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// NegativeNews returns the negative articles for the instrument inside
// the trailing window.
func (m *Monitor) NegativeNews(ctx context.Context, symbol string, window time.Duration) ([]Item, error) {
	items, err := m.src.RecentNews(ctx, symbol, window)
	if err != nil {
		return nil, err
	}
	var negative []Item
	for _, it := range items {
		if m.Negative(it) {
			negative = append(negative, it)
		}
	}
	return negative, nil
}

// RecentDowngrades returns the downgrade actions for the instrument
// inside the trailing window.
func (m *Monitor) RecentDowngrades(ctx context.Context, symbol string, window time.Duration) ([]RatingChange, error) {
	changes, err := m.src.RecentRatingChanges(ctx, symbol, window)
	if err != nil {
		return nil, err
	}
	var downs []RatingChange
	for _, ch := range changes {
		if ch.Direction == Downgrade {
			downs = append(downs, ch)
		}
	}
	return downs, nil
}

// EarningsWithin reports whether the instrument announces results
// inside the window.
func (m *Monitor) EarningsWithin(ctx context.Context, symbol string, window time.Duration) (bool, error) {
	return m.src.EarningsWithin(ctx, symbol, window)
}
