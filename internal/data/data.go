// Package data serves bars, quotes, and index readings to the scan and
// monitor paths. Providers either return fresh data or a typed
// unavailability error; the gates treat that error as fail-closed.
package data

import (
	"context"
	"errors"
	"fmt"

	"github.com/sawpanic/equityrun/internal/market"
)

// ErrUnavailable marks data that could not be served fresh. Callers must
// not substitute stale or partial data in its place.
var ErrUnavailable = errors.New("market data unavailable")

// Provider is the read surface the engine consumes.
type Provider interface {
	// LatestBars returns the n most recent bars for the symbol at the
	// given interval, oldest first.
	LatestBars(ctx context.Context, symbol string, interval market.Interval, n int) ([]market.Bar, error)

	// OrderBook returns the current top-of-book snapshot for the symbol.
	OrderBook(ctx context.Context, symbol string) (market.Quote, error)

	// IndexReadings returns the latest readings for the configured
	// broad-market and volatility proxies, keyed by symbol.
	IndexReadings(ctx context.Context) (map[string]market.IndexReading, error)
}

// Unavailable wraps cause as an ErrUnavailable for the named operation so
// callers can classify it with errors.Is while keeping the cause chain.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, cause)
}

// BarsKey returns the cache key for a bar series.
func BarsKey(symbol string, interval market.Interval) string {
	return fmt.Sprintf("bars:%s:%s", symbol, interval)
}

// QuoteKey returns the cache key for a top-of-book snapshot.
func QuoteKey(symbol string) string {
	return "quote:" + symbol
}

// IndexKey is the cache key for the index reading map.
const IndexKey = "indices"
