// Package broker abstracts order placement. The engine submits one
// bracket intent per authorized signal; a failed placement discards the
// pending position without touching the ledger.
package broker

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Intent is the parent order with its protective legs.
type Intent struct {
	SignalID uuid.UUID `json:"signal_id"`
	Symbol   string    `json:"symbol"`
	Qty      int64     `json:"qty"`
	Limit    float64   `json:"limit"`
	Stop     float64   `json:"stop"`
	Target   float64   `json:"target"`
}

// Fill reports one execution.
type Fill struct {
	OrderID string    `json:"order_id"`
	Price   float64   `json:"price"`
	Qty     int64     `json:"qty"`
	At      time.Time `json:"at"`
}

// Broker places and unwinds positions.
type Broker interface {
	// PlaceBracket submits the entry with stop and target attached and
	// returns the parent fill.
	PlaceBracket(ctx context.Context, intent Intent) (Fill, error)

	// Exit flattens qty of the symbol at market.
	Exit(ctx context.Context, symbol string, qty int64) (Fill, error)
}
