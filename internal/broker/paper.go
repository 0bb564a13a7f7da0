package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/market"
)

// QuoteSource supplies the book the paper fills price against.
type QuoteSource interface {
	OrderBook(ctx context.Context, symbol string) (market.Quote, error)
}

// Paper fills instantly from the live book: entries lift the ask,
// exits hit the bid. A one-sided or missing book fails the placement.
type Paper struct {
	quotes QuoteSource
	now    func() time.Time
}

// NewPaper creates the simulated broker.
func NewPaper(quotes QuoteSource) *Paper {
	return &Paper{quotes: quotes, now: time.Now}
}

func (p *Paper) PlaceBracket(ctx context.Context, intent Intent) (Fill, error) {
	quote, err := p.quotes.OrderBook(ctx, intent.Symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("paper fill for %s: %w", intent.Symbol, err)
	}
	if !quote.Valid() {
		return Fill{}, fmt.Errorf("paper fill for %s: one-sided or empty book", intent.Symbol)
	}

	fill := Fill{
		OrderID: "paper-" + uuid.NewString()[:8],
		Price:   quote.Ask,
		Qty:     intent.Qty,
		At:      p.now(),
	}

	log.Debug().
		Str("symbol", intent.Symbol).
		Int64("qty", fill.Qty).
		Float64("price", fill.Price).
		Str("order_id", fill.OrderID).
		Msg("Paper bracket filled")

	return fill, nil
}

func (p *Paper) Exit(ctx context.Context, symbol string, qty int64) (Fill, error) {
	quote, err := p.quotes.OrderBook(ctx, symbol)
	if err != nil {
		return Fill{}, fmt.Errorf("paper exit for %s: %w", symbol, err)
	}
	if !quote.Valid() {
		return Fill{}, fmt.Errorf("paper exit for %s: one-sided or empty book", symbol)
	}

	fill := Fill{
		OrderID: "paper-" + uuid.NewString()[:8],
		Price:   quote.Bid,
		Qty:     qty,
		At:      p.now(),
	}

	log.Debug().
		Str("symbol", symbol).
		Int64("qty", qty).
		Float64("price", fill.Price).
		Str("order_id", fill.OrderID).
		Msg("Paper exit filled")

	return fill, nil
}
