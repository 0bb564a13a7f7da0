package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/alert"
	"github.com/sawpanic/equityrun/internal/persistence"
	"github.com/sawpanic/equityrun/internal/position"
	"github.com/sawpanic/equityrun/internal/regime"
)

func (e *Engine) monitorLoop(ctx context.Context) {
	interval := time.Duration(e.config.MonitorIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runMonitor(ctx)
		}
	}
}

// runMonitor walks the book once: expire stale pending entries, then
// run the exit chain against every open position. The tick is bounded
// by its own interval so a hung provider cannot pile up cycles.
func (e *Engine) runMonitor(ctx context.Context) {
	interval := time.Duration(e.config.MonitorIntervalSeconds) * time.Second
	cctx, cancel := context.WithTimeout(ctx, interval)
	defer cancel()

	now := e.now()
	e.expirePending(cctx, now)

	open := e.deps.Book.OpenPositions()
	if len(open) == 0 {
		e.setGauges()
		return
	}

	cur := e.deps.Regime.Current()
	regimeBearish := cur != nil && cur.Composite == regime.Bearish

	for _, p := range open {
		if cctx.Err() != nil {
			log.Warn().Int("remaining", len(open)).Msg("Monitor tick timed out")
			break
		}
		e.checkPosition(cctx, p, regimeBearish)
	}
	e.setGauges()
}

func (e *Engine) expirePending(ctx context.Context, now time.Time) {
	timeout := time.Duration(e.config.Monitor.FillTimeoutSeconds) * time.Second
	for _, expired := range e.deps.Book.ExpirePending(now, timeout) {
		e.deps.Governor.Release(expired.ID)
		e.savePosition(ctx, expired)
		e.saveLedger(ctx)
		e.journal(ctx, persistence.JournalEntry{
			At:     now,
			Kind:   persistence.JournalDiscard,
			Symbol: expired.Symbol,
			Reason: expired.ExitReason,
		})
		e.publish(alert.NewEvent(alert.KindDiscard, expired.Symbol, "Entry fill timed out"))
	}
}

// checkPosition resolves one tick of inputs and applies the exit chain.
// Data outages hold the position: a missing quote or news read only
// degrades that condition for this tick, it never forces an exit.
func (e *Engine) checkPosition(ctx context.Context, p position.Position, regimeBearish bool) {
	in := position.TickInputs{RegimeBearish: regimeBearish}

	quote, err := e.deps.Provider.OrderBook(ctx, p.Symbol)
	if err != nil {
		log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Quote unavailable, holding position")
	} else {
		in.Quote = quote
		switch {
		case quote.Last > 0:
			in.Price = quote.Last
		case quote.Valid():
			in.Price = quote.Mid()
		}
	}

	newsWindow := time.Duration(e.config.Monitor.EmergencyNewsMinutes) * time.Minute
	items, err := e.deps.News.NegativeNews(ctx, p.Symbol, newsWindow)
	if err != nil {
		log.Warn().Err(err).Str("symbol", p.Symbol).Msg("News check unavailable")
	} else {
		in.NegativeNews = len(items) > 0
	}

	downgradeWindow := time.Duration(e.config.Monitor.DowngradeWindowDays) * 24 * time.Hour
	downgrades, err := e.deps.News.RecentDowngrades(ctx, p.Symbol, downgradeWindow)
	if err != nil {
		log.Warn().Err(err).Str("symbol", p.Symbol).Msg("Downgrade check unavailable")
	} else {
		in.Downgraded = len(downgrades) > 0
	}

	verdict := position.Evaluate(e.config.Monitor, p, in)
	if !verdict.ShouldExit {
		return
	}

	log.Info().
		Str("symbol", p.Symbol).
		Str("reason", verdict.Reason).
		Str("detail", verdict.Detail).
		Msg("Exit triggered")

	fill, err := e.deps.Broker.Exit(ctx, p.Symbol, p.Qty)
	if err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("Exit order failed, retrying next tick")
		e.publish(alert.NewEvent(alert.KindError, p.Symbol, "Exit order failed").
			With("error", err.Error()))
		return
	}

	closed, err := e.deps.Book.Close(p.ID, verdict.State, fill.Price, fill.At, verdict.Reason)
	if err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("Close bookkeeping failed")
		return
	}
	e.finishClose(ctx, closed)
}
