package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/alert"
	"github.com/sawpanic/equityrun/internal/broker"
	"github.com/sawpanic/equityrun/internal/gate"
	"github.com/sawpanic/equityrun/internal/httpapi"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/persistence"
	"github.com/sawpanic/equityrun/internal/position"
	"github.com/sawpanic/equityrun/internal/regime"
)

func (e *Engine) scanLoop(ctx context.Context) {
	interval := time.Duration(e.config.ScanIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.runScan(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.runScan(ctx)
		}
	}
}

// runScan executes one admission cycle: refresh the market snapshots,
// push the whole universe through the pipeline, then authorize and
// enter the survivors best first. Entries are sequential so the ledger
// sees them one at a time.
func (e *Engine) runScan(ctx context.Context) {
	started := e.now()
	summary := httpapi.ScanSummary{StartedAt: started}

	if e.deps.Governor.Status().Halted {
		summary.Skipped = "halted"
		log.Info().Msg("Scan skipped, trading halted")
		e.storeScan(summary)
		return
	}
	if !e.deps.Session.Open(started) {
		summary.Skipped = "market_closed"
		log.Debug().Msg("Scan skipped, market closed")
		e.storeScan(summary)
		return
	}

	var timer *metrics.CycleTimer
	if e.deps.Metrics != nil {
		timer = e.deps.Metrics.StartCycle()
	}

	cctx, cancel := context.WithTimeout(ctx, time.Duration(e.config.CycleTimeoutSeconds)*time.Second)
	defer cancel()

	snaps := e.refreshSnapshots(cctx)

	universe := e.deps.Universe.Universe()
	summary.Universe = len(universe)

	var admitted []*gate.Signal
	for _, decision := range e.evaluate(cctx, universe, snaps) {
		summary.Evaluated++
		elapsed := time.Duration(decision.ElapsedMs) * time.Millisecond

		if decision.Admitted {
			summary.Admitted++
			admitted = append(admitted, decision.Signal)
			e.journal(cctx, persistence.JournalEntry{
				At:     decision.At,
				Kind:   persistence.JournalAdmit,
				Symbol: decision.Symbol,
				Payload: map[string]interface{}{
					"score":   decision.Signal.Score,
					"close":   decision.Signal.Close,
					"pattern": decision.Signal.Pattern.Kind.String(),
				},
			})
			e.publish(alert.NewEvent(alert.KindSignal, decision.Symbol,
				fmt.Sprintf("Signal %s score %d", decision.Symbol, decision.Signal.Score)).
				With("close", formatFloat(decision.Signal.Close)))
			if e.deps.Metrics != nil {
				e.deps.Metrics.RecordAdmit(elapsed)
			}
			continue
		}

		summary.Rejected++
		detail := ""
		if n := len(decision.Checks); n > 0 {
			detail = decision.Checks[n-1].Detail
		}
		if decision.Unavailable() {
			summary.Unavailable++
			if e.deps.Metrics != nil {
				e.deps.Metrics.RecordUnavailable(decision.FirstFailed)
			}
		}
		if e.deps.Metrics != nil {
			e.deps.Metrics.RecordReject(decision.FirstFailed, elapsed)
		}
		e.journal(cctx, persistence.JournalEntry{
			At:     decision.At,
			Kind:   persistence.JournalReject,
			Symbol: decision.Symbol,
			Reason: decision.FirstFailed,
			Detail: detail,
		})
	}

	// Best candidates enter first; symbol order breaks score ties so
	// two runs over the same data admit in the same order.
	sort.Slice(admitted, func(i, j int) bool {
		if admitted[i].Score != admitted[j].Score {
			return admitted[i].Score > admitted[j].Score
		}
		return admitted[i].Symbol < admitted[j].Symbol
	})

	for _, sig := range admitted {
		if cctx.Err() != nil {
			summary.TimedOut = true
			break
		}
		if e.enter(cctx, sig) {
			summary.Authorized++
		} else {
			summary.Denied++
		}
	}
	if summary.Authorized > 0 {
		e.saveLedger(cctx)
	}

	if timer != nil {
		timer.Stop(summary.Evaluated, summary.Admitted)
	}
	summary.DurationMs = e.now().Sub(started).Milliseconds()
	e.setGauges()
	e.storeScan(summary)
}

// refreshSnapshots re-evaluates regime and sector state for the cycle.
// Evaluation errors leave the snapshot nil so symbol admission fails
// closed at the corresponding checks.
func (e *Engine) refreshSnapshots(ctx context.Context) gate.Snapshots {
	var snaps gate.Snapshots

	rs, err := e.deps.Regime.Evaluate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Regime evaluation failed, admission will fail closed")
	} else {
		snaps.Regime = rs
		e.trackRegime(rs)
	}

	ss, err := e.deps.Sectors.Evaluate(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Sector evaluation failed, admission will fail closed")
	} else {
		snaps.Sector = ss
	}

	return snaps
}

func (e *Engine) trackRegime(snap *regime.Snapshot) {
	if snap == nil {
		return
	}
	e.mu.Lock()
	prev, seen := e.lastRegime, e.regimeSeen
	e.lastRegime, e.regimeSeen = snap.Composite, true
	e.mu.Unlock()

	if !seen || prev == snap.Composite {
		return
	}
	log.Info().Stringer("from", prev).Stringer("to", snap.Composite).Msg("Regime changed")
	e.publish(alert.NewEvent(alert.KindRegime, "",
		fmt.Sprintf("Regime shifted %s to %s", prev, snap.Composite)).
		With("vol", formatFloat(snap.VolLevel)))
}

// evaluate fans the universe across a small worker pool. Each symbol
// gets a full pipeline pass; order does not matter here because the
// caller sorts the admitted set.
func (e *Engine) evaluate(ctx context.Context, universe []string, snaps gate.Snapshots) []gate.Decision {
	workers := e.config.Workers
	if workers < 1 {
		workers = 1
	}

	jobs := make(chan string)
	results := make(chan gate.Decision)

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				results <- e.deps.Pipeline.Evaluate(ctx, symbol, snaps)
			}
		}()
	}
	go func() {
		defer close(jobs)
		for _, symbol := range universe {
			select {
			case jobs <- symbol:
			case <-ctx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(results)
	}()

	decisions := make([]gate.Decision, 0, len(universe))
	for d := range results {
		decisions = append(decisions, d)
	}
	return decisions
}

// enter authorizes one admitted signal and places its bracket. A denial
// or a failed placement returns false; the pending position from a
// failed placement is discarded and its slot released, the ledger is
// never charged for it.
func (e *Engine) enter(ctx context.Context, sig *gate.Signal) bool {
	decision := e.deps.Governor.Authorize(sig)
	if !decision.Approved {
		if e.deps.Metrics != nil {
			e.deps.Metrics.RecordDenial(decision.Reason)
		}
		e.journal(ctx, persistence.JournalEntry{
			At:     e.now(),
			Kind:   persistence.JournalDeny,
			Symbol: sig.Symbol,
			Reason: decision.Reason,
			Detail: decision.Detail,
		})
		e.publish(alert.NewEvent(alert.KindDenied, sig.Symbol, "Entry denied: "+decision.Reason))
		return false
	}

	auth := *decision.Auth
	pos := position.FromAuthorization(auth, sig.Score, sig.Pattern.Kind.String())
	if err := e.deps.Book.Add(pos); err != nil {
		log.Warn().Err(err).Str("symbol", sig.Symbol).Msg("Book rejected position, releasing slot")
		e.deps.Governor.Release(auth.SignalID)
		return false
	}
	e.savePosition(ctx, *pos)
	e.journal(ctx, persistence.JournalEntry{
		At:     auth.At,
		Kind:   persistence.JournalAuthorize,
		Symbol: sig.Symbol,
		Payload: map[string]interface{}{
			"qty":    auth.Qty,
			"entry":  auth.Entry,
			"stop":   auth.Stop,
			"target": auth.Target,
		},
	})

	fill, err := e.deps.Broker.PlaceBracket(ctx, broker.Intent{
		SignalID: auth.SignalID,
		Symbol:   auth.Symbol,
		Qty:      auth.Qty,
		Limit:    auth.Entry,
		Stop:     auth.Stop,
		Target:   auth.Target,
	})
	if err != nil {
		log.Error().Err(err).Str("symbol", sig.Symbol).Msg("Bracket placement failed, discarding entry")
		discarded, derr := e.deps.Book.Discard(pos.ID, e.now(), position.ReasonExecutionFailure)
		if derr == nil {
			e.savePosition(ctx, discarded)
		}
		e.deps.Governor.Release(pos.ID)
		e.journal(ctx, persistence.JournalEntry{
			At:     e.now(),
			Kind:   persistence.JournalDiscard,
			Symbol: sig.Symbol,
			Reason: position.ReasonExecutionFailure,
			Detail: err.Error(),
		})
		e.publish(alert.NewEvent(alert.KindDiscard, sig.Symbol, "Bracket placement failed"))
		return true
	}

	opened, err := e.deps.Book.MarkOpen(pos.ID, fill.Price, fill.At)
	if err != nil {
		log.Error().Err(err).Str("symbol", sig.Symbol).Msg("Fill arrived for unknown position")
		return true
	}
	e.savePosition(ctx, opened)
	e.journal(ctx, persistence.JournalEntry{
		At:     fill.At,
		Kind:   persistence.JournalOpen,
		Symbol: sig.Symbol,
		Payload: map[string]interface{}{
			"fill":     fill.Price,
			"order_id": fill.OrderID,
		},
	})
	e.publish(alert.NewEvent(alert.KindEntry, sig.Symbol,
		fmt.Sprintf("Opened %s x%d", sig.Symbol, opened.Qty)).
		With("fill", formatFloat(fill.Price)).
		With("stop", formatFloat(opened.Stop)).
		With("target", formatFloat(opened.Target)))
	return true
}

func (e *Engine) storeScan(summary httpapi.ScanSummary) {
	e.mu.Lock()
	e.lastScan = &summary
	e.mu.Unlock()
}
