// Package engine runs the two decision loops: the scan cycle that
// admits, authorizes, and enters candidates, and the monitor cadence
// that walks the live book for exits. Ledger mutations stay serialized
// behind the governor; the loops only ever feed it one event at a time.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/alert"
	"github.com/sawpanic/equityrun/internal/broker"
	"github.com/sawpanic/equityrun/internal/data"
	"github.com/sawpanic/equityrun/internal/gate"
	"github.com/sawpanic/equityrun/internal/httpapi"
	"github.com/sawpanic/equityrun/internal/market"
	"github.com/sawpanic/equityrun/internal/metrics"
	"github.com/sawpanic/equityrun/internal/net/circuit"
	"github.com/sawpanic/equityrun/internal/net/ratelimit"
	"github.com/sawpanic/equityrun/internal/news"
	"github.com/sawpanic/equityrun/internal/persistence"
	"github.com/sawpanic/equityrun/internal/position"
	"github.com/sawpanic/equityrun/internal/regime"
	"github.com/sawpanic/equityrun/internal/risk"
	"github.com/sawpanic/equityrun/internal/sector"
	"github.com/sawpanic/equityrun/internal/watchlist"
)

// Config holds the loop cadences. The cycle timeout bounds one whole
// scan; a cycle that overruns it is abandoned, never queued behind.
type Config struct {
	ScanIntervalSeconds    int `yaml:"scan_interval_seconds" validate:"gte=1"`
	MonitorIntervalSeconds int `yaml:"monitor_interval_seconds" validate:"gte=1"`
	CycleTimeoutSeconds    int `yaml:"cycle_timeout_seconds" validate:"gte=1"`
	Workers                int `yaml:"workers" validate:"gte=1"`

	Monitor position.MonitorConfig `yaml:"monitor"`
}

// DefaultConfig returns the production cadences: a five minute scan, a
// thirty second monitor.
func DefaultConfig() Config {
	return Config{
		ScanIntervalSeconds:    300,
		MonitorIntervalSeconds: 30,
		CycleTimeoutSeconds:    240,
		Workers:                4,
		Monitor:                position.DefaultMonitorConfig(),
	}
}

// TransportStats is the optional data-client introspection surface
// surfaced on the status API.
type TransportStats interface {
	LimiterStats() map[string]ratelimit.HostStats
	BreakerStatus() circuit.Status
}

// Admitter runs the admission chain for one candidate.
type Admitter interface {
	Evaluate(ctx context.Context, symbol string, snaps gate.Snapshots) gate.Decision
}

// RegimeSource computes the market regime snapshot for a cycle and
// serves the last one between cycles.
type RegimeSource interface {
	Evaluate(ctx context.Context) (*regime.Snapshot, error)
	Current() *regime.Snapshot
}

// SectorSource computes the sector regime snapshot for a cycle.
type SectorSource interface {
	Evaluate(ctx context.Context) (*sector.Snapshot, error)
}

// Deps wires the engine. Store must be fully populated; Alerts,
// Metrics, and Transport may be nil.
type Deps struct {
	Universe  *watchlist.Manager
	Session   *market.Session
	Provider  data.Provider
	News      *news.Monitor
	Regime    RegimeSource
	Sectors   SectorSource
	Pipeline  Admitter
	Governor  *risk.Governor
	Book      *position.Book
	Broker    broker.Broker
	Store     persistence.Store
	Alerts    *alert.Dispatcher
	Metrics   *metrics.Registry
	Transport TransportStats
}

// Engine owns the loops and implements the httpapi Controller.
type Engine struct {
	config    Config
	deps      Deps
	now       func() time.Time
	startedAt time.Time

	mu         sync.Mutex
	lastScan   *httpapi.ScanSummary
	lastRegime regime.Regime
	regimeSeen bool
}

// New creates the engine. Run starts the loops.
func New(config Config, deps Deps) *Engine {
	return &Engine{config: config, deps: deps, now: time.Now}
}

// Run restores persisted state, then drives both loops until the
// context is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.startedAt = e.now()
	if err := e.restore(ctx); err != nil {
		return fmt.Errorf("restore state: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.scanLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		e.monitorLoop(ctx)
	}()
	wg.Wait()

	return ctx.Err()
}

// RunOnce restores persisted state and executes a single scan cycle.
// The one-shot CLI path uses it; the daemon loops call runScan on
// their own cadence.
func (e *Engine) RunOnce(ctx context.Context) (httpapi.ScanSummary, error) {
	e.startedAt = e.now()
	if err := e.restore(ctx); err != nil {
		return httpapi.ScanSummary{}, fmt.Errorf("restore state: %w", err)
	}
	e.runScan(ctx)

	e.mu.Lock()
	summary := *e.lastScan
	e.mu.Unlock()

	return summary, nil
}

func (e *Engine) restore(ctx context.Context) error {
	snap, err := e.deps.Store.Ledger.Load(ctx)
	if err != nil {
		return fmt.Errorf("load ledger snapshot: %w", err)
	}
	if snap != nil {
		e.deps.Governor.Restore(*snap)
	}

	live, err := e.deps.Store.Positions.Live(ctx)
	if err != nil {
		return fmt.Errorf("load live positions: %w", err)
	}
	e.deps.Book.Restore(live)

	pending, open := e.deps.Book.Counts()
	e.journal(ctx, persistence.JournalEntry{
		At:     e.now(),
		Kind:   persistence.JournalRestore,
		Detail: fmt.Sprintf("%d pending, %d open", pending, open),
	})
	e.setGauges()

	return nil
}

// Status implements the Controller status surface.
func (e *Engine) Status() httpapi.StatusReport {
	rs := e.deps.Governor.Status()
	pending, open := e.deps.Book.Counts()

	state := "running"
	if rs.Halted {
		state = "halted"
	}

	report := httpapi.StatusReport{
		State:     state,
		StartedAt: e.startedAt,
		Risk:      rs,
		Pending:   pending,
		Open:      open,
	}
	if e.deps.Alerts != nil {
		report.Alerts = e.deps.Alerts.Stats()
	}
	if e.deps.Transport != nil {
		report.Limiter = e.deps.Transport.LimiterStats()
		status := e.deps.Transport.BreakerStatus()
		report.Breaker = &status
	}

	e.mu.Lock()
	if e.lastScan != nil {
		scan := *e.lastScan
		report.LastScan = &scan
	}
	e.mu.Unlock()

	return report
}

// Positions returns the live book.
func (e *Engine) Positions() []position.Position {
	return e.deps.Book.List()
}

// Halt raises the governor halt on operator request.
func (e *Engine) Halt(reason, detail string) {
	e.deps.Governor.Halt(reason)

	ctx := context.Background()
	e.journal(ctx, persistence.JournalEntry{
		At: e.now(), Kind: persistence.JournalHalt, Reason: reason, Detail: detail,
	})
	event := alert.NewEvent(alert.KindHalt, "", "Trading halted: "+reason)
	if detail != "" {
		event = event.With("detail", detail)
	}
	e.publish(event)
	e.saveLedger(ctx)
	e.setGauges()
}

// ClearHalt resumes trading. It fails when no halt is raised.
func (e *Engine) ClearHalt(operator string) bool {
	if !e.deps.Governor.ClearHalt(operator) {
		return false
	}

	ctx := context.Background()
	e.journal(ctx, persistence.JournalEntry{
		At: e.now(), Kind: persistence.JournalHaltClear, Detail: "cleared by " + operator,
	})
	e.publish(alert.NewEvent(alert.KindHaltCleared, "", "Halt cleared").With("operator", operator))
	e.saveLedger(ctx)
	e.setGauges()

	return true
}

// Watchlist reports the scannable universe and its composition.
func (e *Engine) Watchlist() httpapi.WatchlistReport {
	return httpapi.WatchlistReport{
		Universe: e.deps.Universe.Universe(),
		Excluded: e.deps.Universe.Exclusions(),
		Stats:    e.deps.Universe.Stats(),
	}
}

// ExcludeSymbol drops a symbol from scan consideration until an
// operator reinstates it. Live positions in the symbol are unaffected;
// the monitor still walks them to exit. Excluding an already excluded
// symbol is a no-op.
func (e *Engine) ExcludeSymbol(ctx context.Context, symbol, reason string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !e.deps.Universe.Member(symbol) {
		return fmt.Errorf("%w: %s", httpapi.ErrUnknownSymbol, symbol)
	}
	if e.deps.Universe.Excluded(symbol) {
		return nil
	}

	e.deps.Universe.Exclude(symbol, reason)
	e.journal(ctx, persistence.JournalEntry{
		At: e.now(), Kind: persistence.JournalExclude, Symbol: symbol, Reason: reason,
	})

	return nil
}

// ReinstateSymbol returns an excluded symbol to scan consideration.
func (e *Engine) ReinstateSymbol(ctx context.Context, symbol string) error {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !e.deps.Universe.Member(symbol) {
		return fmt.Errorf("%w: %s", httpapi.ErrUnknownSymbol, symbol)
	}
	if !e.deps.Universe.Excluded(symbol) {
		return fmt.Errorf("%w: %s", httpapi.ErrNotExcluded, symbol)
	}

	e.deps.Universe.Reinstate(symbol)
	e.journal(ctx, persistence.JournalEntry{
		At: e.now(), Kind: persistence.JournalReinstate, Symbol: symbol,
	})

	return nil
}

// ClosePosition flattens one live position on operator request. A zero
// price exits through the broker; a positive price records an exit the
// operator executed elsewhere. Pending positions are discarded and
// their risk slot released.
func (e *Engine) ClosePosition(ctx context.Context, symbol string, price float64) (position.Position, error) {
	pos, ok := e.deps.Book.BySymbol(symbol)
	if !ok {
		return position.Position{}, fmt.Errorf("%w: %s", httpapi.ErrPositionNotFound, symbol)
	}

	now := e.now()

	if pos.State == position.Pending {
		discarded, err := e.deps.Book.Discard(pos.ID, now, position.ReasonManual)
		if err != nil {
			return position.Position{}, err
		}
		e.deps.Governor.Release(discarded.ID)
		e.savePosition(ctx, discarded)
		e.saveLedger(ctx)
		e.journal(ctx, persistence.JournalEntry{
			At: now, Kind: persistence.JournalDiscard, Symbol: symbol, Reason: position.ReasonManual,
		})
		e.publish(alert.NewEvent(alert.KindDiscard, symbol, "Pending entry cancelled"))
		e.setGauges()
		return discarded, nil
	}

	exitPrice, exitAt := price, now
	if exitPrice <= 0 {
		fill, err := e.deps.Broker.Exit(ctx, symbol, pos.Qty)
		if err != nil {
			return position.Position{}, fmt.Errorf("%w: %v", httpapi.ErrPriceUnavailable, err)
		}
		exitPrice, exitAt = fill.Price, fill.At
	}

	closed, err := e.deps.Book.Close(pos.ID, position.ClosedManual, exitPrice, exitAt, position.ReasonManual)
	if err != nil {
		return position.Position{}, err
	}
	e.finishClose(ctx, closed)

	return closed, nil
}

// finishClose books the realized pnl into the ledger, persists the
// terminal record, and fans out notifications. A loss-limit halt raised
// by this close is alerted here as well.
func (e *Engine) finishClose(ctx context.Context, closed position.Position) {
	halted := e.deps.Governor.RecordClose(closed.ID, closed.PnL)
	e.savePosition(ctx, closed)
	e.saveLedger(ctx)
	e.journal(ctx, persistence.JournalEntry{
		At:     closed.ClosedAt,
		Kind:   persistence.JournalClose,
		Symbol: closed.Symbol,
		Reason: closed.ExitReason,
		Payload: map[string]interface{}{
			"exit_price": closed.ExitPrice,
			"pnl":        closed.PnL,
		},
	})
	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordExit(closed.ExitReason)
	}
	e.publish(alert.NewEvent(alert.KindExit, closed.Symbol,
		fmt.Sprintf("Closed %s (%s)", closed.Symbol, closed.ExitReason)).
		With("exit_price", formatFloat(closed.ExitPrice)).
		With("pnl", formatFloat(closed.PnL)))

	if halted {
		rs := e.deps.Governor.Status()
		e.journal(ctx, persistence.JournalEntry{
			At: e.now(), Kind: persistence.JournalHalt, Reason: rs.HaltReason,
		})
		e.publish(alert.NewEvent(alert.KindHalt, "", "Trading halted: "+rs.HaltReason).
			With("day_pnl", formatFloat(rs.DayPnL)).
			With("week_pnl", formatFloat(rs.WeekPnL)))
		e.saveLedger(ctx)
	}
	e.setGauges()
}

func (e *Engine) journal(ctx context.Context, entry persistence.JournalEntry) {
	if e.deps.Store.Journal == nil {
		return
	}
	if err := e.deps.Store.Journal.Append(ctx, entry); err != nil {
		log.Warn().Err(err).Str("kind", entry.Kind).Msg("Journal append failed")
	}
}

func (e *Engine) publish(event alert.Event) {
	if e.deps.Alerts == nil {
		return
	}
	if e.deps.Alerts.Publish(event) && e.deps.Metrics != nil {
		e.deps.Metrics.RecordAlert(event.Kind)
	}
}

func (e *Engine) savePosition(ctx context.Context, p position.Position) {
	if err := e.deps.Store.Positions.Save(ctx, p); err != nil {
		log.Error().Err(err).Str("symbol", p.Symbol).Msg("Position save failed")
	}
}

func (e *Engine) saveLedger(ctx context.Context) {
	if err := e.deps.Store.Ledger.Save(ctx, e.deps.Governor.Snapshot()); err != nil {
		log.Error().Err(err).Msg("Ledger snapshot save failed")
	}
}

func (e *Engine) setGauges() {
	if e.deps.Metrics == nil {
		return
	}
	pending, open := e.deps.Book.Counts()
	e.deps.Metrics.SetExposure(pending, open)
	rs := e.deps.Governor.Status()
	e.deps.Metrics.SetLedger(rs.DayPnL, rs.WeekPnL, rs.Halted)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
