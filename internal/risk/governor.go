// Package risk is the sole authority over capital and exposure. It
// sizes authorized entries, enforces the position and loss limits, and
// owns the trading halt. Every mutation runs under one lock so the scan
// and monitor loops never race the ledger.
package risk

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/gate"
	"github.com/sawpanic/equityrun/internal/market"
)

// Denial reasons, stable tokens surfaced in journals and alerts.
const (
	DenyHalted              = "halted"
	DenyDailyLoss           = "daily_loss_limit"
	DenyWeeklyLoss          = "weekly_loss_limit"
	DenyDuplicatePosition   = "duplicate_position"
	DenyMaxPositions        = "max_positions"
	DenyInsufficientCapital = "insufficient_capital"
)

// Config bounds the governor. Percentages are fractions of Capital.
type Config struct {
	Capital       float64 `yaml:"capital" validate:"gt=0"`
	PositionPct   float64 `yaml:"position_pct" validate:"gt=0,lte=1"`
	MaxPositions  int     `yaml:"max_positions" validate:"gt=0"`
	DailyLossPct  float64 `yaml:"daily_loss_pct" validate:"gt=0,lt=1"`
	WeeklyLossPct float64 `yaml:"weekly_loss_pct" validate:"gt=0,lt=1"`
	StopLossPct   float64 `yaml:"stop_loss_pct" validate:"gt=0,lt=1"`
	TargetPct     float64 `yaml:"target_pct" validate:"gt=0"`
}

// DefaultConfig returns the production limits.
func DefaultConfig() Config {
	return Config{
		Capital:       10_000,
		PositionPct:   0.20,
		MaxPositions:  5,
		DailyLossPct:  0.02,
		WeeklyLossPct: 0.06,
		StopLossPct:   0.05,
		TargetPct:     0.20,
	}
}

// Authorization is a granted entry: the sized quantity plus the bracket
// prices the broker must attach.
type Authorization struct {
	SignalID uuid.UUID `json:"signal_id"`
	Symbol   string    `json:"symbol"`
	Qty      int64     `json:"qty"`
	Notional float64   `json:"notional"`
	Entry    float64   `json:"entry"`
	Stop     float64   `json:"stop"`
	Target   float64   `json:"target"`
	At       time.Time `json:"at"`
}

// Decision is the outcome of one authorization request. A denial is a
// normal value; Reason is set only when Approved is false.
type Decision struct {
	Approved bool
	Reason   string
	Detail   string
	Auth     *Authorization
}

func denied(reason, detail string) Decision {
	return Decision{Reason: reason, Detail: detail}
}

// Status is a read-only view for the HTTP status surface and journals.
type Status struct {
	Halted        bool      `json:"halted"`
	HaltReason    string    `json:"halt_reason,omitempty"`
	HaltedAt      time.Time `json:"halted_at,omitempty"`
	OpenPositions int       `json:"open_positions"`
	MaxPositions  int       `json:"max_positions"`
	DayKey        string    `json:"day_key"`
	WeekKey       string    `json:"week_key"`
	DayPnL        float64   `json:"day_pnl"`
	WeekPnL       float64   `json:"week_pnl"`
}

// Snapshot is the durable governor state carried across restarts.
type Snapshot struct {
	Halted     bool            `json:"halted"`
	HaltReason string          `json:"halt_reason,omitempty"`
	HaltedAt   time.Time       `json:"halted_at,omitempty"`
	DayKey     string          `json:"day_key"`
	WeekKey    string          `json:"week_key"`
	DayPnL     float64         `json:"day_pnl"`
	WeekPnL    float64         `json:"week_pnl"`
	Granted    []Authorization `json:"granted,omitempty"`
}

// Governor holds the exposure state. Construct with NewGovernor.
type Governor struct {
	mu     sync.Mutex
	config Config
	ledger *ledger
	now    func() time.Time

	open    map[string]uuid.UUID
	granted map[uuid.UUID]Authorization

	halted     bool
	haltReason string
	haltedAt   time.Time
}

func NewGovernor(cfg Config, session *market.Session) *Governor {
	g := &Governor{
		config:  cfg,
		now:     time.Now,
		open:    make(map[string]uuid.UUID),
		granted: make(map[uuid.UUID]Authorization),
	}
	g.ledger = newLedger(session, g.now())
	return g
}

// Authorize sizes an entry for the signal or denies it. Repeating a
// signal ID that is still live returns the original grant unchanged,
// halt or no halt; a halt only blocks new grants.
func (g *Governor) Authorize(sig *gate.Signal) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.granted[sig.ID]; ok {
		auth := prev
		return Decision{Approved: true, Auth: &auth}
	}
	if g.halted {
		return denied(DenyHalted, g.haltReason)
	}

	g.ledger.roll(g.now())
	if g.breachedDaily() {
		return denied(DenyDailyLoss, fmt.Sprintf("day pnl %.2f at limit", g.ledger.day))
	}
	if g.breachedWeekly() {
		return denied(DenyWeeklyLoss, fmt.Sprintf("week pnl %.2f at limit", g.ledger.week))
	}
	if _, ok := g.open[sig.Symbol]; ok {
		return denied(DenyDuplicatePosition, "position already open")
	}
	if len(g.open) >= g.config.MaxPositions {
		return denied(DenyMaxPositions,
			fmt.Sprintf("%d of %d slots in use", len(g.open), g.config.MaxPositions))
	}

	if !(sig.Close > 0) {
		return denied(DenyInsufficientCapital, "invalid reference price")
	}
	budget := g.config.Capital * g.config.PositionPct
	qty := int64(math.Floor(budget / sig.Close))
	if qty < 1 {
		return denied(DenyInsufficientCapital,
			fmt.Sprintf("budget %.2f below one share at %.2f", budget, sig.Close))
	}

	auth := Authorization{
		SignalID: sig.ID,
		Symbol:   sig.Symbol,
		Qty:      qty,
		Notional: float64(qty) * sig.Close,
		Entry:    sig.Close,
		Stop:     sig.Close * (1 - g.config.StopLossPct),
		Target:   sig.Close * (1 + g.config.TargetPct),
		At:       g.now(),
	}
	g.open[sig.Symbol] = sig.ID
	g.granted[sig.ID] = auth

	log.Info().Str("symbol", sig.Symbol).Int64("qty", qty).
		Float64("stop", auth.Stop).Float64("target", auth.Target).
		Msg("Entry authorized")
	return Decision{Approved: true, Auth: &auth}
}

// Release frees a granted slot without booking PnL, for entries that
// never filled.
func (g *Governor) Release(signalID uuid.UUID) {
	g.mu.Lock()
	defer g.mu.Unlock()

	auth, ok := g.granted[signalID]
	if !ok {
		return
	}
	delete(g.granted, signalID)
	if g.open[auth.Symbol] == signalID {
		delete(g.open, auth.Symbol)
	}
	log.Debug().Str("symbol", auth.Symbol).Msg("Authorization released")
}

// RecordClose books realized PnL for a closed position, frees its slot,
// and raises the halt when a loss limit is crossed. Returns whether the
// governor is halted afterwards. The halt sticks until ClearHalt.
func (g *Governor) RecordClose(signalID uuid.UUID, pnl float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if auth, ok := g.granted[signalID]; ok {
		delete(g.granted, signalID)
		if g.open[auth.Symbol] == signalID {
			delete(g.open, auth.Symbol)
		}
	}
	g.ledger.add(g.now(), pnl)

	if g.halted {
		return true
	}
	switch {
	case g.breachedDaily():
		g.halt(DenyDailyLoss,
			fmt.Sprintf("day pnl %.2f breached limit %.2f", g.ledger.day, -g.dailyLimit()))
	case g.breachedWeekly():
		g.halt(DenyWeeklyLoss,
			fmt.Sprintf("week pnl %.2f breached limit %.2f", g.ledger.week, -g.weeklyLimit()))
	}
	return g.halted
}

// Halt stops all further authorizations until ClearHalt.
func (g *Governor) Halt(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.halted {
		return
	}
	g.halt(reason, "")
}

// ClearHalt lifts the halt and reports whether one was in force. The
// operator name goes into the log trail; clearing is always explicit,
// never automatic, and a halt survives day and week rollover.
func (g *Governor) ClearHalt(operator string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.halted {
		return false
	}
	g.halted = false
	g.haltReason = ""
	g.haltedAt = time.Time{}
	log.Warn().Str("operator", operator).Msg("Trading halt cleared")
	return true
}

// Status returns the current exposure view.
func (g *Governor) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ledger.roll(g.now())
	return Status{
		Halted:        g.halted,
		HaltReason:    g.haltReason,
		HaltedAt:      g.haltedAt,
		OpenPositions: len(g.open),
		MaxPositions:  g.config.MaxPositions,
		DayKey:        g.ledger.dayKey,
		WeekKey:       g.ledger.weekKey,
		DayPnL:        g.ledger.day,
		WeekPnL:       g.ledger.week,
	}
}

// Snapshot captures the durable state for persistence.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	granted := make([]Authorization, 0, len(g.granted))
	for _, auth := range g.granted {
		granted = append(granted, auth)
	}
	return Snapshot{
		Halted:     g.halted,
		HaltReason: g.haltReason,
		HaltedAt:   g.haltedAt,
		DayKey:     g.ledger.dayKey,
		WeekKey:    g.ledger.weekKey,
		DayPnL:     g.ledger.day,
		WeekPnL:    g.ledger.week,
		Granted:    granted,
	}
}

// Restore replaces the governor state with a persisted snapshot. Stale
// day or week keys roll naturally on the next touch.
func (g *Governor) Restore(s Snapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.halted = s.Halted
	g.haltReason = s.HaltReason
	g.haltedAt = s.HaltedAt
	g.ledger.dayKey = s.DayKey
	g.ledger.weekKey = s.WeekKey
	g.ledger.day = s.DayPnL
	g.ledger.week = s.WeekPnL

	g.open = make(map[string]uuid.UUID, len(s.Granted))
	g.granted = make(map[uuid.UUID]Authorization, len(s.Granted))
	for _, auth := range s.Granted {
		g.open[auth.Symbol] = auth.SignalID
		g.granted[auth.SignalID] = auth
	}
	log.Info().Int("granted", len(s.Granted)).Bool("halted", s.Halted).
		Msg("Risk state restored")
}

func (g *Governor) dailyLimit() float64  { return g.config.Capital * g.config.DailyLossPct }
func (g *Governor) weeklyLimit() float64 { return g.config.Capital * g.config.WeeklyLossPct }

// A bucket sitting exactly on its limit counts as breached.
func (g *Governor) breachedDaily() bool {
	return !market.Above(g.ledger.day, -g.dailyLimit())
}

func (g *Governor) breachedWeekly() bool {
	return !market.Above(g.ledger.week, -g.weeklyLimit())
}

func (g *Governor) halt(reason, detail string) {
	g.halted = true
	g.haltReason = reason
	g.haltedAt = g.now()
	evt := log.Error().Str("reason", reason)
	if detail != "" {
		evt = evt.Str("detail", detail)
	}
	evt.Msg("Trading halted")
}
