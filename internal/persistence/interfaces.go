// Package persistence defines the durable surfaces of the engine: the
// position history, the risk ledger snapshot, and the decision journal.
// Implementations live in the postgres subpackage; Memory backs tests
// and broker-less dry runs.
package persistence

import (
	"context"
	"time"

	"github.com/sawpanic/equityrun/internal/position"
	"github.com/sawpanic/equityrun/internal/risk"
)

// TimeRange is a closed query window.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Journal entry kinds. One row per lifecycle decision.
const (
	JournalAdmit     = "admit"
	JournalReject    = "reject"
	JournalAuthorize = "authorize"
	JournalDeny      = "deny"
	JournalOpen      = "open"
	JournalClose     = "close"
	JournalDiscard   = "discard"
	JournalHalt      = "halt"
	JournalHaltClear = "halt_clear"
	JournalExclude   = "exclude"
	JournalReinstate = "reinstate"
	JournalRestore   = "restore"
)

// JournalEntry is one audit record. Reason carries the first failing
// gate, the denial reason, or the exit reason depending on Kind.
type JournalEntry struct {
	ID      int64                  `json:"id" db:"id"`
	At      time.Time              `json:"at" db:"at"`
	Kind    string                 `json:"kind" db:"kind"`
	Symbol  string                 `json:"symbol,omitempty" db:"symbol"`
	Reason  string                 `json:"reason,omitempty" db:"reason"`
	Detail  string                 `json:"detail,omitempty" db:"detail"`
	Payload map[string]interface{} `json:"payload,omitempty" db:"payload"`
}

// TradeStats aggregates closed positions per exit reason.
type TradeStats struct {
	Closed   int64              `json:"closed"`
	Wins     int64              `json:"wins"`
	Losses   int64              `json:"losses"`
	TotalPnL float64            `json:"total_pnl"`
	ByReason map[string]int64   `json:"by_reason"`
	PnLByDay map[string]float64 `json:"pnl_by_day"`
}

// PositionStore persists position lifecycles. Save upserts by ID, so
// the same row follows a position from pending to terminal.
type PositionStore interface {
	Save(ctx context.Context, p position.Position) error

	// Live returns pending and open positions for restart recovery.
	Live(ctx context.Context) ([]position.Position, error)

	// History returns terminal positions, newest first. Symbol may be
	// empty for all symbols.
	History(ctx context.Context, symbol string, tr TimeRange, limit int) ([]position.Position, error)

	// Stats aggregates terminal positions inside the window.
	Stats(ctx context.Context, tr TimeRange) (TradeStats, error)
}

// LedgerStore persists the risk governor snapshot. Load returns nil
// when nothing has been saved yet.
type LedgerStore interface {
	Save(ctx context.Context, s risk.Snapshot) error
	Load(ctx context.Context) (*risk.Snapshot, error)
}

// JournalStore appends and queries audit entries.
type JournalStore interface {
	Append(ctx context.Context, e JournalEntry) error
	Recent(ctx context.Context, limit int) ([]JournalEntry, error)
	BySymbol(ctx context.Context, symbol string, tr TimeRange, limit int) ([]JournalEntry, error)
	CountByKind(ctx context.Context, tr TimeRange) (map[string]int64, error)
}

// Store aggregates the persistence surfaces.
type Store struct {
	Positions PositionStore
	Ledger    LedgerStore
	Journal   JournalStore
}
