// Package position owns the lifecycle of entered trades: the pending
// fill window, the open monitoring state, and the terminal closes. The
// exit precedence chain lives here; the engine only plumbs data in and
// carries verdicts to the broker.
package position

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/equityrun/internal/risk"
)

// State is the lifecycle stage of a position.
type State int

const (
	Pending State = iota
	Open
	ClosedStop
	ClosedTarget
	ClosedEmergency
	ClosedManual

	// Discarded marks a pending position whose order never filled.
	Discarded
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Open:
		return "open"
	case ClosedStop:
		return "closed_stop"
	case ClosedTarget:
		return "closed_target"
	case ClosedEmergency:
		return "closed_emergency"
	case ClosedManual:
		return "closed_manual"
	case Discarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Closed reports whether s is terminal.
func (s State) Closed() bool {
	return s >= ClosedStop
}

// ParseState maps a state token back to its State. The zero State is
// returned with an error for unrecognized input.
func ParseState(s string) (State, error) {
	switch s {
	case "pending":
		return Pending, nil
	case "open":
		return Open, nil
	case "closed_stop":
		return ClosedStop, nil
	case "closed_target":
		return ClosedTarget, nil
	case "closed_emergency":
		return ClosedEmergency, nil
	case "closed_manual":
		return ClosedManual, nil
	case "discarded":
		return Discarded, nil
	default:
		return Pending, fmt.Errorf("unknown position state %q", s)
	}
}

// Exit reason tokens carried on closed positions and journal entries.
const (
	ReasonStopLoss           = "stop_loss"
	ReasonProfitTarget       = "profit_target"
	ReasonEmergencyNews      = "emergency_news"
	ReasonEmergencyDowngrade = "emergency_downgrade"
	ReasonEmergencySpread    = "emergency_spread"
	ReasonEmergencyRegime    = "emergency_regime"
	ReasonManual             = "manual"
	ReasonFillTimeout        = "fill_timeout"
	ReasonExecutionFailure   = "execution_failure"
)

// Position is one trade lifecycle. ID is the signal ID that authorized
// it; Entry is the authorized reference price, Fill the actual fill.
type Position struct {
	ID         uuid.UUID `json:"id" db:"id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	State      State     `json:"state" db:"state"`
	Qty        int64     `json:"qty" db:"qty"`
	Entry      float64   `json:"entry" db:"entry"`
	Fill       float64   `json:"fill,omitempty" db:"fill"`
	Stop       float64   `json:"stop" db:"stop"`
	Target     float64   `json:"target" db:"target"`
	Score      int       `json:"score" db:"score"`
	Pattern    string    `json:"pattern,omitempty" db:"pattern"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	OpenedAt   time.Time `json:"opened_at,omitempty" db:"opened_at"`
	ClosedAt   time.Time `json:"closed_at,omitempty" db:"closed_at"`
	ExitPrice  float64   `json:"exit_price,omitempty" db:"exit_price"`
	ExitReason string    `json:"exit_reason,omitempty" db:"exit_reason"`
	PnL        float64   `json:"pnl,omitempty" db:"pnl"`
}

// FromAuthorization builds the pending position for a granted entry.
func FromAuthorization(auth risk.Authorization, score int, pattern string) *Position {
	return &Position{
		ID:        auth.SignalID,
		Symbol:    auth.Symbol,
		State:     Pending,
		Qty:       auth.Qty,
		Entry:     auth.Entry,
		Stop:      auth.Stop,
		Target:    auth.Target,
		Score:     score,
		Pattern:   pattern,
		CreatedAt: auth.At,
	}
}
