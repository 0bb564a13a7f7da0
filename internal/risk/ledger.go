package risk

import (
	"time"

	"github.com/sawpanic/equityrun/internal/market"
)

// ledger tracks realized PnL in exchange-local day and ISO-week buckets.
// Rollover is lazy: keys are recomputed on every touch and a changed key
// zeroes its bucket. Callers hold the governor lock.
type ledger struct {
	session *market.Session
	dayKey  string
	weekKey string
	day     float64
	week    float64
}

func newLedger(session *market.Session, now time.Time) *ledger {
	return &ledger{
		session: session,
		dayKey:  session.DayKey(now),
		weekKey: session.WeekKey(now),
	}
}

func (l *ledger) roll(now time.Time) {
	if k := l.session.DayKey(now); k != l.dayKey {
		l.dayKey = k
		l.day = 0
	}
	if k := l.session.WeekKey(now); k != l.weekKey {
		l.weekKey = k
		l.week = 0
	}
}

func (l *ledger) add(now time.Time, pnl float64) {
	l.roll(now)
	l.day += pnl
	l.week += pnl
}
