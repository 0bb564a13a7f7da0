package risk

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/equityrun/internal/gate"
	"github.com/sawpanic/equityrun/internal/market"
)

func tradingDay(t *testing.T, day int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return time.Date(2024, 3, day, 11, 0, 0, 0, loc)
}

func testGovernor(t *testing.T) (*Governor, *market.Session) {
	t.Helper()
	sess := market.DefaultSession()
	if err := sess.Init(); err != nil {
		t.Fatalf("session init: %v", err)
	}
	g := NewGovernor(DefaultConfig(), &sess)
	g.now = func() time.Time { return tradingDay(t, 5) }
	return g, &sess
}

func signal(symbol string, close float64) *gate.Signal {
	return &gate.Signal{ID: uuid.New(), Symbol: symbol, Close: close}
}

func within(t *testing.T, got, want float64, what string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s = %v, want %v", what, got, want)
	}
}

func TestAuthorize_SizesAndBrackets(t *testing.T) {
	g, _ := testGovernor(t)

	dec := g.Authorize(signal("AAPL", 103))

	if !dec.Approved {
		t.Fatalf("denied: %s (%s)", dec.Reason, dec.Detail)
	}
	auth := dec.Auth
	// 10000 capital * 0.20 = 2000 budget; floor(2000/103) = 19.
	if auth.Qty != 19 {
		t.Errorf("qty = %d, want 19", auth.Qty)
	}
	if auth.Notional != 19*103.0 {
		t.Errorf("notional = %v, want 1957", auth.Notional)
	}
	within(t, auth.Stop, 103*0.95, "stop")
	within(t, auth.Target, 103*1.20, "target")
	if auth.Symbol != "AAPL" || auth.Entry != 103 {
		t.Errorf("auth = %+v", auth)
	}
}

func TestAuthorize_IdempotentRepeat(t *testing.T) {
	g, _ := testGovernor(t)
	sig := signal("AAPL", 100)

	first := g.Authorize(sig)
	second := g.Authorize(sig)

	if !first.Approved || !second.Approved {
		t.Fatalf("grants: %v %v", first.Approved, second.Approved)
	}
	if second.Auth.Qty != first.Auth.Qty || !second.Auth.At.Equal(first.Auth.At) {
		t.Errorf("repeat grant differs: %+v vs %+v", second.Auth, first.Auth)
	}
	if got := g.Status().OpenPositions; got != 1 {
		t.Errorf("open positions = %d, want 1", got)
	}

	// A live grant is replayed even under a halt.
	g.Halt("manual_stop")
	if dec := g.Authorize(sig); !dec.Approved {
		t.Errorf("halt blocked a replay: %s", dec.Reason)
	}
}

func TestAuthorize_DeniesDuplicateSymbol(t *testing.T) {
	g, _ := testGovernor(t)

	if dec := g.Authorize(signal("AAPL", 100)); !dec.Approved {
		t.Fatalf("first denied: %s", dec.Reason)
	}
	dec := g.Authorize(signal("AAPL", 101))
	if dec.Approved || dec.Reason != DenyDuplicatePosition {
		t.Fatalf("decision = %+v, want %s", dec, DenyDuplicatePosition)
	}
}

func TestAuthorize_MaxPositionsBoundary(t *testing.T) {
	g, _ := testGovernor(t)
	sigs := make([]*gate.Signal, 0, 5)
	for _, sym := range []string{"AAPL", "MSFT", "NVDA", "AMD", "META"} {
		sig := signal(sym, 100)
		if dec := g.Authorize(sig); !dec.Approved {
			t.Fatalf("%s denied: %s", sym, dec.Reason)
		}
		sigs = append(sigs, sig)
	}

	dec := g.Authorize(signal("GOOGL", 100))
	if dec.Approved || dec.Reason != DenyMaxPositions {
		t.Fatalf("sixth position: %+v, want %s", dec, DenyMaxPositions)
	}

	// Closing one frees the slot.
	g.RecordClose(sigs[0].ID, 50)
	if dec := g.Authorize(signal("GOOGL", 100)); !dec.Approved {
		t.Fatalf("denied after slot freed: %s", dec.Reason)
	}
}

func TestAuthorize_InsufficientCapital(t *testing.T) {
	g, _ := testGovernor(t)

	dec := g.Authorize(signal("BKRA", 2500))
	if dec.Approved || dec.Reason != DenyInsufficientCapital {
		t.Fatalf("decision = %+v, want %s", dec, DenyInsufficientCapital)
	}
}

func TestHaltBlocksUntilCleared(t *testing.T) {
	g, _ := testGovernor(t)
	g.Halt("manual_stop")

	if dec := g.Authorize(signal("AAPL", 100)); dec.Reason != DenyHalted {
		t.Fatalf("reason = %q, want %s", dec.Reason, DenyHalted)
	}
	if !g.ClearHalt("ops") {
		t.Fatal("ClearHalt reported no halt in force")
	}
	if g.ClearHalt("ops") {
		t.Error("second ClearHalt reported a halt")
	}
	if dec := g.Authorize(signal("AAPL", 100)); !dec.Approved {
		t.Errorf("denied after clearance: %s", dec.Reason)
	}
}

func TestRecordClose_DailyLossHalts(t *testing.T) {
	g, _ := testGovernor(t)
	sig := signal("AAPL", 100)
	g.Authorize(sig)

	// 2% of 10000: a loss exactly at the limit breaches.
	if !g.RecordClose(sig.ID, -200) {
		t.Fatal("no halt at the daily loss limit")
	}
	st := g.Status()
	if !st.Halted || st.HaltReason != DenyDailyLoss {
		t.Errorf("status = %+v, want %s halt", st, DenyDailyLoss)
	}
	if st.OpenPositions != 0 {
		t.Errorf("open positions = %d after close", st.OpenPositions)
	}
	if dec := g.Authorize(signal("MSFT", 100)); dec.Reason != DenyHalted {
		t.Errorf("reason = %q, want %s", dec.Reason, DenyHalted)
	}
}

func TestRecordClose_ProfitDoesNotHalt(t *testing.T) {
	g, _ := testGovernor(t)
	sig := signal("AAPL", 100)
	g.Authorize(sig)

	if g.RecordClose(sig.ID, 150) {
		t.Fatal("halted on a profit")
	}
	if got := g.Status().DayPnL; got != 150 {
		t.Errorf("day pnl = %v, want 150", got)
	}
}

func TestWeeklyLossAccumulatesAcrossDays(t *testing.T) {
	g, _ := testGovernor(t)

	// Monday through Thursday of one ISO week, -150 each day: under the
	// daily limit every day, at the weekly limit on the fourth.
	for i, d := range []int{4, 5, 6, 7} {
		day := d
		g.now = func() time.Time { return tradingDay(t, day) }
		if i == 1 {
			if got := g.Status().DayPnL; got != 0 {
				t.Fatalf("day pnl not rolled over: %v", got)
			}
		}
		sig := signal("AAPL", 100)
		if dec := g.Authorize(sig); !dec.Approved {
			t.Fatalf("day %d denied: %s (%s)", day, dec.Reason, dec.Detail)
		}
		halted := g.RecordClose(sig.ID, -150)
		if i < 3 && halted {
			t.Fatalf("halted early on day %d", day)
		}
		if i == 3 && !halted {
			t.Fatal("no weekly halt after four -150 days")
		}
	}

	st := g.Status()
	if st.HaltReason != DenyWeeklyLoss {
		t.Errorf("halt reason = %q, want %s", st.HaltReason, DenyWeeklyLoss)
	}
	if st.WeekPnL != -600 {
		t.Errorf("week pnl = %v, want -600", st.WeekPnL)
	}
}

func TestAuthorize_DeniedAtRestoredDailyLimit(t *testing.T) {
	g, sess := testGovernor(t)
	now := tradingDay(t, 5)
	g.Restore(Snapshot{
		DayKey:  sess.DayKey(now),
		WeekKey: sess.WeekKey(now),
		DayPnL:  -200,
		WeekPnL: -200,
	})

	dec := g.Authorize(signal("AAPL", 100))
	if dec.Approved || dec.Reason != DenyDailyLoss {
		t.Fatalf("decision = %+v, want %s", dec, DenyDailyLoss)
	}
	if g.Status().Halted {
		t.Error("restore alone raised a halt")
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	g, _ := testGovernor(t)
	sigA := signal("AAPL", 100)
	sigB := signal("MSFT", 50)
	g.Authorize(sigA)
	g.Authorize(sigB)
	g.Halt("manual_stop")

	snap := g.Snapshot()
	g2, _ := testGovernor(t)
	g2.Restore(snap)

	st := g2.Status()
	if !st.Halted || st.OpenPositions != 2 {
		t.Fatalf("restored status = %+v", st)
	}
	// Replay of a restored grant stays idempotent.
	dec := g2.Authorize(sigA)
	if !dec.Approved || dec.Auth.Qty != 20 {
		t.Errorf("replay after restore: %+v", dec)
	}
	if dec := g2.Authorize(signal("MSFT", 60)); dec.Reason != DenyDuplicatePosition {
		t.Errorf("reason = %q, want %s", dec.Reason, DenyDuplicatePosition)
	}
}

func TestRelease_FreesSlotWithoutPnL(t *testing.T) {
	g, _ := testGovernor(t)
	sig := signal("AAPL", 100)
	g.Authorize(sig)

	g.Release(sig.ID)

	st := g.Status()
	if st.OpenPositions != 0 || st.DayPnL != 0 {
		t.Fatalf("status after release = %+v", st)
	}
	if dec := g.Authorize(signal("AAPL", 100)); !dec.Approved {
		t.Errorf("denied after release: %s", dec.Reason)
	}
}
