package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/equityrun/internal/breakout"
	"github.com/sawpanic/equityrun/internal/market"
	"github.com/sawpanic/equityrun/internal/news"
	"github.com/sawpanic/equityrun/internal/pattern"
	"github.com/sawpanic/equityrun/internal/regime"
	"github.com/sawpanic/equityrun/internal/sector"
	"github.com/sawpanic/equityrun/internal/watchlist"
)

type fakeProvider struct {
	bars    []market.Bar
	quote   market.Quote
	barsErr error
	bookErr error
}

func (f *fakeProvider) LatestBars(ctx context.Context, symbol string, interval market.Interval, n int) ([]market.Bar, error) {
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	return f.bars, nil
}

func (f *fakeProvider) OrderBook(ctx context.Context, symbol string) (market.Quote, error) {
	if f.bookErr != nil {
		return market.Quote{}, f.bookErr
	}
	return f.quote, nil
}

func (f *fakeProvider) IndexReadings(ctx context.Context) (map[string]market.IndexReading, error) {
	return nil, nil
}

type fakeFeed struct {
	earnings    bool
	news        []news.Item
	ratings     []news.RatingChange
	earningsErr error
	newsErr     error
	ratingsErr  error
}

func (f *fakeFeed) EarningsWithin(ctx context.Context, symbol string, window time.Duration) (bool, error) {
	return f.earnings, f.earningsErr
}

func (f *fakeFeed) RecentNews(ctx context.Context, symbol string, window time.Duration) ([]news.Item, error) {
	if f.newsErr != nil {
		return nil, f.newsErr
	}
	return f.news, nil
}

func (f *fakeFeed) RecentRatingChanges(ctx context.Context, symbol string, window time.Duration) ([]news.RatingChange, error) {
	if f.ratingsErr != nil {
		return nil, f.ratingsErr
	}
	return f.ratings, nil
}

type fixture struct {
	provider *fakeProvider
	feed     *fakeFeed
	pipe     *Pipeline
	snaps    Snapshots
}

func newYork(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

// breakoutBars builds 21 bars ending in a bullish engulfing candle that
// closes above the trailing-window resistance on triple volume.
func breakoutBars() []market.Bar {
	start := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	bars := make([]market.Bar, 0, 21)
	for i := 0; i < 19; i++ {
		bars = append(bars, market.Bar{
			Symbol: "AAPL",
			Start:  start.Add(time.Duration(i) * 5 * time.Minute),
			Open:   100, High: 101, Low: 99, Close: 100.5,
			Volume: 1_000_000,
		})
	}
	bars = append(bars, market.Bar{
		Symbol: "AAPL",
		Start:  start.Add(19 * 5 * time.Minute),
		Open:   101, High: 101.5, Low: 99.5, Close: 100,
		Volume: 1_000_000,
	})
	bars = append(bars, market.Bar{
		Symbol: "AAPL",
		Start:  start.Add(20 * 5 * time.Minute),
		Open:   99.8, High: 103.2, Low: 99.7, Close: 103,
		Volume: 3_000_000,
	})
	return bars
}

func strongQuote() market.Quote {
	return market.Quote{
		Symbol: "AAPL",
		Bid:    102.98, BidSize: 600,
		Ask: 103.02, AskSize: 300,
		At: time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC),
	}
}

func bullishSnapshots() Snapshots {
	return Snapshots{
		Regime: &regime.Snapshot{Composite: regime.Bullish},
		Sector: &sector.Snapshot{Sectors: map[string]sector.State{
			"technology": {Sector: "technology", Proxy: "XLK", ChangePct: 1.1, VolumeRatio: 1.6, Bullish: true},
		}},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sess := market.DefaultSession()
	if err := sess.Init(); err != nil {
		t.Fatalf("session init: %v", err)
	}
	provider := &fakeProvider{bars: breakoutBars(), quote: strongQuote()}
	feed := &fakeFeed{}
	pipe := NewPipeline(DefaultConfig(), Deps{
		Watchlist:  watchlist.NewManager(watchlist.Config{Core: []string{"AAPL", "XOM", "FOO"}, Excluded: []string{"XOM"}}),
		Session:    &sess,
		Provider:   provider,
		News:       news.NewMonitor(feed, nil),
		Recognizer: pattern.NewRecognizer(pattern.DefaultConfig()),
		Detector:   breakout.NewDetector(breakout.DefaultConfig()),
		Sectors:    sector.DefaultMembership(),
	})
	at := time.Date(2024, 3, 5, 11, 0, 0, 0, newYork(t))
	pipe.now = func() time.Time { return at }
	return &fixture{provider: provider, feed: feed, pipe: pipe, snaps: bullishSnapshots()}
}

func TestEvaluate_AdmitsBreakoutCandidate(t *testing.T) {
	fix := newFixture(t)

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if !dec.Admitted {
		t.Fatalf("rejected at %q: %+v", dec.FirstFailed, dec.Checks)
	}
	if dec.FirstFailed != "" {
		t.Errorf("FirstFailed = %q on an admitted candidate", dec.FirstFailed)
	}
	if dec.Signal == nil {
		t.Fatal("admitted decision carries no signal")
	}
	if dec.Signal.ID == uuid.Nil {
		t.Error("signal has zero ID")
	}
	if dec.Signal.Close != 103 {
		t.Errorf("signal close = %v, want 103", dec.Signal.Close)
	}
	if dec.Signal.Pattern.Kind != pattern.BullishEngulfing {
		t.Errorf("pattern = %v, want bullish_engulfing", dec.Signal.Pattern.Kind)
	}
	if !dec.Signal.Breakout.Confirmed {
		t.Error("breakout not confirmed on admitted signal")
	}
	// 85 base, +10 volume above 2.0x, +5 pressure above 0.60.
	if dec.Signal.Score != 100 {
		t.Errorf("score = %d, want 100", dec.Signal.Score)
	}

	order := Order()
	if len(dec.Checks) != len(order) {
		t.Fatalf("checks = %d, want %d", len(dec.Checks), len(order))
	}
	for i, c := range dec.Checks {
		if c.Gate != order[i] {
			t.Errorf("check %d = %q, want %q", i, c.Gate, order[i])
		}
		if !c.Passed {
			t.Errorf("check %q not passed on admitted candidate", c.Gate)
		}
	}
}

func TestEvaluate_ScoreSkipsPressureBonus(t *testing.T) {
	fix := newFixture(t)
	// 0.55 bid pressure clears the breakout floor but not the bonus level.
	fix.provider.quote.BidSize = 550
	fix.provider.quote.AskSize = 450

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if !dec.Admitted {
		t.Fatalf("rejected at %q", dec.FirstFailed)
	}
	if dec.Signal.Score != 95 {
		t.Errorf("score = %d, want 95 (85 base + 10 volume)", dec.Signal.Score)
	}
}

func TestEvaluate_RejectsUnknownSymbol(t *testing.T) {
	fix := newFixture(t)

	dec := fix.pipe.Evaluate(context.Background(), "ZZZZ", fix.snaps)

	if dec.Admitted {
		t.Fatal("unknown symbol admitted")
	}
	if dec.FirstFailed != GateMembership {
		t.Errorf("FirstFailed = %q, want %q", dec.FirstFailed, GateMembership)
	}
	if len(dec.Checks) != 1 {
		t.Errorf("checks = %d, want 1 (short circuit)", len(dec.Checks))
	}
	if dec.Signal != nil {
		t.Error("rejected decision carries a signal")
	}
}

func TestEvaluate_RejectsExcludedSymbol(t *testing.T) {
	fix := newFixture(t)

	dec := fix.pipe.Evaluate(context.Background(), "XOM", fix.snaps)

	if dec.FirstFailed != GateNotExcluded {
		t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateNotExcluded)
	}
	// Membership is unaffected by exclusion, so gate 1 passed first.
	if len(dec.Checks) != 2 || !dec.Checks[0].Passed {
		t.Errorf("checks = %+v, want membership pass then exclusion fail", dec.Checks)
	}
}

func TestEvaluate_RejectsOutsideTradingWindow(t *testing.T) {
	cases := []struct {
		name   string
		at     time.Time
		detail string
	}{
		{"weekend", time.Date(2024, 3, 2, 11, 0, 0, 0, time.UTC), "outside trading window"},
		{"opening range", time.Date(2024, 3, 5, 9, 40, 0, 0, time.UTC), "inside opening exclusion"},
		{"after close", time.Date(2024, 3, 5, 16, 30, 0, 0, time.UTC), "outside trading window"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fix := newFixture(t)
			at := time.Date(tc.at.Year(), tc.at.Month(), tc.at.Day(), tc.at.Hour(), tc.at.Minute(), 0, 0, newYork(t))
			fix.pipe.now = func() time.Time { return at }

			dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

			if dec.FirstFailed != GateTradingWindow {
				t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateTradingWindow)
			}
			last := dec.Checks[len(dec.Checks)-1]
			if last.Detail != tc.detail {
				t.Errorf("detail = %q, want %q", last.Detail, tc.detail)
			}
		})
	}
}

func TestEvaluate_RejectsImminentEarnings(t *testing.T) {
	fix := newFixture(t)
	fix.feed.earnings = true

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if dec.FirstFailed != GateEarnings {
		t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateEarnings)
	}
}

func TestEvaluate_RegimeGate(t *testing.T) {
	cases := []struct {
		name        string
		snap        *regime.Snapshot
		unavailable bool
	}{
		{"missing snapshot", nil, true},
		{"neutral rejects", &regime.Snapshot{Composite: regime.Neutral}, false},
		{"bearish rejects", &regime.Snapshot{Composite: regime.Bearish}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fix := newFixture(t)
			fix.snaps.Regime = tc.snap

			dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

			if dec.FirstFailed != GateMarketRegime {
				t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateMarketRegime)
			}
			last := dec.Checks[len(dec.Checks)-1]
			if last.Unavailable != tc.unavailable {
				t.Errorf("unavailable = %v, want %v", last.Unavailable, tc.unavailable)
			}
		})
	}
}

func TestEvaluate_SectorGate(t *testing.T) {
	t.Run("unknown sector rejects", func(t *testing.T) {
		fix := newFixture(t)

		dec := fix.pipe.Evaluate(context.Background(), "FOO", fix.snaps)

		if dec.FirstFailed != GateSectorRegime {
			t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateSectorRegime)
		}
		last := dec.Checks[len(dec.Checks)-1]
		if last.Unavailable {
			t.Error("unknown sector should reject, not report an outage")
		}
	})

	t.Run("missing sector state is an outage", func(t *testing.T) {
		fix := newFixture(t)
		fix.snaps.Sector = &sector.Snapshot{}

		dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

		if dec.FirstFailed != GateSectorRegime {
			t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateSectorRegime)
		}
		if last := dec.Checks[len(dec.Checks)-1]; !last.Unavailable {
			t.Error("missing sector state should be reported as unavailable")
		}
	})

	t.Run("weak sector rejects", func(t *testing.T) {
		fix := newFixture(t)
		fix.snaps.Sector.Sectors["technology"] = sector.State{
			Sector: "technology", Proxy: "XLK", ChangePct: -0.3, VolumeRatio: 0.8,
		}

		dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

		if dec.FirstFailed != GateSectorRegime {
			t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateSectorRegime)
		}
	})
}

func TestEvaluate_BarOutageFailsClosed(t *testing.T) {
	fix := newFixture(t)
	fix.provider.barsErr = errors.New("feed down")

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if dec.FirstFailed != GateCandleQuality {
		t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateCandleQuality)
	}
	last := dec.Checks[len(dec.Checks)-1]
	if !last.Unavailable {
		t.Error("bar outage should be reported as unavailable")
	}
	if last.Passed {
		t.Error("outage check marked passed")
	}
}

func TestEvaluate_RejectsNegativeHeadline(t *testing.T) {
	fix := newFixture(t)
	fix.feed.news = []news.Item{
		{Symbol: "AAPL", Headline: "Supplier notes steady demand", At: time.Now()},
		{Symbol: "AAPL", Headline: "Analysts flag weak guidance", At: time.Now()},
	}

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if dec.FirstFailed != GateNegativeNews {
		t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateNegativeNews)
	}
	last := dec.Checks[len(dec.Checks)-1]
	if last.Value != "1" {
		t.Errorf("negative count = %q, want 1 (benign headline must not count)", last.Value)
	}
}

func TestEvaluate_RejectsRecentDowngrade(t *testing.T) {
	fix := newFixture(t)
	fix.feed.ratings = []news.RatingChange{
		{Symbol: "AAPL", Direction: news.Upgrade, Firm: "GS", At: time.Now()},
		{Symbol: "AAPL", Direction: news.Downgrade, Firm: "MS", At: time.Now()},
	}

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if dec.FirstFailed != GateDowngrade {
		t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateDowngrade)
	}
	last := dec.Checks[len(dec.Checks)-1]
	if last.Detail != "downgraded by MS" {
		t.Errorf("detail = %q", last.Detail)
	}
}

func TestEvaluate_FeedOutagesFailClosed(t *testing.T) {
	cases := []struct {
		name string
		prep func(*fixture)
		gate string
	}{
		{"earnings feed", func(f *fixture) { f.feed.earningsErr = errors.New("feed down") }, GateEarnings},
		{"news feed", func(f *fixture) { f.feed.newsErr = errors.New("feed down") }, GateNegativeNews},
		{"ratings feed", func(f *fixture) { f.feed.ratingsErr = errors.New("feed down") }, GateDowngrade},
		{"order book", func(f *fixture) { f.provider.bookErr = errors.New("feed down") }, GateSpread},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fix := newFixture(t)
			tc.prep(fix)

			dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

			if dec.FirstFailed != tc.gate {
				t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, tc.gate)
			}
			if last := dec.Checks[len(dec.Checks)-1]; !last.Unavailable {
				t.Error("outage not reported as unavailable")
			}
		})
	}
}

func TestEvaluate_SpreadGate(t *testing.T) {
	t.Run("wide spread rejects", func(t *testing.T) {
		fix := newFixture(t)
		fix.provider.quote.Bid = 102.0
		fix.provider.quote.Ask = 103.2

		dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

		if dec.FirstFailed != GateSpread {
			t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateSpread)
		}
	})

	t.Run("spread at the ceiling admits", func(t *testing.T) {
		fix := newFixture(t)
		// Mid 103.00, spread 0.515: exactly the 0.005 ceiling.
		fix.provider.quote.Bid = 102.7425
		fix.provider.quote.Ask = 103.2575

		dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

		if !dec.Admitted {
			t.Fatalf("rejected at %q, want admitted on boundary spread", dec.FirstFailed)
		}
	})

	t.Run("one-sided book is an outage", func(t *testing.T) {
		fix := newFixture(t)
		fix.provider.quote.Ask = 0

		dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

		if dec.FirstFailed != GateSpread {
			t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateSpread)
		}
		if last := dec.Checks[len(dec.Checks)-1]; !last.Unavailable {
			t.Error("one-sided book not reported as unavailable")
		}
	})
}

func TestEvaluate_RejectsBearishPattern(t *testing.T) {
	fix := newFixture(t)
	bars := fix.provider.bars
	bars[19] = market.Bar{
		Symbol: "AAPL", Start: bars[19].Start,
		Open: 100, High: 102.2, Low: 99.9, Close: 102,
		Volume: 1_000_000,
	}
	bars[20] = market.Bar{
		Symbol: "AAPL", Start: bars[20].Start,
		Open: 102.2, High: 102.4, Low: 99.5, Close: 99.9,
		Volume: 1_000_000,
	}

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if dec.FirstFailed != GatePattern {
		t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GatePattern)
	}
	last := dec.Checks[len(dec.Checks)-1]
	if last.Value != "bearish_engulfing" {
		t.Errorf("value = %q, want bearish_engulfing", last.Value)
	}
}

func TestEvaluate_RejectsWithoutPattern(t *testing.T) {
	fix := newFixture(t)
	bars := fix.provider.bars
	// Plain continuation candle on average volume: clean but patternless.
	bars[20] = market.Bar{
		Symbol: "AAPL", Start: bars[20].Start,
		Open: 100, High: 101, Low: 99.9, Close: 100.8,
		Volume: 1_000_000,
	}

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if dec.FirstFailed != GatePattern {
		t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GatePattern)
	}
	last := dec.Checks[len(dec.Checks)-1]
	if last.Value != "none" {
		t.Errorf("value = %q, want none", last.Value)
	}
}

func TestEvaluate_RejectsBelowResistance(t *testing.T) {
	fix := newFixture(t)
	// A spike high earlier in the window lifts resistance above the close.
	fix.provider.bars[5].High = 110

	dec := fix.pipe.Evaluate(context.Background(), "AAPL", fix.snaps)

	if dec.FirstFailed != GateBreakout {
		t.Fatalf("FirstFailed = %q, want %q", dec.FirstFailed, GateBreakout)
	}
	last := dec.Checks[len(dec.Checks)-1]
	if last.Value != breakout.ReasonBelowResistance {
		t.Errorf("value = %q, want %q", last.Value, breakout.ReasonBelowResistance)
	}
}
