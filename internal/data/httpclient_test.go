package data

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sawpanic/equityrun/internal/market"
)

func testHTTPConfig(baseURL string) HTTPConfig {
	cfg := DefaultHTTPConfig()
	cfg.BaseURL = baseURL
	cfg.RPS = 1000
	cfg.Burst = 1000
	return cfg
}

func dailyBars(n int) []market.Bar {
	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, n)
	for i := range bars {
		px := 100.0 + float64(i)
		bars[i] = market.Bar{
			Symbol: "AAPL",
			Start:  start.AddDate(0, 0, i),
			Open:   px,
			High:   px + 1,
			Low:    px - 1,
			Close:  px + 0.5,
			Volume: 1_000_000,
		}
	}
	return bars
}

func TestLatestBars(t *testing.T) {
	var gotQuery atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/bars" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotQuery.Store(r.URL.Query().Encode())
		// Served newest first to prove the provider reorders.
		bars := dailyBars(5)
		for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
			bars[i], bars[j] = bars[j], bars[i]
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"bars": bars})
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(testHTTPConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPProvider: %v", err)
	}

	bars, err := p.LatestBars(context.Background(), "AAPL", market.IntervalDaily, 3)
	if err != nil {
		t.Fatalf("LatestBars: %v", err)
	}
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Start.After(bars[i-1].Start) {
			t.Fatalf("bars not ascending at %d", i)
		}
	}
	if bars[2].Close != 104.5 {
		t.Errorf("last close = %v, want 104.5", bars[2].Close)
	}
	if q := gotQuery.Load().(string); q != "interval=1d&limit=3&symbol=AAPL" {
		t.Errorf("query = %q", q)
	}
}

func TestOrderBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/book" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer testkey" {
			t.Errorf("auth header = %q", got)
		}
		json.NewEncoder(w).Encode(market.Quote{
			Symbol: "AAPL", Bid: 99.9, BidSize: 500, Ask: 100.1, AskSize: 400, Last: 100,
			At: time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
		})
	}))
	defer srv.Close()

	cfg := testHTTPConfig(srv.URL)
	cfg.APIKey = "testkey"
	p, err := NewHTTPProvider(cfg)
	if err != nil {
		t.Fatalf("NewHTTPProvider: %v", err)
	}

	quote, err := p.OrderBook(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("OrderBook: %v", err)
	}
	if quote.Bid != 99.9 || quote.Ask != 100.1 {
		t.Errorf("quote = %+v", quote)
	}
	if !quote.Valid() {
		t.Error("expected a valid two-sided book")
	}
}

func TestIndexReadings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbols"); got != "SPY,QQQ,^VIX" {
			t.Errorf("symbols = %q", got)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"indices": []market.IndexReading{
				{Symbol: "SPY", ChangePct: 0.8},
				{Symbol: "QQQ", ChangePct: 1.1},
				{Symbol: "^VIX", Level: 17.2},
			},
		})
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(testHTTPConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPProvider: %v", err)
	}

	readings, err := p.IndexReadings(context.Background())
	if err != nil {
		t.Fatalf("IndexReadings: %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("got %d readings, want 3", len(readings))
	}
	if readings["^VIX"].Level != 17.2 {
		t.Errorf("vix level = %v", readings["^VIX"].Level)
	}
}

func TestServerErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(testHTTPConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPProvider: %v", err)
	}

	_, err = p.LatestBars(context.Background(), "AAPL", market.IntervalDaily, 3)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestEmptySeriesIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"bars": []market.Bar{}})
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(testHTTPConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPProvider: %v", err)
	}

	_, err = p.LatestBars(context.Background(), "AAPL", market.IntervalDaily, 3)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&hits, 1)
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, err := NewHTTPProvider(testHTTPConfig(srv.URL))
	if err != nil {
		t.Fatalf("NewHTTPProvider: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := p.OrderBook(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: err = %v, want ErrUnavailable", i, err)
		}
	}
	if state := p.BreakerStatus().State; state != "open" {
		t.Fatalf("breaker state = %q after three failures, want open", state)
	}
	before := atomic.LoadInt64(&hits)

	if _, err := p.OrderBook(context.Background(), "AAPL"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("open-breaker call: err = %v, want ErrUnavailable", err)
	}
	if after := atomic.LoadInt64(&hits); after != before {
		t.Fatalf("breaker open but server was hit again (%d -> %d)", before, after)
	}
}

func TestNewHTTPProviderRejectsBadURL(t *testing.T) {
	cfg := DefaultHTTPConfig()
	cfg.BaseURL = "://not-a-url"
	if _, err := NewHTTPProvider(cfg); err == nil {
		t.Fatal("expected error for unparseable base url")
	}
}
