package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"

	"github.com/sawpanic/equityrun/internal/market"
)

func testWarmer(t *testing.T) (*Warmer, redismock.ClientMock) {
	t.Helper()
	rdb, mock := redismock.NewClientMock()
	cfg := DefaultConfig()
	cfg.Symbols = []string{"AAPL"}
	return NewWarmer(cfg, rdb), mock
}

func TestHandleMessageCachesQuote(t *testing.T) {
	w, mock := testWarmer(t)

	quote := market.Quote{
		Symbol: "AAPL", Bid: 99.9, BidSize: 500, Ask: 100.1, AskSize: 400, Last: 100,
		At: time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC),
	}
	payload, _ := json.Marshal(quote)
	mock.ExpectSet("quote:AAPL", payload, 5*time.Second).SetVal("OK")

	raw, _ := json.Marshal(quoteMessage{Type: "quote", Quote: quote})
	if err := w.handleMessage(context.Background(), raw); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleMessageIgnoresOtherTypes(t *testing.T) {
	w, mock := testWarmer(t)

	raw := []byte(`{"type":"heartbeat"}`)
	if err := w.handleMessage(context.Background(), raw); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleMessageIgnoresOneSidedBook(t *testing.T) {
	w, mock := testWarmer(t)

	quote := market.Quote{Symbol: "AAPL", Bid: 0, Ask: 100.1, AskSize: 400}
	raw, _ := json.Marshal(quoteMessage{Type: "quote", Quote: quote})
	if err := w.handleMessage(context.Background(), raw); err != nil {
		t.Fatalf("handleMessage: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestHandleMessageRejectsGarbage(t *testing.T) {
	w, _ := testWarmer(t)

	if err := w.handleMessage(context.Background(), []byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestRunStopsWhenContextCanceled(t *testing.T) {
	rdb, _ := redismock.NewClientMock()
	cfg := DefaultConfig()
	// Nothing listens here; the dial fails and Run must notice the
	// canceled context instead of retrying forever.
	cfg.URL = "ws://127.0.0.1:1"
	w := NewWarmer(cfg, rdb)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	finished := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
