package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Send(_ context.Context, e Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *captureSink) kinds() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func TestPublishDelivers(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(DefaultConfig(), sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	if !d.Publish(NewEvent(KindSignal, "AAPL", "breakout signal")) {
		t.Fatal("publish rejected")
	}
	if !d.Publish(NewEvent(KindExit, "MSFT", "stop hit")) {
		t.Fatal("publish rejected")
	}

	waitFor(t, func() bool { return sink.count() == 2 })
	st := d.Stats()
	if st.Published != 2 || st.Suppressed != 0 || st.Dropped != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestCooldownSuppressesRepeats(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), &captureSink{})
	at := time.Date(2024, 3, 5, 16, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return at }

	if !d.Publish(NewEvent(KindSignal, "AAPL", "breakout signal")) {
		t.Fatal("first publish rejected")
	}
	if d.Publish(NewEvent(KindSignal, "AAPL", "breakout signal")) {
		t.Fatal("repeat inside cooldown accepted")
	}
	// Different kind or symbol is not a repeat.
	if !d.Publish(NewEvent(KindExit, "AAPL", "stop hit")) {
		t.Error("different kind suppressed")
	}
	if !d.Publish(NewEvent(KindSignal, "MSFT", "breakout signal")) {
		t.Error("different symbol suppressed")
	}

	at = at.Add(301 * time.Second)
	if !d.Publish(NewEvent(KindSignal, "AAPL", "breakout signal")) {
		t.Error("publish rejected after cooldown expired")
	}
	if got := d.Stats().Suppressed; got != 1 {
		t.Errorf("suppressed = %d, want 1", got)
	}
}

func TestSystemEventsBypassCooldown(t *testing.T) {
	d := NewDispatcher(DefaultConfig(), &captureSink{})

	if !d.Publish(NewEvent(KindHalt, "", "daily loss limit")) {
		t.Fatal("halt rejected")
	}
	if !d.Publish(NewEvent(KindHalt, "", "daily loss limit")) {
		t.Fatal("second halt suppressed")
	}
}

func TestDropOldestWhenFull(t *testing.T) {
	sink := &captureSink{}
	cfg := Config{CooldownSeconds: 300, Buffer: 2}
	d := NewDispatcher(cfg, sink)

	// No consumer yet: the third publish must push out the first.
	d.Publish(NewEvent(KindSignal, "AAPL", "one"))
	d.Publish(NewEvent(KindSignal, "MSFT", "two"))
	d.Publish(NewEvent(KindSignal, "NVDA", "three"))

	if got := d.Stats().Dropped; got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	waitFor(t, func() bool { return sink.count() == 2 })
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.events[0].Symbol != "MSFT" || sink.events[1].Symbol != "NVDA" {
		t.Errorf("delivered %s, %s; want MSFT, NVDA", sink.events[0].Symbol, sink.events[1].Symbol)
	}
}

func TestEventWithFields(t *testing.T) {
	e := NewEvent(KindExit, "AAPL", "stop hit").With("pnl", "-38.00").With("reason", "stop_loss")
	if e.Fields["pnl"] != "-38.00" || e.Fields["reason"] != "stop_loss" {
		t.Errorf("fields = %v", e.Fields)
	}
	if e.ID == uuid.Nil {
		t.Error("event has zero id")
	}
}
