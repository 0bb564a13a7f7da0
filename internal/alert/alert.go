// Package alert publishes lifecycle notifications to pluggable sinks.
// Delivery is best-effort and never blocks the trading loops: the
// dispatcher buffers, suppresses repeats per symbol and kind, and drops
// the oldest event under pressure.
package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Event kinds.
const (
	KindSignal      = "signal"
	KindEntry       = "entry"
	KindExit        = "exit"
	KindDiscard     = "discard"
	KindDenied      = "denied"
	KindHalt        = "halt"
	KindHaltCleared = "halt_cleared"
	KindRegime      = "regime"
	KindError       = "error"
)

// Event is one notification. Symbol is empty for system-level events
// such as halts.
type Event struct {
	ID     uuid.UUID         `json:"id"`
	Kind   string            `json:"kind"`
	Symbol string            `json:"symbol,omitempty"`
	Title  string            `json:"title"`
	At     time.Time         `json:"at"`
	Fields map[string]string `json:"fields,omitempty"`
}

// NewEvent builds an event stamped now.
func NewEvent(kind, symbol, title string) Event {
	return Event{
		ID:     uuid.New(),
		Kind:   kind,
		Symbol: symbol,
		Title:  title,
		At:     time.Now().UTC(),
	}
}

// With returns a copy of the event with one extra field attached.
func (e Event) With(key, value string) Event {
	fields := make(map[string]string, len(e.Fields)+1)
	for k, v := range e.Fields {
		fields[k] = v
	}
	fields[key] = value
	e.Fields = fields
	return e
}

// Sink delivers events somewhere. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// LogSink writes events to the structured log.
type LogSink struct{}

func (LogSink) Send(_ context.Context, e Event) error {
	evt := log.Info().Str("kind", e.Kind).Str("title", e.Title)
	if e.Symbol != "" {
		evt = evt.Str("symbol", e.Symbol)
	}
	for k, v := range e.Fields {
		evt = evt.Str(k, v)
	}
	evt.Msg("Alert")
	return nil
}
