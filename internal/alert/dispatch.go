package alert

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Config tunes the dispatcher.
type Config struct {
	// CooldownSeconds suppresses repeats of the same symbol and kind.
	CooldownSeconds int `yaml:"cooldown_seconds" validate:"gte=0"`
	// Buffer is the queue depth before drop-oldest kicks in.
	Buffer int `yaml:"buffer" validate:"gt=0"`
}

// DefaultConfig returns the production dispatcher settings.
func DefaultConfig() Config {
	return Config{
		CooldownSeconds: 300,
		Buffer:          64,
	}
}

// Stats counts dispatcher outcomes since start.
type Stats struct {
	Published  int64 `json:"published"`
	Suppressed int64 `json:"suppressed"`
	Dropped    int64 `json:"dropped"`
	Queued     int   `json:"queued"`
}

// Dispatcher fans events out to the configured sinks. Publish never
// blocks; Run drains the queue until its context ends.
type Dispatcher struct {
	config Config
	sinks  []Sink
	queue  chan Event
	now    func() time.Time

	mu         sync.Mutex
	last       map[string]time.Time
	published  int64
	suppressed int64
	dropped    int64
}

func NewDispatcher(cfg Config, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		config: cfg,
		sinks:  sinks,
		queue:  make(chan Event, cfg.Buffer),
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
}

// Publish enqueues an event and reports whether it was accepted.
// Symbol-scoped events repeating inside the cooldown are suppressed;
// system events (no symbol) always pass. When the queue is full the
// oldest event is discarded to make room.
func (d *Dispatcher) Publish(e Event) bool {
	if !d.admit(e) {
		return false
	}

	select {
	case d.queue <- e:
		return true
	default:
	}

	// Full queue: sacrifice the oldest event for the newest.
	select {
	case <-d.queue:
		d.count(&d.dropped)
	default:
	}
	select {
	case d.queue <- e:
		return true
	default:
		d.count(&d.dropped)
		return false
	}
}

func (d *Dispatcher) admit(e Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if e.Symbol != "" && d.config.CooldownSeconds > 0 {
		key := e.Kind + "|" + e.Symbol
		cooldown := time.Duration(d.config.CooldownSeconds) * time.Second
		if at, ok := d.last[key]; ok && d.now().Sub(at) < cooldown {
			d.suppressed++
			return false
		}
		d.last[key] = d.now()
	}
	d.published++
	return true
}

func (d *Dispatcher) count(field *int64) {
	d.mu.Lock()
	*field++
	d.mu.Unlock()
}

// Run delivers queued events until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-d.queue:
			d.deliver(ctx, e)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	for _, s := range d.sinks {
		if err := s.Send(ctx, e); err != nil {
			log.Warn().Err(err).Str("kind", e.Kind).Str("symbol", e.Symbol).
				Msg("alert delivery failed")
		}
	}
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Published:  d.published,
		Suppressed: d.suppressed,
		Dropped:    d.dropped,
		Queued:     len(d.queue),
	}
}
