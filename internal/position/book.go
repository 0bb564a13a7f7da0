package position

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when no live position carries the given ID
// or symbol.
var ErrNotFound = errors.New("position not found")

// Book holds the live positions: pending fills and open trades. Closed
// positions leave the book on Close and live on only in persistence.
// Safe for concurrent use.
type Book struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]*Position
}

func NewBook() *Book {
	return &Book{positions: make(map[uuid.UUID]*Position)}
}

// Add registers a new pending position.
func (b *Book) Add(p *Position) error {
	if p.State != Pending {
		return fmt.Errorf("new position %s starts %s, want pending", p.Symbol, p.State)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.positions[p.ID]; ok {
		return fmt.Errorf("position %s already tracked", p.ID)
	}
	cp := *p
	b.positions[p.ID] = &cp
	return nil
}

// MarkOpen moves a pending position to open at its fill price. The
// bracket re-anchors to the fill: stop and target rescale from the
// authorized entry so the configured offsets apply to the realized
// price, not the signal price.
func (b *Book) MarkOpen(id uuid.UUID, fill float64, at time.Time) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[id]
	if !ok {
		return Position{}, ErrNotFound
	}
	if p.State != Pending {
		return Position{}, fmt.Errorf("position %s is %s, cannot open", p.Symbol, p.State)
	}
	p.State = Open
	p.Fill = fill
	p.OpenedAt = at
	if p.Entry > 0 && fill > 0 {
		scale := fill / p.Entry
		p.Stop *= scale
		p.Target *= scale
	}
	log.Info().Str("symbol", p.Symbol).Float64("fill", fill).
		Int64("qty", p.Qty).Msg("Position opened")
	return *p, nil
}

// Close moves an open position to a terminal state, books its PnL, and
// removes it from the live book. The final record is returned for
// persistence and alerting.
func (b *Book) Close(id uuid.UUID, to State, price float64, at time.Time, reason string) (Position, error) {
	if !to.Closed() {
		return Position{}, fmt.Errorf("%s is not a terminal state", to)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[id]
	if !ok {
		return Position{}, ErrNotFound
	}
	if p.State != Open {
		return Position{}, fmt.Errorf("position %s is %s, cannot close", p.Symbol, p.State)
	}
	p.State = to
	p.ExitPrice = price
	p.ClosedAt = at
	p.ExitReason = reason
	p.PnL = (price - p.Fill) * float64(p.Qty)

	final := *p
	delete(b.positions, id)
	log.Info().Str("symbol", final.Symbol).Str("state", to.String()).
		Str("reason", reason).Float64("pnl", final.PnL).Msg("Position closed")
	return final, nil
}

// Discard removes a pending position that will never fill: the order
// was rejected, timed out, or was cancelled by an operator. The final
// record is returned for persistence.
func (b *Book) Discard(id uuid.UUID, at time.Time, reason string) (Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	p, ok := b.positions[id]
	if !ok {
		return Position{}, ErrNotFound
	}
	if p.State != Pending {
		return Position{}, fmt.Errorf("position %s is %s, cannot discard", p.Symbol, p.State)
	}
	p.State = Discarded
	p.ClosedAt = at
	p.ExitReason = reason

	final := *p
	delete(b.positions, id)
	log.Warn().Str("symbol", final.Symbol).Str("reason", reason).Msg("Pending position discarded")
	return final, nil
}

// ExpirePending discards pending positions whose fill window has run
// out and returns them, sorted by symbol, so the caller can release
// their risk slots.
func (b *Book) ExpirePending(now time.Time, timeout time.Duration) []Position {
	b.mu.Lock()
	defer b.mu.Unlock()

	var expired []Position
	for id, p := range b.positions {
		if p.State == Pending && now.Sub(p.CreatedAt) >= timeout {
			p.State = Discarded
			p.ClosedAt = now
			p.ExitReason = ReasonFillTimeout
			expired = append(expired, *p)
			delete(b.positions, id)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Symbol < expired[j].Symbol })
	for _, p := range expired {
		log.Warn().Str("symbol", p.Symbol).
			Dur("waited", now.Sub(p.CreatedAt)).Msg("Pending fill timed out")
	}
	return expired
}

// Get returns a copy of the live position with the given ID.
func (b *Book) Get(id uuid.UUID) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// BySymbol returns the live position for a symbol, if any.
func (b *Book) BySymbol(symbol string) (Position, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.positions {
		if p.Symbol == symbol {
			return *p, true
		}
	}
	return Position{}, false
}

// List returns copies of all live positions sorted by symbol.
func (b *Book) List() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenPositions returns only the positions in the Open state, sorted
// by symbol.
func (b *Book) OpenPositions() []Position {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Position
	for _, p := range b.positions {
		if p.State == Open {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Counts returns the number of pending and open positions.
func (b *Book) Counts() (pending, open int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.positions {
		switch p.State {
		case Pending:
			pending++
		case Open:
			open++
		}
	}
	return pending, open
}

// Restore reloads live positions from persistence. Terminal records are
// skipped; they belong to the trade history, not the live book.
func (b *Book) Restore(list []Position) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.positions = make(map[uuid.UUID]*Position, len(list))
	skipped := 0
	for _, p := range list {
		if p.State.Closed() {
			skipped++
			continue
		}
		cp := p
		b.positions[p.ID] = &cp
	}
	log.Info().Int("restored", len(b.positions)).Int("skipped", skipped).
		Msg("Position book restored")
}
