package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/equityrun/internal/position"
	"github.com/sawpanic/equityrun/internal/risk"
)

// NewMemory returns an in-process Store for tests and dry runs where
// no database is configured. Day keys in Stats use UTC to match the
// postgres aggregation.
func NewMemory() Store {
	return Store{
		Positions: &memPositions{positions: make(map[uuid.UUID]position.Position)},
		Ledger:    &memLedger{},
		Journal:   &memJournal{},
	}
}

type memPositions struct {
	mu        sync.RWMutex
	positions map[uuid.UUID]position.Position
}

func (m *memPositions) Save(_ context.Context, p position.Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.positions[p.ID] = p
	return nil
}

func (m *memPositions) Live(_ context.Context) ([]position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var live []position.Position
	for _, p := range m.positions {
		if !p.State.Closed() {
			live = append(live, p)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].Symbol < live[j].Symbol })

	return live, nil
}

func (m *memPositions) History(_ context.Context, symbol string, tr TimeRange, limit int) ([]position.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var closed []position.Position
	for _, p := range m.positions {
		if !p.State.Closed() || !inRange(p.ClosedAt, tr) {
			continue
		}
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		closed = append(closed, p)
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ClosedAt.After(closed[j].ClosedAt) })
	if limit > 0 && len(closed) > limit {
		closed = closed[:limit]
	}

	return closed, nil
}

func (m *memPositions) Stats(_ context.Context, tr TimeRange) (TradeStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := TradeStats{
		ByReason: make(map[string]int64),
		PnLByDay: make(map[string]float64),
	}
	for _, p := range m.positions {
		if !p.State.Closed() || !inRange(p.ClosedAt, tr) {
			continue
		}
		stats.Closed++
		switch {
		case p.PnL > 0:
			stats.Wins++
		case p.PnL < 0:
			stats.Losses++
		}
		stats.TotalPnL += p.PnL
		stats.ByReason[p.ExitReason]++
		stats.PnLByDay[p.ClosedAt.UTC().Format("2006-01-02")] += p.PnL
	}

	return stats, nil
}

type memLedger struct {
	mu       sync.RWMutex
	snapshot *risk.Snapshot
}

func (m *memLedger) Save(_ context.Context, s risk.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	granted := make([]risk.Authorization, len(s.Granted))
	copy(granted, s.Granted)
	s.Granted = granted
	m.snapshot = &s

	return nil
}

func (m *memLedger) Load(_ context.Context) (*risk.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.snapshot == nil {
		return nil, nil
	}
	s := *m.snapshot
	s.Granted = make([]risk.Authorization, len(m.snapshot.Granted))
	copy(s.Granted, m.snapshot.Granted)

	return &s, nil
}

type memJournal struct {
	mu      sync.RWMutex
	entries []JournalEntry
	nextID  int64
}

func (m *memJournal) Append(_ context.Context, e JournalEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	e.ID = m.nextID
	m.entries = append(m.entries, e)

	return nil
}

func (m *memJournal) Recent(_ context.Context, limit int) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]JournalEntry, len(m.entries))
	copy(entries, m.entries)
	sortJournal(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func (m *memJournal) BySymbol(_ context.Context, symbol string, tr TimeRange, limit int) ([]JournalEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var entries []JournalEntry
	for _, e := range m.entries {
		if e.Symbol == symbol && inRange(e.At, tr) {
			entries = append(entries, e)
		}
	}
	sortJournal(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

func (m *memJournal) CountByKind(_ context.Context, tr TimeRange) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int64)
	for _, e := range m.entries {
		if inRange(e.At, tr) {
			counts[e.Kind]++
		}
	}

	return counts, nil
}

func inRange(t time.Time, tr TimeRange) bool {
	return !t.Before(tr.From) && !t.After(tr.To)
}

func sortJournal(entries []JournalEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].At.Equal(entries[j].At) {
			return entries[i].ID > entries[j].ID
		}
		return entries[i].At.After(entries[j].At)
	})
}
