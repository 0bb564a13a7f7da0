// Package watchlist owns the tradable universe: the core list of
// sector leaders, the secondary momentum list, and the exclusion list.
// Membership and exclusion are answered separately so the admission
// pipeline can report which one rejected a candidate.
package watchlist

import (
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// Config is the configured universe. Symbols are case-insensitive.
type Config struct {
	Core             []string `yaml:"core"`
	Secondary        []string `yaml:"secondary"`
	Excluded         []string `yaml:"excluded"`
	IncludeSecondary bool     `yaml:"include_secondary"`
}

// DefaultConfig returns the default core universe, the sector leaders
// the default sector membership table covers.
func DefaultConfig() Config {
	return Config{
		Core: []string{
			"AAPL", "MSFT", "NVDA", "AMD", "META", "GOOGL", "AVGO", "ADBE",
			"AMZN", "TSLA", "HD", "NKE", "SBUX", "MCD", "LOW",
			"UNH", "JNJ", "LLY", "ABBV", "TMO",
			"XOM", "CVX", "COP", "SLB",
			"JPM", "BAC", "GS",
		},
	}
}

// Manager answers membership and exclusion queries and accepts runtime
// changes to the secondary and exclusion lists. Safe for concurrent use.
type Manager struct {
	mu               sync.RWMutex
	core             map[string]struct{}
	secondary        map[string]struct{}
	excluded         map[string]struct{}
	includeSecondary bool
}

func NewManager(cfg Config) *Manager {
	m := &Manager{
		core:             symbolSet(cfg.Core),
		secondary:        symbolSet(cfg.Secondary),
		excluded:         symbolSet(cfg.Excluded),
		includeSecondary: cfg.IncludeSecondary,
	}
	log.Info().
		Int("core", len(m.core)).
		Int("secondary", len(m.secondary)).
		Int("excluded", len(m.excluded)).
		Bool("include_secondary", m.includeSecondary).
		Msg("watchlist loaded")
	return m
}

func symbolSet(symbols []string) map[string]struct{} {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			set[s] = struct{}{}
		}
	}
	return set
}

// Member reports whether the symbol belongs to the active universe:
// the core list, plus the secondary list when secondary scanning is
// enabled. Exclusions do not affect membership.
func (m *Manager) Member(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.core[symbol]; ok {
		return true
	}
	if !m.includeSecondary {
		return false
	}
	_, ok := m.secondary[symbol]
	return ok
}

// Excluded reports whether the symbol is on the exclusion list.
func (m *Manager) Excluded(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.excluded[symbol]
	return ok
}

// Universe returns the symbols a scan cycle should visit: the active
// universe minus exclusions, deduplicated, in lexical order.
func (m *Manager) Universe() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.core)+len(m.secondary))
	for s := range m.core {
		if _, bad := m.excluded[s]; !bad {
			out = append(out, s)
		}
	}
	if m.includeSecondary {
		for s := range m.secondary {
			if _, inCore := m.core[s]; inCore {
				continue
			}
			if _, bad := m.excluded[s]; !bad {
				out = append(out, s)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Exclusions returns the excluded symbols in lexical order.
func (m *Manager) Exclusions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.excluded))
	for s := range m.excluded {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Exclude adds the symbol to the exclusion list.
func (m *Manager) Exclude(symbol, reason string) {
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	m.excluded[symbol] = struct{}{}
	m.mu.Unlock()
	log.Warn().Str("symbol", symbol).Str("reason", reason).Msg("symbol excluded from universe")
}

// Reinstate removes the symbol from the exclusion list.
func (m *Manager) Reinstate(symbol string) {
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	delete(m.excluded, symbol)
	m.mu.Unlock()
	log.Info().Str("symbol", symbol).Msg("symbol reinstated")
}

// AddSecondary adds the symbol to the secondary list. Excluded symbols
// are refused.
func (m *Manager) AddSecondary(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, bad := m.excluded[symbol]; bad {
		return false
	}
	if _, ok := m.secondary[symbol]; ok {
		return false
	}
	m.secondary[symbol] = struct{}{}
	return true
}

// RemoveSecondary removes the symbol from the secondary list.
func (m *Manager) RemoveSecondary(symbol string) bool {
	symbol = strings.ToUpper(symbol)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secondary[symbol]; !ok {
		return false
	}
	delete(m.secondary, symbol)
	return true
}

// Stats summarizes the current list sizes.
type Stats struct {
	Core      int `json:"core"`
	Secondary int `json:"secondary"`
	Excluded  int `json:"excluded"`
	Universe  int `json:"universe"`
}

func (m *Manager) Stats() Stats {
	universe := len(m.Universe())
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Core:      len(m.core),
		Secondary: len(m.secondary),
		Excluded:  len(m.excluded),
		Universe:  universe,
	}
}
