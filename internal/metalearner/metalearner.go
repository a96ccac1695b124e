// Package metalearner tracks, per symbol, the latest statistics of every
// strategy and which strategy currently has the best win rate.
package metalearner

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// SymbolMeta is the registry state of one symbol
type SymbolMeta struct {
	Strategies   map[string]backtest.Stats `json:"strategies"`
	Order        []string                  `json:"order"` // First-insertion order of Strategies
	BestStrategy string                    `json:"best_strategy"`
	MetaStats    backtest.Stats            `json:"meta_stats"`
}

func (m SymbolMeta) clone() SymbolMeta {
	clone := SymbolMeta{
		Strategies:   make(map[string]backtest.Stats, len(m.Strategies)),
		Order:        append([]string(nil), m.Order...),
		BestStrategy: m.BestStrategy,
		MetaStats:    m.MetaStats.Clone(),
	}
	for name, stats := range m.Strategies {
		clone.Strategies[name] = stats.Clone()
	}
	return clone
}

type symbolEntry struct {
	mu   sync.Mutex
	meta SymbolMeta
}

// MetaLearner is the per-symbol strategy registry. Writes to one symbol are
// serialized; different symbols never block each other.
type MetaLearner struct {
	mu      sync.RWMutex
	symbols map[string]*symbolEntry
}

// New creates an empty registry
func New() *MetaLearner {
	return &MetaLearner{symbols: make(map[string]*symbolEntry)}
}

// entry returns the entry of symbol, creating it if needed
func (m *MetaLearner) entry(symbol string) *symbolEntry {
	m.mu.RLock()
	e, ok := m.symbols[symbol]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.symbols[symbol]; ok {
		return e
	}
	e = &symbolEntry{meta: SymbolMeta{Strategies: make(map[string]backtest.Stats)}}
	m.symbols[symbol] = e
	return e
}

// Update overwrites the stats of strategy for symbol and recomputes the best
// strategy
func (m *MetaLearner) Update(symbol, strategy string, stats backtest.Stats) {
	e := m.entry(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.meta.Strategies[strategy]; !exists {
		e.meta.Order = append(e.meta.Order, strategy)
	}
	e.meta.Strategies[strategy] = stats.Clone()

	previous := e.meta.BestStrategy
	best := ""
	bestWinRate := 0.0
	for i, name := range e.meta.Order {
		winRate := e.meta.Strategies[name].WinRate()
		if i == 0 || winRate > bestWinRate {
			best = name
			bestWinRate = winRate
		}
	}
	e.meta.BestStrategy = best
	e.meta.MetaStats = e.meta.Strategies[best].Clone()

	metrics.BestWinRate.WithLabelValues(symbol).Set(bestWinRate)

	event := log.Debug()
	if best != previous {
		event = log.Info()
	}
	event.
		Str("symbol", symbol).
		Str("strategy", strategy).
		Str("best_strategy", best).
		Float64("best_win_rate", bestWinRate).
		Msg("Meta-learner updated")
}

// BestStrategy returns the best strategy of symbol and its stats. An unknown
// symbol yields "" and empty stats.
func (m *MetaLearner) BestStrategy(symbol string) (string, backtest.Stats) {
	m.mu.RLock()
	e, ok := m.symbols[symbol]
	m.mu.RUnlock()
	if !ok {
		return "", backtest.Stats{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.BestStrategy, e.meta.MetaStats.Clone()
}

// Symbol returns a copy of the state of one symbol
func (m *MetaLearner) Symbol(symbol string) (SymbolMeta, bool) {
	m.mu.RLock()
	e, ok := m.symbols[symbol]
	m.mu.RUnlock()
	if !ok {
		return SymbolMeta{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.meta.clone(), true
}

// AllState returns a copy of the state of every symbol
func (m *MetaLearner) AllState() map[string]SymbolMeta {
	m.mu.RLock()
	entries := make(map[string]*symbolEntry, len(m.symbols))
	for symbol, e := range m.symbols {
		entries[symbol] = e
	}
	m.mu.RUnlock()

	state := make(map[string]SymbolMeta, len(entries))
	for symbol, e := range entries {
		e.mu.Lock()
		state[symbol] = e.meta.clone()
		e.mu.Unlock()
	}
	return state
}
