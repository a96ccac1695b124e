// Package market provides the price series consumed by the engine.
package market

import (
	"context"
	"fmt"
	"sort"

	"github.com/ajitpratap0/adaptive-engine/internal/resilience"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// Source yields a time-ordered price series for a symbol
type Source interface {
	History(ctx context.Context, symbol, interval string, limit int) (backtest.Series, error)
}

// StaticSource serves fixed series, e.g. loaded from a file or built in tests
type StaticSource map[string]backtest.Series

// History returns the last limit candles of symbol
func (s StaticSource) History(ctx context.Context, symbol, interval string, limit int) (backtest.Series, error) {
	series, ok := s[symbol]
	if !ok || len(series) == 0 {
		return nil, resilience.Permanent(fmt.Errorf("no data for %s", symbol))
	}
	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return append(backtest.Series(nil), series...), nil
}

// FetchAll loads every symbol from source. Symbols that fail are returned in
// the error map and left out of the series map.
func FetchAll(ctx context.Context, source Source, symbols []string, interval string, limit int) (map[string]backtest.Series, map[string]error) {
	seriesBySymbol := make(map[string]backtest.Series, len(symbols))
	failures := make(map[string]error)
	for _, symbol := range symbols {
		series, err := source.History(ctx, symbol, interval, limit)
		if err != nil {
			failures[symbol] = err
			continue
		}
		seriesBySymbol[symbol] = series
	}
	return seriesBySymbol, failures
}

// sortSeries orders candles chronologically
func sortSeries(series backtest.Series) {
	sort.SliceStable(series, func(i, j int) bool {
		return series[i].Timestamp.Before(series[j].Timestamp)
	})
}
