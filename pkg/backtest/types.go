// Package backtest defines the data model shared by the evaluation engine and
// the Backtest Port it consumes, plus a reference long-only simulator.
package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ============================================================================
// MARKET DATA
// ============================================================================

// Candlestick represents OHLCV data for a time period
type Candlestick struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is a time-ordered sequence of candlesticks for one symbol.
// Gaps and irregular spacing are tolerated; nothing is resampled.
type Series []*Candlestick

// Closes returns the closing prices in chronological order
func (s Series) Closes() []float64 {
	closes := make([]float64, len(s))
	for i, c := range s {
		closes[i] = c.Close
	}
	return closes
}

// Symbol returns the symbol of the series, or "" for an empty series
func (s Series) Symbol() string {
	if len(s) == 0 {
		return ""
	}
	return s[len(s)-1].Symbol
}

// Last returns the most recent candlestick, or nil for an empty series
func (s Series) Last() *Candlestick {
	if len(s) == 0 {
		return nil
	}
	return s[len(s)-1]
}

// ============================================================================
// VOTES AND STRATEGIES
// ============================================================================

// Vote is the categorical output of a strategy
type Vote string

const (
	VoteBuy  Vote = "Buy"
	VoteSell Vote = "Sell"
	VoteHold Vote = "Hold"
)

// Votes lists every category in declaration order
var Votes = []Vote{VoteBuy, VoteSell, VoteHold}

// Valid reports whether v is one of the three categories
func (v Vote) Valid() bool {
	return v == VoteBuy || v == VoteSell || v == VoteHold
}

// StrategyFunc maps a price series to a vote
type StrategyFunc func(series Series) (Vote, error)

// ============================================================================
// RESULTS
// ============================================================================

// Required metric names
const (
	StatProfit  = "profit"
	StatWinRate = "win_rate"

	StatTrades         = "trades"
	StatReturnPct      = "return_pct"
	StatMaxDrawdownPct = "max_drawdown_pct"
)

// ErrMissingMetric is returned when a result lacks profit or win_rate
var ErrMissingMetric = errors.New("missing required metric")

// Stats maps metric names to values
type Stats map[string]float64

// Profit returns the profit metric (0 if absent)
func (s Stats) Profit() float64 { return s[StatProfit] }

// WinRate returns the win_rate metric (0 if absent)
func (s Stats) WinRate() float64 { return s[StatWinRate] }

// Clone creates a copy of the stats
func (s Stats) Clone() Stats {
	clone := make(Stats, len(s))
	for k, v := range s {
		clone[k] = v
	}
	return clone
}

// Validate checks that the metrics required by the engine are present
func (s Stats) Validate() error {
	for _, name := range []string{StatProfit, StatWinRate} {
		if _, ok := s[name]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingMetric, name)
		}
	}
	return nil
}

// TradeRecord is one closed round trip in a trade log
type TradeRecord struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Quantity   float64   `json:"quantity"`
	PnL        float64   `json:"pnl"`
	Commission float64   `json:"commission"`
}

// Log is the ordered trade log of a backtest
type Log []TradeRecord

// Result is the immutable output of one backtest evaluation
type Result struct {
	Log   Log   `json:"log"`
	Stats Stats `json:"stats"`
}

// ============================================================================
// PORT
// ============================================================================

// Port runs a strategy over a series and reports the trade log and statistics.
// Failures are returned as errors, never as sentinel stats.
type Port interface {
	Backtest(ctx context.Context, series Series, strategy StrategyFunc) (Result, error)
}

// PortFunc adapts a function to the Port interface
type PortFunc func(ctx context.Context, series Series, strategy StrategyFunc) (Result, error)

// Backtest calls f
func (f PortFunc) Backtest(ctx context.Context, series Series, strategy StrategyFunc) (Result, error) {
	return f(ctx, series, strategy)
}
