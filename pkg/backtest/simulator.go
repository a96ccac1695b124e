package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"
)

// ErrEmptySeries is returned when there is nothing to simulate
var ErrEmptySeries = errors.New("empty series")

// SimulatorConfig holds configuration for the reference simulator
type SimulatorConfig struct {
	InitialCapital   float64 // Starting cash
	CommissionRate   float64 // e.g. 0.001 for 0.1% per fill
	Warmup           int     // Bars skipped before the strategy is consulted
	PositionFraction float64 // Fraction of cash committed per entry (0, 1]
}

// DefaultSimulatorConfig returns default simulator configuration
func DefaultSimulatorConfig() SimulatorConfig {
	return SimulatorConfig{
		InitialCapital:   10000.0,
		CommissionRate:   0.001,
		Warmup:           30,
		PositionFraction: 1.0,
	}
}

// Simulator is a long-only bar-by-bar backtester implementing Port.
// It opens a position on Buy when flat, closes it on Sell, and closes any
// open position on the last bar.
type Simulator struct {
	config SimulatorConfig
}

// NewSimulator creates a new simulator
func NewSimulator(config SimulatorConfig) *Simulator {
	if config.PositionFraction <= 0 || config.PositionFraction > 1 {
		config.PositionFraction = 1.0
	}
	if config.Warmup < 0 {
		config.Warmup = 0
	}
	return &Simulator{config: config}
}

type openPosition struct {
	entry      *Candlestick
	quantity   float64
	commission float64
}

// Backtest runs strategy over series. Any strategy error aborts the run.
func (s *Simulator) Backtest(ctx context.Context, series Series, strategy StrategyFunc) (Result, error) {
	if len(series) == 0 {
		return Result{}, ErrEmptySeries
	}

	cash := s.config.InitialCapital
	peak := cash
	maxDrawdownPct := 0.0
	var pos *openPosition
	var trades Log

	closePosition := func(bar *Candlestick) {
		proceeds := pos.quantity * bar.Close
		fee := proceeds * s.config.CommissionRate
		cash += proceeds - fee
		trades = append(trades, TradeRecord{
			EntryTime:  pos.entry.Timestamp,
			ExitTime:   bar.Timestamp,
			EntryPrice: pos.entry.Close,
			ExitPrice:  bar.Close,
			Quantity:   pos.quantity,
			PnL:        proceeds - pos.quantity*pos.entry.Close - pos.commission - fee,
			Commission: pos.commission + fee,
		})
		pos = nil
	}

	for i := s.config.Warmup; i < len(series); i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("backtest cancelled at bar %d: %w", i, err)
		}

		bar := series[i]
		vote, err := strategy(series[:i+1])
		if err != nil {
			return Result{}, fmt.Errorf("strategy failed at bar %d: %w", i, err)
		}

		switch {
		case vote == VoteBuy && pos == nil && bar.Close > 0:
			budget := cash * s.config.PositionFraction
			fee := budget * s.config.CommissionRate
			qty := (budget - fee) / bar.Close
			cash -= budget
			pos = &openPosition{entry: bar, quantity: qty, commission: fee}
		case vote == VoteSell && pos != nil:
			closePosition(bar)
		}

		equity := cash
		if pos != nil {
			equity += pos.quantity * bar.Close
		}
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			maxDrawdownPct = math.Max(maxDrawdownPct, (peak-equity)/peak*100)
		}
	}

	if pos != nil {
		closePosition(series[len(series)-1])
	}

	stats := summarize(trades, s.config.InitialCapital)
	stats[StatMaxDrawdownPct] = maxDrawdownPct

	log.Debug().
		Str("symbol", series.Symbol()).
		Int("bars", len(series)).
		Int("trades", len(trades)).
		Float64("profit", stats.Profit()).
		Float64("win_rate", stats.WinRate()).
		Msg("Backtest complete")

	return Result{Log: trades, Stats: stats}, nil
}

// summarize computes the summary statistics of a trade log
func summarize(trades Log, initialCapital float64) Stats {
	profit := 0.0
	wins := 0
	for _, t := range trades {
		profit += t.PnL
		if t.PnL > 0 {
			wins++
		}
	}

	winRate := 0.0
	if len(trades) > 0 {
		winRate = float64(wins) / float64(len(trades))
	}

	returnPct := 0.0
	if initialCapital > 0 {
		returnPct = profit / initialCapital * 100
	}

	return Stats{
		StatProfit:    profit,
		StatWinRate:   winRate,
		StatTrades:    float64(len(trades)),
		StatReturnPct: returnPct,
	}
}
