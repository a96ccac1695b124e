// Package strategies holds the rule-based voters the engine evaluates and
// aggregates.
package strategies

import (
	"fmt"

	"github.com/ajitpratap0/adaptive-engine/internal/indicators"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// Names under which the built-in rules are reported to the meta-learner
const (
	NameRSIThreshold = "rsi_threshold"
	NameSMATrend     = "sma_trend"
)

// EvaluateRSI votes Buy when RSI is below low, Sell when above high,
// Hold otherwise
func EvaluateRSI(series backtest.Series, low, high float64, period int) (backtest.Vote, error) {
	if low >= high {
		return "", fmt.Errorf("rsi thresholds out of order: low %.2f >= high %.2f", low, high)
	}

	rsi, err := indicators.RSI(series.Closes(), period)
	if err != nil {
		return "", err
	}

	switch {
	case rsi < low:
		return backtest.VoteBuy, nil
	case rsi > high:
		return backtest.VoteSell, nil
	default:
		return backtest.VoteHold, nil
	}
}

// RSIThreshold binds EvaluateRSI to fixed parameters
func RSIThreshold(low, high float64, period int) backtest.StrategyFunc {
	return func(series backtest.Series) (backtest.Vote, error) {
		return EvaluateRSI(series, low, high, period)
	}
}

// EvaluateSMATrend votes Buy when the last close is above its moving
// average, Sell when below, Hold when equal
func EvaluateSMATrend(series backtest.Series, period int) (backtest.Vote, error) {
	closes := series.Closes()
	sma, err := indicators.SMA(closes, period)
	if err != nil {
		return "", err
	}

	last := closes[len(closes)-1]
	switch {
	case last > sma:
		return backtest.VoteBuy, nil
	case last < sma:
		return backtest.VoteSell, nil
	default:
		return backtest.VoteHold, nil
	}
}

// SMATrend binds EvaluateSMATrend to a fixed period
func SMATrend(period int) backtest.StrategyFunc {
	return func(series backtest.Series) (backtest.Vote, error) {
		return EvaluateSMATrend(series, period)
	}
}
