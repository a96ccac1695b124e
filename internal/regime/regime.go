// Package regime classifies the market as risk-on or risk-off from the
// recent volatility of returns.
package regime

import (
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/indicators"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// Regime is the market state
type Regime string

const (
	RiskOn  Regime = "risk-on"
	RiskOff Regime = "risk-off"
)

// Defaults
const (
	DefaultWindow    = 10
	DefaultThreshold = 0.02
)

// Detector compares rolling volatility to a threshold
type Detector struct {
	Window    int
	Threshold float64
}

// NewDetector creates a detector, falling back to defaults for zero values
func NewDetector(window int, threshold float64) Detector {
	if window < 2 {
		window = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Detector{Window: window, Threshold: threshold}
}

// Detect returns RiskOn when volatility is below the threshold. A series too
// short to measure is treated as RiskOn.
func (d Detector) Detect(series backtest.Series) Regime {
	vol, err := indicators.Volatility(series.Closes(), d.Window)
	if err != nil {
		log.Debug().
			Err(err).
			Str("symbol", series.Symbol()).
			Msg("Volatility unavailable, assuming risk-on")
		return RiskOn
	}
	if vol < d.Threshold {
		return RiskOn
	}
	return RiskOff
}

// Gate wraps strategy so that Buy votes become Hold in a risk-off regime.
// Sell and Hold pass through unchanged.
func (d Detector) Gate(strategy backtest.StrategyFunc) backtest.StrategyFunc {
	return func(series backtest.Series) (backtest.Vote, error) {
		vote, err := strategy(series)
		if err != nil {
			return vote, err
		}
		if vote == backtest.VoteBuy && d.Detect(series) == RiskOff {
			return backtest.VoteHold, nil
		}
		return vote, nil
	}
}
