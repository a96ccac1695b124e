package indicators

import (
	"fmt"
	"math"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/rs/zerolog/log"
)

// DefaultRSIPeriod is the look-back used when no period is configured
const DefaultRSIPeriod = 14

// RSI returns the most recent Relative Strength Index of closes
func RSI(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("invalid RSI period: %d", period)
	}
	if len(closes) <= period {
		return 0, fmt.Errorf("%w: RSI(%d) needs more than %d prices, got %d",
			ErrInsufficientData, period, period, len(closes))
	}

	rsiIndicator := momentum.NewRsiWithPeriod[float64](period)
	values := collect(rsiIndicator.Compute(feed(closes)))
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: no RSI values calculated", ErrInsufficientData)
	}

	current := values[len(values)-1]

	// Flat prices have neither gains nor losses
	if math.IsNaN(current) {
		current = 50
	}

	log.Debug().
		Int("prices_count", len(closes)).
		Int("period", period).
		Float64("rsi", current).
		Msg("RSI calculated")

	return current, nil
}
