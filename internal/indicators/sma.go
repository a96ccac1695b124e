package indicators

import (
	"fmt"

	"github.com/cinar/indicator/v2/trend"
)

// SMA returns the most recent Simple Moving Average of closes
func SMA(closes []float64, period int) (float64, error) {
	if period < 1 {
		return 0, fmt.Errorf("invalid SMA period: %d", period)
	}
	if len(closes) < period {
		return 0, fmt.Errorf("%w: SMA(%d) needs %d prices, got %d",
			ErrInsufficientData, period, period, len(closes))
	}

	smaIndicator := trend.NewSmaWithPeriod[float64](period)
	values := collect(smaIndicator.Compute(feed(closes)))
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: no SMA values calculated", ErrInsufficientData)
	}

	return values[len(values)-1], nil
}
