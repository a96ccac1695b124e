package indicators

import (
	"fmt"
	"math"
)

// Volatility returns the sample standard deviation of the last window
// percentage returns of closes.
func Volatility(closes []float64, window int) (float64, error) {
	if window < 2 {
		return 0, fmt.Errorf("invalid volatility window: %d", window)
	}
	if len(closes) < window+1 {
		return 0, fmt.Errorf("%w: volatility(%d) needs %d prices, got %d",
			ErrInsufficientData, window, window+1, len(closes))
	}

	tail := closes[len(closes)-window-1:]
	returns := make([]float64, 0, window)
	for i := 1; i < len(tail); i++ {
		if tail[i-1] == 0 {
			return 0, fmt.Errorf("zero price at offset %d", i-1)
		}
		returns = append(returns, tail[i]/tail[i-1]-1)
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns) - 1)

	return math.Sqrt(variance), nil
}
