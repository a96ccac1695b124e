package indicators

import (
	"errors"
	"math"
	"testing"
)

func TestRSI(t *testing.T) {
	rising := []float64{
		10.0, 12.0, 14.0, 16.0, 18.0, 20.0, 22.0, 24.0,
		26.0, 28.0, 30.0, 32.0, 34.0, 36.0, 38.0, 40.0,
	}
	falling := make([]float64, len(rising))
	for i, p := range rising {
		falling[len(rising)-1-i] = p
	}

	tests := []struct {
		name      string
		prices    []float64
		period    int
		wantError error
		check     func(float64) bool
	}{
		{
			name:   "Strongly bullish trend is overbought",
			prices: rising,
			period: DefaultRSIPeriod,
			check:  func(v float64) bool { return v > 70 },
		},
		{
			name:   "Strongly bearish trend is oversold",
			prices: falling,
			period: DefaultRSIPeriod,
			check:  func(v float64) bool { return v < 30 },
		},
		{
			name:      "Too few prices",
			prices:    rising[:DefaultRSIPeriod],
			period:    DefaultRSIPeriod,
			wantError: ErrInsufficientData,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			value, err := RSI(tt.prices, tt.period)
			if tt.wantError != nil {
				if !errors.Is(err, tt.wantError) {
					t.Fatalf("Expected %v, got %v", tt.wantError, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if value < 0 || value > 100 {
				t.Errorf("RSI %.2f out of range", value)
			}
			if !tt.check(value) {
				t.Errorf("RSI %.2f failed check", value)
			}
		})
	}
}

func TestRSI_InvalidPeriod(t *testing.T) {
	if _, err := RSI([]float64{1, 2, 3}, 0); err == nil {
		t.Error("Expected error for zero period")
	}
}

func TestSMA(t *testing.T) {
	value, err := SMA([]float64{1, 2, 3, 4, 5}, 5)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(value-3) > 1e-9 {
		t.Errorf("Expected SMA 3, got %.4f", value)
	}

	value, err = SMA([]float64{1, 2, 3, 4, 5}, 2)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(value-4.5) > 1e-9 {
		t.Errorf("Expected SMA 4.5, got %.4f", value)
	}

	if _, err := SMA([]float64{1, 2}, 3); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
}

func TestVolatility(t *testing.T) {
	flat := []float64{100, 100, 100, 100, 100}
	value, err := Volatility(flat, 4)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if value != 0 {
		t.Errorf("Expected zero volatility, got %.6f", value)
	}

	choppy := []float64{100, 110, 99, 110, 99}
	value, err = Volatility(choppy, 4)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if value < 0.05 {
		t.Errorf("Expected high volatility, got %.6f", value)
	}

	if _, err := Volatility(flat, 5); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("Expected ErrInsufficientData, got %v", err)
	}
	if _, err := Volatility(flat, 1); err == nil {
		t.Error("Expected error for window 1")
	}
}
