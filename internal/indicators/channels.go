// Package indicators wraps cinar/indicator for slice-based callers.
package indicators

import "errors"

// ErrInsufficientData is returned when a series is too short for an indicator
var ErrInsufficientData = errors.New("insufficient data")

// feed converts a slice to the closed channel cinar/indicator consumes
func feed(values []float64) <-chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

// collect drains an indicator output channel
func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}
