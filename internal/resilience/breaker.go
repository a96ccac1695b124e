package resilience

import (
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
)

// BreakerSettings holds circuit breaker configuration for one dependency
type BreakerSettings struct {
	MinRequests     uint32        // Minimum requests before tripping
	FailureRatio    float64       // Failure ratio threshold
	OpenTimeout     time.Duration // How long the circuit stays open
	HalfOpenMaxReqs uint32        // Max requests in half-open state
	CountInterval   time.Duration // Window for counting failures
}

// DefaultBreakerSettings returns settings suited to market-data and webhook calls
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:     5,
		FailureRatio:    0.6,
		OpenTimeout:     30 * time.Second,
		HalfOpenMaxReqs: 3,
		CountInterval:   10 * time.Second,
	}
}

// Breaker guards an external dependency with a circuit breaker
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a named circuit breaker
func NewBreaker(name string, settings BreakerSettings) *Breaker {
	b := &Breaker{name: name}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenMaxReqs,
		Interval:    settings.CountInterval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= settings.MinRequests && failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	metrics.BreakerState.WithLabelValues(name).Set(float64(gobreaker.StateClosed))
	return b
}

// Name returns the breaker name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current breaker state
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Execute runs fn through the breaker
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if b == nil {
		return fn()
	}

	result, err := b.cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		return zero, err
	}
	value, _ := result.(T)
	return value, nil
}
