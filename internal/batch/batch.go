// Package batch fans backtests and optimizations out across symbols on a
// bounded worker pool and collects per-symbol outcomes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// ErrNoSeries is the outcome of a symbol without price data
var ErrNoSeries = errors.New("no series for symbol")

// Config holds executor settings
type Config struct {
	Workers     int           // Concurrent tasks, defaults to GOMAXPROCS
	TaskTimeout time.Duration // Per-task deadline, zero disables
}

// Outcome is the result of one symbol's task. Exactly one of Value and Err
// is meaningful.
type Outcome[T any] struct {
	Symbol   string        `json:"symbol"`
	Value    T             `json:"value"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

// Failed reports whether the task failed
func (o Outcome[T]) Failed() bool {
	return o.Err != nil
}

// Results maps symbol to task outcome
type Results[T any] map[string]Outcome[T]

// Failed returns the failed symbols, sorted
func (r Results[T]) Failed() []string {
	var symbols []string
	for symbol, outcome := range r {
		if outcome.Failed() {
			symbols = append(symbols, symbol)
		}
	}
	sort.Strings(symbols)
	return symbols
}

// Succeeded returns the values of successful tasks by symbol
func (r Results[T]) Succeeded() map[string]T {
	values := make(map[string]T, len(r))
	for symbol, outcome := range r {
		if !outcome.Failed() {
			values[symbol] = outcome.Value
		}
	}
	return values
}

// Report is the result mapping of RunBatch
type Report = Results[backtest.Result]

// OptimizationReport is the result mapping of OptimizeBatch
type OptimizationReport = Results[optimizer.CandidateScore]

// Executor runs per-symbol tasks on a bounded pool
type Executor struct {
	port   backtest.Port
	config Config
}

// NewExecutor creates an executor backtesting through port
func NewExecutor(port backtest.Port, config Config) *Executor {
	if config.Workers < 1 {
		config.Workers = runtime.GOMAXPROCS(0)
	}
	return &Executor{port: port, config: config}
}

// Workers returns the pool size
func (e *Executor) Workers() int {
	return e.config.Workers
}

// RunBatch backtests strategy on every symbol's series. Task failures are
// isolated and reported per symbol; the batch itself never fails.
func (e *Executor) RunBatch(ctx context.Context, symbols []string, seriesBySymbol map[string]backtest.Series, strategy backtest.StrategyFunc) Report {
	return fanOut(ctx, e.config, "backtest", symbols, func(ctx context.Context, symbol string) (backtest.Result, error) {
		series, ok := seriesBySymbol[symbol]
		if !ok || len(series) == 0 {
			return backtest.Result{}, fmt.Errorf("%w: %s", ErrNoSeries, symbol)
		}
		result, err := e.port.Backtest(ctx, series, strategy)
		if err != nil {
			return backtest.Result{}, err
		}
		if err := result.Stats.Validate(); err != nil {
			return backtest.Result{}, err
		}
		return result, nil
	})
}

// OptimizeBatch runs opt.Optimize on every symbol's series with grid
func (e *Executor) OptimizeBatch(ctx context.Context, symbols []string, seriesBySymbol map[string]backtest.Series, opt *optimizer.Optimizer, grid *optimizer.ParamGrid) OptimizationReport {
	return fanOut(ctx, e.config, "optimize", symbols, func(ctx context.Context, symbol string) (optimizer.CandidateScore, error) {
		series, ok := seriesBySymbol[symbol]
		if !ok || len(series) == 0 {
			return optimizer.CandidateScore{}, fmt.Errorf("%w: %s", ErrNoSeries, symbol)
		}
		return opt.Optimize(ctx, series, grid)
	})
}

// fanOut submits one task per distinct symbol in order and collects every
// outcome once the pool drains
func fanOut[T any](ctx context.Context, config Config, kind string, symbols []string, task func(ctx context.Context, symbol string) (T, error)) Results[T] {
	startTime := time.Now()
	outcomes := make([]Outcome[T], 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, symbol := range symbols {
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		outcomes = append(outcomes, Outcome[T]{Symbol: symbol})
	}

	log.Info().
		Str("kind", kind).
		Int("symbols", len(outcomes)).
		Int("workers", config.Workers).
		Msg("Starting batch")

	var g errgroup.Group
	g.SetLimit(config.Workers)
	for i := range outcomes {
		outcome := &outcomes[i]
		g.Go(func() error {
			taskCtx := ctx
			if config.TaskTimeout > 0 {
				var cancel context.CancelFunc
				taskCtx, cancel = context.WithTimeout(ctx, config.TaskTimeout)
				defer cancel()
			}

			taskStart := time.Now()
			outcome.Value, outcome.Err = runTask(taskCtx, outcome.Symbol, task)
			outcome.Duration = time.Since(taskStart)

			if outcome.Err != nil {
				metrics.BatchTasks.WithLabelValues(metrics.ResultFailure).Inc()
				log.Warn().
					Err(outcome.Err).
					Str("kind", kind).
					Str("symbol", outcome.Symbol).
					Msg("Batch task failed")
			} else {
				metrics.BatchTasks.WithLabelValues(metrics.ResultSuccess).Inc()
			}
			return nil
		})
	}
	_ = g.Wait() // tasks report through their outcome

	results := make(Results[T], len(outcomes))
	for _, outcome := range outcomes {
		results[outcome.Symbol] = outcome
	}

	duration := time.Since(startTime)
	metrics.BatchDuration.Observe(duration.Seconds())
	log.Info().
		Str("kind", kind).
		Int("symbols", len(results)).
		Strs("failed", results.Failed()).
		Dur("duration", duration).
		Msg("Batch complete")

	return results
}

// runTask converts a task panic into a per-symbol failure
func runTask[T any](ctx context.Context, symbol string, task func(ctx context.Context, symbol string) (T, error)) (value T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task for %s panicked: %v", symbol, r)
		}
	}()
	if err := ctx.Err(); err != nil {
		return value, err
	}
	return task(ctx, symbol)
}
