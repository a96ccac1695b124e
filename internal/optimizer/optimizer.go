// Package optimizer grid-searches strategy parameters against the Backtest
// Port and keeps the history of discovered optima.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/adaptive-engine/internal/indicators"
	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/internal/strategies"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// Parameter names understood by the RSI threshold rule
const (
	ParamRSILow    = "rsi_low"
	ParamRSIHigh   = "rsi_high"
	ParamRSIPeriod = "rsi_period"
	ParamSMAPeriod = "sma_period"
)

// WinRateWeight scales win_rate into the score. Profit is unnormalized, so
// the relative weight of the two terms depends on the market's price scale.
const WinRateWeight = 1000.0

var (
	// ErrNoViableCandidate is returned when every candidate failed
	ErrNoViableCandidate = errors.New("no viable candidate")

	// ErrNotOptimized is returned by Strategy before any optimum exists
	ErrNotOptimized = errors.New("strategy not optimized")
)

// Score ranks a candidate from its backtest statistics
func Score(stats backtest.Stats) float64 {
	return stats.Profit() + stats.WinRate()*WinRateWeight
}

// CandidateScore is one discovered optimum
type CandidateScore struct {
	Symbol    string         `json:"symbol"`
	Params    ParameterSet   `json:"params"`
	Score     float64        `json:"score"`
	Log       backtest.Log   `json:"log"`
	Stats     backtest.Stats `json:"stats"`
	Evaluated int            `json:"evaluated"` // Candidates that produced a score
	Failed    int            `json:"failed"`    // Candidates excluded after an error
	At        time.Time      `json:"at"`
}

// Prediction is the output of Predict. Unoptimized marks the random
// fallback used before any optimization ran for the symbol.
type Prediction struct {
	Vote        backtest.Vote `json:"vote"`
	Unoptimized bool          `json:"unoptimized"`
	Params      ParameterSet  `json:"params,omitempty"`
}

// Optimizer performs exhaustive grid search over a parameterized strategy,
// the RSI threshold rule by default
type Optimizer struct {
	port        backtest.Port
	grid        *ParamGrid
	build       StrategyBuilder
	rsiPeriod   int
	parallelism int

	mu      sync.RWMutex
	history []CandidateScore

	rngMu sync.Mutex
	rng   *rand.Rand
}

// StrategyBuilder turns a parameter set into a strategy function
type StrategyBuilder func(params ParameterSet) backtest.StrategyFunc

// Option customizes an Optimizer
type Option func(*Optimizer)

// WithStrategy replaces the RSI threshold rule with another parameterized
// strategy
func WithStrategy(build StrategyBuilder) Option {
	return func(o *Optimizer) { o.build = build }
}

// WithGrid sets the grid used when Optimize is called with a nil grid
func WithGrid(grid *ParamGrid) Option {
	return func(o *Optimizer) { o.grid = grid }
}

// WithRSIPeriod sets the RSI look-back used when a set has no rsi_period
func WithRSIPeriod(period int) Option {
	return func(o *Optimizer) { o.rsiPeriod = period }
}

// WithParallelism bounds concurrent candidate backtests
func WithParallelism(n int) Option {
	return func(o *Optimizer) { o.parallelism = n }
}

// WithSeed makes the unoptimized fallback reproducible
func WithSeed(seed int64) Option {
	return func(o *Optimizer) {
		o.rng = rand.New(rand.NewSource(seed)) // #nosec G404 -- fallback vote, not security sensitive
	}
}

// New creates an optimizer scoring candidates through port
func New(port backtest.Port, opts ...Option) *Optimizer {
	o := &Optimizer{
		port:        port,
		grid:        DefaultGrid(),
		rsiPeriod:   indicators.DefaultRSIPeriod,
		parallelism: runtime.GOMAXPROCS(0),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- fallback vote, not security sensitive
	}
	o.build = o.rsiThreshold
	for _, opt := range opts {
		opt(o)
	}
	if o.parallelism < 1 {
		o.parallelism = 1
	}
	return o
}

// Grid returns the default grid
func (o *Optimizer) Grid() *ParamGrid {
	return o.grid
}

type candidateOutcome struct {
	result backtest.Result
	score  float64
	err    error
}

// Optimize evaluates every combination of grid (the default grid if nil)
// and returns the highest-scoring candidate. Failed candidates are excluded;
// ties resolve to the first candidate in Combinations order. On success the
// optimum is appended to the history.
func (o *Optimizer) Optimize(ctx context.Context, series backtest.Series, grid *ParamGrid) (CandidateScore, error) {
	if grid == nil {
		grid = o.grid
	}
	symbol := series.Symbol()
	startTime := time.Now()

	combinations := grid.Combinations()
	if len(combinations) == 0 {
		metrics.Optimizations.WithLabelValues(metrics.ResultNoViable).Inc()
		return CandidateScore{}, fmt.Errorf("%w: empty parameter grid", ErrNoViableCandidate)
	}

	log.Info().
		Str("symbol", symbol).
		Int("combinations", len(combinations)).
		Int("parallel", o.parallelism).
		Msg("Starting grid search optimization")

	outcomes := make([]candidateOutcome, len(combinations))

	var g errgroup.Group
	g.SetLimit(o.parallelism)
	for i, params := range combinations {
		g.Go(func() error {
			outcomes[i] = o.evaluate(ctx, series, params)
			return nil
		})
	}
	_ = g.Wait() // candidates never return errors to the group

	if err := ctx.Err(); err != nil {
		metrics.Optimizations.WithLabelValues(metrics.ResultCancelled).Inc()
		return CandidateScore{}, fmt.Errorf("optimization cancelled: %w", err)
	}

	bestIdx := -1
	failed := 0
	for i, outcome := range outcomes {
		if outcome.err != nil {
			failed++
			metrics.CandidatesEvaluated.WithLabelValues(metrics.ResultFailure).Inc()
			log.Warn().
				Err(outcome.err).
				Str("symbol", symbol).
				Str("params", combinations[i].Key()).
				Msg("Candidate excluded")
			continue
		}
		metrics.CandidatesEvaluated.WithLabelValues(metrics.ResultSuccess).Inc()
		if bestIdx < 0 || outcome.score > outcomes[bestIdx].score {
			bestIdx = i
		}
	}

	duration := time.Since(startTime)
	metrics.OptimizationDuration.Observe(duration.Seconds())

	if bestIdx < 0 {
		metrics.Optimizations.WithLabelValues(metrics.ResultNoViable).Inc()
		log.Error().
			Str("symbol", symbol).
			Int("failed", failed).
			Msg("Every candidate failed")
		return CandidateScore{}, fmt.Errorf("%w: %d of %d candidates failed for %q",
			ErrNoViableCandidate, failed, len(combinations), symbol)
	}

	best := outcomes[bestIdx]
	entry := CandidateScore{
		Symbol:    symbol,
		Params:    combinations[bestIdx],
		Score:     best.score,
		Log:       best.result.Log,
		Stats:     best.result.Stats.Clone(),
		Evaluated: len(combinations) - failed,
		Failed:    failed,
		At:        time.Now(),
	}

	o.append(entry.clone())
	metrics.Optimizations.WithLabelValues(metrics.ResultSuccess).Inc()
	metrics.BestScore.WithLabelValues(symbol).Set(entry.Score)

	log.Info().
		Str("symbol", symbol).
		Str("params", entry.Params.Key()).
		Float64("best_score", entry.Score).
		Int("failed", failed).
		Dur("duration", duration).
		Msg("Grid search optimization complete")

	return entry, nil
}

// evaluate backtests one candidate. A panicking port or strategy excludes
// the candidate.
func (o *Optimizer) evaluate(ctx context.Context, series backtest.Series, params ParameterSet) (outcome candidateOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = candidateOutcome{err: fmt.Errorf("candidate panicked: %v", r)}
		}
	}()

	result, err := o.port.Backtest(ctx, series, o.build(params))
	if err != nil {
		return candidateOutcome{err: fmt.Errorf("backtest failed: %w", err)}
	}
	if err := result.Stats.Validate(); err != nil {
		return candidateOutcome{err: err}
	}

	score := Score(result.Stats)
	if math.IsNaN(score) {
		return candidateOutcome{err: fmt.Errorf("score is NaN")}
	}

	log.Debug().
		Str("params", params.Key()).
		Float64("score", score).
		Msg("Candidate scored")

	return candidateOutcome{result: result, score: score}
}

// StrategyFunc applies the optimized strategy with params to series
func (o *Optimizer) StrategyFunc(series backtest.Series, params ParameterSet) (backtest.Vote, error) {
	return o.build(params)(series)
}

// rsiThreshold is the default StrategyBuilder
func (o *Optimizer) rsiThreshold(params ParameterSet) backtest.StrategyFunc {
	return func(series backtest.Series) (backtest.Vote, error) {
		low, ok := params[ParamRSILow]
		if !ok {
			return "", fmt.Errorf("missing parameter %s", ParamRSILow)
		}
		high, ok := params[ParamRSIHigh]
		if !ok {
			return "", fmt.Errorf("missing parameter %s", ParamRSIHigh)
		}

		period := o.rsiPeriod
		if p, ok := params[ParamRSIPeriod]; ok {
			period = int(p)
		}

		return strategies.EvaluateRSI(series, low, high, period)
	}
}

// Predict votes on series with the most recent optimum for its symbol.
// Without one, it returns a uniformly random vote tagged Unoptimized.
func (o *Optimizer) Predict(series backtest.Series) (Prediction, error) {
	best, ok := o.Best(series.Symbol())
	if !ok {
		return Prediction{Vote: o.randomVote(), Unoptimized: true}, nil
	}

	vote, err := o.StrategyFunc(series, best.Params)
	if err != nil {
		return Prediction{}, err
	}
	return Prediction{Vote: vote, Params: best.Params.Clone()}, nil
}

// Strategy returns a strategy function bound to the current optimum of
// symbol, looked up at call time. It errors with ErrNotOptimized until an
// optimum exists.
func (o *Optimizer) Strategy(symbol string) backtest.StrategyFunc {
	return func(series backtest.Series) (backtest.Vote, error) {
		best, ok := o.Best(symbol)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNotOptimized, symbol)
		}
		return o.StrategyFunc(series, best.Params)
	}
}

func (o *Optimizer) randomVote() backtest.Vote {
	o.rngMu.Lock()
	defer o.rngMu.Unlock()
	return backtest.Votes[o.rng.Intn(len(backtest.Votes))]
}

// ============================================================================
// HISTORY
// ============================================================================

// clone copies the maps of entry so history never shares them with callers
func (c CandidateScore) clone() CandidateScore {
	c.Params = c.Params.Clone()
	c.Stats = c.Stats.Clone()
	c.Log = append(backtest.Log(nil), c.Log...)
	return c
}

func (o *Optimizer) append(entry CandidateScore) {
	o.mu.Lock()
	o.history = append(o.history, entry)
	o.mu.Unlock()
}

// Restore appends a previously persisted optimum, e.g. from the model registry
func (o *Optimizer) Restore(entry CandidateScore) {
	entry = entry.clone()
	o.append(entry)

	log.Info().
		Str("symbol", entry.Symbol).
		Str("params", entry.Params.Key()).
		Float64("score", entry.Score).
		Msg("Restored optimum")
}

// TopStrategies returns every optimum in append order
func (o *Optimizer) TopStrategies() []CandidateScore {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]CandidateScore, len(o.history))
	for i, entry := range o.history {
		out[i] = entry.clone()
	}
	return out
}

// TopStrategiesFor returns the optima of one symbol in append order
func (o *Optimizer) TopStrategiesFor(symbol string) []CandidateScore {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var out []CandidateScore
	for _, entry := range o.history {
		if entry.Symbol == symbol {
			out = append(out, entry.clone())
		}
	}
	return out
}

// Best returns the most recent optimum of symbol
func (o *Optimizer) Best(symbol string) (CandidateScore, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	for i := len(o.history) - 1; i >= 0; i-- {
		if o.history[i].Symbol == symbol {
			return o.history[i].clone(), true
		}
	}
	return CandidateScore{}, false
}
