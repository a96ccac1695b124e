// Package pipeline composes the engine: fetch a series, optimize the RSI
// rule, feed the meta-learner, persist the outcome, vote with the ensemble
// and report through the notification port.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/ensemble"
	"github.com/ajitpratap0/adaptive-engine/internal/market"
	"github.com/ajitpratap0/adaptive-engine/internal/metalearner"
	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/internal/notifications"
	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/internal/regime"
	"github.com/ajitpratap0/adaptive-engine/internal/resilience"
	"github.com/ajitpratap0/adaptive-engine/internal/strategies"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// StrategyEnsemble is the meta-learner name of the combined vote
const StrategyEnsemble = "ensemble"

// DefaultSMAPeriod is used for the trend voter until a symbol is optimized
const DefaultSMAPeriod = 20

// RunStore persists optimization runs and strategy statistics
type RunStore interface {
	SaveRun(ctx context.Context, strategy string, entry optimizer.CandidateScore) (uuid.UUID, error)
	SaveStrategyStats(ctx context.Context, symbol, strategy string, stats backtest.Stats) error
}

// ModelStore keeps the best parameters per symbol
type ModelStore interface {
	Save(ctx context.Context, entry optimizer.CandidateScore) error
}

// Config holds pipeline settings
type Config struct {
	Interval     string               // Kline interval passed to the source
	Limit        int                  // Candles per fetch
	FetchTimeout time.Duration        // Per attempt, 0 for none
	Grid         *optimizer.ParamGrid // nil means the optimizer's grid
	SMAPeriod    int                  // Trend period before optimization
}

// Result is the outcome of one symbol run
type Result struct {
	Symbol       string                   `json:"symbol"`
	Best         optimizer.CandidateScore `json:"best"`
	BestStrategy string                   `json:"best_strategy"`
	Vote         backtest.Vote            `json:"vote"`
	Regime       regime.Regime            `json:"regime"`
	Abstentions  []string                 `json:"abstentions,omitempty"`
}

// Engine wires the evaluation components together
type Engine struct {
	config    Config
	source    market.Source
	port      backtest.Port
	optimizer *optimizer.Optimizer
	learner   *metalearner.MetaLearner
	detector  regime.Detector
	fetch     *resilience.Retrier
	persist   *resilience.Retrier
	notifier  notifications.Notifier
	runs      RunStore
	models    ModelStore
	ensemble  *ensemble.Aggregator
}

// Option configures an Engine
type Option func(*Engine)

// WithRetrier sets the retrier used for fetches and writes
func WithRetrier(r *resilience.Retrier) Option {
	return func(e *Engine) {
		e.fetch = r.Named("market_fetch")
		e.persist = r.Named("persist")
	}
}

// WithRegime sets the volatility regime detector
func WithRegime(d regime.Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// WithNotifier sets the notification port
func WithNotifier(n notifications.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithRunStore enables persistence of runs and strategy stats
func WithRunStore(s RunStore) Option {
	return func(e *Engine) { e.runs = s }
}

// WithModelStore enables saving optimized parameters
func WithModelStore(s ModelStore) Option {
	return func(e *Engine) { e.models = s }
}

// New creates an engine
func New(config Config, source market.Source, port backtest.Port, opt *optimizer.Optimizer, learner *metalearner.MetaLearner, opts ...Option) *Engine {
	if config.SMAPeriod <= 0 {
		config.SMAPeriod = DefaultSMAPeriod
	}

	e := &Engine{
		config:    config,
		source:    source,
		port:      port,
		optimizer: opt,
		learner:   learner,
		detector:  regime.NewDetector(0, 0),
		notifier:  notifications.Discard{},
	}
	WithRetrier(resilience.NewRetrier("pipeline", resilience.DefaultConfig()))(e)
	for _, o := range opts {
		o(e)
	}

	e.ensemble = ensemble.New(
		ensemble.Voter{Name: strategies.NameRSIThreshold, Fn: e.detector.Gate(e.optimizedRSI)},
		ensemble.Voter{Name: strategies.NameSMATrend, Fn: e.detector.Gate(e.smaTrend)},
	)
	return e
}

// Ensemble returns the aggregator voting with the optimized RSI rule and the
// SMA trend, both gated by regime. Voters resolve the symbol from the series.
func (e *Engine) Ensemble() *ensemble.Aggregator {
	return e.ensemble
}

// Source returns the retrying market data source
func (e *Engine) Source() market.Source {
	return retryingSource{next: e.source, retrier: e.fetch, timeout: e.config.FetchTimeout}
}

func (e *Engine) optimizedRSI(series backtest.Series) (backtest.Vote, error) {
	return e.optimizer.Strategy(series.Symbol())(series)
}

func (e *Engine) smaTrend(series backtest.Series) (backtest.Vote, error) {
	return strategies.EvaluateSMATrend(series, e.smaPeriod(series.Symbol()))
}

// smaPeriod is the optimized sma_period of symbol, or the configured default
func (e *Engine) smaPeriod(symbol string) int {
	if best, ok := e.optimizer.Best(symbol); ok {
		if p := int(best.Params[optimizer.ParamSMAPeriod]); p > 0 {
			return p
		}
	}
	return e.config.SMAPeriod
}

// Fetch loads the series of symbol through the retrier
func (e *Engine) Fetch(ctx context.Context, symbol string) (backtest.Series, error) {
	return e.Source().History(ctx, symbol, e.config.Interval, e.config.Limit)
}

// Process runs the full per-symbol pipeline
func (e *Engine) Process(ctx context.Context, symbol string) (Result, error) {
	start := time.Now()

	series, err := e.Fetch(ctx, symbol)
	if err != nil {
		e.fail(ctx, symbol, "fetch", err)
		return Result{}, fmt.Errorf("fetch %s: %w", symbol, err)
	}

	best, err := e.optimizer.Optimize(ctx, series, e.config.Grid)
	if err != nil {
		e.fail(ctx, symbol, "optimize", err)
		return Result{}, fmt.Errorf("optimize %s: %w", symbol, err)
	}

	e.learner.Update(symbol, strategies.NameRSIThreshold, best.Stats)
	e.saveStats(ctx, symbol, strategies.NameRSIThreshold, best.Stats)

	trend, err := e.port.Backtest(ctx, series, strategies.SMATrend(e.smaPeriod(symbol)))
	if err == nil {
		err = trend.Stats.Validate()
	}
	if err != nil {
		log.Warn().
			Err(err).
			Str("symbol", symbol).
			Msg("SMA trend backtest failed")
	} else {
		e.learner.Update(symbol, strategies.NameSMATrend, trend.Stats)
		e.saveStats(ctx, symbol, strategies.NameSMATrend, trend.Stats)
	}

	e.saveRun(ctx, best)

	tally := e.ensemble.Tally(series)
	bestName, _ := e.learner.BestStrategy(symbol)
	result := Result{
		Symbol:       symbol,
		Best:         best,
		BestStrategy: bestName,
		Vote:         tally.Majority(),
		Regime:       e.detector.Detect(series),
		Abstentions:  tally.Abstentions(),
	}

	e.notifier.Notify(ctx, notifications.KindOptimizationCompleted, map[string]interface{}{
		"symbol":        symbol,
		"params":        best.Params.Key(),
		"score":         best.Score,
		"best_strategy": bestName,
		"vote":          string(result.Vote),
		"regime":        string(result.Regime),
	})
	metrics.PipelineRuns.WithLabelValues("symbol", metrics.ResultSuccess).Inc()

	log.Info().
		Str("symbol", symbol).
		Str("params", best.Params.Key()).
		Float64("score", best.Score).
		Str("best_strategy", bestName).
		Str("vote", string(result.Vote)).
		Str("regime", string(result.Regime)).
		Dur("duration", time.Since(start)).
		Msg("Symbol pipeline completed")

	return result, nil
}

func (e *Engine) fail(ctx context.Context, symbol, stage string, err error) {
	metrics.PipelineRuns.WithLabelValues("symbol", metrics.ResultFailure).Inc()
	e.notifier.Notify(ctx, notifications.KindOptimizationFailed, map[string]interface{}{
		"symbol": symbol,
		"stage":  stage,
		"error":  err.Error(),
	})
}

// saveRun writes the run and the model. Failures are logged, never returned.
func (e *Engine) saveRun(ctx context.Context, best optimizer.CandidateScore) {
	if e.runs != nil {
		err := e.persist.Do(ctx, func(ctx context.Context) error {
			_, err := e.runs.SaveRun(ctx, strategies.NameRSIThreshold, best)
			return err
		})
		if err != nil {
			metrics.PersistFailures.WithLabelValues("run").Inc()
			log.Error().Err(err).Str("symbol", best.Symbol).Msg("Failed to persist optimization run")
		}
	}

	if e.models != nil {
		err := e.persist.Do(ctx, func(ctx context.Context) error {
			return e.models.Save(ctx, best)
		})
		if err != nil {
			metrics.PersistFailures.WithLabelValues("model").Inc()
			log.Error().Err(err).Str("symbol", best.Symbol).Msg("Failed to save model")
		}
	}
}

func (e *Engine) saveStats(ctx context.Context, symbol, strategy string, stats backtest.Stats) {
	if e.runs == nil {
		return
	}
	err := e.persist.Do(ctx, func(ctx context.Context) error {
		return e.runs.SaveStrategyStats(ctx, symbol, strategy, stats)
	})
	if err != nil {
		metrics.PersistFailures.WithLabelValues("strategy_stats").Inc()
		log.Error().
			Err(err).
			Str("symbol", symbol).
			Str("strategy", strategy).
			Msg("Failed to persist strategy stats")
	}
}

// retryingSource wraps a Source with the retrier and a per-attempt timeout
type retryingSource struct {
	next    market.Source
	retrier *resilience.Retrier
	timeout time.Duration
}

func (s retryingSource) History(ctx context.Context, symbol, interval string, limit int) (backtest.Series, error) {
	return resilience.Call(ctx, s.retrier, func(ctx context.Context) (backtest.Series, error) {
		if s.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.timeout)
			defer cancel()
		}

		series, err := s.next.History(ctx, symbol, interval, limit)
		if err != nil {
			return nil, err
		}
		if len(series) == 0 {
			return nil, resilience.Permanent(fmt.Errorf("no candles for %s", symbol))
		}
		return series, nil
	})
}
