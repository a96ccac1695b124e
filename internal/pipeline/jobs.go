package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/batch"
	"github.com/ajitpratap0/adaptive-engine/internal/market"
	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/internal/notifications"
)

// SymbolJob is the recurring optimization of one symbol
type SymbolJob struct {
	Engine *Engine
	Symbol string
}

// Name returns the scheduler job name
func (j SymbolJob) Name() string {
	return "optimize:" + j.Symbol
}

// Run processes the symbol once
func (j SymbolJob) Run(ctx context.Context) error {
	_, err := j.Engine.Process(ctx, j.Symbol)
	return err
}

// BatchJob backtests the ensemble across every symbol
type BatchJob struct {
	Engine   *Engine
	Executor *batch.Executor
	Symbols  []string
}

// Name returns the scheduler job name
func (j BatchJob) Name() string {
	return "batch"
}

// Run evaluates the ensemble on all symbols and records the per-symbol
// stats under StrategyEnsemble. It fails only when no symbol succeeds.
func (j BatchJob) Run(ctx context.Context) error {
	_, err := j.Evaluate(ctx)
	return err
}

// Evaluate runs the batch and returns the report
func (j BatchJob) Evaluate(ctx context.Context) (batch.Report, error) {
	e := j.Engine

	seriesBySymbol, fetchFailures := market.FetchAll(ctx, e.Source(), j.Symbols, e.config.Interval, e.config.Limit)
	for symbol, err := range fetchFailures {
		log.Warn().Err(err).Str("symbol", symbol).Msg("Batch fetch failed")
	}

	report := j.Executor.RunBatch(ctx, j.Symbols, seriesBySymbol, e.ensemble.Strategy())

	succeeded := report.Succeeded()
	symbols := make([]string, 0, len(succeeded))
	for symbol := range succeeded {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		stats := succeeded[symbol].Stats
		e.learner.Update(symbol, StrategyEnsemble, stats)
		e.saveStats(ctx, symbol, StrategyEnsemble, stats)
	}

	failed := report.Failed()
	e.notifier.Notify(ctx, notifications.KindBatchCompleted, map[string]interface{}{
		"symbols":   len(report),
		"succeeded": len(succeeded),
		"failed":    strings.Join(failed, ","),
	})

	if len(succeeded) == 0 && len(report) > 0 {
		metrics.PipelineRuns.WithLabelValues("batch", metrics.ResultFailure).Inc()
		return report, fmt.Errorf("batch failed for every symbol: %s", strings.Join(failed, ","))
	}
	metrics.PipelineRuns.WithLabelValues("batch", metrics.ResultSuccess).Inc()

	log.Info().
		Int("symbols", len(report)).
		Int("succeeded", len(succeeded)).
		Strs("failed", failed).
		Msg("Batch evaluation completed")
	return report, nil
}
