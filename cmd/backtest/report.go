package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/batch"
	"github.com/ajitpratap0/adaptive-engine/internal/metalearner"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// Report is the JSON document written by the CLI
type Report struct {
	Symbols  []SymbolReport `json:"symbols"`
	Failed   []string       `json:"failed,omitempty"`
	Duration string         `json:"duration"`
}

// SymbolReport compares the strategies of one symbol
type SymbolReport struct {
	Symbol       string                    `json:"symbol"`
	BestParams   map[string]float64        `json:"best_params,omitempty"`
	Score        float64                   `json:"score"`
	Evaluated    int                       `json:"evaluated"`
	BestStrategy string                    `json:"best_strategy,omitempty"`
	Strategies   map[string]backtest.Stats `json:"strategies"`
	Errors       map[string]string         `json:"errors,omitempty"`
}

func buildReport(symbols []string, optimized batch.OptimizationReport, trend, combined batch.Report, learner *metalearner.MetaLearner) *Report {
	report := &Report{}
	failed := make(map[string]bool)

	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)

	for _, symbol := range sorted {
		entry := SymbolReport{
			Symbol:     symbol,
			Strategies: make(map[string]backtest.Stats),
		}

		if meta, ok := learner.Symbol(symbol); ok {
			entry.BestStrategy = meta.BestStrategy
			for name, stats := range meta.Strategies {
				entry.Strategies[name] = stats
			}
		}

		if outcome, ok := optimized[symbol]; ok {
			if outcome.Failed() {
				entry.addError("optimize", outcome.Err)
			} else {
				entry.BestParams = outcome.Value.Params
				entry.Score = outcome.Value.Score
				entry.Evaluated = outcome.Value.Evaluated
			}
		}
		if outcome, ok := trend[symbol]; ok && outcome.Failed() {
			entry.addError("sma_trend", outcome.Err)
		}
		if outcome, ok := combined[symbol]; ok && outcome.Failed() {
			entry.addError("ensemble", outcome.Err)
		}

		if len(entry.Strategies) == 0 {
			failed[symbol] = true
		}
		report.Symbols = append(report.Symbols, entry)
	}

	for symbol := range failed {
		report.Failed = append(report.Failed, symbol)
	}
	sort.Strings(report.Failed)
	return report
}

func (r *SymbolReport) addError(stage string, err error) {
	if r.Errors == nil {
		r.Errors = make(map[string]string)
	}
	r.Errors[stage] = err.Error()
}

func writeReport(report *Report, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	if path == "" {
		fmt.Println(string(data))
		return nil
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Info().Str("file", path).Msg("Report written to file")
	return nil
}
