// Backtest Runner CLI
// Optimizes the RSI rule offline for a set of symbols, compares it with the
// SMA trend and the ensemble, and prints a JSON report
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/batch"
	"github.com/ajitpratap0/adaptive-engine/internal/config"
	"github.com/ajitpratap0/adaptive-engine/internal/market"
	"github.com/ajitpratap0/adaptive-engine/internal/metalearner"
	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/internal/pipeline"
	"github.com/ajitpratap0/adaptive-engine/internal/regime"
	"github.com/ajitpratap0/adaptive-engine/internal/resilience"
	"github.com/ajitpratap0/adaptive-engine/internal/strategies"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// ============================================================================
// CLI FLAGS
// ============================================================================

var (
	configPath = flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	symbols    = flag.String("symbols", "", "Comma-separated list of symbols (default: engine.symbols)")
	interval   = flag.String("interval", "", "Kline interval (default: engine.interval)")
	limit      = flag.Int("limit", 0, "Candles per symbol (default: engine.limit)")
	dataFile   = flag.String("data", "", "Load candles from a .csv or .json file instead of Binance")
	gridFile   = flag.String("grid", "", "YAML parameter grid (default: engine.grid_file)")
	seed       = flag.Int64("seed", 1, "Seed for fallback votes")

	outputFile = flag.String("output", "", "Output file for the JSON report (default: stdout)")
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
)

// ============================================================================
// MAIN
// ============================================================================

func main() {
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	applyFlags(cfg)

	if len(cfg.Engine.Symbols) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no symbols given (use -symbols or engine.symbols)")
		flag.Usage()
		os.Exit(1)
	}

	log.Info().
		Strs("symbols", cfg.Engine.Symbols).
		Str("interval", cfg.Engine.Interval).
		Int("limit", cfg.Engine.Limit).
		Str("data", *dataFile).
		Msg("Starting backtest")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runBacktest(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Backtest failed")
	}

	if err := writeReport(report, *outputFile); err != nil {
		log.Fatal().Err(err).Msg("Failed to write report")
	}

	log.Info().
		Int("symbols", len(report.Symbols)).
		Strs("failed", report.Failed).
		Msg("Backtest completed")
}

func applyFlags(cfg *config.Config) {
	if list := parseSymbols(*symbols); len(list) > 0 {
		cfg.Engine.Symbols = list
	}
	if *interval != "" {
		cfg.Engine.Interval = *interval
	}
	if *limit > 0 {
		cfg.Engine.Limit = *limit
	}
	if *gridFile != "" {
		cfg.Engine.GridFile = *gridFile
	}
}

// ============================================================================
// BACKTEST EXECUTION
// ============================================================================

func runBacktest(ctx context.Context, cfg *config.Config) (*Report, error) {
	start := time.Now()

	seriesBySymbol, err := loadSeries(ctx, cfg)
	if err != nil {
		return nil, err
	}

	grid, err := cfg.Engine.LoadGrid()
	if err != nil {
		return nil, err
	}

	sim := backtest.NewSimulator(backtest.SimulatorConfig{
		InitialCapital:   cfg.Simulator.InitialCapital,
		CommissionRate:   cfg.Simulator.CommissionRate,
		Warmup:           cfg.Simulator.Warmup,
		PositionFraction: cfg.Simulator.PositionFraction,
	})
	opt := optimizer.New(sim,
		optimizer.WithGrid(grid),
		optimizer.WithRSIPeriod(cfg.Engine.RSIPeriod),
		optimizer.WithParallelism(cfg.Engine.Parallelism),
		optimizer.WithSeed(*seed),
	)
	learner := metalearner.New()
	executor := batch.NewExecutor(sim, batch.Config{
		Workers:     cfg.Engine.Workers,
		TaskTimeout: cfg.Engine.TaskTimeout,
	})

	symbolList := cfg.Engine.Symbols

	optimized := executor.OptimizeBatch(ctx, symbolList, seriesBySymbol, opt, nil)
	for symbol, best := range optimized.Succeeded() {
		learner.Update(symbol, strategies.NameRSIThreshold, best.Stats)
	}

	// Ensemble voters resolve the optimized rule and sma_period per symbol
	engine := pipeline.New(pipeline.Config{
		Interval: cfg.Engine.Interval,
		Limit:    cfg.Engine.Limit,
	}, market.StaticSource(seriesBySymbol), sim, opt, learner,
		pipeline.WithRegime(regime.NewDetector(cfg.Regime.Window, cfg.Regime.Threshold)),
	)

	trend := executor.RunBatch(ctx, symbolList, seriesBySymbol, strategies.SMATrend(pipeline.DefaultSMAPeriod))
	for symbol, result := range trend.Succeeded() {
		learner.Update(symbol, strategies.NameSMATrend, result.Stats)
	}

	combined := executor.RunBatch(ctx, symbolList, seriesBySymbol, engine.Ensemble().Strategy())
	for symbol, result := range combined.Succeeded() {
		learner.Update(symbol, pipeline.StrategyEnsemble, result.Stats)
	}

	report := buildReport(symbolList, optimized, trend, combined, learner)
	report.Duration = time.Since(start).String()
	return report, nil
}

// loadSeries reads candles from the data file or fetches them from Binance
func loadSeries(ctx context.Context, cfg *config.Config) (map[string]backtest.Series, error) {
	if *dataFile != "" {
		return backtest.LoadFile(*dataFile)
	}

	source := market.NewBinanceSource(market.BinanceConfig{
		APIKey:            cfg.Binance.APIKey,
		SecretKey:         cfg.Binance.SecretKey,
		Testnet:           cfg.Binance.Testnet,
		BaseURL:           cfg.Binance.BaseURL,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
		Burst:             cfg.Binance.Burst,
	}, nil)

	retrier := resilience.NewRetrier("backtest_fetch", resilience.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Multiplier:  cfg.Retry.Multiplier,
	})

	seriesBySymbol := make(map[string]backtest.Series, len(cfg.Engine.Symbols))
	for _, symbol := range cfg.Engine.Symbols {
		series, err := resilience.Call(ctx, retrier, func(ctx context.Context) (backtest.Series, error) {
			return source.History(ctx, symbol, cfg.Engine.Interval, cfg.Engine.Limit)
		})
		if err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("Failed to fetch candles")
			continue
		}
		seriesBySymbol[symbol] = series
	}

	if len(seriesBySymbol) == 0 {
		return nil, fmt.Errorf("no data fetched for %s", strings.Join(cfg.Engine.Symbols, ","))
	}
	return seriesBySymbol, nil
}

// ============================================================================
// UTILITIES
// ============================================================================

func parseSymbols(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		trimmed := strings.ToUpper(strings.TrimSpace(p))
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
