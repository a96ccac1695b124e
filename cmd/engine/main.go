// Engine daemon
// Periodically optimizes every configured symbol, evaluates the ensemble in
// batch and exposes state over REST and Prometheus.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/api"
	"github.com/ajitpratap0/adaptive-engine/internal/batch"
	"github.com/ajitpratap0/adaptive-engine/internal/config"
	"github.com/ajitpratap0/adaptive-engine/internal/metalearner"
	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/internal/notifications"
	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/internal/pipeline"
	"github.com/ajitpratap0/adaptive-engine/internal/regime"
	"github.com/ajitpratap0/adaptive-engine/internal/resilience"
	"github.com/ajitpratap0/adaptive-engine/internal/scheduler"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (default: ./configs/config.yaml)")
	version := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *version {
		fmt.Println(config.GetVersion())
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	log.Info().
		Str("version", config.GetVersion()).
		Str("environment", cfg.App.Environment).
		Strs("symbols", cfg.Engine.Symbols).
		Msg("Starting adaptive engine")

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("Engine failed")
	}

	log.Info().Msg("Engine stopped")
}

func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conns, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer conns.Close()

	dispatcher, err := buildDispatcher(cfg, conns)
	if err != nil {
		return err
	}

	grid, err := cfg.Engine.LoadGrid()
	if err != nil {
		return err
	}

	seed := cfg.Engine.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	sim := backtest.NewSimulator(simulatorConfig(cfg))
	opt := optimizer.New(sim,
		optimizer.WithGrid(grid),
		optimizer.WithRSIPeriod(cfg.Engine.RSIPeriod),
		optimizer.WithParallelism(cfg.Engine.Parallelism),
		optimizer.WithSeed(seed),
	)
	learner := metalearner.New()
	restore(ctx, conns, opt, learner)

	options := []pipeline.Option{
		pipeline.WithRetrier(resilience.NewRetrier("pipeline", retryConfig(cfg))),
		pipeline.WithRegime(regime.NewDetector(cfg.Regime.Window, cfg.Regime.Threshold)),
		pipeline.WithNotifier(dispatcher),
	}
	if conns.runs != nil {
		options = append(options, pipeline.WithRunStore(conns.runs))
	}
	if conns.models != nil {
		options = append(options, pipeline.WithModelStore(conns.models))
	}

	engine := pipeline.New(pipeline.Config{
		Interval:     cfg.Engine.Interval,
		Limit:        cfg.Engine.Limit,
		FetchTimeout: cfg.Engine.FetchTimeout,
	}, buildSource(cfg, conns), sim, opt, learner, options...)

	sched := scheduler.New(ctx, scheduler.WithOnError(func(name string, err error) {
		dispatcher.Notify(ctx, notifications.KindJobFailed, map[string]interface{}{
			"job":   name,
			"error": err.Error(),
		})
	}))

	for _, symbol := range cfg.Engine.Symbols {
		job := pipeline.SymbolJob{Engine: engine, Symbol: symbol}
		if err := sched.Schedule(job.Name(), job.Run, cfg.Engine.OptimizeInterval); err != nil {
			sched.Stop()
			return fmt.Errorf("failed to schedule %s: %w", job.Name(), err)
		}
		jobLog := config.NewJobLogger(job.Name(), symbol)
		jobLog.Debug().Dur("interval", cfg.Engine.OptimizeInterval).Msg("Job scheduled")
	}

	if cfg.Engine.BatchInterval > 0 {
		job := pipeline.BatchJob{
			Engine: engine,
			Executor: batch.NewExecutor(sim, batch.Config{
				Workers:     cfg.Engine.Workers,
				TaskTimeout: cfg.Engine.TaskTimeout,
			}),
			Symbols: cfg.Engine.Symbols,
		}
		if err := sched.Schedule(job.Name(), job.Run, cfg.Engine.BatchInterval); err != nil {
			sched.Stop()
			return fmt.Errorf("failed to schedule batch: %w", err)
		}
	}

	var metricsServer *metrics.Server
	if cfg.Monitoring.EnableMetrics {
		metricsServer = metrics.NewServer(cfg.Monitoring.PrometheusPort, log.Logger)
		if err := metricsServer.Start(); err != nil {
			log.Error().Err(err).Msg("Failed to start metrics server")
		}
	}

	errChan := make(chan error, 1)
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiConfig := api.Config{
			Host:           cfg.API.Host,
			Port:           cfg.API.Port,
			AllowedOrigins: cfg.API.AllowedOrigins,
			Meta:           learner,
			History:        opt,
			Jobs:           sched,
		}
		if conns.runs != nil {
			apiConfig.Runs = conns.runs
		}
		apiServer = api.NewServer(apiConfig)
		go func() {
			if err := apiServer.Start(); err != nil {
				errChan <- err
			}
		}()
	}

	logger := config.NewLogger("engine")
	logger.Info().
		Int("jobs", len(sched.Jobs())).
		Dur("optimize_interval", cfg.Engine.OptimizeInterval).
		Dur("batch_interval", cfg.Engine.BatchInterval).
		Msg("Engine running")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case runErr = <-errChan:
		logger.Error().Err(runErr).Msg("API server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	sched.Stop()
	cancel()

	if apiServer != nil {
		if err := apiServer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping API server")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Error stopping metrics server")
		}
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error draining notifications")
	}

	return runErr
}
