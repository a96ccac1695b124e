package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/config"
	"github.com/ajitpratap0/adaptive-engine/internal/market"
	"github.com/ajitpratap0/adaptive-engine/internal/metalearner"
	"github.com/ajitpratap0/adaptive-engine/internal/notifications"
	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/internal/resilience"
	"github.com/ajitpratap0/adaptive-engine/internal/store"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// infra holds the optional external connections. Nil fields are disabled.
type infra struct {
	redis  *redis.Client
	pool   *pgxpool.Pool
	runs   *store.RunRepository
	models *store.ModelRegistry
	nats   *notifications.NATSPublisher
}

func (i *infra) Close() {
	if i.nats != nil {
		if err := i.nats.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to drain NATS connection")
		}
	}
	if i.pool != nil {
		i.pool.Close()
	}
	if i.redis != nil {
		if err := i.redis.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
}

func retryConfig(cfg *config.Config) resilience.Config {
	return resilience.Config{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
		Multiplier:  cfg.Retry.Multiplier,
	}
}

func breakerSettings(cfg *config.Config) resilience.BreakerSettings {
	return resilience.BreakerSettings{
		MinRequests:     cfg.Breaker.MinRequests,
		FailureRatio:    cfg.Breaker.FailureRatio,
		OpenTimeout:     cfg.Breaker.OpenTimeout,
		HalfOpenMaxReqs: cfg.Breaker.HalfOpenMaxRequests,
		CountInterval:   cfg.Breaker.CountInterval,
	}
}

func simulatorConfig(cfg *config.Config) backtest.SimulatorConfig {
	return backtest.SimulatorConfig{
		InitialCapital:   cfg.Simulator.InitialCapital,
		CommissionRate:   cfg.Simulator.CommissionRate,
		Warmup:           cfg.Simulator.Warmup,
		PositionFraction: cfg.Simulator.PositionFraction,
	}
}

// connect opens every enabled external connection
func connect(ctx context.Context, cfg *config.Config) (*infra, error) {
	i := &infra{}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		i.redis = client
		i.models = store.NewModelRegistry(client)
		log.Info().Str("addr", cfg.Redis.GetRedisAddr()).Msg("Connected to Redis")
	}

	if cfg.Database.Enabled {
		pool, err := store.NewPool(ctx, store.PoolConfig{
			URL:      cfg.Database.GetDSN(),
			MaxConns: int32(cfg.Database.PoolSize), // #nosec G115
		})
		if err != nil {
			i.Close()
			return nil, err
		}
		i.pool = pool
		i.runs = store.NewRunRepository(pool)
		if err := i.runs.Migrate(ctx); err != nil {
			i.Close()
			return nil, err
		}
	}

	if cfg.Notifications.HasSink(config.SinkNATS) {
		publisher, err := notifications.NewNATSPublisher(notifications.NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.Notifications.Subject,
		})
		if err != nil {
			i.Close()
			return nil, err
		}
		i.nats = publisher
	}

	return i, nil
}

// buildSource returns the Binance source, cached in Redis when available
func buildSource(cfg *config.Config, i *infra) market.Source {
	binanceSource := market.NewBinanceSource(market.BinanceConfig{
		APIKey:            cfg.Binance.APIKey,
		SecretKey:         cfg.Binance.SecretKey,
		Testnet:           cfg.Binance.Testnet,
		BaseURL:           cfg.Binance.BaseURL,
		RequestsPerSecond: cfg.Binance.RequestsPerSecond,
		Burst:             cfg.Binance.Burst,
	}, resilience.NewBreaker("binance", breakerSettings(cfg)))

	if i.redis == nil {
		return binanceSource
	}
	return market.NewCachedSource(binanceSource, i.redis, cfg.Redis.CacheTTL)
}

// buildDispatcher creates the notification dispatcher with every configured sink
func buildDispatcher(cfg *config.Config, i *infra) (*notifications.Dispatcher, error) {
	var sinks []notifications.Sink
	n := cfg.Notifications

	if n.HasSink(config.SinkLog) {
		sinks = append(sinks, notifications.NewLogSink())
	}
	if n.HasSink(config.SinkTelegram) {
		telegram, err := notifications.NewTelegramSink(notifications.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatIDs:  cfg.Telegram.ChatIDs,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram sink: %w", err)
		}
		sinks = append(sinks, telegram)
	}
	if n.HasSink(config.SinkRedis) && i.redis != nil {
		sinks = append(sinks, notifications.NewRedisPublisher(i.redis, n.Channel))
	}
	if i.nats != nil {
		sinks = append(sinks, i.nats)
	}

	settings := breakerSettings(cfg)
	return notifications.NewDispatcher(notifications.DispatcherConfig{
		QueueSize:   n.QueueSize,
		SendTimeout: n.SendTimeout,
		Breaker:     &settings,
	}, sinks...), nil
}

// restore loads persisted optima into the optimizer and persisted strategy
// stats into the meta-learner
func restore(ctx context.Context, i *infra, opt *optimizer.Optimizer, learner *metalearner.MetaLearner) {
	if i.models != nil {
		entries, err := i.models.LoadAll(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load stored models")
		}
		for _, entry := range entries {
			opt.Restore(entry)
		}
	}

	if i.runs != nil {
		entries, err := i.runs.LoadStrategyStats(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load strategy stats")
		}
		for _, entry := range entries {
			learner.Update(entry.Symbol, entry.Strategy, entry.Stats)
		}
		log.Info().Int("entries", len(entries)).Msg("Meta-learner state restored")
	}
}
