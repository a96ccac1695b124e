package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateSimulator()...)
	errors = append(errors, c.validateRetry()...)
	errors = append(errors, c.validateBreaker()...)
	errors = append(errors, c.validateRegime()...)
	errors = append(errors, c.validateBinance()...)
	errors = append(errors, c.validateStorage()...)
	errors = append(errors, c.validateNotifications()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}

	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{
			Field:   "app.name",
			Message: "Application name is required",
		})
	}

	validEnvs := []string{"development", "staging", "production"}
	if !contains(validEnvs, c.App.Environment) {
		errors = append(errors, ValidationError{
			Field:   "app.environment",
			Message: fmt.Sprintf("Invalid environment '%s'. Must be one of: %v", c.App.Environment, validEnvs),
		})
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.App.LogLevel)); err != nil || c.App.LogLevel == "" {
		errors = append(errors, ValidationError{
			Field:   "app.log_level",
			Message: fmt.Sprintf("Invalid log level '%s' (debug, info, warn, error)", c.App.LogLevel),
		})
	}

	if c.App.LogFormat != "json" && c.App.LogFormat != "console" {
		errors = append(errors, ValidationError{
			Field:   "app.log_format",
			Message: fmt.Sprintf("Invalid log format '%s'. Must be json or console", c.App.LogFormat),
		})
	}

	return errors
}

func (c *Config) validateEngine() ValidationErrors {
	var errors ValidationErrors
	e := c.Engine

	if len(e.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.symbols",
			Message: "At least one symbol is required",
		})
	}
	seen := make(map[string]bool, len(e.Symbols))
	for _, s := range e.Symbols {
		if strings.TrimSpace(s) == "" {
			errors = append(errors, ValidationError{
				Field:   "engine.symbols",
				Message: "Symbols must not be empty",
			})
			continue
		}
		if seen[s] {
			errors = append(errors, ValidationError{
				Field:   "engine.symbols",
				Message: fmt.Sprintf("Symbol %s is listed twice", s),
			})
		}
		seen[s] = true
	}

	if e.Interval == "" {
		errors = append(errors, ValidationError{
			Field:   "engine.interval",
			Message: "Kline interval is required (e.g. 1m, 1h, 1d)",
		})
	}

	if e.Limit < 1 || e.Limit > 1000 {
		errors = append(errors, ValidationError{
			Field:   "engine.limit",
			Message: fmt.Sprintf("Invalid limit %d. Must be between 1 and 1000", e.Limit),
		})
	}

	if e.OptimizeInterval <= 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.optimize_interval",
			Message: "Optimization interval must be positive",
		})
	}

	if e.BatchInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.batch_interval",
			Message: "Batch interval cannot be negative (use 0 to disable)",
		})
	}

	if e.Workers < 0 || e.Parallelism < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.workers",
			Message: "Workers and parallelism cannot be negative (use 0 for GOMAXPROCS)",
		})
	}

	if e.TaskTimeout < 0 || e.FetchTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.task_timeout",
			Message: "Timeouts cannot be negative",
		})
	}

	if e.RSIPeriod < 2 {
		errors = append(errors, ValidationError{
			Field:   "engine.rsi_period",
			Message: fmt.Sprintf("Invalid RSI period %d. Must be at least 2", e.RSIPeriod),
		})
	}

	if e.GridFile != "" {
		if _, err := e.LoadGrid(); err != nil {
			errors = append(errors, ValidationError{
				Field:   "engine.grid_file",
				Message: err.Error(),
			})
		}
	}

	return errors
}

func (c *Config) validateSimulator() ValidationErrors {
	var errors ValidationErrors
	s := c.Simulator

	if s.InitialCapital <= 0 {
		errors = append(errors, ValidationError{
			Field:   "simulator.initial_capital",
			Message: "Initial capital must be positive",
		})
	}

	if s.CommissionRate < 0 || s.CommissionRate >= 1 {
		errors = append(errors, ValidationError{
			Field:   "simulator.commission_rate",
			Message: fmt.Sprintf("Invalid commission rate %.4f. Must be in [0, 1)", s.CommissionRate),
		})
	}

	if s.Warmup < 0 {
		errors = append(errors, ValidationError{
			Field:   "simulator.warmup",
			Message: "Warmup cannot be negative",
		})
	}

	if s.PositionFraction <= 0 || s.PositionFraction > 1 {
		errors = append(errors, ValidationError{
			Field:   "simulator.position_fraction",
			Message: fmt.Sprintf("Invalid position fraction %.2f. Must be in (0, 1]", s.PositionFraction),
		})
	}

	return errors
}

func (c *Config) validateRetry() ValidationErrors {
	var errors ValidationErrors
	r := c.Retry

	if r.MaxAttempts < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.max_attempts",
			Message: "At least one attempt is required",
		})
	}

	if r.BaseDelay < 0 || r.MaxDelay < 0 {
		errors = append(errors, ValidationError{
			Field:   "retry.base_delay",
			Message: "Retry delays cannot be negative",
		})
	} else if r.MaxDelay > 0 && r.MaxDelay < r.BaseDelay {
		errors = append(errors, ValidationError{
			Field:   "retry.max_delay",
			Message: fmt.Sprintf("Max delay %s is below base delay %s", r.MaxDelay, r.BaseDelay),
		})
	}

	if r.Multiplier < 1 {
		errors = append(errors, ValidationError{
			Field:   "retry.multiplier",
			Message: "Multiplier must be at least 1",
		})
	}

	return errors
}

func (c *Config) validateBreaker() ValidationErrors {
	var errors ValidationErrors
	b := c.Breaker

	if b.FailureRatio <= 0 || b.FailureRatio > 1 {
		errors = append(errors, ValidationError{
			Field:   "breaker.failure_ratio",
			Message: fmt.Sprintf("Invalid failure ratio %.2f. Must be in (0, 1]", b.FailureRatio),
		})
	}

	if b.OpenTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "breaker.open_timeout",
			Message: "Open timeout must be positive",
		})
	}

	return errors
}

func (c *Config) validateRegime() ValidationErrors {
	var errors ValidationErrors

	if c.Regime.Window < 2 {
		errors = append(errors, ValidationError{
			Field:   "regime.window",
			Message: "Volatility window must be at least 2",
		})
	}

	if c.Regime.Threshold <= 0 {
		errors = append(errors, ValidationError{
			Field:   "regime.threshold",
			Message: "Volatility threshold must be positive",
		})
	}

	return errors
}

func (c *Config) validateBinance() ValidationErrors {
	var errors ValidationErrors

	if c.Binance.RequestsPerSecond < 0 || c.Binance.Burst < 0 {
		errors = append(errors, ValidationError{
			Field:   "binance.requests_per_second",
			Message: "Rate limits cannot be negative (use 0 for unlimited)",
		})
	}

	return errors
}

func (c *Config) validateStorage() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Enabled {
		if c.Redis.Host == "" {
			errors = append(errors, ValidationError{
				Field:   "redis.host",
				Message: "Redis host is required when Redis is enabled",
			})
		}
		if c.Redis.Port < 1 || c.Redis.Port > 65535 {
			errors = append(errors, ValidationError{
				Field:   "redis.port",
				Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Redis.Port),
			})
		}
	}

	if c.Database.Enabled {
		if c.Database.Host == "" || c.Database.Database == "" {
			errors = append(errors, ValidationError{
				Field:   "database.host",
				Message: "Database host and name are required when the database is enabled",
			})
		}
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			errors = append(errors, ValidationError{
				Field:   "database.port",
				Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Database.Port),
			})
		}
	}

	return errors
}

func (c *Config) validateNotifications() ValidationErrors {
	var errors ValidationErrors
	n := c.Notifications

	known := []string{SinkLog, SinkTelegram, SinkRedis, SinkNATS}
	for _, sink := range n.Sinks {
		if !contains(known, strings.ToLower(sink)) {
			errors = append(errors, ValidationError{
				Field:   "notifications.sinks",
				Message: fmt.Sprintf("Unknown sink '%s'. Must be one of: %v", sink, known),
			})
		}
	}

	if n.HasSink(SinkTelegram) && (c.Telegram.BotToken == "" || len(c.Telegram.ChatIDs) == 0) {
		errors = append(errors, ValidationError{
			Field:   "telegram.bot_token",
			Message: "Telegram sink needs a bot token and at least one chat ID",
		})
	}

	if n.HasSink(SinkRedis) && !c.Redis.Enabled {
		errors = append(errors, ValidationError{
			Field:   "notifications.sinks",
			Message: "Redis sink requires redis.enabled",
		})
	}

	if n.HasSink(SinkNATS) && c.NATS.URL == "" {
		errors = append(errors, ValidationError{
			Field:   "nats.url",
			Message: "NATS sink requires a NATS URL",
		})
	}

	if n.SendTimeout < 0 || n.SendTimeout > time.Minute {
		errors = append(errors, ValidationError{
			Field:   "notifications.send_timeout",
			Message: "Send timeout must be between 0 and 1m",
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.API.Port),
		})
	}

	if c.Monitoring.EnableMetrics && (c.Monitoring.PrometheusPort < 1 || c.Monitoring.PrometheusPort > 65535) {
		errors = append(errors, ValidationError{
			Field:   "monitoring.prometheus_port",
			Message: fmt.Sprintf("Invalid port %d. Must be between 1-65535", c.Monitoring.PrometheusPort),
		})
	}

	if c.API.Enabled && c.Monitoring.EnableMetrics && c.API.Port == c.Monitoring.PrometheusPort {
		errors = append(errors, ValidationError{
			Field:   "api.port",
			Message: "API and metrics servers cannot share a port",
		})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if c.App.Environment != "production" {
		return errors
	}

	if c.Binance.Testnet {
		errors = append(errors, ValidationError{
			Field:   "binance.testnet",
			Message: "Testnet mode must be disabled in production",
		})
	}

	if c.Database.Enabled && c.Database.SSLMode == "disable" {
		errors = append(errors, ValidationError{
			Field:   "database.ssl_mode",
			Message: "SSL must be enabled for database in production",
		})
	}

	if c.API.Enabled && (len(c.API.AllowedOrigins) == 0 || contains(c.API.AllowedOrigins, "*")) {
		errors = append(errors, ValidationError{
			Field:   "api.allowed_origins",
			Message: "Explicit CORS origins are required in production",
		})
	}

	return errors
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}
