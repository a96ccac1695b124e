package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
)

// Config holds all application configuration
type Config struct {
	App           AppConfig           `mapstructure:"app"`
	Engine        EngineConfig        `mapstructure:"engine"`
	Simulator     SimulatorConfig     `mapstructure:"simulator"`
	Retry         RetryConfig         `mapstructure:"retry"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Regime        RegimeConfig        `mapstructure:"regime"`
	Binance       BinanceConfig       `mapstructure:"binance"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Database      DatabaseConfig      `mapstructure:"database"`
	NATS          NATSConfig          `mapstructure:"nats"`
	Telegram      TelegramConfig      `mapstructure:"telegram"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	API           APIConfig           `mapstructure:"api"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"` // "json" or "console"
}

// EngineConfig contains the evaluation and scheduling settings
type EngineConfig struct {
	Symbols          []string      `mapstructure:"symbols"`           // ["BTCUSDT", "ETHUSDT"]
	Interval         string        `mapstructure:"interval"`          // Kline interval, e.g. "1h"
	Limit            int           `mapstructure:"limit"`             // Candles per fetch
	OptimizeInterval time.Duration `mapstructure:"optimize_interval"` // Per-symbol optimization period
	BatchInterval    time.Duration `mapstructure:"batch_interval"`    // Batch evaluation period, 0 disables
	Workers          int           `mapstructure:"workers"`           // 0 means GOMAXPROCS
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	Parallelism      int           `mapstructure:"parallelism"` // Concurrent candidates per optimization
	RSIPeriod        int           `mapstructure:"rsi_period"`
	GridFile         string        `mapstructure:"grid_file"` // YAML parameter grid, empty for the default
	Seed             int64         `mapstructure:"seed"`      // 0 means time-seeded
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
}

// SimulatorConfig contains reference backtester settings
type SimulatorConfig struct {
	InitialCapital   float64 `mapstructure:"initial_capital"`
	CommissionRate   float64 `mapstructure:"commission_rate"` // 0.001 = 0.1% per fill
	Warmup           int     `mapstructure:"warmup"`
	PositionFraction float64 `mapstructure:"position_fraction"`
}

// RetryConfig contains backoff settings for external calls
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// BreakerConfig contains circuit breaker settings
type BreakerConfig struct {
	MinRequests         uint32        `mapstructure:"min_requests"`
	FailureRatio        float64       `mapstructure:"failure_ratio"`
	OpenTimeout         time.Duration `mapstructure:"open_timeout"`
	HalfOpenMaxRequests uint32        `mapstructure:"half_open_max_requests"`
	CountInterval       time.Duration `mapstructure:"count_interval"`
}

// RegimeConfig contains volatility regime settings
type RegimeConfig struct {
	Window    int     `mapstructure:"window"`
	Threshold float64 `mapstructure:"threshold"`
}

// BinanceConfig contains market data settings
type BinanceConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	SecretKey         string  `mapstructure:"secret_key"`
	Testnet           bool    `mapstructure:"testnet"`
	BaseURL           string  `mapstructure:"base_url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RedisConfig contains Redis settings
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // Kline cache lifetime
}

// DatabaseConfig contains PostgreSQL settings
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	PoolSize int    `mapstructure:"pool_size"`
}

// NATSConfig contains NATS messaging settings
type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig contains Telegram bot settings
type TelegramConfig struct {
	Enabled  bool    `mapstructure:"enabled"`
	BotToken string  `mapstructure:"bot_token"`
	ChatIDs  []int64 `mapstructure:"chat_ids"`
}

// NotificationsConfig selects and tunes event sinks
type NotificationsConfig struct {
	Sinks       []string      `mapstructure:"sinks"`   // log, telegram, redis, nats
	Channel     string        `mapstructure:"channel"` // Redis pub/sub channel
	Subject     string        `mapstructure:"subject"` // NATS subject prefix
	QueueSize   int           `mapstructure:"queue_size"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
}

// APIConfig contains REST API settings
type APIConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// MonitoringConfig contains monitoring settings
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Known notification sinks
const (
	SinkLog      = "log"
	SinkTelegram = "telegram"
	SinkRedis    = "redis"
	SinkNATS     = "nats"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// ADAPTIVE_ENGINE_WORKERS overrides engine.workers
	v.SetEnvPrefix("ADAPTIVE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "adaptive-engine")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	// Engine defaults
	v.SetDefault("engine.symbols", []string{"BTCUSDT", "ETHUSDT"})
	v.SetDefault("engine.interval", "1h")
	v.SetDefault("engine.limit", 500)
	v.SetDefault("engine.optimize_interval", time.Hour)
	v.SetDefault("engine.batch_interval", 6*time.Hour)
	v.SetDefault("engine.workers", 0)
	v.SetDefault("engine.task_timeout", 5*time.Minute)
	v.SetDefault("engine.parallelism", 0)
	v.SetDefault("engine.rsi_period", 14)
	v.SetDefault("engine.grid_file", "")
	v.SetDefault("engine.seed", 0)
	v.SetDefault("engine.fetch_timeout", 30*time.Second)

	// Simulator defaults
	v.SetDefault("simulator.initial_capital", 10000.0)
	v.SetDefault("simulator.commission_rate", 0.001)
	v.SetDefault("simulator.warmup", 30)
	v.SetDefault("simulator.position_fraction", 1.0)

	// Retry defaults
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.base_delay", 2*time.Second)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.multiplier", 2.0)

	// Circuit breaker defaults
	v.SetDefault("breaker.min_requests", 5)
	v.SetDefault("breaker.failure_ratio", 0.6)
	v.SetDefault("breaker.open_timeout", 30*time.Second)
	v.SetDefault("breaker.half_open_max_requests", 3)
	v.SetDefault("breaker.count_interval", 10*time.Second)

	// Regime defaults
	v.SetDefault("regime.window", 10)
	v.SetDefault("regime.threshold", 0.02)

	// Binance defaults
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.secret_key", "")
	v.SetDefault("binance.base_url", "")
	v.SetDefault("binance.testnet", false)
	v.SetDefault("binance.requests_per_second", 10.0)
	v.SetDefault("binance.burst", 5)

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", time.Minute)

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "adaptive")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.pool_size", 10)

	// NATS defaults
	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")

	// Notification defaults
	v.SetDefault("notifications.sinks", []string{SinkLog})
	v.SetDefault("notifications.channel", "adaptive.events")
	v.SetDefault("notifications.subject", "adaptive.events")
	v.SetDefault("notifications.queue_size", 256)
	v.SetDefault("notifications.send_timeout", 5*time.Second)

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8081)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// GetAPIAddr returns the API server address
func (c *APIConfig) GetAPIAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// HasSink reports whether name is among the configured notification sinks
func (c *NotificationsConfig) HasSink(name string) bool {
	for _, s := range c.Sinks {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

// LoadGrid returns the configured parameter grid, or the default grid when
// no file is set
func (c *EngineConfig) LoadGrid() (*optimizer.ParamGrid, error) {
	if c.GridFile == "" {
		return optimizer.DefaultGrid(), nil
	}

	data, err := os.ReadFile(c.GridFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read grid file: %w", err)
	}
	grid, err := optimizer.ParseGridYAML(data)
	if err != nil {
		return nil, fmt.Errorf("grid file %s: %w", c.GridFile, err)
	}
	return grid, nil
}
