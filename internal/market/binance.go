package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/internal/resilience"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

const sourceBinance = "binance"

// Binance API error codes that no retry can fix
const (
	codeIllegalChars  = -1100
	codeInvalidSymbol = -1121
	codeInvalidPeriod = -1120
)

// BinanceConfig contains configuration for the Binance klines source
type BinanceConfig struct {
	APIKey            string
	SecretKey         string
	Testnet           bool
	BaseURL           string  // Overrides the API endpoint
	RequestsPerSecond float64 // Client-side request rate, zero disables limiting
	Burst             int
}

// BinanceSource fetches klines from Binance
type BinanceSource struct {
	client  *binance.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewBinanceSource creates a klines source. breaker may be nil.
func NewBinanceSource(config BinanceConfig, breaker *resilience.Breaker) *BinanceSource {
	if config.Testnet {
		binance.UseTestnet = true
		log.Info().Msg("Binance market data initialized (TESTNET mode)")
	}

	client := binance.NewClient(config.APIKey, config.SecretKey)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RequestsPerSecond > 0 {
		burst := config.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), burst)
	}

	return &BinanceSource{
		client:  client,
		limiter: limiter,
		breaker: breaker,
	}
}

// History returns up to limit klines of symbol at interval (e.g. "1h")
func (s *BinanceSource) History(ctx context.Context, symbol, interval string, limit int) (backtest.Series, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	startTime := time.Now()
	klines, err := resilience.Execute(s.breaker, func() ([]*binance.Kline, error) {
		return s.client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			Limit(limit).
			Do(ctx)
	})
	if err != nil {
		metrics.MarketDataFetches.WithLabelValues(sourceBinance, metrics.ResultFailure).Inc()
		return nil, classifyBinanceError(fmt.Errorf("failed to fetch klines for %s: %w", symbol, err))
	}

	series, err := convertKlines(symbol, klines)
	if err != nil {
		metrics.MarketDataFetches.WithLabelValues(sourceBinance, metrics.ResultFailure).Inc()
		return nil, resilience.Permanent(err)
	}

	metrics.MarketDataFetches.WithLabelValues(sourceBinance, metrics.ResultSuccess).Inc()
	log.Debug().
		Str("symbol", symbol).
		Str("interval", interval).
		Int("candles", len(series)).
		Dur("duration", time.Since(startTime)).
		Msg("Fetched klines")

	return series, nil
}

// classifyBinanceError marks request errors as permanent
func classifyBinanceError(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case codeIllegalChars, codeInvalidSymbol, codeInvalidPeriod:
			return resilience.Permanent(err)
		}
	}
	return err
}

func convertKlines(symbol string, klines []*binance.Kline) (backtest.Series, error) {
	series := make(backtest.Series, 0, len(klines))
	for _, k := range klines {
		candle := &backtest.Candlestick{
			Symbol:    symbol,
			Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		}

		fields := []struct {
			name  string
			raw   string
			value *float64
		}{
			{"open", k.Open, &candle.Open},
			{"high", k.High, &candle.High},
			{"low", k.Low, &candle.Low},
			{"close", k.Close, &candle.Close},
			{"volume", k.Volume, &candle.Volume},
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f.raw, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q in kline at %d: %w", f.name, f.raw, k.OpenTime, err)
			}
			*f.value = v
		}

		series = append(series, candle)
	}
	sortSeries(series)
	return series, nil
}
