package market

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adaptive-engine/internal/resilience"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

const klinesJSON = `[
  [1704070800000,"101.0","103.0","100.0","102.5","12.5",1704074399999,"1281.25",42,"6.0","615.0","0"],
  [1704067200000,"100.0","102.0","99.0","101.0","10.0",1704070799999,"1010.0",40,"5.0","505.0","0"]
]`

func newBinanceServer(t *testing.T, status int, body string, calls *int64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt64(calls, 1)
		}
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestBinanceSource_History(t *testing.T) {
	srv := newBinanceServer(t, http.StatusOK, klinesJSON, nil)
	source := NewBinanceSource(BinanceConfig{BaseURL: srv.URL, RequestsPerSecond: 100, Burst: 1}, nil)

	series, err := source.History(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	require.Len(t, series, 2)

	assert.Equal(t, "BTCUSDT", series.Symbol())
	assert.True(t, series[0].Timestamp.Before(series[1].Timestamp), "candles sorted chronologically")
	assert.Equal(t, 101.0, series[0].Close)
	assert.Equal(t, 102.5, series[1].Close)
	assert.Equal(t, 12.5, series[1].Volume)
	assert.Equal(t, time.UnixMilli(1704067200000).UTC(), series[0].Timestamp)
}

func TestBinanceSource_InvalidSymbolIsPermanent(t *testing.T) {
	srv := newBinanceServer(t, http.StatusBadRequest, `{"code":-1121,"msg":"Invalid symbol."}`, nil)
	source := NewBinanceSource(BinanceConfig{BaseURL: srv.URL}, nil)

	_, err := source.History(context.Background(), "BTCUSDT", "1h", 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrPermanent)
	assert.False(t, resilience.RetryAll(err))
}

func TestBinanceSource_BreakerOpens(t *testing.T) {
	var calls int64
	srv := newBinanceServer(t, http.StatusInternalServerError, `{"code":-1000,"msg":"Unknown error"}`, &calls)
	breaker := resilience.NewBreaker("binance_test", resilience.BreakerSettings{
		MinRequests:     2,
		FailureRatio:    0.5,
		OpenTimeout:     time.Minute,
		HalfOpenMaxReqs: 1,
		CountInterval:   time.Minute,
	})
	source := NewBinanceSource(BinanceConfig{BaseURL: srv.URL}, breaker)

	for i := 0; i < 4; i++ {
		_, err := source.History(context.Background(), "BTCUSDT", "1h", 2)
		assert.Error(t, err)
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls), "open breaker stops calling upstream")
}

func TestBinanceSource_MalformedKline(t *testing.T) {
	srv := newBinanceServer(t, http.StatusOK,
		`[[1704067200000,"100.0","102.0","99.0","oops","10.0",1704070799999,"1010.0",40,"5.0","505.0","0"]]`, nil)
	source := NewBinanceSource(BinanceConfig{BaseURL: srv.URL}, nil)

	_, err := source.History(context.Background(), "BTCUSDT", "1h", 1)
	assert.ErrorIs(t, err, resilience.ErrPermanent)
}

type countingSource struct {
	calls  int64
	series backtest.Series
	err    error
}

func (c *countingSource) History(ctx context.Context, symbol, interval string, limit int) (backtest.Series, error) {
	atomic.AddInt64(&c.calls, 1)
	return c.series, c.err
}

func TestCachedSource(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &countingSource{series: backtest.Series{
		{Symbol: "ETHUSDT", Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Close: 2300},
	}}
	cached := NewCachedSource(next, client, time.Minute)
	ctx := context.Background()

	first, err := cached.History(ctx, "ETHUSDT", "1h", 100)
	require.NoError(t, err)
	second, err := cached.History(ctx, "ETHUSDT", "1h", 100)
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&next.calls), "second call served from cache")
	assert.Equal(t, first[0].Close, second[0].Close)
	assert.True(t, mr.Exists("adaptive:klines:ETHUSDT:1h:100"))

	require.NoError(t, cached.Invalidate(ctx, "ETHUSDT", "1h", 100))
	_, err = cached.History(ctx, "ETHUSDT", "1h", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&next.calls))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("adaptive:klines:ETHUSDT:1h:100"), "entries expire")
}

func TestCachedSource_ErrorsAreNotCached(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	next := &countingSource{err: errors.New("exchange down")}
	cached := NewCachedSource(next, client, 0)

	for i := 0; i < 2; i++ {
		_, err := cached.History(context.Background(), "ETHUSDT", "1h", 100)
		assert.Error(t, err)
	}
	assert.Equal(t, int64(2), atomic.LoadInt64(&next.calls))
}

func TestCachedSource_NilClientPassesThrough(t *testing.T) {
	next := &countingSource{series: backtest.Series{{Symbol: "X", Close: 1}}}
	cached := NewCachedSource(next, nil, time.Minute)

	_, err := cached.History(context.Background(), "X", "1h", 1)
	require.NoError(t, err)
	require.NoError(t, cached.Invalidate(context.Background(), "X", "1h", 1))
	assert.Equal(t, int64(1), atomic.LoadInt64(&next.calls))
}

func TestStaticSourceAndFetchAll(t *testing.T) {
	source := StaticSource{
		"BTCUSDT": {{Symbol: "BTCUSDT", Close: 1}, {Symbol: "BTCUSDT", Close: 2}, {Symbol: "BTCUSDT", Close: 3}},
	}

	series, err := source.History(context.Background(), "BTCUSDT", "1h", 2)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 3}, series.Closes())

	seriesBySymbol, failures := FetchAll(context.Background(), source, []string{"BTCUSDT", "MISSING"}, "1h", 10)
	assert.Len(t, seriesBySymbol, 1)
	assert.Contains(t, failures, "MISSING")
}
