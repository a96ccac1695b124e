package optimizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

func testSeries(symbol string, n int) backtest.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make(backtest.Series, n)
	for i := range series {
		// sawtooth so RSI crosses both thresholds
		price := 100 + float64(i%20)*2
		if (i/20)%2 == 1 {
			price = 140 - float64(i%20)*2
		}
		series[i] = &backtest.Candlestick{
			Symbol:    symbol,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      price,
			High:      price,
			Low:       price,
			Close:     price,
		}
	}
	return series
}

// votePort scores a candidate by the vote its strategy casts on the full series
func votePort(scores map[backtest.Vote]backtest.Stats) backtest.Port {
	return backtest.PortFunc(func(ctx context.Context, series backtest.Series, strategy backtest.StrategyFunc) (backtest.Result, error) {
		vote, err := strategy(series)
		if err != nil {
			return backtest.Result{}, err
		}
		return backtest.Result{Stats: scores[vote].Clone()}, nil
	})
}

// byParam votes according to the value of parameter x
func byParam(votes map[float64]backtest.Vote, fail map[float64]bool) Option {
	return WithStrategy(func(params ParameterSet) backtest.StrategyFunc {
		return func(series backtest.Series) (backtest.Vote, error) {
			if fail[params["x"]] {
				return "", errors.New("strategy blew up")
			}
			return votes[params["x"]], nil
		}
	})
}

var defaultScores = map[backtest.Vote]backtest.Stats{
	backtest.VoteBuy:  {backtest.StatProfit: 100, backtest.StatWinRate: 0.5},
	backtest.VoteSell: {backtest.StatProfit: 300, backtest.StatWinRate: 0.2},
	backtest.VoteHold: {backtest.StatProfit: 0, backtest.StatWinRate: 0},
}

func TestScore(t *testing.T) {
	assert.Equal(t, 600.0, Score(backtest.Stats{backtest.StatProfit: 100, backtest.StatWinRate: 0.5}))
	assert.Equal(t, -50.0, Score(backtest.Stats{backtest.StatProfit: -50, backtest.StatWinRate: 0}))
}

func TestOptimize_SelectsMaximumScore(t *testing.T) {
	grid := NewParamGrid().MustAdd("x", 1, 2, 3)
	opt := New(votePort(defaultScores), byParam(map[float64]backtest.Vote{
		1: backtest.VoteHold,
		2: backtest.VoteBuy,  // 100 + 500
		3: backtest.VoteSell, // 300 + 200
	}, nil))

	best, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), grid)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", best.Symbol)
	assert.True(t, best.Params.Equal(ParameterSet{"x": 2}))
	assert.Equal(t, 600.0, best.Score)
	assert.Equal(t, 3, best.Evaluated)
	assert.Zero(t, best.Failed)

	history := opt.TopStrategies()
	require.Len(t, history, 1)
	assert.Equal(t, best.Score, history[0].Score)
}

func TestOptimize_TiesResolveToFirstInGridOrder(t *testing.T) {
	grid := NewParamGrid().MustAdd("x", 5, 7, 9)
	opt := New(votePort(defaultScores), WithParallelism(3), byParam(map[float64]backtest.Vote{
		5: backtest.VoteHold,
		7: backtest.VoteBuy,
		9: backtest.VoteBuy,
	}, nil))

	for i := 0; i < 5; i++ {
		best, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), grid)
		require.NoError(t, err)
		assert.True(t, best.Params.Equal(ParameterSet{"x": 7}))
	}
}

func TestOptimize_ExcludesFailedCandidates(t *testing.T) {
	grid := NewParamGrid().MustAdd("x", 1, 2, 3)
	opt := New(votePort(defaultScores), byParam(map[float64]backtest.Vote{
		1: backtest.VoteHold,
		2: backtest.VoteBuy,
		3: backtest.VoteSell,
	}, map[float64]bool{2: true}))

	best, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), grid)
	require.NoError(t, err)
	assert.True(t, best.Params.Equal(ParameterSet{"x": 3}))
	assert.Equal(t, 2, best.Evaluated)
	assert.Equal(t, 1, best.Failed)
}

func TestOptimize_PanickingCandidateExcluded(t *testing.T) {
	grid := NewParamGrid().MustAdd("x", 1, 2, 3)
	port := backtest.PortFunc(func(ctx context.Context, series backtest.Series, strategy backtest.StrategyFunc) (backtest.Result, error) {
		vote, err := strategy(series)
		if err != nil {
			return backtest.Result{}, err
		}
		if vote == backtest.VoteSell {
			panic("simulator bug")
		}
		return backtest.Result{Stats: defaultScores[vote].Clone()}, nil
	})
	opt := New(port, byParam(map[float64]backtest.Vote{
		1: backtest.VoteHold,
		2: backtest.VoteSell,
		3: backtest.VoteBuy,
	}, nil))

	best, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), grid)
	require.NoError(t, err)
	assert.True(t, best.Params.Equal(ParameterSet{"x": 3}))
	assert.Equal(t, 2, best.Evaluated)
	assert.Equal(t, 1, best.Failed)
}

func TestOptimize_AllPanickingIsNoViableCandidate(t *testing.T) {
	port := backtest.PortFunc(func(ctx context.Context, series backtest.Series, strategy backtest.StrategyFunc) (backtest.Result, error) {
		panic("simulator bug")
	})
	opt := New(port)

	_, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), NewParamGrid().MustAdd("x", 1, 2))
	assert.ErrorIs(t, err, ErrNoViableCandidate)
	assert.Empty(t, opt.TopStrategies())
}

func TestOptimize_ConcurrentSymbolsKeepEveryOptimum(t *testing.T) {
	const symbols = 16
	grid := NewParamGrid().MustAdd("x", 1, 2, 3)
	opt := New(votePort(defaultScores), byParam(map[float64]backtest.Vote{
		1: backtest.VoteHold,
		2: backtest.VoteBuy,
		3: backtest.VoteSell,
	}, nil), WithParallelism(2))

	var wg sync.WaitGroup
	for i := 0; i < symbols; i++ {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			_, err := opt.Optimize(context.Background(), testSeries(symbol, 10), grid)
			assert.NoError(t, err)
		}(fmt.Sprintf("SYM%02dUSDT", i))
	}
	wg.Wait()

	assert.Len(t, opt.TopStrategies(), symbols)
	for i := 0; i < symbols; i++ {
		assert.Len(t, opt.TopStrategiesFor(fmt.Sprintf("SYM%02dUSDT", i)), 1)
	}
}

func TestOptimize_ReturnedEntriesDoNotAliasHistory(t *testing.T) {
	grid := NewParamGrid().MustAdd("x", 1, 2, 3)
	opt := New(votePort(defaultScores), byParam(map[float64]backtest.Vote{
		1: backtest.VoteHold,
		2: backtest.VoteBuy,
		3: backtest.VoteSell,
	}, nil))

	best, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), grid)
	require.NoError(t, err)
	best.Params["x"] = 1
	best.Stats[backtest.StatProfit] = -1

	top := opt.TopStrategies()
	top[0].Params["x"] = 3
	top[0].Stats[backtest.StatProfit] = -2

	forSymbol := opt.TopStrategiesFor("BTCUSDT")
	forSymbol[0].Params["x"] = 3

	latest, ok := opt.Best("BTCUSDT")
	require.True(t, ok)
	latest.Params["x"] = 3

	stored, ok := opt.Best("BTCUSDT")
	require.True(t, ok)
	assert.True(t, stored.Params.Equal(ParameterSet{"x": 2}))
	assert.Equal(t, 100.0, stored.Stats.Profit())
}

func TestOptimize_MissingMetricExcludes(t *testing.T) {
	scores := map[backtest.Vote]backtest.Stats{
		backtest.VoteBuy:  {backtest.StatProfit: 1e6},
		backtest.VoteHold: {backtest.StatProfit: 1, backtest.StatWinRate: 0},
	}
	grid := NewParamGrid().MustAdd("x", 1, 2)
	opt := New(votePort(scores), byParam(map[float64]backtest.Vote{
		1: backtest.VoteBuy,
		2: backtest.VoteHold,
	}, nil))

	best, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), grid)
	require.NoError(t, err)
	assert.True(t, best.Params.Equal(ParameterSet{"x": 2}))
}

func TestOptimize_AllFailLeavesHistoryUnchanged(t *testing.T) {
	grid := NewParamGrid().MustAdd("x", 1, 2)
	opt := New(votePort(defaultScores), byParam(nil, map[float64]bool{1: true, 2: true}))

	_, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), grid)
	require.ErrorIs(t, err, ErrNoViableCandidate)
	assert.Empty(t, opt.TopStrategies())

	_, err = opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), NewParamGrid())
	assert.ErrorIs(t, err, ErrNoViableCandidate)
}

func TestOptimize_BoundedParallelism(t *testing.T) {
	var inFlight, peak int64
	port := backtest.PortFunc(func(ctx context.Context, series backtest.Series, strategy backtest.StrategyFunc) (backtest.Result, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return backtest.Result{Stats: backtest.Stats{backtest.StatProfit: 1, backtest.StatWinRate: 1}}, nil
	})

	opt := New(port, WithParallelism(2))
	_, err := opt.Optimize(context.Background(), testSeries("BTCUSDT", 10), NewParamGrid().MustAdd("x", 1, 2, 3, 4, 5, 6))
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestOptimize_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opt := New(backtest.NewSimulator(backtest.DefaultSimulatorConfig()))
	_, err := opt.Optimize(ctx, testSeries("BTCUSDT", 120), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, opt.TopStrategies())
}

func TestOptimize_DefaultGridWithSimulator(t *testing.T) {
	opt := New(backtest.NewSimulator(backtest.DefaultSimulatorConfig()))
	series := testSeries("ETHUSDT", 160)

	best, err := opt.Optimize(context.Background(), series, nil)
	require.NoError(t, err)
	assert.Equal(t, 27, best.Evaluated+best.Failed)

	var found bool
	for _, params := range DefaultGrid().Combinations() {
		if params.Equal(best.Params) {
			found = true
		}
	}
	assert.True(t, found, "optimum is one of the grid combinations")
	assert.Equal(t, Score(best.Stats), best.Score)

	prediction, err := opt.Predict(series)
	require.NoError(t, err)
	assert.False(t, prediction.Unoptimized)
	assert.True(t, prediction.Vote.Valid())
}

func TestPredict_UnoptimizedFallback(t *testing.T) {
	opt := New(votePort(defaultScores), WithSeed(42))

	seen := make(map[backtest.Vote]bool)
	for i := 0; i < 200; i++ {
		prediction, err := opt.Predict(testSeries("SOLUSDT", 40))
		require.NoError(t, err)
		assert.True(t, prediction.Unoptimized)
		assert.True(t, prediction.Vote.Valid())
		seen[prediction.Vote] = true
	}
	assert.Len(t, seen, 3, "fallback draws from every category")
}

func TestPredict_UsesLatestOptimumForSymbol(t *testing.T) {
	opt := New(votePort(defaultScores), byParam(map[float64]backtest.Vote{
		1: backtest.VoteBuy,
		2: backtest.VoteSell,
	}, nil))

	opt.Restore(CandidateScore{Symbol: "BTCUSDT", Params: ParameterSet{"x": 1}, Score: 10})
	opt.Restore(CandidateScore{Symbol: "ETHUSDT", Params: ParameterSet{"x": 1}, Score: 10})
	opt.Restore(CandidateScore{Symbol: "BTCUSDT", Params: ParameterSet{"x": 2}, Score: 5})

	prediction, err := opt.Predict(testSeries("BTCUSDT", 5))
	require.NoError(t, err)
	assert.Equal(t, backtest.VoteSell, prediction.Vote)
	assert.False(t, prediction.Unoptimized)

	assert.Len(t, opt.TopStrategiesFor("BTCUSDT"), 2)
	assert.Len(t, opt.TopStrategies(), 3)

	vote, err := opt.Strategy("ETHUSDT")(testSeries("ETHUSDT", 5))
	require.NoError(t, err)
	assert.Equal(t, backtest.VoteBuy, vote)

	_, err = opt.Strategy("DOGEUSDT")(testSeries("DOGEUSDT", 5))
	assert.ErrorIs(t, err, ErrNotOptimized)
}

func TestRSIThreshold_MissingParameter(t *testing.T) {
	opt := New(votePort(defaultScores))
	_, err := opt.StrategyFunc(testSeries("BTCUSDT", 40), ParameterSet{ParamRSILow: 30})
	assert.Error(t, err)

	vote, err := opt.StrategyFunc(testSeries("BTCUSDT", 40), ParameterSet{ParamRSILow: 30, ParamRSIHigh: 70, ParamRSIPeriod: 5})
	require.NoError(t, err)
	assert.True(t, vote.Valid())
}
