package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

// TestRunRepositoryWithTestcontainers exercises the repository against a real
// Postgres. Set ADAPTIVE_INTEGRATION=1 to run it.
func TestRunRepositoryWithTestcontainers(t *testing.T) {
	if testing.Short() || os.Getenv("ADAPTIVE_INTEGRATION") == "" {
		t.Skip("set ADAPTIVE_INTEGRATION=1 to run container tests")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("adaptive_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("testpassword"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, PoolConfig{URL: connStr, MaxConns: 5, MinConns: 1})
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	repo := NewRunRepository(pool)
	require.NoError(t, repo.Migrate(ctx))
	require.NoError(t, repo.Migrate(ctx), "schema is idempotent")

	for i, score := range []float64{100, 300} {
		_, err := repo.SaveRun(ctx, "rsi_threshold", optimizer.CandidateScore{
			Symbol: "BTCUSDT",
			Params: optimizer.ParameterSet{optimizer.ParamRSILow: float64(15 + i*10)},
			Score:  score,
			Stats:  backtest.Stats{backtest.StatProfit: score, backtest.StatWinRate: 0},
			At:     time.Now().Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	latest, err := repo.LatestRun(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 300.0, latest.Score)

	runs, err := repo.RecentRuns(ctx, "BTCUSDT", 10)
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	require.NoError(t, repo.SaveStrategyStats(ctx, "BTCUSDT", "sma_trend", backtest.Stats{backtest.StatWinRate: 0.2}))
	require.NoError(t, repo.SaveStrategyStats(ctx, "BTCUSDT", "sma_trend", backtest.Stats{backtest.StatWinRate: 0.6}))

	entries, err := repo.LoadStrategyStats(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 0.6, entries[0].Stats.WinRate())
}
