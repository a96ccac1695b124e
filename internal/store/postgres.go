// Package store persists optimization results: run history and strategy
// statistics in Postgres, best parameters per symbol in Redis.
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

//go:embed schema.sql
var schema string

// ErrNotFound is returned when no row matches
var ErrNotFound = errors.New("not found")

// DBPool is the subset of pgxpool.Pool the repository uses, so tests can
// substitute pgxmock
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PoolConfig configures the Postgres connection pool
type PoolConfig struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// NewPool creates and pings a connection pool
func NewPool(ctx context.Context, config PoolConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	poolConfig.MaxConnLifetime = time.Hour
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Database connection pool created successfully")
	return pool, nil
}

// RunRecord is one persisted optimization result
type RunRecord struct {
	ID        uuid.UUID              `json:"id"`
	Symbol    string                 `json:"symbol"`
	Strategy  string                 `json:"strategy"`
	Params    optimizer.ParameterSet `json:"params"`
	Score     float64                `json:"score"`
	Stats     backtest.Stats         `json:"stats"`
	Log       backtest.Log           `json:"log"`
	Evaluated int                    `json:"evaluated"`
	Failed    int                    `json:"failed"`
	CreatedAt time.Time              `json:"created_at"`
}

// Candidate converts the record back to an optimizer history entry
func (r RunRecord) Candidate() optimizer.CandidateScore {
	return optimizer.CandidateScore{
		Symbol:    r.Symbol,
		Params:    r.Params,
		Score:     r.Score,
		Log:       r.Log,
		Stats:     r.Stats,
		Evaluated: r.Evaluated,
		Failed:    r.Failed,
		At:        r.CreatedAt,
	}
}

// StrategyStats is one persisted meta-learner entry
type StrategyStats struct {
	Symbol    string         `json:"symbol"`
	Strategy  string         `json:"strategy"`
	Stats     backtest.Stats `json:"stats"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RunRepository stores optimization runs and strategy statistics
type RunRepository struct {
	db DBPool
}

// NewRunRepository creates a repository on db
func NewRunRepository(db DBPool) *RunRepository {
	return &RunRepository{db: db}
}

// Migrate creates the tables if they do not exist
func (r *RunRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	log.Info().Msg("Store schema applied")
	return nil
}

// SaveRun inserts an optimization result and returns its ID
func (r *RunRepository) SaveRun(ctx context.Context, strategy string, entry optimizer.CandidateScore) (uuid.UUID, error) {
	paramsJSON, err := json.Marshal(entry.Params)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal params: %w", err)
	}
	statsJSON, err := json.Marshal(entry.Stats)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal stats: %w", err)
	}
	tradeLog := entry.Log
	if tradeLog == nil {
		tradeLog = backtest.Log{}
	}
	logJSON, err := json.Marshal(tradeLog)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to marshal trade log: %w", err)
	}

	id := uuid.New()
	createdAt := entry.At
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO optimization_runs (
			id, symbol, strategy, params, score, stats, trade_log, evaluated, failed, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.Exec(ctx, query,
		id, entry.Symbol, strategy, paramsJSON, entry.Score, statsJSON, logJSON,
		entry.Evaluated, entry.Failed, createdAt,
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert optimization run: %w", err)
	}

	log.Info().
		Str("run_id", id.String()).
		Str("symbol", entry.Symbol).
		Str("strategy", strategy).
		Float64("score", entry.Score).
		Msg("Optimization run saved")

	return id, nil
}

const selectRuns = `
	SELECT id, symbol, strategy, params, score, stats, trade_log, evaluated, failed, created_at
	FROM optimization_runs
`

// LatestRun returns the most recent run of symbol
func (r *RunRepository) LatestRun(ctx context.Context, symbol string) (*RunRecord, error) {
	row := r.db.QueryRow(ctx, selectRuns+`WHERE symbol = $1 ORDER BY created_at DESC LIMIT 1`, symbol)

	record, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no runs for %s", ErrNotFound, symbol)
		}
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}
	return record, nil
}

// RecentRuns returns up to limit runs of symbol, newest first
func (r *RunRepository) RecentRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := r.db.Query(ctx, selectRuns+`WHERE symbol = $1 ORDER BY created_at DESC LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		record, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return records, nil
}

func scanRun(row pgx.Row) (*RunRecord, error) {
	var (
		record                        RunRecord
		paramsJSON, statsJSON, logRaw []byte
	)
	err := row.Scan(
		&record.ID, &record.Symbol, &record.Strategy, &paramsJSON, &record.Score,
		&statsJSON, &logRaw, &record.Evaluated, &record.Failed, &record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(paramsJSON, &record.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	if err := json.Unmarshal(statsJSON, &record.Stats); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
	}
	if len(logRaw) > 0 {
		if err := json.Unmarshal(logRaw, &record.Log); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trade log: %w", err)
		}
	}
	return &record, nil
}

// SaveStrategyStats upserts the latest stats of a strategy for symbol
func (r *RunRepository) SaveStrategyStats(ctx context.Context, symbol, strategy string, stats backtest.Stats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	query := `
		INSERT INTO strategy_stats (symbol, strategy, stats, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (symbol, strategy) DO UPDATE
		SET stats = EXCLUDED.stats, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, symbol, strategy, statsJSON); err != nil {
		return fmt.Errorf("failed to upsert strategy stats: %w", err)
	}

	log.Debug().
		Str("symbol", symbol).
		Str("strategy", strategy).
		Msg("Strategy stats saved")
	return nil
}

// LoadStrategyStats returns every stored strategy entry ordered by symbol and
// strategy name
func (r *RunRepository) LoadStrategyStats(ctx context.Context) ([]StrategyStats, error) {
	rows, err := r.db.Query(ctx, `
		SELECT symbol, strategy, stats, updated_at
		FROM strategy_stats
		ORDER BY symbol, strategy
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy stats: %w", err)
	}
	defer rows.Close()

	var entries []StrategyStats
	for rows.Next() {
		var entry StrategyStats
		var statsJSON []byte
		if err := rows.Scan(&entry.Symbol, &entry.Strategy, &statsJSON, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan strategy stats: %w", err)
		}
		if err := json.Unmarshal(statsJSON, &entry.Stats); err != nil {
			return nil, fmt.Errorf("failed to unmarshal stats: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategy stats: %w", err)
	}
	return entries, nil
}
