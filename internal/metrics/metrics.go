// Package metrics holds the Prometheus instruments of the evaluation engine
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Bounded label values
const (
	ResultSuccess    = "success"
	ResultFailure    = "failure"
	ResultNoViable   = "no_viable_candidate"
	ResultCancelled  = "cancelled"
	ResultHit        = "hit"
	ResultMiss       = "miss"
	ResultAbstention = "abstention"
)

// Optimizer metrics
var (
	Optimizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_optimizations_total",
		Help: "Total number of optimization runs by result",
	}, []string{"result"})

	OptimizationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "adaptive_optimization_duration_seconds",
		Help:    "Duration of a full grid search",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	CandidatesEvaluated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_candidates_total",
		Help: "Total number of parameter candidates evaluated by result",
	}, []string{"result"})

	BestScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adaptive_best_score",
		Help: "Score of the most recent optimum by symbol",
	}, []string{"symbol"})
)

// Meta-learner and ensemble metrics
var (
	BestWinRate = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adaptive_best_strategy_win_rate",
		Help: "Win rate of the current best strategy by symbol",
	}, []string{"symbol"})

	EnsembleVotes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_ensemble_votes_total",
		Help: "Individual voter outputs by category (abstention included)",
	}, []string{"vote"})
)

// Batch executor metrics
var (
	BatchTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_batch_tasks_total",
		Help: "Total number of batch tasks by result",
	}, []string{"result"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "adaptive_batch_duration_seconds",
		Help:    "Wall time of a whole batch, from submission to drain",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	})
)

// Scheduler metrics
var (
	SchedulerTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_scheduler_ticks_total",
		Help: "Total number of scheduled action executions by job and result",
	}, []string{"job", "result"})

	ScheduledJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "adaptive_scheduled_jobs",
		Help: "Number of currently running scheduled jobs",
	})
)

// Pipeline metrics
var (
	PipelineRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_pipeline_runs_total",
		Help: "Pipeline runs by job kind and result",
	}, []string{"job", "result"})

	PersistFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_persist_failures_total",
		Help: "Failed writes of runs, stats and models by target",
	}, []string{"target"})
)

// External call metrics
var (
	RetryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_retry_attempts_total",
		Help: "Total number of retries by operation",
	}, []string{"operation"})

	RetryExhausted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_retry_exhausted_total",
		Help: "Total number of operations that exhausted their retries",
	}, []string{"operation"})

	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "adaptive_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
	}, []string{"breaker"})

	MarketDataFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_market_data_fetches_total",
		Help: "Market data fetches by source and result",
	}, []string{"source", "result"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adaptive_notifications_total",
		Help: "Notifications delivered by sink and result",
	}, []string{"sink", "result"})
)
