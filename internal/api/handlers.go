package api

import (
	"fmt"
	"net/http"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
)

var startTime = time.Now()

const maxRunsLimit = 500

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "Adaptive Engine API",
		"version": "1.0.0",
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetHealth returns a simple health check (for load balancers)
func (s *Server) handleGetHealth(c *gin.Context) {
	jobs := 0
	if s.jobs != nil {
		jobs = len(s.jobs.Jobs())
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"time":       time.Now().UTC(),
		"uptime":     time.Since(startTime).Seconds(),
		"jobs":       jobs,
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
	})
}

// Meta-learner

func (s *Server) handleListMeta(c *gin.Context) {
	if s.meta == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "meta-learner not available"})
		return
	}

	state := s.meta.AllState()
	c.JSON(http.StatusOK, gin.H{
		"symbols": state,
		"count":   len(state),
	})
}

func (s *Server) handleGetMeta(c *gin.Context) {
	if s.meta == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "meta-learner not available"})
		return
	}

	symbol := strings.ToUpper(c.Param("symbol"))
	meta, ok := s.meta.Symbol(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("no strategies recorded for %s", symbol),
		})
		return
	}
	c.JSON(http.StatusOK, meta)
}

// Optimizer

// historyEntry is a CandidateScore without its trade log
type historyEntry struct {
	Symbol    string                 `json:"symbol"`
	Params    optimizer.ParameterSet `json:"params"`
	Score     float64                `json:"score"`
	Stats     map[string]float64     `json:"stats"`
	Trades    int                    `json:"trades"`
	Evaluated int                    `json:"evaluated"`
	Failed    int                    `json:"failed"`
	At        time.Time              `json:"at"`
}

func toHistoryEntry(entry optimizer.CandidateScore) historyEntry {
	return historyEntry{
		Symbol:    entry.Symbol,
		Params:    entry.Params,
		Score:     entry.Score,
		Stats:     entry.Stats,
		Trades:    len(entry.Log),
		Evaluated: entry.Evaluated,
		Failed:    entry.Failed,
		At:        entry.At,
	}
}

func (s *Server) handleListHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "optimizer not available"})
		return
	}

	var entries []optimizer.CandidateScore
	if symbol := c.Query("symbol"); symbol != "" {
		entries = s.history.TopStrategiesFor(strings.ToUpper(symbol))
	} else {
		entries = s.history.TopStrategies()
	}

	history := make([]historyEntry, len(entries))
	for i, e := range entries {
		history[i] = toHistoryEntry(e)
	}
	c.JSON(http.StatusOK, gin.H{
		"history": history,
		"count":   len(history),
	})
}

func (s *Server) handleGetBest(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "optimizer not available"})
		return
	}

	symbol := strings.ToUpper(c.Param("symbol"))
	best, ok := s.history.Best(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": fmt.Sprintf("%s has not been optimized", symbol),
		})
		return
	}
	c.JSON(http.StatusOK, best)
}

// Persisted runs

func (s *Server) handleListRuns(c *gin.Context) {
	if s.runs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "database not available"})
		return
	}

	limit := 20
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxRunsLimit {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": fmt.Sprintf("limit must be between 1 and %d", maxRunsLimit),
			})
			return
		}
		limit = parsed
	}

	symbol := strings.ToUpper(c.Param("symbol"))
	records, err := s.runs.RecentRuns(c.Request.Context(), symbol, limit)
	if err != nil {
		log.Error().Err(err).Str("symbol", symbol).Msg("Failed to load runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load runs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol": symbol,
		"runs":   records,
		"count":  len(records),
	})
}

// Scheduler

func (s *Server) handleListJobs(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not available"})
		return
	}

	jobs := s.jobs.Jobs()
	c.JSON(http.StatusOK, gin.H{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not available"})
		return
	}

	name := c.Param("name")
	job, ok := s.jobs.Job(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job %q not found", name)})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleCancelJob(c *gin.Context) {
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not available"})
		return
	}

	name := c.Param("name")
	if _, ok := s.jobs.Job(name); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("job %q not found", name)})
		return
	}

	s.jobs.Cancel(name)
	log.Info().Str("job", name).Msg("Job cancelled via API")

	c.JSON(http.StatusOK, gin.H{
		"job":       name,
		"cancelled": true,
	})
}
