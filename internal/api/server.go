package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/metalearner"
	"github.com/ajitpratap0/adaptive-engine/internal/optimizer"
	"github.com/ajitpratap0/adaptive-engine/internal/scheduler"
	"github.com/ajitpratap0/adaptive-engine/internal/store"
)

// MetaState is the read side of the meta-learner
type MetaState interface {
	AllState() map[string]metalearner.SymbolMeta
	Symbol(symbol string) (metalearner.SymbolMeta, bool)
}

// History is the read side of the optimizer
type History interface {
	TopStrategies() []optimizer.CandidateScore
	TopStrategiesFor(symbol string) []optimizer.CandidateScore
	Best(symbol string) (optimizer.CandidateScore, bool)
}

// JobControl lists and cancels scheduled jobs
type JobControl interface {
	Jobs() []scheduler.JobInfo
	Job(name string) (scheduler.JobInfo, bool)
	Cancel(name string)
}

// RunStore reads persisted optimization runs
type RunStore interface {
	RecentRuns(ctx context.Context, symbol string, limit int) ([]store.RunRecord, error)
}

// Server represents the REST API server
type Server struct {
	router  *gin.Engine
	meta    MetaState
	history History
	jobs    JobControl
	runs    RunStore
	addr    string
	server  *http.Server
}

// Config contains server configuration. Runs is optional.
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	Meta           MetaState
	History        History
	Jobs           JobControl
	Runs           RunStore
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())

	origins := config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))

	server := &Server{
		router:  router,
		meta:    config.Meta,
		history: config.History,
		jobs:    config.Jobs,
		runs:    config.Runs,
		addr:    fmt.Sprintf("%s:%d", config.Host, config.Port),
	}

	server.setupRoutes()

	return server
}

// Handler returns the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// LoggerMiddleware is a custom logging middleware for Gin
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logEvent := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			logEvent = log.Warn()
		}
		logEvent = logEvent.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
