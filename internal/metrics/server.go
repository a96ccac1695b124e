package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server exposes the engine instruments on /metrics and a liveness probe on
// /health
type Server struct {
	addr     string
	server   *http.Server
	listener net.Listener
	log      zerolog.Logger
}

// NewServer creates a metrics server for port. Port 0 picks a free port.
func NewServer(port int, log zerolog.Logger) *Server {
	return &Server{
		addr: fmt.Sprintf(":%d", port),
		log:  log.With().Str("component", "metrics_server").Logger(),
	}
}

// Handler returns the mux served by the metrics server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	return mux
}

// Start binds the port and serves in the background. A bind failure is
// returned; later serve errors are logged.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics server on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	s.log.Info().Str("addr", listener.Addr().String()).Msg("Serving metrics")

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Metrics server stopped unexpectedly")
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown metrics server: %w", err)
	}
	s.log.Info().Msg("Metrics server stopped")
	return nil
}
