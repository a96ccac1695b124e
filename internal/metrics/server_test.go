package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerHandler(t *testing.T) {
	server := NewServer(0, zerolog.Nop())

	t.Run("health", func(t *testing.T) {
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "OK", rec.Body.String())
	})

	t.Run("metrics exposes engine instruments", func(t *testing.T) {
		SchedulerTicks.WithLabelValues("test_job", ResultSuccess).Inc()

		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		require.Equal(t, http.StatusOK, rec.Code)

		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "adaptive_scheduler_ticks_total")
	})
}

func TestServerLifecycle(t *testing.T) {
	server := NewServer(0, zerolog.Nop())
	assert.NoError(t, server.Shutdown(context.Background()), "shutdown before start is a no-op")

	require.NoError(t, server.Start())

	_, port, err := net.SplitHostPort(server.Addr())
	require.NoError(t, err)

	resp, err := http.Get("http://127.0.0.1:" + port + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	busy, err := strconv.Atoi(port)
	require.NoError(t, err)
	assert.Error(t, NewServer(busy, zerolog.Nop()).Start(), "bind conflict is reported")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(RetryAttempts.WithLabelValues("counter_test"))
	RetryAttempts.WithLabelValues("counter_test").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(RetryAttempts.WithLabelValues("counter_test")))
}
