package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/internal/resilience"
)

// DispatcherConfig holds dispatcher settings
type DispatcherConfig struct {
	QueueSize   int           // Buffered events; Notify drops when full
	SendTimeout time.Duration // Deadline for one sink delivery
	Breaker     *resilience.BreakerSettings
}

// DefaultDispatcherConfig returns sensible defaults
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   256,
		SendTimeout: 5 * time.Second,
	}
}

type guardedSink struct {
	sink    Sink
	breaker *resilience.Breaker
}

// Dispatcher fans events out to every sink on a background goroutine
type Dispatcher struct {
	sinks   []guardedSink
	config  DispatcherConfig
	queue   chan Event
	done    chan struct{}
	closeMu sync.RWMutex
	closed  bool
}

// NewDispatcher starts a dispatcher delivering to sinks
func NewDispatcher(config DispatcherConfig, sinks ...Sink) *Dispatcher {
	if config.QueueSize < 1 {
		config.QueueSize = DefaultDispatcherConfig().QueueSize
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = DefaultDispatcherConfig().SendTimeout
	}

	d := &Dispatcher{
		config: config,
		queue:  make(chan Event, config.QueueSize),
		done:   make(chan struct{}),
	}
	for _, sink := range sinks {
		g := guardedSink{sink: sink}
		if config.Breaker != nil {
			g.breaker = resilience.NewBreaker("notify_"+sink.Name(), *config.Breaker)
		}
		d.sinks = append(d.sinks, g)
	}

	go d.run()
	return d
}

// Notify enqueues an event without blocking
func (d *Dispatcher) Notify(ctx context.Context, kind Kind, payload map[string]interface{}) {
	d.Publish(NewEvent(kind, payload))
}

// Publish enqueues a prepared event without blocking. It reports whether the
// event was accepted.
func (d *Dispatcher) Publish(event Event) bool {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()

	if d.closed {
		log.Warn().Str("event_kind", string(event.Kind)).Msg("Dispatcher closed, dropping event")
		return false
	}

	select {
	case d.queue <- event:
		return true
	default:
		metrics.Notifications.WithLabelValues("queue", "dropped").Inc()
		log.Warn().
			Str("event_kind", string(event.Kind)).
			Int("queue_size", d.config.QueueSize).
			Msg("Notification queue full, dropping event")
		return false
	}
}

// Close stops accepting events and waits until queued events are delivered
// or ctx expires
func (d *Dispatcher) Close(ctx context.Context) error {
	d.closeMu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.closeMu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for event := range d.queue {
		d.deliver(event)
	}
}

func (d *Dispatcher) deliver(event Event) {
	for _, g := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.config.SendTimeout)
		_, err := resilience.Execute(g.breaker, func() (struct{}, error) {
			return struct{}{}, g.sink.Send(ctx, event)
		})
		cancel()

		if err != nil {
			metrics.Notifications.WithLabelValues(g.sink.Name(), metrics.ResultFailure).Inc()
			log.Error().
				Err(err).
				Str("sink", g.sink.Name()).
				Str("event_kind", string(event.Kind)).
				Str("event_id", event.ID.String()).
				Msg("Failed to deliver notification")
			continue
		}
		metrics.Notifications.WithLabelValues(g.sink.Name(), metrics.ResultSuccess).Inc()
	}
}

// Discard is a Notifier that drops every event
type Discard struct{}

// Notify does nothing
func (Discard) Notify(context.Context, Kind, map[string]interface{}) {}
