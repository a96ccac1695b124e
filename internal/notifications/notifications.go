// Package notifications delivers engine events to log, Telegram, Redis and
// NATS sinks. Delivery is fire-and-forget: failures are logged, never
// returned to the caller of Notify.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Kind identifies what happened
type Kind string

const (
	KindOptimizationCompleted Kind = "optimization_completed"
	KindOptimizationFailed    Kind = "optimization_failed"
	KindBatchCompleted        Kind = "batch_completed"
	KindJobFailed             Kind = "job_failed"
)

// Event is one notification
type Event struct {
	ID        uuid.UUID              `json:"id"`
	Kind      Kind                   `json:"kind"`
	Payload   map[string]interface{} `json:"payload"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEvent creates an event with a fresh ID
func NewEvent(kind Kind, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.New(),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Failed reports whether the event describes a failure
func (e Event) Failed() bool {
	return e.Kind == KindOptimizationFailed || e.Kind == KindJobFailed
}

// Sink delivers events to one destination
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Notifier is the port scheduled actions report through
type Notifier interface {
	Notify(ctx context.Context, kind Kind, payload map[string]interface{})
}

// LogSink logs events using zerolog
type LogSink struct{}

// NewLogSink creates a log sink
func NewLogSink() *LogSink {
	return &LogSink{}
}

// Name returns the sink name
func (l *LogSink) Name() string { return "log" }

// Send logs the event at Warn for failures and Info otherwise
func (l *LogSink) Send(ctx context.Context, event Event) error {
	logEvent := log.Info()
	if event.Failed() {
		logEvent = log.Warn()
	}

	for key, value := range event.Payload {
		logEvent = logEvent.Interface(key, value)
	}

	logEvent.
		Str("event_id", event.ID.String()).
		Str("event_kind", string(event.Kind)).
		Time("event_time", event.Timestamp).
		Msg(fmt.Sprintf("Event: %s", event.Kind))

	return nil
}
