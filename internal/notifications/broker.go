package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// DefaultChannel is the Redis channel and NATS subject prefix for events
const DefaultChannel = "adaptive.events"

// RedisPublisher publishes events as JSON on a Redis pub/sub channel
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a Redis pub/sub sink
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Name returns the sink name
func (r *RedisPublisher) Name() string { return "redis" }

// Send publishes the event
func (r *RedisPublisher) Send(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe calls handler for every event published on the channel until ctx
// is cancelled. Undecodable messages are skipped.
func (r *RedisPublisher) Subscribe(ctx context.Context, handler func(Event)) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()

	// Wait for confirmation that subscription is created
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Warn().Err(err).Str("channel", r.channel).Msg("Skipping undecodable event")
				continue
			}
			handler(event)
		}
	}
}

// NATSConfig configures the NATS sink
type NATSConfig struct {
	URL     string
	Subject string // Prefix; events go to <subject>.<kind>
}

// NATSPublisher publishes events as JSON on NATS subjects
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher connects to NATS
func NewNATSPublisher(config NATSConfig) (*NATSPublisher, error) {
	nc, err := nats.Connect(
		config.URL,
		nats.Name("adaptive-engine"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1), // Infinite reconnects
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if config.Subject == "" {
		config.Subject = DefaultChannel
	}

	log.Info().
		Str("nats_url", config.URL).
		Str("subject", config.Subject).
		Msg("NATS notifications initialized")

	return &NATSPublisher{nc: nc, subject: config.Subject}, nil
}

// Name returns the sink name
func (n *NATSPublisher) Name() string { return "nats" }

// Subject returns the subject an event kind is published on
func (n *NATSPublisher) Subject(kind Kind) string {
	return n.subject + "." + string(kind)
}

// Send publishes the event
func (n *NATSPublisher) Send(ctx context.Context, event Event) error {
	if !n.nc.IsConnected() {
		return fmt.Errorf("nats not connected")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := n.nc.Publish(n.Subject(event.Kind), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close drains and closes the connection
func (n *NATSPublisher) Close() error {
	return n.nc.Drain()
}
