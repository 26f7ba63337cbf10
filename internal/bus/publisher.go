// Package bus publishes order events to downstream subscribers over
// NATS JetStream. Delivery is at-least-once on durable topics.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// ConnectionError means the broker handshake failed at construction.
// The publisher must never be used in a half-open state.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("bus connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

type Config struct {
	URL string
	// TopicPrefix namespaces all subjects, e.g. "marketplace".
	TopicPrefix string
	Name        string
}

// NATSPublisher publishes JSON payloads with persistent delivery.
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
	logger zerolog.Logger
}

// NewNATSPublisher dials the broker and verifies the handshake before
// returning. An unreachable broker fails fast with ConnectionError
// instead of buffering silently.
func NewNATSPublisher(cfg Config, logger zerolog.Logger) (*NATSPublisher, error) {
	name := cfg.Name
	if name == "" {
		name = "marketplaced"
	}

	conn, err := nats.Connect(cfg.URL,
		nats.Name(name),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, &ConnectionError{Err: err}
	}

	if err := conn.FlushTimeout(5 * time.Second); err != nil {
		conn.Close()
		return nil, &ConnectionError{Err: err}
	}

	return &NATSPublisher{
		conn:   conn,
		js:     js,
		prefix: cfg.TopicPrefix,
		logger: logger,
	}, nil
}

// Publish sends payload as JSON to the topic. JetStream acknowledges the
// write, which gives persistence on the broker side.
func (p *NATSPublisher) Publish(ctx context.Context, topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	msg := nats.NewMsg(p.subject(topic))
	msg.Data = body
	msg.Header.Set("Content-Type", "application/json")

	p.logger.Info().Str("subject", msg.Subject).Int("bytes", len(body)).Msg("publishing")

	if _, err := p.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	return nil
}

func (p *NATSPublisher) Close() {
	p.conn.Close()
}

func (p *NATSPublisher) subject(topic string) string {
	if p.prefix == "" {
		return topic
	}
	return p.prefix + "." + topic
}

// NopPublisher satisfies the publisher contract for deployments without
// a broker (local development); every publish is logged and dropped.
type NopPublisher struct {
	Logger zerolog.Logger
}

func (p NopPublisher) Publish(_ context.Context, topic string, _ any) error {
	p.Logger.Warn().Str("topic", topic).Msg("bus disabled, event dropped")
	return nil
}

func (p NopPublisher) Close() {}
