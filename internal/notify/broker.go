package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/yegors/fleetwatch/internal/fleet"
)

// EnvelopeType tags flight event envelopes on every structured channel
const EnvelopeType = "flight_event"

// Envelope is the structured form of a committed event
type Envelope struct {
	ID     string            `json:"id"`
	Type   string            `json:"type"`
	Event  fleet.FlightEvent `json:"event"`
	Text   string            `json:"text"`
	SentAt time.Time         `json:"sent_at"`
}

// NewEnvelope wraps ev with a fresh id
func NewEnvelope(ev fleet.FlightEvent, text string, now time.Time) Envelope {
	return Envelope{
		ID:     uuid.NewString(),
		Type:   EnvelopeType,
		Event:  ev,
		Text:   text,
		SentAt: now.UTC(),
	}
}

// Publisher delivers envelopes to a structured channel
type Publisher interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
}

// NATSPublisher publishes envelopes to <subject>.<kind>
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// NewNATSPublisher connects to the server at url
func NewNATSPublisher(url, subject string, timeout time.Duration) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("fleetwatch"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &NATSPublisher{conn: nc, subject: subject}, nil
}

// Name returns the sink tag
func (p *NATSPublisher) Name() string {
	return "nats"
}

// Publish sends one envelope
func (p *NATSPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	subject := p.subject + "." + strings.ToLower(string(env.Event.Kind))
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Close flushes pending messages and disconnects
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// KafkaPublisher writes envelopes keyed by icao24 so one aircraft stays on one partition
type KafkaPublisher struct {
	writer *kafka.Writer
	topic  string
}

// NewKafkaPublisher creates a synchronous writer
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: 50 * time.Millisecond,
			RequiredAcks: kafka.RequireOne,
		},
		topic: topic,
	}
}

// Name returns the sink tag
func (p *KafkaPublisher) Name() string {
	return "kafka"
}

// Publish writes one envelope
func (p *KafkaPublisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(env.Event.ICAO24),
		Value: data,
		Time:  env.SentAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write message to kafka: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
